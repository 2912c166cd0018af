package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
)

type FolderRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewFolderRepository(db *sql.DB) *FolderRepository {
	return &FolderRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *FolderRepository) CreateFolder(ctx context.Context, folder *domain.Folder) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO folder (id, nome, usuario_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, folder.ID, folder.Name, folder.UserID, folder.CreatedAt, folder.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

func (r *FolderRepository) ListFolders(ctx context.Context, userID string) ([]domain.Folder, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, nome, usuario_id, analise, created_at, updated_at
		FROM folder
		WHERE usuario_id = $1
		ORDER BY nome
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Folder, 0)
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return out, nil
}

func (r *FolderRepository) GetFolder(ctx context.Context, userID, folderID string) (*domain.Folder, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, nome, usuario_id, analise, created_at, updated_at
		FROM folder
		WHERE id = $1 AND usuario_id = $2
	`, folderID, userID)
	f, err := scanFolder(row)
	if err != nil {
		return nil, notFoundOr(err, "get folder", folderID)
	}
	return f, nil
}

func (r *FolderRepository) SaveAnalysis(ctx context.Context, userID, folderID string, analysis json.RawMessage) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE folder SET analise = $3, updated_at = $4
		WHERE id = $1 AND usuario_id = $2
	`, folderID, userID, string(analysis), r.now())
	if err != nil {
		return fmt.Errorf("save folder analysis: %w", err)
	}
	return expectAffected(res, domain.ErrNotFound, "save folder analysis", folderID)
}

func scanFolder(row rowScanner) (*domain.Folder, error) {
	var (
		f        domain.Folder
		analysis []byte
	)
	if err := row.Scan(&f.ID, &f.Name, &f.UserID, &analysis, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if len(analysis) > 0 {
		f.Analysis = json.RawMessage(analysis)
	}
	return &f, nil
}
