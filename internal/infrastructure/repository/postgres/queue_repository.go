package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/kirillkom/docvault/internal/core/domain"
)

const queueColumns = `id, nome_arquivo, hash, status, mensagem_atual, extracted_text, dados_extraidos,
	storage_path, mime_type, is_duplicate, doc_file_id_original, tentativas_processamento,
	processando_desde, ultima_tentativa_em, pasta_id, usuario_criador_id,
	to_char(file_date, 'YYYY-MM-DD'), created_at, updated_at`

type QueueRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *QueueRepository) Create(ctx context.Context, item *domain.QueueItem) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO doc_queue (
			id, nome_arquivo, hash, status, mensagem_atual, storage_path, mime_type,
			is_duplicate, doc_file_id_original, tentativas_processamento, pasta_id,
			usuario_criador_id, file_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::date, $14, $15)
	`,
		item.ID,
		item.Filename,
		item.Hash,
		string(item.Status),
		item.Message,
		item.StoragePath,
		item.MimeType,
		item.IsDuplicate,
		nullableString(item.OriginalFileID),
		item.Attempts,
		nullableString(item.FolderID),
		item.UserID,
		dateArg(item.FileDate),
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func (r *QueueRepository) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM doc_queue WHERE id = $1`, id)
	item, err := scanQueueItem(row)
	if err != nil {
		return nil, notFoundOr(err, "get queue item", id)
	}
	return item, nil
}

func (r *QueueRepository) List(ctx context.Context, filter domain.QueueFilter) ([]domain.QueueItem, error) {
	q := psql.Select(queueColumns).From("doc_queue").
		Where(sq.Eq{"usuario_criador_id": filter.UserID}).
		OrderBy("created_at DESC")
	if len(filter.Statuses) > 0 {
		q = q.Where(sq.Eq{"status": statusStrings(filter.Statuses)})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build queue list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	out := make([]domain.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return out, nil
}

func (r *QueueRepository) ListWaitingIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM doc_queue WHERE status = $1 ORDER BY created_at`, string(domain.QueueWaiting))
	if err != nil {
		return nil, fmt.Errorf("list waiting queue ids: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan waiting queue id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate waiting queue ids: %w", err)
	}
	return out, nil
}

// Claim moves an allowed row to processando in one conditional update. The
// incremented attempt count is the caller's lease.
func (r *QueueRepository) Claim(ctx context.Context, id string, allowed []domain.QueueStatus, now time.Time) (*domain.QueueItem, error) {
	query, args, err := psql.Update("doc_queue").
		Set("status", string(domain.QueueProcessing)).
		Set("tentativas_processamento", sq.Expr("tentativas_processamento + 1")).
		Set("processando_desde", now).
		Set("ultima_tentativa_em", now).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "status": statusStrings(allowed)}).
		Where(sq.Lt{"tentativas_processamento": domain.MaxProcessingAttempts}).
		Suffix("RETURNING " + queueColumns).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim query: %w", err)
	}

	item, err := scanQueueItem(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.WrapError(domain.ErrAlreadyClaimed, "claim queue item", fmt.Errorf("id %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("claim queue item: %w", err)
	}
	return item, nil
}

func (r *QueueRepository) UpdateProgress(ctx context.Context, id string, lease int, message string) (*domain.QueueItem, error) {
	return r.leasedUpdate(ctx, "update queue progress", id, lease, map[string]any{
		"mensagem_atual": message,
	})
}

func (r *QueueRepository) SaveExtractedText(ctx context.Context, id string, lease int, text string) error {
	_, err := r.leasedUpdate(ctx, "save extracted text", id, lease, map[string]any{
		"extracted_text": text,
	})
	return err
}

func (r *QueueRepository) Finish(ctx context.Context, id string, lease int, data json.RawMessage, message string) (*domain.QueueItem, error) {
	return r.leasedUpdate(ctx, "finish queue item", id, lease, map[string]any{
		"status":            string(domain.QueueDone),
		"dados_extraidos":   string(data),
		"mensagem_atual":    message,
		"processando_desde": nil,
	})
}

func (r *QueueRepository) Fail(ctx context.Context, id string, lease int, status domain.QueueStatus, message string) (*domain.QueueItem, error) {
	return r.leasedUpdate(ctx, "fail queue item", id, lease, map[string]any{
		"status":            string(status),
		"mensagem_atual":    message,
		"processando_desde": nil,
	})
}

// leasedUpdate applies set only while the row is still processando under the
// given attempt number. Anything else means the lease was lost.
func (r *QueueRepository) leasedUpdate(ctx context.Context, op, id string, lease int, set map[string]any) (*domain.QueueItem, error) {
	query, args, err := psql.Update("doc_queue").
		SetMap(set).
		Set("updated_at", r.now()).
		Where(sq.Eq{
			"id":                       id,
			"status":                   string(domain.QueueProcessing),
			"tentativas_processamento": lease,
		}).
		Suffix("RETURNING " + queueColumns).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", op, err)
	}

	item, err := scanQueueItem(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.WrapError(domain.ErrLeaseLost, op, fmt.Errorf("id %s lease %d", id, lease))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return item, nil
}

// ReclaimStuck releases every processando row whose lease started before
// stuckBefore. Rows with attempts left go back to aguardando, the rest to erro.
func (r *QueueRepository) ReclaimStuck(ctx context.Context, stuckBefore time.Time, maxAttempts int) ([]domain.SweptItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH stuck AS (
			SELECT id, processando_desde
			FROM doc_queue
			WHERE status = 'processando' AND processando_desde < $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE doc_queue q
		SET status = CASE WHEN q.tentativas_processamento >= $2 THEN 'erro' ELSE 'aguardando' END,
			mensagem_atual = CASE WHEN q.tentativas_processamento >= $2 THEN $3 ELSE $4 END,
			processando_desde = NULL,
			updated_at = $5
		FROM stuck
		WHERE q.id = stuck.id
		RETURNING q.id, q.usuario_criador_id, q.nome_arquivo, q.tentativas_processamento, q.status, stuck.processando_desde
	`, stuckBefore, maxAttempts, domain.SweepFailMessage, domain.SweepRequeueMessage, r.now())
	if err != nil {
		return nil, fmt.Errorf("reclaim stuck queue items: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SweptItem, 0)
	for rows.Next() {
		var (
			item   domain.SweptItem
			status string
		)
		if err := rows.Scan(&item.ID, &item.UserID, &item.Filename, &item.Attempts, &status, &item.StuckSince); err != nil {
			return nil, fmt.Errorf("scan reclaimed queue item: %w", err)
		}
		item.Status = domain.QueueStatus(status)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reclaimed queue items: %w", err)
	}
	return out, nil
}

// SaveExtractedData replaces the reviewable payload of a finished row.
func (r *QueueRepository) SaveExtractedData(ctx context.Context, id string, data json.RawMessage) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE doc_queue
		SET dados_extraidos = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`, id, string(data), r.now(), string(domain.QueueDone))
	if err != nil {
		return fmt.Errorf("save extracted data: %w", err)
	}
	return expectAffected(res, domain.ErrInvalidTransition, "save extracted data", id)
}

func (r *QueueRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM doc_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	return expectAffected(res, domain.ErrNotFound, "delete queue item", id)
}

func scanQueueItem(row rowScanner) (*domain.QueueItem, error) {
	var (
		item            domain.QueueItem
		status          string
		extractedText   sql.NullString
		extractedData   []byte
		originalFileID  sql.NullString
		processingSince sql.NullTime
		lastAttemptAt   sql.NullTime
		folderID        sql.NullString
		fileDate        sql.NullString
	)
	if err := row.Scan(
		&item.ID,
		&item.Filename,
		&item.Hash,
		&status,
		&item.Message,
		&extractedText,
		&extractedData,
		&item.StoragePath,
		&item.MimeType,
		&item.IsDuplicate,
		&originalFileID,
		&item.Attempts,
		&processingSince,
		&lastAttemptAt,
		&folderID,
		&item.UserID,
		&fileDate,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	item.Status = domain.QueueStatus(status)
	item.ExtractedText = stringPtr(extractedText)
	if len(extractedData) > 0 {
		item.ExtractedData = json.RawMessage(extractedData)
	}
	item.OriginalFileID = stringPtr(originalFileID)
	item.ProcessingSince = timePtr(processingSince)
	item.LastAttemptAt = timePtr(lastAttemptAt)
	item.FolderID = stringPtr(folderID)
	date, err := scanDate(fileDate)
	if err != nil {
		return nil, fmt.Errorf("parse file_date: %w", err)
	}
	item.FileDate = date
	return &item, nil
}

func statusStrings(statuses []domain.QueueStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
