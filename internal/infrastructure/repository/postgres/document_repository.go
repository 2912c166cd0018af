package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/reconcile"
)

const fileColumns = `id, doc_id, storage_path, nome_arquivo, hash, mime_type, created_at`

const documentColumns = `d.id, d.descricao, to_char(d.data_referencia, 'YYYY-MM-DD'), d.pasta_id,
	d.usuario_criador_id, d.aprovado, d.created_at, d.updated_at,
	f.id, f.storage_path, f.nome_arquivo, f.hash, f.mime_type, f.created_at`

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// FindFileByHash returns the oldest stored file of the user with the same
// content hash, or nil when the content is new.
func (r *DocumentRepository) FindFileByHash(ctx context.Context, userID, hash string) (*domain.DocFile, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+fileColumns+`
		FROM doc_file
		WHERE usuario_id = $1 AND hash = $2
		ORDER BY created_at
		LIMIT 1
	`, userID, hash)
	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find file by hash: %w", err)
	}
	return file, nil
}

func (r *DocumentRepository) GetFile(ctx context.Context, fileID string) (*domain.DocFile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM doc_file WHERE id = $1`, fileID)
	file, err := scanFile(row)
	if err != nil {
		return nil, notFoundOr(err, "get doc file", fileID)
	}
	return file, nil
}

// Commit writes an approved document in one transaction and consumes the
// finished queue row. A row that is no longer finalizado aborts the commit.
func (r *DocumentRepository) Commit(ctx context.Context, plan domain.CommitPlan) (*domain.Document, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	doc := plan.Document
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO doc (id, descricao, data_referencia, pasta_id, usuario_criador_id, aprovado, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8)
	`,
		doc.ID,
		doc.Description,
		dateArg(doc.ReferenceDate),
		nullableString(doc.FolderID),
		doc.UserID,
		doc.Approved,
		doc.CreatedAt,
		doc.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert doc: %w", err)
	}

	file := plan.File
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO doc_file (id, doc_id, storage_path, nome_arquivo, hash, mime_type, usuario_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, file.ID, doc.ID, file.StoragePath, file.Filename, file.Hash, file.MimeType, doc.UserID, file.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert doc_file: %w", err)
	}

	for _, e := range plan.NewEntities {
		if err := insertEntity(ctx, tx, e); err != nil {
			return nil, err
		}
	}
	for _, e := range plan.Updates {
		if err := updateEntity(ctx, tx, e); err != nil {
			return nil, err
		}
	}
	// Links only reach entities owned by the document's creator.
	for _, entityID := range plan.LinkIDs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO doc_entity (doc_id, entity_id)
			SELECT $1, e.id FROM entity e WHERE e.id = $2 AND e.usuario_id = $3
			ON CONFLICT DO NOTHING
		`, doc.ID, entityID, doc.UserID)
		if err != nil {
			return nil, fmt.Errorf("link entity %s: %w", entityID, err)
		}
		if err := expectAffected(res, domain.ErrInvalidInput, "link entity", entityID); err != nil {
			return nil, err
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM doc_queue WHERE id = $1 AND status = $2`, plan.QueueID, string(domain.QueueDone))
	if err != nil {
		return nil, fmt.Errorf("consume queue item: %w", err)
	}
	if err := expectAffected(res, domain.ErrInvalidTransition, "consume queue item", plan.QueueID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit document tx: %w", err)
	}

	file.DocumentID = doc.ID
	doc.File = &file
	entities, err := r.linkedEntities(ctx, []string{doc.ID})
	if err != nil {
		return nil, err
	}
	doc.Entities = entities[doc.ID]
	return &doc, nil
}

func (r *DocumentRepository) GetDocument(ctx context.Context, userID, docID string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM doc d
		LEFT JOIN doc_file f ON f.doc_id = d.id
		WHERE d.id = $1 AND d.usuario_criador_id = $2
	`, docID, userID)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFoundOr(err, "get document", docID)
	}

	entities, err := r.linkedEntities(ctx, []string{doc.ID})
	if err != nil {
		return nil, err
	}
	doc.Entities = entities[doc.ID]
	return doc, nil
}

// ListDocuments returns the user's documents, optionally limited to a folder,
// with their linked entities.
func (r *DocumentRepository) ListDocuments(ctx context.Context, userID, folderID string) ([]domain.Document, error) {
	q := psql.Select(documentColumns).
		From("doc d").
		LeftJoin("doc_file f ON f.doc_id = d.id").
		Where(sq.Eq{"d.usuario_criador_id": userID}).
		OrderBy("d.data_referencia DESC NULLS LAST", "d.created_at DESC")
	if folderID != "" {
		q = q.Where(sq.Eq{"d.pasta_id": folderID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build document list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	ids := make([]string, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *doc)
		ids = append(ids, doc.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	entities, err := r.linkedEntities(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Entities = entities[out[i].ID]
	}
	return out, nil
}

// DeleteDocument removes a document with its file row and links. The caller
// gets the detached entity ids for orphan cleanup and learns whether the
// stored object is still referenced elsewhere.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, userID, docID string) (domain.DocumentDeletion, error) {
	var out domain.DocumentDeletion

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return out, fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var storagePath sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT f.storage_path
		FROM doc d
		LEFT JOIN doc_file f ON f.doc_id = d.id
		WHERE d.id = $1 AND d.usuario_criador_id = $2
		FOR UPDATE OF d
	`, docID, userID).Scan(&storagePath)
	if err != nil {
		return out, notFoundOr(err, "delete document", docID)
	}
	out.StoragePath = storagePath.String

	rows, err := tx.QueryContext(ctx, `SELECT entity_id FROM doc_entity WHERE doc_id = $1`, docID)
	if err != nil {
		return out, fmt.Errorf("list document links: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return out, fmt.Errorf("scan document link: %w", err)
		}
		out.EntityIDs = append(out.EntityIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return out, fmt.Errorf("iterate document links: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM doc WHERE id = $1`, docID); err != nil {
		return out, fmt.Errorf("delete document: %w", err)
	}

	if out.StoragePath != "" {
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM doc_file WHERE storage_path = $1)
				OR EXISTS (SELECT 1 FROM doc_queue WHERE storage_path = $1)
		`, out.StoragePath).Scan(&out.StorageShared); err != nil {
			return out, fmt.Errorf("check shared storage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return out, fmt.Errorf("commit delete tx: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) UnlinkEntity(ctx context.Context, userID, docID, entityID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM doc_entity de
		USING doc d
		WHERE de.doc_id = d.id AND d.id = $1 AND d.usuario_criador_id = $2 AND de.entity_id = $3
	`, docID, userID, entityID)
	if err != nil {
		return fmt.Errorf("unlink entity: %w", err)
	}
	return expectAffected(res, domain.ErrNotFound, "unlink entity", entityID)
}

func (r *DocumentRepository) linkedEntities(ctx context.Context, docIDs []string) (map[string][]domain.Entity, error) {
	query, args, err := psql.Select("de.doc_id", prefixedEntityColumns).
		From("doc_entity de").
		Join("entity e ON e.id = de.entity_id").
		Where(sq.Eq{"de.doc_id": docIDs}).
		OrderBy("e.nome").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build linked entities query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list linked entities: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Entity, len(docIDs))
	for rows.Next() {
		var docID string
		var e domain.Entity
		if err := rows.Scan(&docID, &e.ID, &e.TypeID, &e.Name, &e.Identifier1, &e.Identifier2, &e.UserID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan linked entity: %w", err)
		}
		out[docID] = append(out[docID], e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate linked entities: %w", err)
	}
	return out, nil
}

func insertEntity(ctx context.Context, db execer, e domain.Entity) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO entity (id, tipo_entidade_id, nome, nome_normalizado, identificador_1, identificador_2, usuario_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.TypeID, e.Name, reconcile.FoldName(e.Name), e.Identifier1, e.Identifier2, e.UserID, e.CreatedAt, e.UpdatedAt); err != nil {
		return fmt.Errorf("insert entity %s: %w", e.ID, err)
	}
	return nil
}

// updateEntity rewrites the mutable fields of an entity owned by e.UserID.
func updateEntity(ctx context.Context, db execer, e domain.Entity) error {
	res, err := db.ExecContext(ctx, `
		UPDATE entity
		SET nome = $3, nome_normalizado = $4, identificador_1 = $5, identificador_2 = $6, updated_at = $7
		WHERE id = $1 AND usuario_id = $2
	`, e.ID, e.UserID, e.Name, reconcile.FoldName(e.Name), e.Identifier1, e.Identifier2, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update entity %s: %w", e.ID, err)
	}
	return expectAffected(res, domain.ErrNotFound, "update entity", e.ID)
}

func scanFile(row rowScanner) (*domain.DocFile, error) {
	var f domain.DocFile
	if err := row.Scan(&f.ID, &f.DocumentID, &f.StoragePath, &f.Filename, &f.Hash, &f.MimeType, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		doc           domain.Document
		referenceDate sql.NullString
		folderID      sql.NullString
		fileID        sql.NullString
		storagePath   sql.NullString
		filename      sql.NullString
		hash          sql.NullString
		mimeType      sql.NullString
		fileCreatedAt sql.NullTime
	)
	if err := row.Scan(
		&doc.ID,
		&doc.Description,
		&referenceDate,
		&folderID,
		&doc.UserID,
		&doc.Approved,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&fileID,
		&storagePath,
		&filename,
		&hash,
		&mimeType,
		&fileCreatedAt,
	); err != nil {
		return nil, err
	}

	date, err := scanDate(referenceDate)
	if err != nil {
		return nil, fmt.Errorf("parse data_referencia: %w", err)
	}
	doc.ReferenceDate = date
	doc.FolderID = stringPtr(folderID)
	if fileID.Valid {
		doc.File = &domain.DocFile{
			ID:          fileID.String,
			DocumentID:  doc.ID,
			StoragePath: storagePath.String,
			Filename:    filename.String,
			Hash:        hash.String,
			MimeType:    mimeType.String,
			CreatedAt:   fileCreatedAt.Time,
		}
	}
	return &doc, nil
}
