package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/kirillkom/docvault/internal/core/domain"
)

const entityColumns = `id, tipo_entidade_id, nome, identificador_1, identificador_2, usuario_id, created_at, updated_at`

const prefixedEntityColumns = `e.id, e.tipo_entidade_id, e.nome, e.identificador_1, e.identificador_2, e.usuario_id, e.created_at, e.updated_at`

const entityTypeColumns = `id, nome, categoria, label_identificador_1, label_identificador_2, prompt_extracao, icone, usuario_id, created_at`

type EntityRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewEntityRepository(db *sql.DB) *EntityRepository {
	return &EntityRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// FindEntityMatches returns entities of the same user and type whose folded
// name or identifier-1 equals the candidate's. An empty identifier never
// matches.
func (r *EntityRepository) FindEntityMatches(ctx context.Context, q domain.EntityMatchQuery) ([]domain.Entity, error) {
	match := sq.Or{sq.Eq{"nome_normalizado": q.FoldedName}}
	if q.Identifier1 != "" {
		match = append(match, sq.Eq{"identificador_1": q.Identifier1})
	}
	query, args, err := psql.Select(entityColumns).
		From("entity").
		Where(sq.Eq{"usuario_id": q.UserID, "tipo_entidade_id": q.TypeID}).
		Where(match).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build entity match query: %w", err)
	}
	return r.queryEntities(ctx, "find entity matches", query, args)
}

func (r *EntityRepository) ListEntities(ctx context.Context, userID, typeID string) ([]domain.Entity, error) {
	q := psql.Select(entityColumns).From("entity").Where(sq.Eq{"usuario_id": userID})
	if typeID != "" {
		q = q.Where(sq.Eq{"tipo_entidade_id": typeID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build entity list query: %w", err)
	}
	return r.queryEntities(ctx, "list entities", query, args)
}

func (r *EntityRepository) GetEntity(ctx context.Context, userID, entityID string) (*domain.Entity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entity WHERE id = $1 AND usuario_id = $2`, entityID, userID)
	e, err := scanEntity(row)
	if err != nil {
		return nil, notFoundOr(err, "get entity", entityID)
	}
	return e, nil
}

func (r *EntityRepository) UpdateEntity(ctx context.Context, entity *domain.Entity) error {
	entity.UpdatedAt = r.now()
	return updateEntity(ctx, r.db, *entity)
}

// DeleteIfOrphan drops the entity when no document links to it anymore.
func (r *EntityRepository) DeleteIfOrphan(ctx context.Context, entityID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM entity e
		WHERE e.id = $1
			AND NOT EXISTS (SELECT 1 FROM doc_entity de WHERE de.entity_id = e.id)
	`, entityID)
	if err != nil {
		return false, fmt.Errorf("delete orphan entity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete orphan entity rows affected: %w", err)
	}
	return n > 0, nil
}

// ListEntityTypes returns the global types plus the ones the user defined.
func (r *EntityRepository) ListEntityTypes(ctx context.Context, userID string) ([]domain.EntityType, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+entityTypeColumns+`
		FROM entity_type
		WHERE usuario_id IS NULL OR usuario_id = $1
		ORDER BY nome
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list entity types: %w", err)
	}
	defer rows.Close()

	out := make([]domain.EntityType, 0)
	for rows.Next() {
		var (
			t      domain.EntityType
			userID sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Category, &t.Identifier1Label, &t.Identifier2Label, &t.ExtractionPrompt, &t.Icon, &userID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entity type: %w", err)
		}
		t.UserID = stringPtr(userID)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity types: %w", err)
	}
	return out, nil
}

// SeedEntityTypes inserts catalog types that do not exist yet. Existing rows
// keep any edits made after the first seed.
func (r *EntityRepository) SeedEntityTypes(ctx context.Context, types []domain.EntityType) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := r.now()
	for _, t := range types {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entity_type (id, nome, categoria, label_identificador_1, label_identificador_2, prompt_extracao, icone, usuario_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`, t.ID, t.Name, t.Category, t.Identifier1Label, t.Identifier2Label, t.ExtractionPrompt, t.Icon, nullableString(t.UserID), now); err != nil {
			return fmt.Errorf("seed entity type %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}
	return nil
}

func (r *EntityRepository) queryEntities(ctx context.Context, op, query string, args []any) ([]domain.Entity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]domain.Entity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

func scanEntity(row rowScanner) (*domain.Entity, error) {
	var e domain.Entity
	if err := row.Scan(&e.ID, &e.TypeID, &e.Name, &e.Identifier1, &e.Identifier2, &e.UserID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
