package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/docvault/internal/core/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2025052601)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS folder (
	id UUID PRIMARY KEY,
	nome TEXT NOT NULL,
	usuario_id TEXT NOT NULL,
	analise JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_folder_user ON folder(usuario_id, nome);

CREATE TABLE IF NOT EXISTS entity_type (
	id TEXT PRIMARY KEY,
	nome TEXT NOT NULL,
	categoria TEXT NOT NULL,
	label_identificador_1 TEXT NOT NULL DEFAULT '',
	label_identificador_2 TEXT NOT NULL DEFAULT '',
	prompt_extracao TEXT NOT NULL DEFAULT '',
	icone TEXT NOT NULL DEFAULT '',
	usuario_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS entity (
	id UUID PRIMARY KEY,
	tipo_entidade_id TEXT NOT NULL REFERENCES entity_type(id),
	nome TEXT NOT NULL,
	nome_normalizado TEXT NOT NULL,
	identificador_1 TEXT NOT NULL DEFAULT '',
	identificador_2 TEXT NOT NULL DEFAULT '',
	usuario_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entity_name ON entity(usuario_id, tipo_entidade_id, nome_normalizado);
CREATE INDEX IF NOT EXISTS idx_entity_id1 ON entity(usuario_id, tipo_entidade_id, identificador_1) WHERE identificador_1 <> '';

CREATE TABLE IF NOT EXISTS doc (
	id UUID PRIMARY KEY,
	descricao TEXT NOT NULL DEFAULT '',
	data_referencia DATE,
	pasta_id UUID REFERENCES folder(id) ON DELETE SET NULL,
	usuario_criador_id TEXT NOT NULL,
	aprovado BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_doc_folder ON doc(usuario_criador_id, pasta_id);

CREATE TABLE IF NOT EXISTS doc_file (
	id UUID PRIMARY KEY,
	doc_id UUID NOT NULL UNIQUE REFERENCES doc(id) ON DELETE CASCADE,
	storage_path TEXT NOT NULL,
	nome_arquivo TEXT NOT NULL,
	hash TEXT NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	usuario_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_doc_file_hash ON doc_file(usuario_id, hash);
CREATE INDEX IF NOT EXISTS idx_doc_file_path ON doc_file(storage_path);

CREATE TABLE IF NOT EXISTS doc_entity (
	doc_id UUID NOT NULL REFERENCES doc(id) ON DELETE CASCADE,
	entity_id UUID NOT NULL REFERENCES entity(id) ON DELETE CASCADE,
	PRIMARY KEY (doc_id, entity_id)
);
CREATE INDEX IF NOT EXISTS idx_doc_entity_entity ON doc_entity(entity_id);

CREATE TABLE IF NOT EXISTS doc_queue (
	id UUID PRIMARY KEY,
	nome_arquivo TEXT NOT NULL,
	hash TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('aguardando', 'processando', 'finalizado', 'erro', 'duplicata_aguardando')),
	mensagem_atual TEXT NOT NULL DEFAULT '',
	extracted_text TEXT,
	dados_extraidos JSONB,
	storage_path TEXT NOT NULL DEFAULT '',
	mime_type TEXT NOT NULL DEFAULT '',
	is_duplicate BOOLEAN NOT NULL DEFAULT false,
	doc_file_id_original UUID,
	tentativas_processamento INT NOT NULL DEFAULT 0 CHECK (tentativas_processamento BETWEEN 0 AND 3),
	processando_desde TIMESTAMPTZ,
	ultima_tentativa_em TIMESTAMPTZ,
	pasta_id UUID,
	usuario_criador_id TEXT NOT NULL,
	file_date DATE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT doc_queue_processing_since CHECK ((status = 'processando') = (processando_desde IS NOT NULL))
);
CREATE INDEX IF NOT EXISTS idx_doc_queue_user ON doc_queue(usuario_criador_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_doc_queue_status ON doc_queue(status, processando_desde);
CREATE INDEX IF NOT EXISTS idx_doc_queue_path ON doc_queue(storage_path);
`

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// expectAffected turns a zero-row write into a typed error.
func expectAffected(res sql.Result, kind error, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return domain.WrapError(kind, op, fmt.Errorf("id %s", id))
	}
	return nil
}

func notFoundOr(err error, op, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("id %s", id))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// dateArg passes a reference date as text so the driver never converts it
// through a time zone.
func dateArg(d *domain.ReferenceDate) any {
	if d == nil || d.IsZero() {
		return nil
	}
	return d.ISO()
}

func scanDate(ns sql.NullString) (*domain.ReferenceDate, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := domain.ParseReferenceDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
