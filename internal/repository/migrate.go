package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// schemaDDL is written once with type tokens and rendered per dialect.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id                    {{uuid}} PRIMARY KEY,
	tenant_id             TEXT NOT NULL,
	scope_id              TEXT NOT NULL DEFAULT '',
	storage_ref           TEXT NOT NULL,
	filename              TEXT NOT NULL,
	size_bytes            BIGINT NOT NULL DEFAULT 0,
	content_hash          TEXT NOT NULL,
	mime_type             TEXT NOT NULL,
	extraction_status     TEXT NOT NULL DEFAULT 'pending',
	classification_status TEXT NOT NULL DEFAULT 'pending',
	metadata_status       TEXT NOT NULL DEFAULT 'pending',
	chunking_status       TEXT NOT NULL DEFAULT 'pending',
	processing_level      INTEGER NOT NULL DEFAULT 0 CHECK (processing_level BETWEEN 0 AND 4),
	extracted_text        TEXT,
	text_length           INTEGER NOT NULL DEFAULT 0,
	page_count            INTEGER NOT NULL DEFAULT 0,
	extraction_method     TEXT,
	document_type         TEXT,
	chunk_count           INTEGER NOT NULL DEFAULT 0,
	extraction_error      TEXT,
	classification_error  TEXT,
	metadata_error        TEXT,
	chunking_error        TEXT,
	created_at            {{ts}} NOT NULL,
	updated_at            {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_level ON documents (processing_level);
CREATE INDEX IF NOT EXISTS idx_documents_tenant_ref ON documents (tenant_id, storage_ref);

CREATE TABLE IF NOT EXISTS document_classifications (
	id            {{uuid}} PRIMARY KEY,
	document_id   {{uuid}} NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	document_type TEXT NOT NULL,
	confidence    {{float}} NOT NULL,
	method        TEXT NOT NULL,
	agent_name    TEXT NOT NULL DEFAULT '',
	raw_response  TEXT NOT NULL DEFAULT '',
	is_current    BOOLEAN NOT NULL DEFAULT {{false}},
	created_at    {{ts}} NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_classification_current
	ON document_classifications (document_id) WHERE is_current = {{true}};

CREATE TABLE IF NOT EXISTS document_metadata (
	id                {{uuid}} PRIMARY KEY,
	document_id       {{uuid}} NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	document_type     TEXT NOT NULL,
	extraction_method TEXT NOT NULL,
	confidence        {{float}} NOT NULL,
	validation_status TEXT NOT NULL,
	fields            {{json}} NOT NULL,
	raw_response      TEXT NOT NULL DEFAULT '',
	is_current        BOOLEAN NOT NULL DEFAULT {{false}},
	created_at        {{ts}} NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_metadata_current
	ON document_metadata (document_id) WHERE is_current = {{true}};

CREATE TABLE IF NOT EXISTS document_chunks (
	id              {{uuid}} PRIMARY KEY,
	document_id     {{uuid}} NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_number    INTEGER NOT NULL,
	chunk_type      TEXT NOT NULL,
	content         TEXT NOT NULL,
	content_length  INTEGER NOT NULL,
	start_offset    INTEGER NOT NULL,
	end_offset      INTEGER NOT NULL,
	page_start      INTEGER NOT NULL,
	page_end        INTEGER NOT NULL,
	quality_score   {{float}} NOT NULL,
	chunking_method TEXT NOT NULL,
	token_count     INTEGER,
	created_at      {{ts}} NOT NULL,
	UNIQUE (document_id, chunk_number)
);

CREATE TABLE IF NOT EXISTS agent_prompts (
	id          {{uuid}} PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL,
	variables   {{json}} NOT NULL,
	version     INTEGER NOT NULL,
	is_active   BOOLEAN NOT NULL DEFAULT {{false}},
	created_at  {{ts}} NOT NULL,
	UNIQUE (name, version)
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_agent_prompts_active
	ON agent_prompts (name) WHERE is_active = {{true}};
`

func renderDDL(d Dialect) string {
	var r *strings.Replacer
	if d == DialectPostgres {
		r = strings.NewReplacer("{{uuid}}", "UUID", "{{ts}}", "TIMESTAMPTZ", "{{json}}", "JSONB",
			"{{float}}", "DOUBLE PRECISION", "{{true}}", "TRUE", "{{false}}", "FALSE")
	} else {
		r = strings.NewReplacer("{{uuid}}", "TEXT", "{{ts}}", "TIMESTAMP", "{{json}}", "TEXT",
			"{{float}}", "REAL", "{{true}}", "1", "{{false}}", "0")
	}
	return r.Replace(schemaDDL)
}

// Migrate creates the registry tables when missing. Statements are idempotent.
func (db *DB) Migrate(ctx context.Context, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, stmt := range strings.Split(renderDDL(db.Dialect), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w\n%s", err, stmt)
		}
	}
	logger.Info("db.migrate.ok", "dialect", db.Dialect)
	return nil
}
