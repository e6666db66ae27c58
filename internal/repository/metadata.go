package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
)

type MetadataRepository interface {
	Current(ctx context.Context, documentID uuid.UUID) (*entity.MetadataRecord, error)
	History(ctx context.Context, documentID uuid.UUID) ([]*entity.MetadataRecord, error)
}

type metadataRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewMetadataRepository(db *DB, logger *slog.Logger) MetadataRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &metadataRepository{db: db, logger: logger}
}

var metadataColumns = []string{
	"id", "document_id", "document_type", "extraction_method", "confidence", "validation_status",
	"fields", "raw_response", "is_current", "created_at",
}

// insertMetadata supersedes the current record and inserts rec. Must run
// inside a transaction.
func insertMetadata(ctx context.Context, tx *sql.Tx, b sq.StatementBuilderType, rec *entity.MetadataRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	rec.IsCurrent = true
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode metadata fields: %w", err)
	}

	if _, err := exec(ctx, tx, b.Update("document_metadata").
		Set("is_current", false).
		Where(sq.Eq{"document_id": rec.DocumentID, "is_current": true})); err != nil {
		return fmt.Errorf("%w: supersede metadata: %v", common.ErrDatabase, err)
	}
	if _, err := exec(ctx, tx, b.Insert("document_metadata").
		Columns(metadataColumns...).
		Values(rec.ID, rec.DocumentID, string(rec.DocumentType), rec.ExtractionMethod, rec.Confidence,
			rec.ValidationStatus, string(fields), rec.RawResponse, true, dbTime{rec.CreatedAt})); err != nil {
		return fmt.Errorf("%w: insert metadata: %v", common.ErrDatabase, err)
	}
	return nil
}

func (r *metadataRepository) Current(ctx context.Context, documentID uuid.UUID) (*entity.MetadataRecord, error) {
	row, err := queryRow(ctx, r.db.SQL, r.db.Builder().Select(metadataColumns...).
		From("document_metadata").
		Where(sq.Eq{"document_id": documentID, "is_current": true}))
	if err != nil {
		return nil, err
	}
	rec, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("current metadata for document", documentID)
	}
	return rec, err
}

func (r *metadataRepository) History(ctx context.Context, documentID uuid.UUID) ([]*entity.MetadataRecord, error) {
	rows, err := query(ctx, r.db.SQL, r.db.Builder().Select(metadataColumns...).
		From("document_metadata").
		Where(sq.Eq{"document_id": documentID}).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("%w: metadata history: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.MetadataRecord
	for rows.Next() {
		rec, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanMetadata(s rowScanner) (*entity.MetadataRecord, error) {
	var (
		rec     entity.MetadataRecord
		docType string
		fields  []byte
		created dbTime
	)
	if err := s.Scan(&rec.ID, &rec.DocumentID, &docType, &rec.ExtractionMethod, &rec.Confidence,
		&rec.ValidationStatus, &fields, &rec.RawResponse, &rec.IsCurrent, &created); err != nil {
		return nil, err
	}
	rec.DocumentType = constants.DocumentType(docType)
	rec.CreatedAt = created.Time
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode metadata fields: %w", err)
		}
	}
	return &rec, nil
}
