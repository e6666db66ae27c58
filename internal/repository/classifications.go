package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
)

type ClassificationRepository interface {
	// Record stores rec as the current classification of its document.
	Record(ctx context.Context, rec *entity.ClassificationRecord) error
	Current(ctx context.Context, documentID uuid.UUID) (*entity.ClassificationRecord, error)
	History(ctx context.Context, documentID uuid.UUID) ([]*entity.ClassificationRecord, error)
}

type classificationRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewClassificationRepository(db *DB, logger *slog.Logger) ClassificationRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &classificationRepository{db: db, logger: logger}
}

var classificationColumns = []string{
	"id", "document_id", "document_type", "confidence", "method", "agent_name", "raw_response", "is_current", "created_at",
}

// insertClassification clears the current flag on earlier rows and inserts
// rec as current. Must run inside a transaction.
func insertClassification(ctx context.Context, tx *sql.Tx, b sq.StatementBuilderType, rec *entity.ClassificationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
	rec.IsCurrent = true

	if _, err := exec(ctx, tx, b.Update("document_classifications").
		Set("is_current", false).
		Where(sq.Eq{"document_id": rec.DocumentID, "is_current": true})); err != nil {
		return fmt.Errorf("%w: supersede classification: %v", common.ErrDatabase, err)
	}
	if _, err := exec(ctx, tx, b.Insert("document_classifications").
		Columns(classificationColumns...).
		Values(rec.ID, rec.DocumentID, string(rec.DocumentType), rec.Confidence, rec.Method, rec.AgentName,
			rec.RawResponse, true, dbTime{rec.CreatedAt})); err != nil {
		return fmt.Errorf("%w: insert classification: %v", common.ErrDatabase, err)
	}
	return nil
}

func (r *classificationRepository) Record(ctx context.Context, rec *entity.ClassificationRecord) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insertClassification(ctx, tx, r.db.Builder(), rec); err != nil {
			return err
		}
		_, err := exec(ctx, tx, r.db.Builder().Update("documents").
			Set("document_type", string(rec.DocumentType)).
			Set("updated_at", dbTime{now()}).
			Where(sq.Eq{"id": rec.DocumentID}))
		return err
	})
}

func (r *classificationRepository) Current(ctx context.Context, documentID uuid.UUID) (*entity.ClassificationRecord, error) {
	row, err := queryRow(ctx, r.db.SQL, r.db.Builder().Select(classificationColumns...).
		From("document_classifications").
		Where(sq.Eq{"document_id": documentID, "is_current": true}))
	if err != nil {
		return nil, err
	}
	rec, err := scanClassification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("current classification for document", documentID)
	}
	return rec, err
}

func (r *classificationRepository) History(ctx context.Context, documentID uuid.UUID) ([]*entity.ClassificationRecord, error) {
	rows, err := query(ctx, r.db.SQL, r.db.Builder().Select(classificationColumns...).
		From("document_classifications").
		Where(sq.Eq{"document_id": documentID}).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("%w: classification history: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.ClassificationRecord
	for rows.Next() {
		rec, err := scanClassification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanClassification(s rowScanner) (*entity.ClassificationRecord, error) {
	var (
		rec     entity.ClassificationRecord
		docType string
		created dbTime
	)
	if err := s.Scan(&rec.ID, &rec.DocumentID, &docType, &rec.Confidence, &rec.Method, &rec.AgentName,
		&rec.RawResponse, &rec.IsCurrent, &created); err != nil {
		return nil, err
	}
	rec.DocumentType = constants.DocumentType(docType)
	rec.CreatedAt = created.Time
	return &rec, nil
}
