package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
)

// ExtractionOutput is what the extraction stage persists on the document.
type ExtractionOutput struct {
	Text      string
	Length    int
	PageCount int
	Method    string
}

type DocumentRepository interface {
	Create(ctx context.Context, in entity.NewDocument) (*entity.Document, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	// FindByRef returns the tenant's document registered for storageRef with
	// the given content hash, or ErrNotFound.
	FindByRef(ctx context.Context, tenantID, storageRef, contentHash string) (*entity.Document, error)
	List(ctx context.Context, limit uint64) ([]*entity.Document, error)
	ListBelowLevel(ctx context.Context, level int, limit uint64) ([]uuid.UUID, error)

	// BeginStage claims a pending stage, or a processing stage whose lease has
	// expired, by moving it to processing. A live claim returns ErrConflict.
	BeginStage(ctx context.Context, id uuid.UUID, stage constants.Stage) error
	FailStage(ctx context.Context, id uuid.UUID, stage constants.Stage, detail string) error
	Reset(ctx context.Context, id uuid.UUID, from constants.Stage) error

	CompleteExtraction(ctx context.Context, id uuid.UUID, out ExtractionOutput) error
	CompleteClassification(ctx context.Context, id uuid.UUID, rec *entity.ClassificationRecord) error
	CompleteMetadata(ctx context.Context, id uuid.UUID, rec *entity.MetadataRecord) error
	CompleteChunking(ctx context.Context, id uuid.UUID, chunks []entity.Chunk) error
}

// DefaultStageLease is how long a processing claim blocks other runs.
const DefaultStageLease = 20 * time.Minute

type documentRepository struct {
	db     *DB
	lease  time.Duration
	logger *slog.Logger
}

type DocumentOption func(*documentRepository)

// WithStageLease sets how old a processing claim must be before another run
// may take the stage over.
func WithStageLease(d time.Duration) DocumentOption {
	return func(r *documentRepository) {
		if d > 0 {
			r.lease = d
		}
	}
}

func NewDocumentRepository(db *DB, logger *slog.Logger, opts ...DocumentOption) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	r := &documentRepository{db: db, lease: DefaultStageLease, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var documentColumns = []string{
	"id", "tenant_id", "scope_id", "storage_ref", "filename", "size_bytes", "content_hash", "mime_type",
	"extraction_status", "classification_status", "metadata_status", "chunking_status",
	"processing_level", "extracted_text", "text_length", "page_count", "extraction_method",
	"document_type", "chunk_count",
	"extraction_error", "classification_error", "metadata_error", "chunking_error",
	"created_at", "updated_at",
}

func statusColumn(s constants.Stage) string { return s.String() + "_status" }
func errorColumn(s constants.Stage) string  { return s.String() + "_error" }

// fromStatuses lists the statuses a stage column may hold before moving to to.
func fromStatuses(to constants.StageStatus) []string {
	var out []string
	for _, from := range constants.StageStatuses {
		if constants.CanTransition(constants.StageStatus(from), to) {
			out = append(out, from)
		}
	}
	return out
}

// transitionGuard restricts an update of stage to rows allowed to move to to.
// Taking over a processing stage also requires its claim to be older than lease.
func (r *documentRepository) transitionGuard(stage constants.Stage, to constants.StageStatus) sq.Sqlizer {
	col := statusColumn(stage)
	or := sq.Or{}
	for _, from := range fromStatuses(to) {
		if from == string(constants.StatusProcessing) && to == constants.StatusProcessing {
			or = append(or, sq.And{
				sq.Eq{col: from},
				sq.Lt{"updated_at": dbTime{now().Add(-r.lease)}},
			})
			continue
		}
		or = append(or, sq.Eq{col: from})
	}
	return or
}

// rejectTransition explains why a guarded update of stage matched no row.
func (r *documentRepository) rejectTransition(ctx context.Context, rn runner, id uuid.UUID, stage constants.Stage) error {
	d, err := r.get(ctx, rn, id)
	if err != nil {
		return err
	}
	if d.StageStatus(stage) == constants.StatusFailed {
		return common.NewAppError(common.CodeStageFailed, fmt.Sprintf("%s stage failed; reset required", stage), nil)
	}
	return fmt.Errorf("%w: %s stage is %s", common.ErrConflict, stage, d.StageStatus(stage))
}

func (r *documentRepository) Create(ctx context.Context, in entity.NewDocument) (*entity.Document, error) {
	if err := common.ValidateStruct(in); err != nil {
		return nil, err
	}
	ts := now()
	d := &entity.Document{
		ID:                   uuid.New(),
		TenantID:             in.TenantID,
		ScopeID:              in.ScopeID,
		StorageRef:           in.StorageRef,
		Filename:             in.Filename,
		SizeBytes:            in.SizeBytes,
		ContentHash:          in.ContentHash,
		MimeType:             in.MimeType,
		ExtractionStatus:     constants.StatusPending,
		ClassificationStatus: constants.StatusPending,
		MetadataStatus:       constants.StatusPending,
		ChunkingStatus:       constants.StatusPending,
		CreatedAt:            ts,
		UpdatedAt:            ts,
	}
	b := r.db.Builder().Insert("documents").
		Columns("id", "tenant_id", "scope_id", "storage_ref", "filename", "size_bytes", "content_hash", "mime_type",
			"extraction_status", "classification_status", "metadata_status", "chunking_status",
			"processing_level", "created_at", "updated_at").
		Values(d.ID, d.TenantID, d.ScopeID, d.StorageRef, d.Filename, d.SizeBytes, d.ContentHash, d.MimeType,
			string(d.ExtractionStatus), string(d.ClassificationStatus), string(d.MetadataStatus), string(d.ChunkingStatus),
			0, dbTime{ts}, dbTime{ts})
	if _, err := exec(ctx, r.db.SQL, b); err != nil {
		r.logger.Error("document create failed", "filename", in.Filename, "err", err)
		return nil, fmt.Errorf("%w: create document: %v", common.ErrDatabase, err)
	}
	r.logger.Info("document registered", "document_id", d.ID, "filename", d.Filename, "mime", d.MimeType)
	return d, nil
}

func (r *documentRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	return r.get(ctx, r.db.SQL, id)
}

func (r *documentRepository) get(ctx context.Context, rn runner, id uuid.UUID) (*entity.Document, error) {
	row, err := queryRow(ctx, rn, r.db.Builder().Select(documentColumns...).From("documents").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get document: %v", common.ErrDatabase, err)
	}
	return d, nil
}

func (r *documentRepository) FindByRef(ctx context.Context, tenantID, storageRef, contentHash string) (*entity.Document, error) {
	b := r.db.Builder().Select(documentColumns...).From("documents").
		Where(sq.Eq{"tenant_id": tenantID, "storage_ref": storageRef, "content_hash": contentHash}).
		OrderBy("created_at", "id").
		Limit(1)
	row, err := queryRow(ctx, r.db.SQL, b)
	if err != nil {
		return nil, err
	}
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("document for ref", storageRef)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find document by ref: %v", common.ErrDatabase, err)
	}
	return d, nil
}

func (r *documentRepository) List(ctx context.Context, limit uint64) ([]*entity.Document, error) {
	b := r.db.Builder().Select(documentColumns...).From("documents").OrderBy("created_at", "id")
	if limit > 0 {
		b = b.Limit(limit)
	}
	rows, err := query(ctx, r.db.SQL, b)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListBelowLevel returns documents that can still progress: below level and
// with no failed stage.
func (r *documentRepository) ListBelowLevel(ctx context.Context, level int, limit uint64) ([]uuid.UUID, error) {
	notFailed := sq.And{}
	for _, s := range constants.Stages {
		notFailed = append(notFailed, sq.NotEq{statusColumn(s): string(constants.StatusFailed)})
	}
	b := r.db.Builder().Select("id").From("documents").
		Where(sq.Lt{"processing_level": level}).
		Where(notFailed).
		OrderBy("created_at", "id")
	if limit > 0 {
		b = b.Limit(limit)
	}
	rows, err := query(ctx, r.db.SQL, b)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending documents: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *documentRepository) BeginStage(ctx context.Context, id uuid.UUID, stage constants.Stage) error {
	b := r.db.Builder().Update("documents").
		Set(statusColumn(stage), string(constants.StatusProcessing)).
		Set(errorColumn(stage), nil).
		Set("updated_at", dbTime{now()}).
		Where(sq.Eq{"id": id}).
		Where(r.transitionGuard(stage, constants.StatusProcessing))
	n, err := exec(ctx, r.db.SQL, b)
	if err != nil {
		return fmt.Errorf("%w: begin %s: %v", common.ErrDatabase, stage, err)
	}
	if n == 1 {
		return nil
	}
	return r.rejectTransition(ctx, r.db.SQL, id, stage)
}

func (r *documentRepository) FailStage(ctx context.Context, id uuid.UUID, stage constants.Stage, detail string) error {
	b := r.db.Builder().Update("documents").
		Set(statusColumn(stage), string(constants.StatusFailed)).
		Set(errorColumn(stage), detail).
		Set("updated_at", dbTime{now()}).
		Where(sq.Eq{"id": id}).
		Where(r.transitionGuard(stage, constants.StatusFailed))
	n, err := exec(ctx, r.db.SQL, b)
	if err != nil {
		return fmt.Errorf("%w: fail %s: %v", common.ErrDatabase, stage, err)
	}
	if n == 0 {
		return r.rejectTransition(ctx, r.db.SQL, id, stage)
	}
	r.logger.Warn("document stage failed", "document_id", id, "stage", stage.String(), "error", detail)
	return nil
}

// Reset returns stages >= from to pending and lowers the processing level to
// from-1. Outputs of earlier runs stay until overwritten.
func (r *documentRepository) Reset(ctx context.Context, id uuid.UUID, from constants.Stage) error {
	if !from.Valid() {
		return fmt.Errorf("%w: stage %d", common.ErrInvalidInput, int(from))
	}
	level := int(from) - 1
	b := r.db.Builder().Update("documents").
		Set("processing_level", sq.Expr("CASE WHEN processing_level > ? THEN ? ELSE processing_level END", level, level)).
		Set("updated_at", dbTime{now()}).
		Where(sq.Eq{"id": id})
	for _, s := range constants.Stages {
		if s >= from {
			b = b.Set(statusColumn(s), string(constants.StatusPending)).Set(errorColumn(s), nil)
		}
	}
	n, err := exec(ctx, r.db.SQL, b)
	if err != nil {
		return fmt.Errorf("%w: reset: %v", common.ErrDatabase, err)
	}
	if n == 0 {
		return notFound("document", id)
	}
	r.logger.Info("document reset", "document_id", id, "from", from.String())
	return nil
}

// complete marks a processing stage completed and raises the processing level,
// optionally setting extra columns, in one statement. A stage no longer in
// processing returns ErrConflict and nothing is written.
func (r *documentRepository) complete(ctx context.Context, rn runner, id uuid.UUID, stage constants.Stage, extra map[string]any) error {
	level := int(stage)
	b := r.db.Builder().Update("documents").
		Set(statusColumn(stage), string(constants.StatusCompleted)).
		Set(errorColumn(stage), nil).
		Set("processing_level", sq.Expr("CASE WHEN processing_level < ? THEN ? ELSE processing_level END", level, level)).
		Set("updated_at", dbTime{now()}).
		SetMap(extra).
		Where(sq.Eq{"id": id}).
		Where(r.transitionGuard(stage, constants.StatusCompleted))
	n, err := exec(ctx, rn, b)
	if err != nil {
		return fmt.Errorf("%w: complete %s: %v", common.ErrDatabase, stage, err)
	}
	if n == 0 {
		return r.rejectTransition(ctx, rn, id, stage)
	}
	return nil
}

func (r *documentRepository) CompleteExtraction(ctx context.Context, id uuid.UUID, out ExtractionOutput) error {
	return r.complete(ctx, r.db.SQL, id, constants.StageExtraction, map[string]any{
		"extracted_text":    out.Text,
		"text_length":       out.Length,
		"page_count":        out.PageCount,
		"extraction_method": out.Method,
	})
}

func (r *documentRepository) CompleteClassification(ctx context.Context, id uuid.UUID, rec *entity.ClassificationRecord) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		rec.DocumentID = id
		if err := r.complete(ctx, tx, id, constants.StageClassification, map[string]any{
			"document_type": string(rec.DocumentType),
		}); err != nil {
			return err
		}
		return insertClassification(ctx, tx, r.db.Builder(), rec)
	})
}

func (r *documentRepository) CompleteMetadata(ctx context.Context, id uuid.UUID, rec *entity.MetadataRecord) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		rec.DocumentID = id
		if err := r.complete(ctx, tx, id, constants.StageMetadata, nil); err != nil {
			return err
		}
		return insertMetadata(ctx, tx, r.db.Builder(), rec)
	})
}

func (r *documentRepository) CompleteChunking(ctx context.Context, id uuid.UUID, chunks []entity.Chunk) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.complete(ctx, tx, id, constants.StageChunking, map[string]any{
			"chunk_count": len(chunks),
		}); err != nil {
			return err
		}
		return replaceChunks(ctx, tx, r.db.Builder(), id, chunks)
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(s rowScanner) (*entity.Document, error) {
	var (
		d                              entity.Document
		text, method, docType          sql.NullString
		extErr, clsErr, metaErr, chErr sql.NullString
		created, updated               dbTime
	)
	err := s.Scan(
		&d.ID, &d.TenantID, &d.ScopeID, &d.StorageRef, &d.Filename, &d.SizeBytes, &d.ContentHash, &d.MimeType,
		&d.ExtractionStatus, &d.ClassificationStatus, &d.MetadataStatus, &d.ChunkingStatus,
		&d.ProcessingLevel, &text, &d.TextLength, &d.PageCount, &method,
		&docType, &d.ChunkCount,
		&extErr, &clsErr, &metaErr, &chErr,
		&created, &updated,
	)
	if err != nil {
		return nil, err
	}
	if text.Valid {
		d.ExtractedText = &text.String
	}
	if method.Valid {
		d.ExtractionMethod = &method.String
	}
	if docType.Valid && docType.String != "" {
		t := constants.DocumentType(docType.String)
		d.DocumentType = &t
	}
	for stage, e := range map[constants.Stage]sql.NullString{
		constants.StageExtraction:     extErr,
		constants.StageClassification: clsErr,
		constants.StageMetadata:       metaErr,
		constants.StageChunking:       chErr,
	} {
		if e.Valid && e.String != "" {
			if d.StageErrors == nil {
				d.StageErrors = map[constants.Stage]string{}
			}
			d.StageErrors[stage] = e.String
		}
	}
	d.CreatedAt, d.UpdatedAt = created.Time, updated.Time
	return &d, nil
}
