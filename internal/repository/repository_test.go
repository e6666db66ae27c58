package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db, err := OpenSQLite(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })
	require.NoError(t, db.Migrate(ctx, nil))
	return db
}

func newDoc(t *testing.T, repo DocumentRepository) *entity.Document {
	t.Helper()
	d, err := repo.Create(context.Background(), entity.NewDocument{
		TenantID:    "t1",
		ScopeID:     "c1",
		StorageRef:  "t1/acta.pdf",
		Filename:    "acta.pdf",
		SizeBytes:   1024,
		ContentHash: "abcdef0123",
		MimeType:    constants.MimePDF,
	})
	require.NoError(t, err)
	return d
}

func begin(t *testing.T, repo DocumentRepository, id uuid.UUID, stage constants.Stage) {
	t.Helper()
	require.NoError(t, repo.BeginStage(context.Background(), id, stage))
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Migrate(context.Background(), nil))
	require.NoError(t, db.HealthCheck(context.Background(), 0, nil))
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewDocumentRepository(db, nil)

	t.Run("Should reject invalid input on create", func(t *testing.T) {
		_, err := repo.Create(ctx, entity.NewDocument{TenantID: "t1"})
		assert.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("Should return not found for an unknown id", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("Should find by ref only when tenant, ref and hash match", func(t *testing.T) {
		d := newDoc(t, repo)
		got, err := repo.FindByRef(ctx, "t1", "t1/acta.pdf", "abcdef0123")
		require.NoError(t, err)
		assert.Equal(t, d.ContentHash, got.ContentHash)

		_, err = repo.FindByRef(ctx, "t2", "t1/acta.pdf", "abcdef0123")
		assert.ErrorIs(t, err, common.ErrNotFound)
		_, err = repo.FindByRef(ctx, "t1", "t1/acta.pdf", "ffff")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("Should complete stages in order and raise the level", func(t *testing.T) {
		d := newDoc(t, repo)
		got, err := repo.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.ProcessingLevel)
		assert.Equal(t, constants.StatusPending, got.ExtractionStatus)
		assert.Nil(t, got.ExtractedText)

		require.NoError(t, repo.BeginStage(ctx, d.ID, constants.StageExtraction))
		got, _ = repo.Get(ctx, d.ID)
		assert.Equal(t, constants.StatusProcessing, got.ExtractionStatus)

		require.NoError(t, repo.CompleteExtraction(ctx, d.ID, ExtractionOutput{Text: "hola", Length: 4, PageCount: 1, Method: "native"}))
		got, _ = repo.Get(ctx, d.ID)
		assert.Equal(t, constants.StatusCompleted, got.ExtractionStatus)
		assert.Equal(t, 1, got.ProcessingLevel)
		assert.Equal(t, "hola", got.Text())
		assert.Equal(t, "native", *got.ExtractionMethod)

		begin(t, repo, d.ID, constants.StageClassification)
		require.NoError(t, repo.CompleteClassification(ctx, d.ID, &entity.ClassificationRecord{
			DocumentType: constants.Minutes, Confidence: 0.9, Method: entity.ClassificationMethodAgent,
		}))
		begin(t, repo, d.ID, constants.StageMetadata)
		require.NoError(t, repo.CompleteMetadata(ctx, d.ID, &entity.MetadataRecord{
			DocumentType: constants.Minutes, ExtractionMethod: "minutes_extractor", Confidence: 0.9,
			ValidationStatus: entity.ValidationValid, Fields: map[string]any{"meeting_date": "2024-01-01"},
		}))
		begin(t, repo, d.ID, constants.StageChunking)
		require.NoError(t, repo.CompleteChunking(ctx, d.ID, []entity.Chunk{
			{ChunkNumber: 1, ChunkType: entity.ChunkHeader, Content: "ho", ContentLength: 2, StartOffset: 0, EndOffset: 2, PageStart: 1, PageEnd: 1, QualityScore: 0.5, ChunkingMethod: "fixed-size"},
			{ChunkNumber: 2, ChunkType: entity.ChunkConclusion, Content: "la", ContentLength: 2, StartOffset: 2, EndOffset: 4, PageStart: 1, PageEnd: 1, QualityScore: 0.5, ChunkingMethod: "fixed-size"},
		}))

		got, _ = repo.Get(ctx, d.ID)
		assert.True(t, got.FullyProcessed())
		assert.Equal(t, constants.Minutes, got.Type())
		assert.Equal(t, 2, got.ChunkCount)

		chunks, err := NewChunkRepository(db, nil).List(ctx, d.ID)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "ho", chunks[0].Content)
		assert.Nil(t, chunks[0].TokenCount)

		ids, err := repo.ListBelowLevel(ctx, constants.MaxLevel, 0)
		require.NoError(t, err)
		assert.NotContains(t, ids, d.ID)
	})

	t.Run("Should block a failed stage until reset", func(t *testing.T) {
		d := newDoc(t, repo)
		require.NoError(t, repo.BeginStage(ctx, d.ID, constants.StageExtraction))
		require.NoError(t, repo.FailStage(ctx, d.ID, constants.StageExtraction, "EXTRACTION_FAILURE: no pages"))

		got, _ := repo.Get(ctx, d.ID)
		assert.Equal(t, constants.StatusFailed, got.ExtractionStatus)
		assert.Equal(t, "EXTRACTION_FAILURE: no pages", got.StageErrors[constants.StageExtraction])
		assert.Equal(t, 0, got.ProcessingLevel)

		err := repo.BeginStage(ctx, d.ID, constants.StageExtraction)
		assert.ErrorIs(t, err, common.ErrStageFailed)

		ids, err := repo.ListBelowLevel(ctx, constants.MaxLevel, 0)
		require.NoError(t, err)
		assert.NotContains(t, ids, d.ID)

		require.NoError(t, repo.Reset(ctx, d.ID, constants.StageExtraction))
		got, _ = repo.Get(ctx, d.ID)
		assert.Equal(t, constants.StatusPending, got.ExtractionStatus)
		assert.Empty(t, got.StageErrors)
		require.NoError(t, repo.BeginStage(ctx, d.ID, constants.StageExtraction))
	})

	t.Run("Should not begin a completed stage again", func(t *testing.T) {
		d := newDoc(t, repo)
		begin(t, repo, d.ID, constants.StageExtraction)
		require.NoError(t, repo.CompleteExtraction(ctx, d.ID, ExtractionOutput{Text: "x", Length: 1, Method: "plain"}))
		err := repo.BeginStage(ctx, d.ID, constants.StageExtraction)
		assert.ErrorIs(t, err, common.ErrConflict)
	})

	t.Run("Should block a second run while a claim is live", func(t *testing.T) {
		d := newDoc(t, repo)
		begin(t, repo, d.ID, constants.StageExtraction)
		assert.ErrorIs(t, repo.BeginStage(ctx, d.ID, constants.StageExtraction), common.ErrConflict)

		require.NoError(t, repo.CompleteExtraction(ctx, d.ID, ExtractionOutput{Text: "first", Length: 5, Method: "native"}))
		err := repo.CompleteExtraction(ctx, d.ID, ExtractionOutput{Text: "second", Length: 6, Method: "ocr"})
		assert.ErrorIs(t, err, common.ErrConflict)
		err = repo.FailStage(ctx, d.ID, constants.StageExtraction, "late failure")
		assert.ErrorIs(t, err, common.ErrConflict)

		got, _ := repo.Get(ctx, d.ID)
		assert.Equal(t, "first", got.Text())
		assert.Equal(t, constants.StatusCompleted, got.ExtractionStatus)
		assert.Empty(t, got.StageErrors)
	})

	t.Run("Should write nothing when completing an unclaimed stage", func(t *testing.T) {
		d := newDoc(t, repo)
		err := repo.CompleteClassification(ctx, d.ID, &entity.ClassificationRecord{
			DocumentType: constants.Invoice, Confidence: 0.8, Method: entity.ClassificationMethodAgent,
		})
		assert.ErrorIs(t, err, common.ErrConflict)

		_, err = NewClassificationRepository(db, nil).Current(ctx, d.ID)
		assert.ErrorIs(t, err, common.ErrNotFound)
		got, _ := repo.Get(ctx, d.ID)
		assert.Equal(t, 0, got.ProcessingLevel)
	})

	t.Run("Should let a stale claim be taken over", func(t *testing.T) {
		short := NewDocumentRepository(db, nil, WithStageLease(time.Millisecond))
		d := newDoc(t, short)
		begin(t, short, d.ID, constants.StageExtraction)
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, short.BeginStage(ctx, d.ID, constants.StageExtraction))
	})

	t.Run("Should lower the level on reset and keep earlier stages", func(t *testing.T) {
		d := newDoc(t, repo)
		begin(t, repo, d.ID, constants.StageExtraction)
		require.NoError(t, repo.CompleteExtraction(ctx, d.ID, ExtractionOutput{Text: "x", Length: 1, Method: "plain"}))
		begin(t, repo, d.ID, constants.StageClassification)
		require.NoError(t, repo.CompleteClassification(ctx, d.ID, &entity.ClassificationRecord{
			DocumentType: constants.Invoice, Confidence: 0.8, Method: entity.ClassificationMethodAgent,
		}))
		require.NoError(t, repo.Reset(ctx, d.ID, constants.StageClassification))

		got, _ := repo.Get(ctx, d.ID)
		assert.Equal(t, 1, got.ProcessingLevel)
		assert.Equal(t, constants.StatusCompleted, got.ExtractionStatus)
		assert.Equal(t, constants.StatusPending, got.ClassificationStatus)

		ids, err := repo.ListBelowLevel(ctx, constants.MaxLevel, 0)
		require.NoError(t, err)
		assert.Contains(t, ids, d.ID)
	})
}

func TestCurrentRecordSwap(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	docs := NewDocumentRepository(db, nil)
	cls := NewClassificationRepository(db, nil)
	meta := NewMetadataRepository(db, nil)
	d := newDoc(t, docs)

	for _, dt := range []constants.DocumentType{constants.Notice, constants.Minutes} {
		require.NoError(t, cls.Record(ctx, &entity.ClassificationRecord{
			DocumentID: d.ID, DocumentType: dt, Confidence: 0.7, Method: entity.ClassificationMethodAgent,
		}))
	}
	cur, err := cls.Current(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.Minutes, cur.DocumentType)
	hist, err := cls.History(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	current := 0
	for _, h := range hist {
		if h.IsCurrent {
			current++
		}
	}
	assert.Equal(t, 1, current)

	got, _ := docs.Get(ctx, d.ID)
	assert.Equal(t, constants.Minutes, got.Type())

	_, err = meta.Current(ctx, d.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	for i := 0; i < 2; i++ {
		require.NoError(t, docs.Reset(ctx, d.ID, constants.StageMetadata))
		begin(t, docs, d.ID, constants.StageMetadata)
		require.NoError(t, docs.CompleteMetadata(ctx, d.ID, &entity.MetadataRecord{
			DocumentType: constants.Minutes, ExtractionMethod: "minutes_extractor",
			Confidence: float64(i), ValidationStatus: entity.ValidationValid,
			Fields: map[string]any{"agreements": []any{"a", "b"}},
		}))
	}
	m, err := meta.Current(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.Confidence)
	assert.Equal(t, []any{"a", "b"}, m.Fields["agreements"])
	mh, err := meta.History(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, mh, 2)
}

func TestChunkReplacement(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	docs := NewDocumentRepository(db, nil)
	d := newDoc(t, docs)

	tokens := 3
	many := make([]entity.Chunk, 120)
	for i := range many {
		many[i] = entity.Chunk{ChunkNumber: i + 1, ChunkType: entity.ChunkContent, Content: "x", ContentLength: 1,
			StartOffset: i, EndOffset: i + 1, PageStart: 1, PageEnd: 1, QualityScore: 0.4, ChunkingMethod: "fixed-size", TokenCount: &tokens}
	}
	begin(t, docs, d.ID, constants.StageChunking)
	require.NoError(t, docs.CompleteChunking(ctx, d.ID, many))
	require.NoError(t, docs.Reset(ctx, d.ID, constants.StageChunking))
	begin(t, docs, d.ID, constants.StageChunking)
	require.NoError(t, docs.CompleteChunking(ctx, d.ID, many[:3]))

	chunks, err := NewChunkRepository(db, nil).List(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	require.NotNil(t, chunks[2].TokenCount)
	assert.Equal(t, 3, *chunks[2].TokenCount)

	got, _ := docs.Get(ctx, d.ID)
	assert.Equal(t, 3, got.ChunkCount)
}

func TestPromptPublish(t *testing.T) {
	ctx := context.Background()
	repo := NewPromptRepository(openTestDB(t), nil)

	_, err := repo.GetActive(ctx, "document_classifier")
	assert.ErrorIs(t, err, common.ErrNotFound)

	v1, err := repo.Publish(ctx, &entity.PromptTemplate{Name: "document_classifier", Body: "a {{document_text}}", Variables: []string{"document_text"}})
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	v2, err := repo.Publish(ctx, &entity.PromptTemplate{Name: "document_classifier", Body: "b {{document_text}}", Variables: []string{"document_text"}})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	active, err := repo.GetActive(ctx, "document_classifier")
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)
	assert.Equal(t, []string{"document_text"}, active.Variables)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[0].IsActive)
	assert.True(t, all[1].IsActive)
}
