package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/entity"
)

type ChunkRepository interface {
	List(ctx context.Context, documentID uuid.UUID) ([]entity.Chunk, error)
}

type chunkRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewChunkRepository(db *DB, logger *slog.Logger) ChunkRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &chunkRepository{db: db, logger: logger}
}

var chunkColumns = []string{
	"id", "document_id", "chunk_number", "chunk_type", "content", "content_length",
	"start_offset", "end_offset", "page_start", "page_end", "quality_score", "chunking_method",
	"token_count", "created_at",
}

// chunkInsertBatch keeps multi-row inserts under SQLite's variable limit.
const chunkInsertBatch = 50

// replaceChunks deletes the document's chunks and inserts the new set. Must
// run inside a transaction.
func replaceChunks(ctx context.Context, tx *sql.Tx, b sq.StatementBuilderType, documentID uuid.UUID, chunks []entity.Chunk) error {
	if _, err := exec(ctx, tx, b.Delete("document_chunks").Where(sq.Eq{"document_id": documentID})); err != nil {
		return fmt.Errorf("%w: delete chunks: %v", common.ErrDatabase, err)
	}
	ts := now()
	for start := 0; start < len(chunks); start += chunkInsertBatch {
		end := min(start+chunkInsertBatch, len(chunks))
		ins := b.Insert("document_chunks").Columns(chunkColumns...)
		for i := start; i < end; i++ {
			c := &chunks[i]
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			c.DocumentID = documentID
			if c.CreatedAt.IsZero() {
				c.CreatedAt = ts
			}
			var tokens any
			if c.TokenCount != nil {
				tokens = *c.TokenCount
			}
			ins = ins.Values(c.ID, documentID, c.ChunkNumber, string(c.ChunkType), c.Content, c.ContentLength,
				c.StartOffset, c.EndOffset, c.PageStart, c.PageEnd, c.QualityScore, c.ChunkingMethod,
				tokens, dbTime{c.CreatedAt})
		}
		if _, err := exec(ctx, tx, ins); err != nil {
			return fmt.Errorf("%w: insert chunks: %v", common.ErrDatabase, err)
		}
	}
	return nil
}

func (r *chunkRepository) List(ctx context.Context, documentID uuid.UUID) ([]entity.Chunk, error) {
	rows, err := query(ctx, r.db.SQL, r.db.Builder().Select(chunkColumns...).
		From("document_chunks").
		Where(sq.Eq{"document_id": documentID}).
		OrderBy("chunk_number"))
	if err != nil {
		return nil, fmt.Errorf("%w: list chunks: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.Chunk
	for rows.Next() {
		var (
			c         entity.Chunk
			chunkType string
			tokens    sql.NullInt64
			created   dbTime
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkNumber, &chunkType, &c.Content, &c.ContentLength,
			&c.StartOffset, &c.EndOffset, &c.PageStart, &c.PageEnd, &c.QualityScore, &c.ChunkingMethod,
			&tokens, &created); err != nil {
			return nil, err
		}
		c.ChunkType = entity.ChunkType(chunkType)
		if tokens.Valid {
			n := int(tokens.Int64)
			c.TokenCount = &n
		}
		c.CreatedAt = created.Time
		out = append(out, c)
	}
	return out, rows.Err()
}
