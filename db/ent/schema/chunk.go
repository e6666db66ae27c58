package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docingest/db/ent/schema/utils"
	"github.com/joseph-ayodele/docingest/internal/entity"
)

type Chunk struct{ ent.Schema }

func (Chunk) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "document_chunks"},
	}
}

func (Chunk) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("document_id", uuid.UUID{}).Immutable(),
		field.Int("chunk_number").Positive(),
		field.String("chunk_type").
			Validate(utils.EnumValidator(
				string(entity.ChunkHeader),
				string(entity.ChunkContent),
				string(entity.ChunkTable),
				string(entity.ChunkList),
				string(entity.ChunkConclusion),
				string(entity.ChunkSummary),
			)),
		field.String("content").
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Int("content_length").NonNegative(),
		// rune offsets, end exclusive
		field.Int("start_offset").NonNegative(),
		field.Int("end_offset").NonNegative(),
		field.Int("page_start").Positive(),
		field.Int("page_end").Positive(),
		field.Float("quality_score").Min(0).Max(1).
			SchemaType(map[string]string{dialect.Postgres: "double precision"}),
		field.String("chunking_method").NotEmpty(),
		field.Int("token_count").Optional().Nillable(),
		field.Time("created_at").Default(time.Now).Immutable(),
	}
}

func (Chunk) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("document", Document.Type).
			Ref("chunks").
			Field("document_id").
			Unique().
			Required().
			Immutable(),
	}
}

func (Chunk) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("document_id", "chunk_number").Unique(),
	}
}
