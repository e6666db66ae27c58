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

	"github.com/joseph-ayodele/docingest/constants"
	"github.com/joseph-ayodele/docingest/db/ent/schema/utils"
)

type Document struct{ ent.Schema }

func (Document) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "documents"},
	}
}

func stageStatus(name string) ent.Field {
	return field.String(name).
		Default(string(constants.StatusPending)).
		Validate(utils.EnumValidator(constants.StageStatuses...))
}

func (Document) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).
			Default(uuid.New).
			Immutable(),
		field.String("tenant_id").NotEmpty().Immutable(),
		field.String("scope_id").Default(""),
		field.String("storage_ref").NotEmpty(),
		field.String("filename").NotEmpty(),
		field.Int64("size_bytes").NonNegative().Default(0),
		field.String("content_hash").NotEmpty().Immutable(),
		field.String("mime_type").NotEmpty(),
		stageStatus("extraction_status"),
		stageStatus("classification_status"),
		stageStatus("metadata_status"),
		stageStatus("chunking_status"),
		field.Int("processing_level").Range(0, constants.MaxLevel).Default(0),
		field.String("extracted_text").Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Int("text_length").NonNegative().Default(0),
		field.Int("page_count").NonNegative().Default(0),
		field.String("extraction_method").Optional().Nillable(),
		field.String("document_type").Optional().Nillable().
			Validate(utils.EnumValidator(constants.AsStringSlice()...)),
		field.Int("chunk_count").NonNegative().Default(0),
		field.String("extraction_error").Optional().Nillable(),
		field.String("classification_error").Optional().Nillable(),
		field.String("metadata_error").Optional().Nillable(),
		field.String("chunking_error").Optional().Nillable(),
		field.Time("created_at").Default(time.Now).Immutable(),
		field.Time("updated_at").Default(time.Now).UpdateDefault(time.Now),
	}
}

func (Document) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("classifications", Classification.Type),
		edge.To("metadata", MetadataRecord.Type),
		edge.To("chunks", Chunk.Type),
	}
}

func (Document) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("processing_level"),
		index.Fields("tenant_id", "storage_ref"),
	}
}
