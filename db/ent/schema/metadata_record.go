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

// MetadataRecord holds the typed fields extracted for a document.
type MetadataRecord struct{ ent.Schema }

func (MetadataRecord) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "document_metadata"},
	}
}

func (MetadataRecord) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("document_id", uuid.UUID{}).Immutable(),
		field.String("document_type").NotEmpty(),
		field.String("extraction_method").NotEmpty(),
		field.Float("confidence").Min(0).Max(1).
			SchemaType(map[string]string{dialect.Postgres: "double precision"}),
		field.String("validation_status").
			Validate(utils.EnumValidator(
				entity.ValidationValid,
				entity.ValidationSchemaMismatch,
				entity.ValidationSalvaged,
				entity.ValidationBasic,
			)),
		field.JSON("fields", map[string]any{}),
		field.String("raw_response").Default("").
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Bool("is_current").Default(false),
		field.Time("created_at").Default(time.Now).Immutable(),
	}
}

func (MetadataRecord) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("document", Document.Type).
			Ref("metadata").
			Field("document_id").
			Unique().
			Required().
			Immutable(),
	}
}

func (MetadataRecord) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("document_id").
			Unique().
			Annotations(entsql.IndexWhere("is_current")),
	}
}
