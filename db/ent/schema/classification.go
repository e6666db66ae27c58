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
	"github.com/joseph-ayodele/docingest/internal/entity"
)

// Classification is one classification attempt; at most one per document is current.
type Classification struct{ ent.Schema }

func (Classification) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "document_classifications"},
	}
}

func (Classification) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("document_id", uuid.UUID{}).Immutable(),
		field.String("document_type").
			Validate(utils.EnumValidator(constants.AsStringSlice()...)),
		field.Float("confidence").Min(0).Max(1).
			SchemaType(map[string]string{dialect.Postgres: "double precision"}),
		field.String("method").
			Validate(utils.EnumValidator(
				entity.ClassificationMethodAgent,
				entity.ClassificationMethodManual,
				entity.ClassificationMethodFallback,
			)),
		field.String("agent_name").Default(""),
		field.String("raw_response").Default("").
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Bool("is_current").Default(false),
		field.Time("created_at").Default(time.Now).Immutable(),
	}
}

func (Classification) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("document", Document.Type).
			Ref("classifications").
			Field("document_id").
			Unique().
			Required().
			Immutable(),
	}
}

func (Classification) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("document_id").
			Unique().
			Annotations(entsql.IndexWhere("is_current")),
	}
}
