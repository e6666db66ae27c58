package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"
)

// AgentPrompt is a versioned prompt template; one version per name is active.
type AgentPrompt struct{ ent.Schema }

func (AgentPrompt) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "agent_prompts"},
	}
}

func (AgentPrompt) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.String("name").NotEmpty(),
		field.String("description").Default(""),
		field.String("body").NotEmpty().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Strings("variables"),
		field.Int("version").Positive(),
		field.Bool("is_active").Default(false),
		field.Time("created_at").Default(time.Now).Immutable(),
	}
}

func (AgentPrompt) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("name", "version").Unique(),
		index.Fields("name").
			Unique().
			Annotations(entsql.IndexWhere("is_active")),
	}
}
