package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// StepAuditRecord holds the schema definition for the StepAuditRecord entity.
// One row per CompletedStep accepted by the guardrail pipeline — a
// compliance record of what command was dispatched to which agent, never
// read back to reconstruct session state.
type StepAuditRecord struct {
	ent.Schema
}

// Fields of the StepAuditRecord.
func (StepAuditRecord) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("record_id").
			Unique().
			Immutable(),
		field.String("session_id").
			Immutable(),
		field.String("step_id").
			Immutable(),
		field.String("agent_id").
			Immutable().
			Comment("Remote agent the step was dispatched to, empty for local tools"),
		field.String("tool").
			Immutable(),
		field.JSON("params", map[string]interface{}{}).
			Optional().
			Comment("Parameters proposed by the reasoning engine for this step"),
		field.Text("output").
			Optional().
			Comment("Truncated stdout/stderr or tool result"),
		field.Bool("success"),
		field.String("error_kind").
			Optional().
			Comment("step.ErrorKind string, empty on success"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the StepAuditRecord.
func (StepAuditRecord) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("session_id", "step_id").
			Unique(),
		index.Fields("created_at"),
	}
}
