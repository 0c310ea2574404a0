// Package agents defines registered agent definitions: named configurations
// that sessions reference. The agent process itself runs inside the session
// container and is outside this control plane.
package agents

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Agent is a registered agent definition. Name is unique within a workspace.
// JSON columns use types.JSONText so they scan from both the SQLite TEXT and
// the Postgres JSONB representation.
type Agent struct {
	ID             string         `db:"id" json:"id"`
	Name           string         `db:"name" json:"name"`
	Workspace      string         `db:"workspace" json:"workspace"`
	Description    *string        `db:"description" json:"description,omitempty"`
	Instructions   string         `db:"instructions" json:"instructions"`
	Model          string         `db:"model" json:"model"`
	Tools          types.JSONText `db:"tools" json:"tools"`
	Routes         types.JSONText `db:"routes" json:"routes"`
	Guardrails     types.JSONText `db:"guardrails" json:"guardrails"`
	KnowledgeBases types.JSONText `db:"knowledge_bases" json:"knowledge_bases"`
	Active         bool           `db:"active" json:"active"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}
