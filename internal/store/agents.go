package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	"github.com/raworc/raworc/internal/agents"
	apperrors "github.com/raworc/raworc/internal/common/errors"
)

const agentColumns = `id, name, workspace, description, instructions, model, tools, routes, guardrails, knowledge_bases, active, created_at, updated_at`

func emptyJSONArray(raw []byte) string {
	if len(raw) == 0 {
		return "[]"
	}
	return string(raw)
}

// CreateAgent inserts a new agent definition. Names are unique per workspace.
func (s *Store) CreateAgent(ctx context.Context, agent *agents.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	agent.Active = true

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO agents (id, name, workspace, description, instructions, model, tools, routes, guardrails, knowledge_bases, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), agent.ID, agent.Name, agent.Workspace, agent.Description, agent.Instructions, agent.Model,
		emptyJSONArray(agent.Tools), emptyJSONArray(agent.Routes), emptyJSONArray(agent.Guardrails),
		emptyJSONArray(agent.KnowledgeBases), agent.Active, agent.CreatedAt, agent.UpdatedAt)
	if isUniqueViolation(err) {
		return apperrors.Conflict("agent already exists in workspace: " + agent.Name)
	}
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// GetAgent looks up an active agent by id, or by name within a workspace.
func (s *Store) GetAgent(ctx context.Context, idOrName string, workspace string) (*agents.Agent, error) {
	var agent agents.Agent
	err := s.ro.GetContext(ctx, &agent, s.ro.Rebind(`
		SELECT `+agentColumns+` FROM agents
		WHERE active = `+s.boolLiteral(true)+` AND (id = ? OR (name = ? AND workspace = ?))
	`), idOrName, idOrName, workspace)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("agent not found: %s", idOrName)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return &agent, nil
}

// ListAgents returns active agents, optionally narrowed to one workspace.
func (s *Store) ListAgents(ctx context.Context, workspace *string) ([]agents.Agent, error) {
	list := []agents.Agent{}
	var err error
	if workspace != nil {
		err = s.ro.SelectContext(ctx, &list, s.ro.Rebind(`
			SELECT `+agentColumns+` FROM agents
			WHERE active = `+s.boolLiteral(true)+` AND workspace = ? ORDER BY name ASC
		`), *workspace)
	} else {
		err = s.ro.SelectContext(ctx, &list, `
			SELECT `+agentColumns+` FROM agents
			WHERE active = `+s.boolLiteral(true)+` ORDER BY name ASC
		`)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return list, nil
}

// UpdateAgent applies the non-nil fields and returns the updated row.
func (s *Store) UpdateAgent(ctx context.Context, id string, upd AgentUpdate) (*agents.Agent, error) {
	agent, err := s.GetAgent(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		agent.Name = *upd.Name
	}
	if upd.Description != nil {
		agent.Description = upd.Description
	}
	if upd.Instructions != nil {
		agent.Instructions = *upd.Instructions
	}
	if upd.Model != nil {
		agent.Model = *upd.Model
	}
	if upd.Tools != nil {
		agent.Tools = types.JSONText(upd.Tools)
	}
	if upd.Routes != nil {
		agent.Routes = types.JSONText(upd.Routes)
	}
	if upd.Guardrails != nil {
		agent.Guardrails = types.JSONText(upd.Guardrails)
	}
	if upd.KnowledgeBases != nil {
		agent.KnowledgeBases = types.JSONText(upd.KnowledgeBases)
	}
	if upd.Active != nil {
		agent.Active = *upd.Active
	}
	agent.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE agents SET name = ?, description = ?, instructions = ?, model = ?, tools = ?, routes = ?,
			guardrails = ?, knowledge_bases = ?, active = ?, updated_at = ?
		WHERE id = ?
	`), agent.Name, agent.Description, agent.Instructions, agent.Model,
		emptyJSONArray(agent.Tools), emptyJSONArray(agent.Routes), emptyJSONArray(agent.Guardrails),
		emptyJSONArray(agent.KnowledgeBases), agent.Active, agent.UpdatedAt, agent.ID)
	if isUniqueViolation(err) {
		return nil, apperrors.Conflict("agent already exists in workspace: " + agent.Name)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return agent, nil
}

// AgentUpdate carries the optional fields of an agent update.
type AgentUpdate struct {
	Name           *string
	Description    *string
	Instructions   *string
	Model          *string
	Tools          json.RawMessage
	Routes         json.RawMessage
	Guardrails     json.RawMessage
	KnowledgeBases json.RawMessage
	Active         *bool
}

// DeleteAgent soft deletes an agent by marking it inactive.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE agents SET active = `+s.boolLiteral(false)+`, updated_at = ? WHERE id = ? AND active = `+s.boolLiteral(true)+`
	`), time.Now().UTC(), id)
	if err != nil {
		return apperrors.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFoundf("agent not found: %s", id)
	}
	return nil
}

// boolLiteral renders a boolean constant for the active dialect. SQLite
// stores booleans as integers; Postgres uses true/false.
func (s *Store) boolLiteral(v bool) string {
	if s.isPostgres() {
		if v {
			return "TRUE"
		}
		return "FALSE"
	}
	if v {
		return "1"
	}
	return "0"
}
