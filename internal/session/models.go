// Package session defines the session domain model: the sandbox state
// machine, messages, and the lifecycle task queue records.
package session

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// State is the lifecycle state of a sandboxed session.
type State string

const (
	StateInit  State = "INIT"
	StateReady State = "READY"
	StateBusy  State = "BUSY"
	StateIdle  State = "IDLE"
	StateError State = "ERROR"
)

// ParseState validates a wire-form state string.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateInit, StateReady, StateBusy, StateIdle, StateError:
		return State(s), nil
	}
	return "", fmt.Errorf("invalid session state: %q", s)
}

// CanTransitionTo reports whether the state machine allows moving from s to
// target. Self-transitions are rejected.
func (s State) CanTransitionTo(target State) bool {
	if s == target {
		return false
	}
	switch s {
	case StateInit:
		return target == StateReady || target == StateError
	case StateReady:
		return target == StateBusy || target == StateIdle || target == StateError
	case StateBusy:
		return target == StateReady || target == StateError
	case StateIdle:
		return target == StateReady || target == StateError
	case StateError:
		return target == StateInit || target == StateReady
	}
	return false
}

// RequiresContainer reports whether the state needs a running container.
func (s State) RequiresContainer() bool {
	return s == StateReady || s == StateBusy
}

// DefaultWaitingTimeoutSeconds is the inactivity window after which a READY
// session is stopped and parked in IDLE.
const DefaultWaitingTimeoutSeconds = 300

// DefaultWorkspace is used when a create request omits the workspace.
const DefaultWorkspace = "default"

// Session is the durable record of one sandboxed agent conversation.
type Session struct {
	ID                    string          `db:"id" json:"id"`
	Name                  string          `db:"name" json:"name"`
	Workspace             string          `db:"workspace" json:"workspace"`
	StartingPrompt        *string         `db:"starting_prompt" json:"starting_prompt,omitempty"`
	State                 State           `db:"state" json:"state"`
	WaitingTimeoutSeconds *int64          `db:"waiting_timeout_seconds" json:"waiting_timeout_seconds,omitempty"`
	ContainerID           *string         `db:"container_id" json:"container_id,omitempty"`
	PersistentVolumeID    *string         `db:"persistent_volume_id" json:"persistent_volume_id,omitempty"`
	CreatedBy             string          `db:"created_by" json:"created_by"`
	ParentSessionID       *string         `db:"parent_session_id" json:"parent_session_id,omitempty"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	StartedAt             *time.Time      `db:"started_at" json:"started_at,omitempty"`
	LastActivityAt        *time.Time      `db:"last_activity_at" json:"last_activity_at,omitempty"`
	TerminatedAt          *time.Time      `db:"terminated_at" json:"terminated_at,omitempty"`
	TerminationReason     *string         `db:"termination_reason" json:"termination_reason,omitempty"`
	Metadata              types.JSONText  `db:"metadata" json:"metadata"`
	DeletedAt             *time.Time      `db:"deleted_at" json:"-"`
}

// StateUpdate carries the optional row mutations applied together with a
// state transition.
type StateUpdate struct {
	ContainerID        *string
	PersistentVolumeID *string
	TerminationReason  *string
}

// AgentAssignment links a session to a registered agent definition.
type AgentAssignment struct {
	SessionID     string         `db:"session_id" json:"session_id"`
	AgentID       string         `db:"agent_id" json:"agent_id"`
	AssignedAt    time.Time      `db:"assigned_at" json:"assigned_at"`
	Configuration types.JSONText `db:"configuration" json:"configuration"`
}
