package session

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// MessageRole identifies the author side of a message.
type MessageRole string

const (
	RoleUser   MessageRole = "USER"
	RoleAgent  MessageRole = "AGENT"
	RoleSystem MessageRole = "SYSTEM"
)

// ParseMessageRole validates a wire-form role string.
func ParseMessageRole(s string) (MessageRole, error) {
	switch MessageRole(s) {
	case RoleUser, RoleAgent, RoleSystem:
		return MessageRole(s), nil
	}
	return "", fmt.Errorf("invalid message role: %q", s)
}

// Message is one entry in a session conversation. Agent messages always
// carry the authoring agent's id.
type Message struct {
	ID        string         `db:"id" json:"id"`
	SessionID string         `db:"session_id" json:"session_id"`
	Role      MessageRole    `db:"role" json:"role"`
	Content   string         `db:"content" json:"content"`
	AgentID   *string        `db:"agent_id" json:"agent_id,omitempty"`
	AgentName *string        `db:"agent_name" json:"agent_name,omitempty"`
	Metadata  types.JSONText `db:"metadata" json:"metadata"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

const (
	// MaxMessageListLimit caps the page size on message reads.
	MaxMessageListLimit = 1000
	// DefaultMessageListLimit applies when the request omits a limit.
	DefaultMessageListLimit = 100
)

// ClampMessageLimit normalizes a requested page size.
func ClampMessageLimit(limit int) int {
	if limit <= 0 {
		return DefaultMessageListLimit
	}
	if limit > MaxMessageListLimit {
		return MaxMessageListLimit
	}
	return limit
}
