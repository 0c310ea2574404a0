package session

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// TaskType identifies the lifecycle operation a queued task performs.
type TaskType string

const (
	TaskCreateSession     TaskType = "create_session"
	TaskStopSession       TaskType = "stop_session"
	TaskReactivateSession TaskType = "reactivate_session"
	TaskDestroySession    TaskType = "destroy_session"
	TaskExecuteCommand    TaskType = "execute_command"
)

// TaskStatus tracks a task through the queue. Status advances monotonically:
// pending -> processing -> completed | failed.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one durable work item for the lifecycle worker. Delivery is
// at-least-once; handlers must be idempotent against the target session.
type Task struct {
	ID          string         `db:"id" json:"id"`
	Type        TaskType       `db:"task_type" json:"task_type"`
	SessionID   string         `db:"session_id" json:"session_id"`
	Payload     types.JSONText `db:"payload" json:"payload"`
	Status      TaskStatus     `db:"status" json:"status"`
	Error       *string        `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
	StartedAt   *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// CommandResult records the output of one execute_command task.
type CommandResult struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	TaskID    string    `db:"task_id" json:"task_id"`
	Command   string    `db:"command" json:"command"`
	Stdout    string    `db:"stdout" json:"stdout"`
	Stderr    string    `db:"stderr" json:"stderr"`
	ExitCode  int       `db:"exit_code" json:"exit_code"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
