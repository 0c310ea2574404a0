// Package events provides event types and bus wiring for the Raworc event system.
package events

// Event types for sessions
const (
	SessionCreated      = "session.created"
	SessionStateChanged = "session.state_changed"
	SessionDeleted      = "session.deleted"
)

// Event types for lifecycle tasks
const (
	TaskCompleted = "task.completed"
	TaskFailed    = "task.failed"
)

// Event types for messages
const (
	MessageAdded = "message.added"
)

// EventSource identifies this service on published events.
const EventSource = "raworc-server"
