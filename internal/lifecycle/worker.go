package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/raworc/raworc/internal/events"
	"github.com/raworc/raworc/internal/session"
)

// workerLoop drains the task queue. Tasks are claimed in small batches,
// oldest first; an empty poll sleeps briefly, a failed poll backs off longer.
// Delivery is at-least-once, so every handler is idempotent against its
// target session.
func (m *Manager) workerLoop(ctx context.Context) {
	m.logger.Info("Task worker started",
		zap.Int("batch_size", claimBatchSize),
		zap.Duration("poll_interval", claimIdleInterval),
	)

	for {
		if ctx.Err() != nil {
			return
		}

		tasks, err := m.store.ClaimPendingTasks(ctx, claimBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.WithError(err).Error("Failed to claim tasks")
			if !sleepCtx(ctx, claimErrorBackoff) {
				return
			}
			continue
		}

		if len(tasks) == 0 {
			if !sleepCtx(ctx, claimIdleInterval) {
				return
			}
			continue
		}

		for i := range tasks {
			m.dispatch(ctx, &tasks[i])
		}
	}
}

// dispatch runs one claimed task and finalizes its row.
func (m *Manager) dispatch(ctx context.Context, task *session.Task) {
	log := m.logger.WithTaskID(task.ID).WithSessionID(task.SessionID)
	log.Info("Processing task", zap.String("type", string(task.Type)))

	var err error
	switch task.Type {
	case session.TaskCreateSession:
		err = m.handleCreateSession(ctx, task)
	case session.TaskStopSession:
		err = m.handleStopSession(ctx, task)
	case session.TaskReactivateSession:
		err = m.handleReactivateSession(ctx, task)
	case session.TaskDestroySession:
		err = m.handleDestroySession(ctx, task)
	case session.TaskExecuteCommand:
		err = m.handleExecuteCommand(ctx, task)
	default:
		log.Error("Unknown task type", zap.String("type", string(task.Type)))
		err = errUnknownTaskType(task.Type)
	}

	if err != nil {
		log.WithError(err).Error("Task failed")
		if failErr := m.store.FailTask(ctx, task.ID, err); failErr != nil {
			log.WithError(failErr).Error("Failed to mark task failed")
		}
		m.publish(ctx, events.TaskFailed, task.SessionID, map[string]interface{}{
			"task_id": task.ID,
			"type":    string(task.Type),
			"error":   err.Error(),
		})
		return
	}

	if err := m.store.CompleteTask(ctx, task.ID); err != nil {
		log.WithError(err).Error("Failed to mark task completed")
		return
	}
	log.Info("Task completed")
	m.publish(ctx, events.TaskCompleted, task.SessionID, map[string]interface{}{
		"task_id": task.ID,
		"type":    string(task.Type),
	})
}

type unknownTaskTypeError string

func (e unknownTaskTypeError) Error() string {
	return "unknown task type: " + string(e)
}

func errUnknownTaskType(t session.TaskType) error {
	return unknownTaskTypeError(t)
}

// sleepCtx sleeps for d unless the context ends first; it reports whether
// the caller should keep running.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
