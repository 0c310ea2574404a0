package lifecycle

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/docker"
	"github.com/raworc/raworc/internal/events"
	"github.com/raworc/raworc/internal/session"
)

// healthLoop verifies that sessions which should have a running container
// actually do. A session whose container is stopped, dead, or gone is moved
// to ERROR with the observed status as the termination reason. Sessions with
// a pending or processing task are skipped so the loop does not race
// legitimate stop or reactivate work.
func (m *Manager) healthLoop(ctx context.Context) {
	m.logger.Info("Health loop started", zap.Duration("interval", healthInterval))
	for sleepCtx(ctx, healthInterval) {
		m.runHealthCheck(ctx)
	}
}

func (m *Manager) runHealthCheck(ctx context.Context) {
	sessions, err := m.store.ListSessionsRequiringContainer(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Health check: failed to list sessions")
		return
	}

	for i := range sessions {
		sess := &sessions[i]
		log := m.logger.WithSessionID(sess.ID)

		active, err := m.store.HasActiveTask(ctx, sess.ID)
		if err != nil {
			log.WithError(err).Error("Health check: failed to check tasks")
			continue
		}
		if active {
			log.Debug("Health check: skipping session with in-flight task")
			continue
		}

		state := "not-found"
		info, err := m.driver.GetContainerInfo(ctx, *sess.ContainerID)
		if err == nil {
			state = info.State
		}
		if state == "running" {
			if m.logger.DebugEnabled() {
				if stats, err := m.driver.GetContainerStats(ctx, *sess.ContainerID); err == nil {
					log.Debug("Health check: container stats",
						zap.Uint64("memory_usage", stats.MemoryUsage),
						zap.Uint64("memory_limit", stats.MemoryLimit),
						zap.Uint64("cpu_total_usage", stats.CPUTotalUsage),
					)
				}
			}
			continue
		}

		// Attach the last output lines so the failure is diagnosable after
		// the container is gone.
		logTail := ""
		if state != "not-found" {
			if tail, err := m.driver.ContainerLogTail(ctx, *sess.ContainerID, logTailLines); err == nil {
				logTail = tail
			}
		}

		reason := docker.DescribeStatus(state)
		log.Warn("Health check: container not running",
			zap.String("container_id", *sess.ContainerID),
			zap.String("container_state", state),
			zap.String("log_tail", logTail),
		)
		if _, err := m.store.UpdateSessionState(ctx, sess.ID, sess.State, session.StateError, session.StateUpdate{
			TerminationReason: &reason,
		}); err != nil {
			log.WithError(err).Error("Health check: failed to mark session errored")
			continue
		}
		m.publish(ctx, events.SessionStateChanged, sess.ID, map[string]interface{}{
			"from":   string(sess.State),
			"to":     string(session.StateError),
			"reason": reason,
		})
	}
}

// idleSweepLoop parks READY sessions whose inactivity window has elapsed.
// The sweep only enqueues stop_session tasks; the worker stops the container
// and records the IDLE transition. Errors are logged and retried next tick.
func (m *Manager) idleSweepLoop(ctx context.Context) {
	m.logger.Info("Idle sweep started", zap.Duration("interval", idleSweepInterval))
	for sleepCtx(ctx, idleSweepInterval) {
		m.runIdleSweep(ctx)
	}
}

func (m *Manager) runIdleSweep(ctx context.Context) {
	sessions, err := m.store.ListExpiredWaitingSessions(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Idle sweep: failed to list sessions")
		return
	}

	for i := range sessions {
		sess := &sessions[i]
		log := m.logger.WithSessionID(sess.ID)

		active, err := m.store.HasActiveTask(ctx, sess.ID)
		if err != nil {
			log.WithError(err).Error("Idle sweep: failed to check tasks")
			continue
		}
		if active {
			continue
		}

		if _, err := m.store.EnqueueTask(ctx, session.TaskStopSession, sess.ID, nil); err != nil {
			log.WithError(err).Error("Idle sweep: failed to enqueue stop task")
			continue
		}
		log.Info("Idle sweep: stopping inactive session",
			zap.Int64p("waiting_timeout_seconds", sess.WaitingTimeoutSeconds))
	}
}

// orphanSweepLoop removes managed containers whose session no longer owns
// them: the session row is gone, soft deleted, or points at a different
// container. Sessions with in-flight tasks are left to the worker.
func (m *Manager) orphanSweepLoop(ctx context.Context) {
	m.logger.Info("Orphan sweep started", zap.Duration("interval", orphanSweepInterval))
	for sleepCtx(ctx, orphanSweepInterval) {
		m.runOrphanSweep(ctx)
	}
}

func (m *Manager) runOrphanSweep(ctx context.Context) {
	containers, err := m.driver.ListContainers(ctx, docker.ManagedLabelFilter())
	if err != nil {
		m.logger.WithError(err).Error("Orphan sweep: failed to list containers")
		return
	}

	for _, ctr := range containers {
		sessionID := ctr.Labels[docker.LabelSessionID]
		if sessionID == "" {
			m.removeOrphan(ctx, ctr.ID, "", "missing session label")
			continue
		}

		active, err := m.store.HasActiveTask(ctx, sessionID)
		if err != nil {
			m.logger.WithSessionID(sessionID).WithError(err).Error("Orphan sweep: failed to check tasks")
			continue
		}
		if active {
			continue
		}

		sess, err := m.store.GetSessionIncludingDeleted(ctx, sessionID)
		switch {
		case apperrors.IsNotFound(err):
			m.removeOrphan(ctx, ctr.ID, sessionID, "session not found")
		case err != nil:
			m.logger.WithSessionID(sessionID).WithError(err).Error("Orphan sweep: failed to load session")
		case sess.DeletedAt != nil:
			m.removeOrphan(ctx, ctr.ID, sessionID, "session deleted")
		case sess.ContainerID != nil && *sess.ContainerID != ctr.ID:
			m.removeOrphan(ctx, ctr.ID, "", "superseded container")
		}
	}
}

// removeOrphan force-removes a container. When the owning session is known to
// be gone its volume and row references are cleaned up too.
func (m *Manager) removeOrphan(ctx context.Context, containerID, sessionID, reason string) {
	log := m.logger.WithFields(zap.String("container_id", containerID))
	log.Warn("Orphan sweep: removing container", zap.String("reason", reason))

	if err := m.driver.RemoveContainer(ctx, containerID, true); err != nil {
		log.WithError(err).Error("Orphan sweep: failed to remove container")
		return
	}
	if sessionID == "" {
		return
	}
	if err := m.volumes.Remove(sessionID); err != nil {
		log.WithError(err).Warn("Orphan sweep: failed to remove volume")
	}
	if err := m.store.ClearContainer(ctx, sessionID); err != nil {
		log.WithError(err).Warn("Orphan sweep: failed to clear container reference")
	}
}
