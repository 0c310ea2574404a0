package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/docker"
	"github.com/raworc/raworc/internal/events"
	"github.com/raworc/raworc/internal/session"
)

// handleCreateSession provisions the sandbox for a session: volume
// directory, image, container. On success the session lands in READY with
// its container id recorded. Re-running against an already provisioned
// session reuses the existing container.
func (m *Manager) handleCreateSession(ctx context.Context, task *session.Task) error {
	sess, err := m.store.GetSession(ctx, task.SessionID)
	if err != nil {
		return err
	}

	// Idempotency: a previous attempt may have created the container already.
	if sess.ContainerID != nil {
		running, err := m.driver.IsRunning(ctx, *sess.ContainerID)
		if err != nil {
			return err
		}
		if !running {
			if err := m.driver.StartContainer(ctx, *sess.ContainerID); err != nil {
				return m.failSession(ctx, sess, err)
			}
		}
		return m.ensureReady(ctx, sess, *sess.ContainerID)
	}

	// A crash between container create and the READY write leaves a labeled
	// container the row does not know about. Adopt it instead of creating a
	// duplicate.
	existing, err := m.driver.ListContainers(ctx, map[string]string{docker.LabelSessionID: sess.ID})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		ctr := existing[0]
		m.logger.WithSessionID(sess.ID).Info("Adopting existing session container",
			zap.String("container_id", ctr.ID))
		if ctr.State != "running" {
			if err := m.driver.StartContainer(ctx, ctr.ID); err != nil {
				return m.failSession(ctx, sess, err)
			}
		}
		return m.ensureReady(ctx, sess, ctr.ID)
	}

	containerID, err := m.provisionContainer(ctx, sess)
	if err != nil {
		return m.failSession(ctx, sess, err)
	}

	if err := m.ensureReady(ctx, sess, containerID); err != nil {
		return err
	}
	m.publish(ctx, events.SessionCreated, sess.ID, map[string]interface{}{
		"container_id": containerID,
		"workspace":    sess.Workspace,
	})
	return nil
}

// provisionContainer creates the volume, ensures the image, and creates and
// starts the sandbox container.
func (m *Manager) provisionContainer(ctx context.Context, sess *session.Session) (string, error) {
	volumePath, err := m.volumes.Create(sess.ID)
	if err != nil {
		return "", err
	}

	exists, err := m.driver.ImageExists(ctx, m.sandbox.Image)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := m.driver.PullImage(ctx, m.sandbox.Image); err != nil {
			return "", err
		}
	}

	token := ""
	if m.tokens != nil {
		if token, err = m.tokens.MintSessionToken(sess.ID); err != nil {
			return "", err
		}
	}

	spec := docker.SessionContainerSpec(sess, m.sandbox, volumePath, m.apiURL, token)
	containerID, err := m.driver.CreateContainer(ctx, spec)
	if err != nil {
		return "", err
	}
	if err := m.driver.StartContainer(ctx, containerID); err != nil {
		return "", err
	}
	return containerID, nil
}

// ensureReady transitions the session to READY recording the container and
// volume ids. A session already in READY or BUSY is left alone.
func (m *Manager) ensureReady(ctx context.Context, sess *session.Session, containerID string) error {
	if sess.State == session.StateReady || sess.State == session.StateBusy {
		return nil
	}
	if !sess.State.CanTransitionTo(session.StateReady) {
		return apperrors.BadRequestf("cannot transition session from %s to READY", sess.State)
	}
	volumeID := sess.ID
	_, err := m.store.UpdateSessionState(ctx, sess.ID, sess.State, session.StateReady, session.StateUpdate{
		ContainerID:        &containerID,
		PersistentVolumeID: &volumeID,
	})
	if err != nil {
		return err
	}
	m.publish(ctx, events.SessionStateChanged, sess.ID, map[string]interface{}{
		"from": string(sess.State),
		"to":   string(session.StateReady),
	})
	return nil
}

// failSession marks the session ERROR with the cause and returns the
// original error so the task is finalized as failed.
func (m *Manager) failSession(ctx context.Context, sess *session.Session, cause error) error {
	reason := cause.Error()
	if _, err := m.store.UpdateSessionState(ctx, sess.ID, sess.State, session.StateError, session.StateUpdate{
		TerminationReason: &reason,
	}); err != nil {
		m.logger.WithSessionID(sess.ID).WithError(err).Error("Failed to mark session as errored")
	}
	return cause
}

// handleStopSession stops the container with a grace period and parks the
// session in IDLE. The container id is retained for reactivation. A session
// whose container is already gone or already parked is a no-op.
func (m *Manager) handleStopSession(ctx context.Context, task *session.Task) error {
	sess, err := m.store.GetSession(ctx, task.SessionID)
	if err != nil {
		return err
	}
	if sess.ContainerID == nil {
		m.logger.WithSessionID(sess.ID).Debug("Stop task for session without container")
		return nil
	}

	running, err := m.driver.IsRunning(ctx, *sess.ContainerID)
	if err != nil {
		return err
	}
	if running {
		if err := m.driver.StopContainer(ctx, *sess.ContainerID, stopGrace); err != nil {
			return err
		}
	}

	if sess.State == session.StateReady {
		if _, err := m.store.UpdateSessionState(ctx, sess.ID, session.StateReady, session.StateIdle, session.StateUpdate{}); err != nil {
			// Another actor moved the session first; the container is stopped,
			// which is the effect that matters.
			if !apperrors.IsConflict(err) {
				return err
			}
		} else {
			m.publish(ctx, events.SessionStateChanged, sess.ID, map[string]interface{}{
				"from": string(session.StateReady),
				"to":   string(session.StateIdle),
			})
		}
	}
	return nil
}

// handleReactivateSession restarts the stopped container of an idle session,
// or provisions a new one when the container has been removed.
func (m *Manager) handleReactivateSession(ctx context.Context, task *session.Task) error {
	sess, err := m.store.GetSession(ctx, task.SessionID)
	if err != nil {
		return err
	}

	if sess.ContainerID != nil {
		exists, err := m.driver.ContainerExists(ctx, *sess.ContainerID)
		if err != nil {
			return err
		}
		if exists {
			if err := m.driver.RestartContainer(ctx, *sess.ContainerID, restartGrace); err != nil {
				return m.failSession(ctx, sess, err)
			}
			return m.ensureReady(ctx, sess, *sess.ContainerID)
		}
		// Container was removed out of band; fall through and rebuild it.
		m.logger.WithSessionID(sess.ID).Warn("Container missing on reactivate, recreating",
			zap.String("container_id", *sess.ContainerID))
	}

	containerID, err := m.provisionContainer(ctx, sess)
	if err != nil {
		return m.failSession(ctx, sess, err)
	}
	return m.ensureReady(ctx, sess, containerID)
}

// handleDestroySession tears the sandbox down: stop and remove the
// container, remove the volume, clear the row's references. The API has
// already soft-deleted the session row.
func (m *Manager) handleDestroySession(ctx context.Context, task *session.Task) error {
	sess, err := m.store.GetSessionIncludingDeleted(ctx, task.SessionID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	if sess.ContainerID != nil {
		exists, err := m.driver.ContainerExists(ctx, *sess.ContainerID)
		if err != nil {
			return err
		}
		if exists {
			running, err := m.driver.IsRunning(ctx, *sess.ContainerID)
			if err != nil {
				return err
			}
			if running {
				if err := m.driver.StopContainer(ctx, *sess.ContainerID, restartGrace); err != nil {
					return err
				}
				// Removing a container mid-shutdown races the engine; wait for
				// it to actually exit first.
				if _, err := m.driver.WaitContainer(ctx, *sess.ContainerID); err != nil {
					m.logger.WithSessionID(sess.ID).WithError(err).Warn("Wait after stop failed")
				}
			}
			if err := m.driver.RemoveContainer(ctx, *sess.ContainerID, true); err != nil {
				return err
			}
		}
	}

	if err := m.volumes.Remove(sess.ID); err != nil {
		return err
	}
	if err := m.store.ClearContainer(ctx, sess.ID); err != nil {
		return err
	}

	m.publish(ctx, events.SessionDeleted, sess.ID, nil)
	return nil
}

// executeCommandPayload is the payload of an execute_command task.
type executeCommandPayload struct {
	Command string `json:"command"`
}

// handleExecuteCommand runs a shell command inside the session container and
// records the output to the command_results table.
func (m *Manager) handleExecuteCommand(ctx context.Context, task *session.Task) error {
	var payload executeCommandPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("invalid execute_command payload: %w", err)
	}
	if payload.Command == "" {
		return fmt.Errorf("execute_command payload missing command")
	}

	sess, err := m.store.GetSession(ctx, task.SessionID)
	if err != nil {
		return err
	}
	if !sess.State.RequiresContainer() || sess.ContainerID == nil {
		return fmt.Errorf("session %s is not running (state %s)", sess.ID, sess.State)
	}

	result, err := m.driver.Exec(ctx, *sess.ContainerID, []string{"/bin/sh", "-c", payload.Command})
	if err != nil {
		return err
	}

	return m.store.CreateCommandResult(ctx, &session.CommandResult{
		SessionID: sess.ID,
		TaskID:    task.ID,
		Command:   payload.Command,
		Stdout:    result.Stdout,
		Stderr:    result.Stderr,
		ExitCode:  result.ExitCode,
	})
}
