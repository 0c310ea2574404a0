package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raworc/raworc/internal/agents"
	"github.com/raworc/raworc/internal/common/config"
	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/common/logger"
	"github.com/raworc/raworc/internal/db"
	"github.com/raworc/raworc/internal/events/bus"
	"github.com/raworc/raworc/internal/session"
	"github.com/raworc/raworc/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	pool, err := db.Open(config.DatabaseConfig{
		URL: "sqlite://" + filepath.Join(t.TempDir(), "service-test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	st, err := store.New(pool)
	require.NoError(t, err)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text"})
	require.NoError(t, err)

	return New(st, bus.NewMemoryEventBus(log), log), st
}

func taskTypes(t *testing.T, st *store.Store, sessionID string) []session.TaskType {
	t.Helper()
	tasks, err := st.ListTasks(context.Background(), sessionID)
	require.NoError(t, err)
	types := make([]session.TaskType, len(tasks))
	for i, task := range tasks {
		types[i] = task.Type
	}
	return types
}

func TestCreateEnqueuesCreateTask(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{Name: "demo"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, session.StateInit, sess.State)
	assert.Equal(t, "admin", sess.CreatedBy)

	assert.Equal(t, []session.TaskType{session.TaskCreateSession}, taskTypes(t, st, sess.ID))
}

func TestCreateRejectsUnknownAgent(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreateRequest{
		Name:     "demo",
		AgentIDs: []string{"no-such-agent"},
	}, "admin")
	require.Error(t, err)
	appErr := apperrors.AsAppError(err)
	assert.Equal(t, 400, appErr.HTTPStatus)
}

func TestCreateAssignsAgents(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	agent := &agents.Agent{Name: "helper", Workspace: "default", Instructions: "x", Model: "m"}
	require.NoError(t, st.CreateAgent(ctx, agent))

	sess, err := svc.Create(ctx, CreateRequest{Name: "demo", AgentIDs: []string{agent.ID}}, "admin")
	require.NoError(t, err)

	assignments, err := st.ListAgentAssignments(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, agent.ID, assignments[0].AgentID)
}

func TestRemixInheritsParent(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	prompt := "original prompt"
	agent := &agents.Agent{Name: "helper", Workspace: "research", Instructions: "x", Model: "m"}
	require.NoError(t, st.CreateAgent(ctx, agent))

	parent, err := svc.Create(ctx, CreateRequest{
		Name:           "parent",
		Workspace:      "research",
		StartingPrompt: &prompt,
		AgentIDs:       []string{agent.ID},
	}, "alice")
	require.NoError(t, err)

	remixed, err := svc.Remix(ctx, parent.ID, RemixRequest{Name: "child"}, "bob")
	require.NoError(t, err)

	assert.Equal(t, "research", remixed.Workspace)
	assert.Equal(t, "bob", remixed.CreatedBy)
	require.NotNil(t, remixed.ParentSessionID)
	assert.Equal(t, parent.ID, *remixed.ParentSessionID)
	require.NotNil(t, remixed.StartingPrompt)
	assert.Equal(t, prompt, *remixed.StartingPrompt)

	assignments, err := st.ListAgentAssignments(ctx, remixed.ID)
	require.NoError(t, err)
	assert.Len(t, assignments, 1)

	// Prompt override replaces the inherited one.
	override := "new prompt"
	remixed2, err := svc.Remix(ctx, parent.ID, RemixRequest{Name: "child2", StartingPrompt: &override}, "bob")
	require.NoError(t, err)
	assert.Equal(t, override, *remixed2.StartingPrompt)
}

func TestUpdateStateRejectsInvalidTransition(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{Name: "demo"}, "admin")
	require.NoError(t, err)

	// INIT -> BUSY is not in the state machine.
	_, err = svc.UpdateState(ctx, sess.ID, session.StateBusy)
	require.Error(t, err)
	assert.Equal(t, 400, apperrors.AsAppError(err).HTTPStatus)

	// INIT -> INIT is a self transition.
	_, err = svc.UpdateState(ctx, sess.ID, session.StateInit)
	require.Error(t, err)
}

func TestUpdateStateToIdleEnqueuesStop(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{Name: "demo"}, "admin")
	require.NoError(t, err)
	_, err = st.UpdateSessionState(ctx, sess.ID, session.StateInit, session.StateReady, session.StateUpdate{})
	require.NoError(t, err)

	updated, err := svc.UpdateState(ctx, sess.ID, session.StateIdle)
	require.NoError(t, err)
	assert.Equal(t, session.StateIdle, updated.State)

	types := taskTypes(t, st, sess.ID)
	assert.Equal(t, []session.TaskType{session.TaskCreateSession, session.TaskStopSession}, types)
}

func TestUpdateStateIdleToReadyEnqueuesReactivate(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{Name: "demo"}, "admin")
	require.NoError(t, err)
	containerID := "c-1"
	_, err = st.UpdateSessionState(ctx, sess.ID, session.StateInit, session.StateReady, session.StateUpdate{
		ContainerID: &containerID,
	})
	require.NoError(t, err)
	_, err = st.UpdateSessionState(ctx, sess.ID, session.StateReady, session.StateIdle, session.StateUpdate{})
	require.NoError(t, err)

	updated, err := svc.UpdateState(ctx, sess.ID, session.StateReady)
	require.NoError(t, err)
	assert.Equal(t, session.StateReady, updated.State)

	types := taskTypes(t, st, sess.ID)
	assert.Contains(t, types, session.TaskReactivateSession)
}

func TestCompleteRequiresBusy(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{Name: "demo"}, "admin")
	require.NoError(t, err)

	_, err = svc.Complete(ctx, sess.ID)
	require.Error(t, err)

	_, err = st.UpdateSessionState(ctx, sess.ID, session.StateInit, session.StateReady, session.StateUpdate{})
	require.NoError(t, err)
	_, err = st.UpdateSessionState(ctx, sess.ID, session.StateReady, session.StateBusy, session.StateUpdate{})
	require.NoError(t, err)

	updated, err := svc.Complete(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateReady, updated.State)
}

func TestDeleteSoftDeletesAndEnqueuesDestroy(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{Name: "demo"}, "admin")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, sess.ID))

	_, err = st.GetSession(ctx, sess.ID)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Contains(t, taskTypes(t, st, sess.ID), session.TaskDestroySession)
}

func TestPostMessageWakesIdleSession(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{Name: "demo"}, "admin")
	require.NoError(t, err)
	containerID := "c-1"
	_, err = st.UpdateSessionState(ctx, sess.ID, session.StateInit, session.StateReady, session.StateUpdate{
		ContainerID: &containerID,
	})
	require.NoError(t, err)
	_, err = st.UpdateSessionState(ctx, sess.ID, session.StateReady, session.StateIdle, session.StateUpdate{})
	require.NoError(t, err)

	msg, err := svc.PostMessage(ctx, sess.ID, MessageRequest{Role: "USER", Content: "wake up"})
	require.NoError(t, err)
	assert.Equal(t, session.RoleUser, msg.Role)

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateBusy, got.State)
	assert.Contains(t, taskTypes(t, st, sess.ID), session.TaskReactivateSession)
}

func TestPostMessageMarksReadySessionBusy(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{Name: "demo"}, "admin")
	require.NoError(t, err)
	_, err = st.UpdateSessionState(ctx, sess.ID, session.StateInit, session.StateReady, session.StateUpdate{})
	require.NoError(t, err)

	_, err = svc.PostMessage(ctx, sess.ID, MessageRequest{Role: "USER", Content: "go"})
	require.NoError(t, err)

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateBusy, got.State)
}

func TestPostMessageLeavesBusySessionAlone(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{Name: "demo"}, "admin")
	require.NoError(t, err)
	_, err = st.UpdateSessionState(ctx, sess.ID, session.StateInit, session.StateReady, session.StateUpdate{})
	require.NoError(t, err)
	_, err = st.UpdateSessionState(ctx, sess.ID, session.StateReady, session.StateBusy, session.StateUpdate{})
	require.NoError(t, err)

	_, err = svc.PostMessage(ctx, sess.ID, MessageRequest{Role: "USER", Content: "more"})
	require.NoError(t, err)

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateBusy, got.State)

	count, err := st.CountMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPostMessageAgentRequiresAgentID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, CreateRequest{Name: "demo"}, "admin")
	require.NoError(t, err)

	_, err = svc.PostMessage(ctx, sess.ID, MessageRequest{Role: "AGENT", Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, 400, apperrors.AsAppError(err).HTTPStatus)

	_, err = svc.PostMessage(ctx, sess.ID, MessageRequest{Role: "BOGUS", Content: "hi"})
	require.Error(t, err)
}
