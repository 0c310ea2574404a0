package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raworc/raworc/internal/session"
)

func TestEnqueueAndClaimTasks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, st, "demo", nil)

	first, err := st.EnqueueTask(ctx, session.TaskCreateSession, sess.ID, json.RawMessage(`{"user_id":"admin"}`))
	require.NoError(t, err)
	second, err := st.EnqueueTask(ctx, session.TaskStopSession, sess.ID, nil)
	require.NoError(t, err)

	claimed, err := st.ClaimPendingTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// Oldest first, and both moved to processing with started_at stamped.
	assert.Equal(t, first.ID, claimed[0].ID)
	assert.Equal(t, second.ID, claimed[1].ID)
	for _, task := range claimed {
		assert.Equal(t, session.TaskProcessing, task.Status)
		assert.NotNil(t, task.StartedAt)
	}

	// Nothing left to claim.
	claimed, err = st.ClaimPendingTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimRespectsLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, st, "demo", nil)

	for i := 0; i < 5; i++ {
		_, err := st.EnqueueTask(ctx, session.TaskCreateSession, sess.ID, nil)
		require.NoError(t, err)
	}

	claimed, err := st.ClaimPendingTasks(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	claimed, err = st.ClaimPendingTasks(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 3)
}

func TestCompleteAndFailTask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, st, "demo", nil)

	ok, err := st.EnqueueTask(ctx, session.TaskCreateSession, sess.ID, nil)
	require.NoError(t, err)
	bad, err := st.EnqueueTask(ctx, session.TaskStopSession, sess.ID, nil)
	require.NoError(t, err)

	_, err = st.ClaimPendingTasks(ctx, 10)
	require.NoError(t, err)

	require.NoError(t, st.CompleteTask(ctx, ok.ID))
	require.NoError(t, st.FailTask(ctx, bad.ID, errors.New("image pull failed")))

	got, err := st.GetTask(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, session.TaskCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.Error)

	got, err = st.GetTask(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, session.TaskFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "image pull failed", *got.Error)
}

func TestHasActiveTask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, st, "demo", nil)

	active, err := st.HasActiveTask(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, active)

	task, err := st.EnqueueTask(ctx, session.TaskCreateSession, sess.ID, nil)
	require.NoError(t, err)

	active, err = st.HasActiveTask(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, active, "pending counts as active")

	_, err = st.ClaimPendingTasks(ctx, 1)
	require.NoError(t, err)
	active, err = st.HasActiveTask(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, active, "processing counts as active")

	require.NoError(t, st.CompleteTask(ctx, task.ID))
	active, err = st.HasActiveTask(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestEnqueueDefaultsEmptyPayload(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, st, "demo", nil)

	task, err := st.EnqueueTask(ctx, session.TaskDestroySession, sess.ID, nil)
	require.NoError(t, err)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(got.Payload))
}
