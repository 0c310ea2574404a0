package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raworc/raworc/internal/agents"
	"github.com/raworc/raworc/internal/session"
)

func TestCreateMessageRequiresAgentID(t *testing.T) {
	st := newTestStore(t)
	sess := createTestSession(t, st, "demo", nil)

	err := st.CreateMessage(context.Background(), &session.Message{
		SessionID: sess.ID,
		Role:      session.RoleAgent,
		Content:   "hello",
	})
	require.Error(t, err)
}

func TestMessageAgentNameJoin(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, st, "demo", nil)

	agent := &agents.Agent{Name: "researcher", Workspace: "default", Instructions: "dig", Model: "gpt-4o"}
	require.NoError(t, st.CreateAgent(ctx, agent))

	msg := &session.Message{
		SessionID: sess.ID,
		Role:      session.RoleAgent,
		Content:   "done",
		AgentID:   &agent.ID,
	}
	require.NoError(t, st.CreateMessage(ctx, msg))

	got, err := st.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AgentName)
	assert.Equal(t, "researcher", *got.AgentName)

	user := &session.Message{SessionID: sess.ID, Role: session.RoleUser, Content: "hi"}
	require.NoError(t, st.CreateMessage(ctx, user))
	got, err = st.GetMessage(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AgentName)
}

func TestListMessagesPagination(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, st, "demo", nil)

	contents := []string{"one", "two", "three"}
	for _, content := range contents {
		require.NoError(t, st.CreateMessage(ctx, &session.Message{
			SessionID: sess.ID,
			Role:      session.RoleUser,
			Content:   content,
		}))
	}

	all, err := st.ListMessages(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "one", all[0].Content)
	assert.Equal(t, "three", all[2].Content)

	page, err := st.ListMessages(ctx, sess.ID, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "two", page[0].Content)
}

func TestCountAndClearMessages(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sess := createTestSession(t, st, "demo", nil)
	other := createTestSession(t, st, "other", nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, st.CreateMessage(ctx, &session.Message{
			SessionID: sess.ID, Role: session.RoleUser, Content: "x",
		}))
	}
	require.NoError(t, st.CreateMessage(ctx, &session.Message{
		SessionID: other.ID, Role: session.RoleUser, Content: "y",
	}))

	count, err := st.CountMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	deleted, err := st.ClearMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	count, err = st.CountMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Other sessions are untouched.
	count, err = st.CountMessages(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
