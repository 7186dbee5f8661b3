package conversations

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanpawarit/chative-relay/internal/relay/model"
	"github.com/tanpawarit/chative-relay/internal/relay/repo"
)

func newManager(maxTurns, promptTurns int) *Manager {
	return NewManager(repo.NewMemoryConversationRepository(), model.ConversationConfig{
		MaxTurns:    maxTurns,
		PromptTurns: promptTurns,
	})
}

func TestManager_AppendKeepsOrderAndBound(t *testing.T) {
	ctx := context.Background()
	m := newManager(3, 0)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(ctx, "u1", model.UserTurn(fmt.Sprint(i))))
	}

	turns, err := m.Read(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "2", turns[0].Content)
	assert.Equal(t, "4", turns[2].Content)
}

func TestManager_ReadIsSnapshot(t *testing.T) {
	ctx := context.Background()
	m := newManager(10, 0)
	require.NoError(t, m.Append(ctx, "u1", model.UserTurn("hello")))

	snapshot, err := m.Read(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, m.Append(ctx, "u1", model.AssistantTurn("hi there")))

	assert.Len(t, snapshot, 1)
	now, err := m.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, now, 2)
}

func TestManager_ReadRecent(t *testing.T) {
	ctx := context.Background()
	m := newManager(10, 2)
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, m.Append(ctx, "u1", model.UserTurn(s)))
	}

	recent, err := m.ReadRecent(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, "b", recent[0].Content)
	assert.Equal(t, "c", recent[1].Content)

	all, err := m.ReadRecent(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	prompt, err := m.PromptHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, prompt, 2)
}

func TestManager_ResetThenAppend(t *testing.T) {
	ctx := context.Background()
	m := newManager(10, 0)
	require.NoError(t, m.Append(ctx, "u1", model.UserTurn("hello")))
	require.NoError(t, m.Reset(ctx, "u1"))

	turns, err := m.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, turns)

	require.NoError(t, m.Append(ctx, "u1", model.UserTurn("again")))
	n, err := m.Len(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestManager_ConcurrentAppendsAcrossUsers(t *testing.T) {
	ctx := context.Background()
	m := newManager(1000, 0)

	const users, perUser = 8, 50
	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		user := model.UserIDFromInt(int64(u))
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, m.Append(ctx, user, model.UserTurn("x")))
			}()
		}
	}
	wg.Wait()

	for u := 0; u < users; u++ {
		n, err := m.Len(ctx, model.UserIDFromInt(int64(u)))
		require.NoError(t, err)
		assert.Equal(t, perUser, n)
	}
}

func TestManager_BeginRejectsSecondExchange(t *testing.T) {
	m := newManager(10, 0)

	release, ok := m.Begin("u1")
	require.True(t, ok)

	_, ok = m.Begin("u1")
	assert.False(t, ok, "same user must wait")

	otherRelease, ok := m.Begin("u2")
	require.True(t, ok, "other users are independent")
	otherRelease()

	release()
	release() // idempotent

	again, ok := m.Begin("u1")
	require.True(t, ok)
	again()
}
