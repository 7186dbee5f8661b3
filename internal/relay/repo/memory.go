package repo

import (
	"context"
	"sync"

	"github.com/tanpawarit/chative-relay/internal/relay/model"
)

// MemoryConversationRepository keeps histories in process memory. Entries
// live until the process exits; ClearHistory empties a history in place.
type MemoryConversationRepository struct {
	mu    sync.RWMutex
	turns map[model.UserID][]model.Turn
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{turns: make(map[model.UserID][]model.Turn)}
}

func (r *MemoryConversationRepository) AppendTurn(_ context.Context, user model.UserID, turn model.Turn, maxTurns int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := append(r.turns[user], turn.Clone())
	if maxTurns > 0 && len(history) > maxTurns {
		// copy into a fresh slice so the evicted prefix can be collected
		trimmed := make([]model.Turn, maxTurns)
		copy(trimmed, history[len(history)-maxTurns:])
		history = trimmed
	}
	r.turns[user] = history
	return nil
}

func (r *MemoryConversationRepository) LoadHistory(_ context.Context, user model.UserID) (*model.ConversationHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return &model.ConversationHistory{User: user, Turns: model.CloneTurns(r.turns[user])}, nil
}

func (r *MemoryConversationRepository) ClearHistory(_ context.Context, user model.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.turns[user] = []model.Turn{}
	return nil
}

func (r *MemoryConversationRepository) GetTurnCount(_ context.Context, user model.UserID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.turns[user]), nil
}

// Known reports whether the user has ever had a history, including one
// that was cleared.
func (r *MemoryConversationRepository) Known(user model.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.turns[user]
	return ok
}

var _ model.ConversationRepository = (*MemoryConversationRepository)(nil)
