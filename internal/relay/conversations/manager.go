package conversations

import (
	"context"
	"sync"

	"github.com/tanpawarit/chative-relay/internal/relay/model"
)

// Manager is the conversation store: it owns every history, bounds it to
// maxTurns and serializes operations per user.
type Manager struct {
	conversationRepo model.ConversationRepository
	maxTurns         int
	promptTurns      int

	mu       sync.Mutex
	locks    map[model.UserID]*sync.Mutex
	inflight map[model.UserID]struct{}
}

func NewManager(conversationRepo model.ConversationRepository, config model.ConversationConfig) *Manager {
	return &Manager{
		conversationRepo: conversationRepo,
		maxTurns:         config.MaxTurns,
		promptTurns:      config.PromptTurns,
		locks:            make(map[model.UserID]*sync.Mutex),
		inflight:         make(map[model.UserID]struct{}),
	}
}

func (m *Manager) userLock(user model.UserID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[user]
	if !ok {
		l = &sync.Mutex{}
		m.locks[user] = l
	}
	return l
}

// Append adds turn at the end of the user's history, evicting the oldest
// turns beyond the configured bound.
func (m *Manager) Append(ctx context.Context, user model.UserID, turn model.Turn) error {
	l := m.userLock(user)
	l.Lock()
	defer l.Unlock()

	return m.conversationRepo.AppendTurn(ctx, user, turn, m.maxTurns)
}

// Read returns a snapshot of the whole history. Later appends do not
// affect the returned slice.
func (m *Manager) Read(ctx context.Context, user model.UserID) ([]model.Turn, error) {
	l := m.userLock(user)
	l.Lock()
	defer l.Unlock()

	history, err := m.conversationRepo.LoadHistory(ctx, user)
	if err != nil {
		return nil, err
	}
	return history.Turns, nil
}

// ReadRecent returns at most n of the newest turns; n <= 0 means all.
func (m *Manager) ReadRecent(ctx context.Context, user model.UserID, n int) ([]model.Turn, error) {
	turns, err := m.Read(ctx, user)
	if err != nil {
		return nil, err
	}
	return trimTail(turns, n), nil
}

// PromptHistory is ReadRecent bounded by the configured prompt window.
func (m *Manager) PromptHistory(ctx context.Context, user model.UserID) ([]model.Turn, error) {
	return m.ReadRecent(ctx, user, m.promptTurns)
}

// Reset empties the user's history. The user stays known to the store.
func (m *Manager) Reset(ctx context.Context, user model.UserID) error {
	l := m.userLock(user)
	l.Lock()
	defer l.Unlock()

	return m.conversationRepo.ClearHistory(ctx, user)
}

// Len returns the number of stored turns for the user.
func (m *Manager) Len(ctx context.Context, user model.UserID) (int, error) {
	l := m.userLock(user)
	l.Lock()
	defer l.Unlock()

	return m.conversationRepo.GetTurnCount(ctx, user)
}

// Begin marks an exchange in flight for user. ok is false while another
// exchange for the same user is outstanding; otherwise release must be
// called exactly once when the exchange ends.
func (m *Manager) Begin(user model.UserID) (release func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.inflight[user]; busy {
		return nil, false
	}
	m.inflight[user] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.inflight, user)
			m.mu.Unlock()
		})
	}, true
}

// ====================== Helper function ======================
func trimTail(turns []model.Turn, maxTurns int) []model.Turn {
	if maxTurns <= 0 || len(turns) <= maxTurns {
		return turns
	}
	source := turns[len(turns)-maxTurns:]
	result := make([]model.Turn, len(source))
	copy(result, source)
	return result
}
