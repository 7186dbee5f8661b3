package model

import (
	"context"
)

// ConversationRepository is the storage backing of the conversation store.
// Implementations keep per-user turns in chronological order and must be
// safe for concurrent use across users.
type ConversationRepository interface {
	// AppendTurn adds a turn at the end of the user's history and evicts
	// from the front until at most maxTurns remain (maxTurns <= 0 disables).
	AppendTurn(ctx context.Context, user UserID, turn Turn, maxTurns int) error

	// LoadHistory returns a snapshot of the user's turns. An unknown user
	// yields an empty history, never an error.
	LoadHistory(ctx context.Context, user UserID) (*ConversationHistory, error)

	// ClearHistory empties the user's history.
	ClearHistory(ctx context.Context, user UserID) error

	// GetTurnCount returns the number of turns stored for the user.
	GetTurnCount(ctx context.Context, user UserID) (int, error)
}

// ConversationHistory represents loaded conversation data with metadata.
type ConversationHistory struct {
	User  UserID
	Turns []Turn
}
