package api

import (
	"context"

	"kanban-api/board"
	"kanban-api/domain"
)

// Boards resolves the coordinator of a board, loading it on first use.
type Boards interface {
	Get(ctx context.Context, boardID int64) (*board.Coordinator, error)
}

// Directory lists and creates boards of an organization. Boards are not
// part of any loaded aggregate so these calls go straight to storage.
type Directory interface {
	ListBoards(ctx context.Context, orgID string) ([]domain.Board, error)
	CreateBoard(ctx context.Context, in domain.NewBoard) (domain.Board, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate creates.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}
