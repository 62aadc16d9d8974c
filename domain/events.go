package domain

const (
	BoardUpdated   = "board-updated"
	ListCreated    = "list-created"
	ListUpdated    = "list-updated"
	ListDeleted    = "list-deleted"
	ListsReordered = "lists-reordered"
	CardCreated    = "card-created"
	CardUpdated    = "card-updated"
	CardDeleted    = "card-deleted"
	CardsReordered = "cards-reordered"
	CommentAdded   = "comment-added"
	CommentDeleted = "comment-deleted"
)

// ChangeEvent announces that a board was modified by some instance.
type ChangeEvent struct {
	BoardID  int64  `json:"BoardId"`
	Type     string `json:"Type"`
	EntityID int64  `json:"EntityId,omitempty"`
	Origin   string `json:"Origin"`
	Time     int64  `json:"Time"`
}
