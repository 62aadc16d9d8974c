package domain

// NewBoard carries the fields needed to create a board.
type NewBoard struct {
	Title          string `json:"title"`
	Color          string `json:"bg_color,omitempty"`
	OrganizationID string `json:"organization_id"`
	UserID         string `json:"user_id,omitempty"`
}

// BoardPatch carries the mutable board fields.
type BoardPatch struct {
	Title *string `json:"title,omitempty"`
	Color *string `json:"bg_color,omitempty"`
}

// NewList carries the fields needed to create a list. A nil Position lets
// the store append the list after the current last one.
type NewList struct {
	Title     string `json:"title"`
	BoardID   int64  `json:"board_id"`
	Position  *int   `json:"position,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
}

// ListPatch carries partial list updates.
type ListPatch struct {
	Title    *string `json:"title,omitempty"`
	Position *int    `json:"position,omitempty"`
}

// NewCard carries the fields needed to create a card. A nil Position lets
// the store append the card after the current last one.
type NewCard struct {
	Content     string `json:"content"`
	ListID      int64  `json:"list_id"`
	Description string `json:"description,omitempty"`
	Position    *int   `json:"position,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
}

// CardPatch carries partial card updates.
type CardPatch struct {
	Content     *string `json:"content,omitempty"`
	Description *string `json:"description,omitempty"`
	Position    *int    `json:"position,omitempty"`
	ListID      *int64  `json:"list_id,omitempty"`
}

// NewComment carries the fields needed to add a comment.
type NewComment struct {
	CardID  int64  `json:"card_id"`
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// ListPosition is one row of a list reposition batch.
type ListPosition struct {
	ID       int64 `json:"id"`
	Position int   `json:"position"`
}

// CardPosition is one row of a card reposition batch.
type CardPosition struct {
	ID       int64 `json:"id"`
	Position int   `json:"position"`
	ListID   int64 `json:"list_id"`
}

// RepairRequest records reposition rows that failed to persist so they can
// be reconciled later.
type RepairRequest struct {
	BoardID   int64          `json:"boardId"`
	Container string         `json:"container"`
	Lists     []ListPosition `json:"lists,omitempty"`
	Cards     []CardPosition `json:"cards,omitempty"`
	Error     string         `json:"error"`
	Timestamp int64          `json:"timestamp"`
}
