package api

import "kanban-api/board"

const requestMaxSize = 64 * 1024 // 64 KiB

const headerIdempotencyKey = "Idempotency-Key"

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// POST /api/orgs/:org/boards request body
type createBoardRequest struct {
	Title string `json:"title"`
	Color string `json:"bg_color,omitempty"`
}

// POST /api/boards/:board/lists and PATCH /api/boards/:board/lists/:list
// request body
type listTitleRequest struct {
	Title string `json:"title"`
}

// POST /api/boards/:board/lists/move request body
type moveListRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// POST /api/boards/:board/cards request body
type createCardRequest struct {
	ListID      int64  `json:"list_id"`
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
}

// PATCH /api/boards/:board/cards/:card request body
type updateCardRequest struct {
	Content     *string `json:"content,omitempty"`
	Description *string `json:"description,omitempty"`
}

// POST /api/boards/:board/cards/:card/send request body
type sendCardRequest struct {
	ListID int64 `json:"listId"`
}

// POST /api/boards/:board/cards/:card/comments request body
type addCommentRequest struct {
	Content string `json:"content"`
}

// GET /api/boards/:board response body
type boardResponse struct {
	Version uint64 `json:"version"`
	board.Tree
}

// reorder response body
type reorderResponse struct {
	board.ReorderResult
	PersistError string `json:"persistError,omitempty"`
}
