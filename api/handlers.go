package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/board"
	"kanban-api/domain"
	"kanban-api/ordering"
)

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Boards    Boards
	Directory Directory
	Auth      Authenticator
	Deduper   Deduper
	Alerts    *AlertHub
	Logger    *log.Logger
}

type handlers struct {
	Deps
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = log.StandardLogger()
	}
	if deps.Alerts == nil {
		deps.Alerts = NewAlertHub()
	}
	h := &handlers{Deps: deps}

	e.GET("/healthz", healthz)

	g := e.Group("/api", GzipRequestMiddleware(), RequireUser(deps.Auth))
	g.GET("/boards/:board/stream", h.streamBoard)

	m := g.Group("", RequestMetrics(deps.Logger))
	m.GET("/orgs/:org/boards", h.listBoards)
	m.POST("/orgs/:org/boards", h.createBoard)
	m.GET("/boards/:board", h.getBoard)
	m.PATCH("/boards/:board", h.updateBoard)

	m.POST("/boards/:board/lists", h.createList)
	m.POST("/boards/:board/lists/move", h.moveList)
	m.PATCH("/boards/:board/lists/:list", h.renameList)
	m.DELETE("/boards/:board/lists/:list", h.deleteList)

	m.POST("/boards/:board/cards", h.createCard)
	m.POST("/boards/:board/cards/move", h.moveCard)
	m.PATCH("/boards/:board/cards/:card", h.updateCard)
	m.DELETE("/boards/:board/cards/:card", h.deleteCard)
	m.POST("/boards/:board/cards/:card/send", h.sendCard)

	m.GET("/boards/:board/cards/:card/comments", h.listComments)
	m.POST("/boards/:board/cards/:card/comments", h.addComment)
	m.DELETE("/boards/:board/cards/:card/comments/:comment", h.deleteComment)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// decodeBody reads a size-limited JSON body, rejecting unknown fields.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: "invalid body"}
	}
	return nil
}

func idParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ValidationError{Field: name, Reason: "must be a positive integer"}
	}
	return id, nil
}

// confirmer approves destructive actions only when the request carries
// confirm=true.
func confirmer(c echo.Context) board.Confirmer {
	ok, _ := strconv.ParseBool(c.QueryParam("confirm"))
	return board.ConfirmFunc(func(context.Context, string) bool { return ok })
}

// coordinator resolves the board addressed by the request.
func (h *handlers) coordinator(c echo.Context) (*board.Coordinator, error) {
	id, err := idParam(c, "board")
	if err != nil {
		return nil, err
	}
	return h.Boards.Get(c.Request().Context(), id)
}

// idempotent runs create under the request's Idempotency-Key. A replayed key
// is rejected and the key is released when create fails.
func (h *handlers) idempotent(c echo.Context, create func() error) error {
	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	if key == "" || h.Deduper == nil {
		return create()
	}
	ctx := c.Request().Context()
	user := userID(c)
	added, err := h.Deduper.Add(ctx, user, key)
	if err != nil {
		return err
	}
	if !added {
		return errDuplicateRequest
	}
	if err := create(); err != nil {
		if rerr := h.Deduper.Remove(context.WithoutCancel(ctx), user, key); rerr != nil {
			h.Logger.WithError(rerr).WithField("key", key).Warn("unable to release idempotency key")
		}
		return err
	}
	return nil
}

func (h *handlers) listBoards(c echo.Context) error {
	boards, err := h.Directory.ListBoards(c.Request().Context(), c.Param("org"))
	if err != nil {
		return writeError(c, err)
	}
	if boards == nil {
		boards = []domain.Board{}
	}
	return c.JSON(http.StatusOK, boards)
}

func (h *handlers) createBoard(c echo.Context) error {
	var req createBoardRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	title, err := domain.RequireText("title", req.Title)
	if err != nil {
		return writeError(c, err)
	}
	var created domain.Board
	err = h.idempotent(c, func() error {
		var cerr error
		created, cerr = h.Directory.CreateBoard(c.Request().Context(), domain.NewBoard{
			Title:          title,
			Color:          strings.TrimSpace(req.Color),
			OrganizationID: c.Param("org"),
			UserID:         userID(c),
		})
		return cerr
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *handlers) getBoard(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	snap := coord.Store().Snapshot()
	return c.JSON(http.StatusOK, boardResponse{Version: snap.Version, Tree: snap.Tree})
}

func (h *handlers) updateBoard(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	var patch domain.BoardPatch
	if err := decodeBody(c, &patch); err != nil {
		return writeError(c, err)
	}
	updated, err := coord.UpdateBoard(c.Request().Context(), patch)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *handlers) createList(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	var req listTitleRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	var created domain.List
	err = h.idempotent(c, func() error {
		var cerr error
		created, cerr = coord.CreateList(c.Request().Context(), req.Title, userID(c))
		return cerr
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *handlers) renameList(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := idParam(c, "list")
	if err != nil {
		return writeError(c, err)
	}
	var req listTitleRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	updated, err := coord.RenameList(c.Request().Context(), id, req.Title)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *handlers) deleteList(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := idParam(c, "list")
	if err != nil {
		return writeError(c, err)
	}
	if err := coord.DeleteList(c.Request().Context(), id, confirmer(c)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) moveList(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	var req moveListRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	res, err := coord.MoveList(c.Request().Context(), req.From, req.To)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newReorderResponse(res))
}

func (h *handlers) createCard(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	var req createCardRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	var created domain.Card
	err = h.idempotent(c, func() error {
		var cerr error
		created, cerr = coord.CreateCard(c.Request().Context(), domain.NewCard{
			Content:     req.Content,
			ListID:      req.ListID,
			Description: req.Description,
			CreatedBy:   userID(c),
		})
		return cerr
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *handlers) updateCard(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := idParam(c, "card")
	if err != nil {
		return writeError(c, err)
	}
	var req updateCardRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	updated, err := coord.UpdateCard(c.Request().Context(), id, domain.CardPatch{Content: req.Content, Description: req.Description})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *handlers) deleteCard(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := idParam(c, "card")
	if err != nil {
		return writeError(c, err)
	}
	if err := coord.DeleteCard(c.Request().Context(), id, confirmer(c)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) moveCard(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	var drop ordering.Drop
	if err := decodeBody(c, &drop); err != nil {
		return writeError(c, err)
	}
	res, err := coord.MoveCard(c.Request().Context(), drop)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newReorderResponse(res))
}

func (h *handlers) sendCard(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := idParam(c, "card")
	if err != nil {
		return writeError(c, err)
	}
	var req sendCardRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	moved, err := coord.SendCard(c.Request().Context(), id, req.ListID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, moved)
}

func (h *handlers) listComments(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := idParam(c, "card")
	if err != nil {
		return writeError(c, err)
	}
	comments, err := coord.LoadComments(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, comments)
}

func (h *handlers) addComment(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	id, err := idParam(c, "card")
	if err != nil {
		return writeError(c, err)
	}
	var req addCommentRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	var created domain.Comment
	err = h.idempotent(c, func() error {
		var cerr error
		created, cerr = coord.AddComment(c.Request().Context(), domain.NewComment{CardID: id, UserID: userID(c), Content: req.Content})
		return cerr
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *handlers) deleteComment(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	cardID, err := idParam(c, "card")
	if err != nil {
		return writeError(c, err)
	}
	id, err := idParam(c, "comment")
	if err != nil {
		return writeError(c, err)
	}
	if err := coord.DeleteComment(c.Request().Context(), cardID, id, confirmer(c)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func newReorderResponse(res board.ReorderResult) reorderResponse {
	out := reorderResponse{ReorderResult: res}
	if res.PersistErr != nil {
		out.PersistError = res.PersistErr.Error()
	}
	return out
}
