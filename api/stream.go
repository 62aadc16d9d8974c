package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"kanban-api/board"
)

// Alert tells the clients of a board that a change was reverted.
type Alert struct {
	BoardID int64  `json:"boardId"`
	Op      string `json:"op"`
	Error   string `json:"error"`
	Time    int64  `json:"time"`
}

// AlertHub fans coordinator alerts out to the event streams of the board
// they concern. Slow streams drop alerts rather than block the coordinator.
type AlertHub struct {
	mu   sync.Mutex
	subs map[int64]map[chan Alert]struct{}
}

// NewAlertHub creates an empty hub.
func NewAlertHub() *AlertHub {
	return &AlertHub{subs: make(map[int64]map[chan Alert]struct{})}
}

// Alert implements board.Alerter.
func (h *AlertHub) Alert(_ context.Context, boardID int64, op string, err error) {
	a := Alert{BoardID: boardID, Op: op, Time: time.Now().UnixMilli()}
	if err != nil {
		a.Error = err.Error()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[boardID] {
		select {
		case ch <- a:
		default:
		}
	}
}

func (h *AlertHub) subscribe(boardID int64) chan Alert {
	ch := make(chan Alert, 8)
	h.mu.Lock()
	if h.subs[boardID] == nil {
		h.subs[boardID] = make(map[chan Alert]struct{})
	}
	h.subs[boardID][ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *AlertHub) unsubscribe(boardID int64, ch chan Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[boardID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.subs, boardID)
		}
	}
}

// streamBoard sends the board projection as server-sent events: the
// current one first, then one per committed version, interleaved with
// alerts about reverted changes.
func (h *handlers) streamBoard(c echo.Context) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return writeError(c, err)
	}
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "stream unsupported"})
	}
	store := coord.Store()
	snaps, cancel := store.Subscribe()
	defer cancel()
	alerts := h.Alerts.subscribe(coord.BoardID())
	defer h.Alerts.unsubscribe(coord.BoardID(), alerts)

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	var sent uint64
	send := func(snap board.Snapshot) error {
		if snap.Version <= sent {
			return nil
		}
		sent = snap.Version
		return writeEvent(c, flusher, "board", boardResponse{Version: snap.Version, Tree: snap.Tree})
	}
	if err := send(store.Snapshot()); err != nil {
		return err
	}
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-snaps:
			if err := send(snap); err != nil {
				return err
			}
		case a := <-alerts:
			if err := writeEvent(c, flusher, "alert", a); err != nil {
				return err
			}
		}
	}
}

func writeEvent(c echo.Context, flusher http.Flusher, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		c.Logger().Error(err)
		return err
	}
	w := c.Response()
	for _, part := range [][]byte{[]byte("event: " + event + "\ndata: "), data, []byte("\n\n")} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	flusher.Flush()
	return nil
}
