package board

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

type registryEntry struct {
	ready    chan struct{}
	coord    *Coordinator
	err      error
	lastUsed time.Time
}

// Registry keeps one Coordinator per loaded board. Boards are loaded on
// first use and reloaded when another instance reports a change.
type Registry struct {
	gw   Gateway
	opts Options

	mu     sync.Mutex
	boards map[int64]*registryEntry
	now    func() time.Time
}

// NewRegistry creates an empty registry whose coordinators share gw and opts.
func NewRegistry(gw Gateway, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Registry{gw: gw, opts: opts, boards: make(map[int64]*registryEntry), now: time.Now}
}

// Get returns the coordinator of a board, loading it on first use.
// Concurrent callers for the same board share one load. A failed load is
// not cached.
func (r *Registry) Get(ctx context.Context, boardID int64) (*Coordinator, error) {
	r.mu.Lock()
	if e, ok := r.boards[boardID]; ok {
		e.lastUsed = r.now()
		r.mu.Unlock()
		select {
		case <-e.ready:
			return e.coord, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &registryEntry{ready: make(chan struct{}), lastUsed: r.now()}
	r.boards[boardID] = e
	r.mu.Unlock()

	coord := NewCoordinator(boardID, r.gw, r.opts)
	if err := coord.Load(ctx); err != nil {
		e.err = err
		r.mu.Lock()
		delete(r.boards, boardID)
		r.mu.Unlock()
	} else {
		e.coord = coord
	}
	close(e.ready)
	return e.coord, e.err
}

// Loaded returns the coordinator of a board if it is already loaded.
func (r *Registry) Loaded(boardID int64) (*Coordinator, bool) {
	r.mu.Lock()
	e, ok := r.boards[boardID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.ready:
		return e.coord, e.coord != nil
	default:
		return nil, false
	}
}

// HandleChange reloads the board named by ev when it is loaded here.
func (r *Registry) HandleChange(ctx context.Context, ev domain.ChangeEvent) {
	coord, ok := r.Loaded(ev.BoardID)
	if !ok {
		return
	}
	if err := coord.Load(ctx); err != nil {
		r.opts.Logger.WithError(err).WithFields(log.Fields{"board": ev.BoardID, "type": ev.Type}).Error("reload after remote change")
	}
}

// Sweep drops boards that were not requested for idle and have no stream
// subscribers, so the next Get loads them again. It returns the dropped
// board ids.
func (r *Registry) Sweep(idle time.Duration) []int64 {
	cutoff := r.now().Add(-idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []int64
	for id, e := range r.boards {
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.coord == nil || e.lastUsed.After(cutoff) || e.coord.Store().Subscribers() > 0 {
			continue
		}
		delete(r.boards, id)
		evicted = append(evicted, id)
	}
	return evicted
}

// RunEviction sweeps idle boards every interval until ctx is done.
func (r *Registry) RunEviction(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids := r.Sweep(idle); len(ids) > 0 {
				r.opts.Logger.WithField("boards", ids).Debug("idle boards evicted")
			}
		}
	}
}
