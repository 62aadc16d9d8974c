// Package board holds the in-memory aggregate of a Kanban board and the
// coordinator that mutates it optimistically while persisting through a
// Gateway.
package board

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kanban-api/domain"
	"kanban-api/ordering"
)

const tracerName = "kanban-api/board"

// DefaultCallTimeout bounds every gateway call when no timeout is configured.
const DefaultCallTimeout = 10 * time.Second

// Gateway is the persistence contract driven by the Coordinator. Every call
// may fail independently.
type Gateway interface {
	GetBoard(ctx context.Context, boardID int64) (domain.Board, error)
	UpdateBoard(ctx context.Context, boardID int64, patch domain.BoardPatch) (domain.Board, error)
	ListLists(ctx context.Context, boardID int64) ([]domain.List, error)
	CreateList(ctx context.Context, in domain.NewList) (domain.List, error)
	UpdateList(ctx context.Context, boardID, id int64, patch domain.ListPatch) (domain.List, error)
	DeleteList(ctx context.Context, boardID, id int64) error
	RepositionLists(ctx context.Context, boardID int64, rows []domain.ListPosition) error
	CreateCard(ctx context.Context, boardID int64, in domain.NewCard) (domain.Card, error)
	UpdateCard(ctx context.Context, boardID, id int64, patch domain.CardPatch) (domain.Card, error)
	DeleteCard(ctx context.Context, boardID, id int64) error
	MoveCard(ctx context.Context, boardID, id, listID int64, position int) (domain.Card, error)
	RepositionCards(ctx context.Context, boardID int64, rows []domain.CardPosition) error
	ListComments(ctx context.Context, cardID int64) ([]domain.Comment, error)
	AddComment(ctx context.Context, in domain.NewComment) (domain.Comment, error)
	DeleteComment(ctx context.Context, cardID, id int64) error
}

// Confirmer is asked before a destructive action runs.
type Confirmer interface {
	ConfirmDestructive(ctx context.Context, action string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, action string) bool

func (f ConfirmFunc) ConfirmDestructive(ctx context.Context, action string) bool {
	return f(ctx, action)
}

// Confirmed approves every destructive action.
var Confirmed = ConfirmFunc(func(context.Context, string) bool { return true })

// Alerter receives failures of single-entity mutations after their local
// change was rolled back.
type Alerter interface {
	Alert(ctx context.Context, boardID int64, op string, err error)
}

// RepairSink accepts reposition rows that failed to persist.
type RepairSink interface {
	EnqueueRepair(ctx context.Context, req domain.RepairRequest) error
}

// Publisher announces persisted changes to other instances.
type Publisher interface {
	PublishChange(ctx context.Context, ev domain.ChangeEvent) error
}

// Options configures a Coordinator. Zero values are valid.
type Options struct {
	CallTimeout time.Duration
	Logger      *log.Logger
	Alerter     Alerter
	Repair      RepairSink
	Publisher   Publisher
}

// ReorderResult reports what a reorder gesture changed. PersistErr is set
// when at least one reposition batch failed; the in-memory order is kept
// regardless, so callers must not assume it matches the data store.
type ReorderResult struct {
	Version       uint64                `json:"version"`
	SourceUpdates []domain.CardPosition `json:"sourceUpdates,omitempty"`
	DestUpdates   []domain.CardPosition `json:"destUpdates,omitempty"`
	ListUpdates   []domain.ListPosition `json:"listUpdates,omitempty"`
	PersistErr    error                 `json:"-"`
}

// Coordinator is the only writer of a board's Store. It applies every
// change locally first and then persists it through the Gateway.
type Coordinator struct {
	boardID     int64
	gw          Gateway
	store       *Store
	log         *log.Logger
	callTimeout time.Duration
	alerter     Alerter
	repair      RepairSink
	publisher   Publisher

	// persisting holds one lock per container so reposition batches of the
	// same container reach the gateway one at a time.
	persistMu  sync.Mutex
	persisting map[string]*sync.Mutex
}

// NewCoordinator creates a coordinator for the given board with an empty store.
func NewCoordinator(boardID int64, gw Gateway, opts Options) *Coordinator {
	if gw == nil {
		panic("board.NewCoordinator: gateway is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Coordinator{
		boardID:     boardID,
		gw:          gw,
		store:       NewStore(),
		log:         logger,
		callTimeout: timeout,
		alerter:     opts.Alerter,
		repair:      opts.Repair,
		publisher:   opts.Publisher,
		persisting:  make(map[string]*sync.Mutex),
	}
}

// BoardID returns the identity of the coordinated board.
func (c *Coordinator) BoardID() int64 { return c.boardID }

// Store exposes the read side of the board.
func (c *Coordinator) Store() *Store { return c.store }

func (c *Coordinator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

func (c *Coordinator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.Int64("board.id", c.boardID))
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Load fetches the board metadata and its lists concurrently and replaces
// the whole tree in one commit.
func (c *Coordinator) Load(ctx context.Context) (err error) {
	ctx, span := c.startSpan(ctx, "board.load")
	defer func() { endSpan(span, err) }()

	var (
		wg      sync.WaitGroup
		b       domain.Board
		lists   []domain.List
		errB    error
		errList error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		cctx, cancel := c.callCtx(ctx)
		defer cancel()
		b, errB = c.gw.GetBoard(cctx, c.boardID)
	}()
	go func() {
		defer wg.Done()
		cctx, cancel := c.callCtx(ctx)
		defer cancel()
		lists, errList = c.gw.ListLists(cctx, c.boardID)
	}()
	wg.Wait()
	if err := errors.Join(errB, errList); err != nil {
		return fmt.Errorf("load board %d: %w", c.boardID, err)
	}
	fixes := c.store.load(b, lists)
	c.log.WithFields(log.Fields{"board": c.boardID, "lists": len(lists)}).Debug("board loaded")
	if !fixes.empty() {
		c.persistLoadRepairs(ctx, fixes)
	}
	return nil
}

// persistLoadRepairs writes back positions that load renumbered. Failures
// follow the reorder policy: logged and offered to the repair sink.
func (c *Coordinator) persistLoadRepairs(ctx context.Context, fixes loadRepairs) {
	c.log.WithFields(log.Fields{
		"board": c.boardID,
		"lists": fixes.Lists,
		"cards": fixes.Cards,
	}).Warn("colliding positions renumbered on load")
	ctx = context.WithoutCancel(ctx)
	if len(fixes.Lists) > 0 {
		_ = c.persistLists(ctx, fixes.Lists)
	}
	listIDs := make([]int64, 0, len(fixes.Cards))
	for id := range fixes.Cards {
		listIDs = append(listIDs, id)
	}
	sort.Slice(listIDs, func(i, j int) bool { return listIDs[i] < listIDs[j] })
	for _, id := range listIDs {
		_ = c.persistCards(ctx, ordering.ContainerKey(id), fixes.Cards[id])
	}
}

// resync reloads the board after a rollback could not be applied locally.
func (c *Coordinator) resync(ctx context.Context, cause error) {
	c.log.WithError(cause).WithField("board", c.boardID).Error("local rollback failed, reloading board")
	if err := c.Load(context.WithoutCancel(ctx)); err != nil {
		c.log.WithError(err).WithField("board", c.boardID).Error("reload after failed rollback")
	}
}

// MoveCard applies a card drop. The new arrays of both containers are
// committed together, then one reposition batch per container is persisted
// with both batches running concurrently. A failed batch is logged and
// offered to the repair sink but the local order is not rolled back. The
// returned error is only set for drops that could not be applied.
func (c *Coordinator) MoveCard(ctx context.Context, d ordering.Drop) (ReorderResult, error) {
	ctx, span := c.startSpan(ctx, "board.move_card",
		attribute.String("board.source", d.SourceContainer),
		attribute.String("board.dest", d.DestContainer))
	plan, err := c.store.applyDrop(d)
	if err != nil {
		endSpan(span, err)
		return ReorderResult{}, err
	}
	res := ReorderResult{
		Version:       c.store.Version(),
		SourceUpdates: persistedCardRows(plan.SourceUpdates),
		DestUpdates:   persistedCardRows(plan.DestUpdates),
	}
	if len(res.SourceUpdates) == 0 && len(res.DestUpdates) == 0 {
		endSpan(span, nil)
		return res, nil
	}

	// A dropped gesture runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	var (
		wg   sync.WaitGroup
		errs [2]error
	)
	batches := []struct {
		container string
		rows      []domain.CardPosition
	}{
		{d.SourceContainer, res.SourceUpdates},
		{d.DestContainer, res.DestUpdates},
	}
	for i, b := range batches {
		if len(b.rows) == 0 {
			continue
		}
		wg.Add(1)
		go func(i int, container string, rows []domain.CardPosition) {
			defer wg.Done()
			errs[i] = c.persistCards(ctx, container, rows)
		}(i, b.container, b.rows)
	}
	wg.Wait()
	res.PersistErr = errors.Join(errs[0], errs[1])

	c.publish(ctx, domain.CardsReordered, plan.Card.ID)
	endSpan(span, res.PersistErr)
	return res, nil
}

// MoveList reorders the board's lists and persists the renumbered rows as
// a single batch. Failures follow the MoveCard policy.
func (c *Coordinator) MoveList(ctx context.Context, from, to int) (ReorderResult, error) {
	ctx, span := c.startSpan(ctx, "board.move_list",
		attribute.Int("board.from", from), attribute.Int("board.to", to))
	plan, err := c.store.applyListMove(from, to)
	if err != nil {
		endSpan(span, err)
		return ReorderResult{}, err
	}
	res := ReorderResult{Version: c.store.Version(), ListUpdates: persistedListRows(plan.Updates)}
	if len(res.ListUpdates) == 0 {
		endSpan(span, nil)
		return res, nil
	}
	ctx = context.WithoutCancel(ctx)
	res.PersistErr = c.persistLists(ctx, res.ListUpdates)
	c.publish(ctx, domain.ListsReordered, plan.List.ID)
	endSpan(span, res.PersistErr)
	return res, nil
}

// containerLock returns the lock serializing batches of one container.
func (c *Coordinator) containerLock(container string) *sync.Mutex {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	mu, ok := c.persisting[container]
	if !ok {
		mu = &sync.Mutex{}
		c.persisting[container] = mu
	}
	return mu
}

// persistCards writes one card batch. Batches of a container are
// serialized and each row is refreshed from the tree under the lock, so a
// batch that lands late never writes a position older than the tree's.
func (c *Coordinator) persistCards(ctx context.Context, container string, rows []domain.CardPosition) (err error) {
	lock := c.containerLock(container)
	lock.Lock()
	defer lock.Unlock()
	if rows = c.store.currentCardRows(rows); len(rows) == 0 {
		return nil
	}

	ctx, span := c.startSpan(ctx, "board.persist",
		attribute.String("board.container", container), attribute.Int("board.rows", len(rows)))
	defer func() { endSpan(span, err) }()

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	if err = c.gw.RepositionCards(cctx, c.boardID, rows); err != nil {
		c.log.WithError(err).WithFields(log.Fields{
			"board":     c.boardID,
			"container": container,
			"rows":      rows,
		}).Error("card reposition batch failed")
		c.offerRepair(ctx, domain.RepairRequest{BoardID: c.boardID, Container: container, Cards: rows, Error: err.Error()})
	}
	return err
}

func (c *Coordinator) persistLists(ctx context.Context, rows []domain.ListPosition) (err error) {
	lock := c.containerLock("lists")
	lock.Lock()
	defer lock.Unlock()
	if rows = c.store.currentListRows(rows); len(rows) == 0 {
		return nil
	}

	ctx, span := c.startSpan(ctx, "board.persist",
		attribute.String("board.container", "lists"), attribute.Int("board.rows", len(rows)))
	defer func() { endSpan(span, err) }()

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	if err = c.gw.RepositionLists(cctx, c.boardID, rows); err != nil {
		c.log.WithError(err).WithFields(log.Fields{
			"board": c.boardID,
			"rows":  rows,
		}).Error("list reposition batch failed")
		c.offerRepair(ctx, domain.RepairRequest{BoardID: c.boardID, Container: "lists", Lists: rows, Error: err.Error()})
	}
	return err
}

func (c *Coordinator) offerRepair(ctx context.Context, req domain.RepairRequest) {
	if c.repair == nil {
		return
	}
	req.Timestamp = time.Now().UnixMilli()
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	if err := c.repair.EnqueueRepair(cctx, req); err != nil {
		c.log.WithError(err).WithField("board", c.boardID).Warn("unable to enqueue repair request")
	}
}

func (c *Coordinator) publish(ctx context.Context, typ string, entityID int64) {
	if c.publisher == nil {
		return
	}
	ev := domain.ChangeEvent{BoardID: c.boardID, Type: typ, EntityID: entityID, Time: time.Now().UnixMilli()}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	if err := c.publisher.PublishChange(cctx, ev); err != nil {
		c.log.WithError(err).WithFields(log.Fields{"board": c.boardID, "type": typ}).Warn("unable to publish board change")
	}
}

// fail reports a single-entity failure whose local change was already
// reverted and returns err.
func (c *Coordinator) fail(ctx context.Context, op string, fields log.Fields, err error) error {
	fields["board"] = c.boardID
	fields["op"] = op
	c.log.WithError(err).WithFields(fields).Error("board mutation failed, local change reverted")
	if c.alerter != nil {
		c.alerter.Alert(ctx, c.boardID, op, err)
	}
	return err
}

func confirm(ctx context.Context, confirmer Confirmer, action string) error {
	if confirmer == nil || !confirmer.ConfirmDestructive(ctx, action) {
		return domain.ErrDeclined
	}
	return nil
}

func persistedCardRows(rows []domain.CardPosition) []domain.CardPosition {
	var out []domain.CardPosition
	for _, r := range rows {
		if r.ID > 0 {
			out = append(out, r)
		}
	}
	return out
}

func persistedListRows(rows []domain.ListPosition) []domain.ListPosition {
	var out []domain.ListPosition
	for _, r := range rows {
		if r.ID > 0 {
			out = append(out, r)
		}
	}
	return out
}

func requirePersisted(kind string, id int64) error {
	if id <= 0 {
		return domain.Contractf("%s %d is not persisted yet", kind, id)
	}
	return nil
}
