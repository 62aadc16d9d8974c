package board

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"kanban-api/domain"
)

var errBoom = errors.New("gateway unavailable")

// fakeGateway is an in-memory Gateway. Setting a method name in fail makes
// that method return errBoom.
type fakeGateway struct {
	mu       sync.Mutex
	board    domain.Board
	lists    map[int64]domain.List
	cards    map[int64]domain.Card
	comments map[int64][]domain.Comment
	nextID   int64
	fail     map[string]bool
	calls    map[string]int
	// block, when set, is waited on by RepositionCards before it returns.
	block       chan struct{}
	cardBatches [][]domain.CardPosition
	listBatches [][]domain.ListPosition
	inFlight    int
	maxInFlight int
	loadDelay   time.Duration
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		board:    domain.Board{ID: 1, Title: "Roadmap", Color: domain.DefaultBoardColor, OrganizationID: "org"},
		lists:    map[int64]domain.List{},
		cards:    map[int64]domain.Card{},
		comments: map[int64][]domain.Comment{},
		nextID:   100,
		fail:     map[string]bool{},
		calls:    map[string]int{},
	}
}

func (f *fakeGateway) seedList(id int64, title string, pos int) {
	f.lists[id] = domain.List{ID: id, Title: title, Position: pos, BoardID: f.board.ID}
}

func (f *fakeGateway) seedCard(id, listID int64, content string, pos int) {
	f.cards[id] = domain.Card{ID: id, Content: content, Position: pos, ListID: listID}
}

func (f *fakeGateway) enter(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if f.fail[name] {
		return errBoom
	}
	return nil
}

func (f *fakeGateway) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeGateway) GetBoard(ctx context.Context, boardID int64) (domain.Board, error) {
	if f.loadDelay > 0 {
		time.Sleep(f.loadDelay)
	}
	if err := f.enter("GetBoard"); err != nil {
		return domain.Board{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if boardID != f.board.ID {
		return domain.Board{}, domain.ErrNotFound
	}
	return f.board, nil
}

func (f *fakeGateway) UpdateBoard(ctx context.Context, boardID int64, patch domain.BoardPatch) (domain.Board, error) {
	if err := f.enter("UpdateBoard"); err != nil {
		return domain.Board{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	applyBoardPatch(&f.board, patch)
	return f.board, nil
}

func (f *fakeGateway) ListLists(ctx context.Context, boardID int64) ([]domain.List, error) {
	if err := f.enter("ListLists"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var lists []domain.List
	for _, l := range f.lists {
		l.Cards = []domain.Card{}
		for _, c := range f.cards {
			if c.ListID == l.ID {
				l.Cards = append(l.Cards, c)
			}
		}
		sort.Slice(l.Cards, func(i, j int) bool { return l.Cards[i].Position < l.Cards[j].Position })
		lists = append(lists, l)
	}
	sort.Slice(lists, func(i, j int) bool { return lists[i].Position < lists[j].Position })
	return lists, nil
}

func (f *fakeGateway) CreateList(ctx context.Context, in domain.NewList) (domain.List, error) {
	if err := f.enter("CreateList"); err != nil {
		return domain.List{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	l := domain.List{ID: f.nextID, Title: in.Title, BoardID: in.BoardID, CreatedBy: in.CreatedBy}
	if in.Position != nil {
		l.Position = *in.Position
	}
	f.lists[l.ID] = l
	return l, nil
}

func (f *fakeGateway) UpdateList(ctx context.Context, boardID, id int64, patch domain.ListPatch) (domain.List, error) {
	if err := f.enter("UpdateList"); err != nil {
		return domain.List{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lists[id]
	if !ok {
		return domain.List{}, domain.ErrNotFound
	}
	if patch.Title != nil {
		l.Title = *patch.Title
	}
	if patch.Position != nil {
		l.Position = *patch.Position
	}
	f.lists[id] = l
	return l, nil
}

func (f *fakeGateway) DeleteList(ctx context.Context, boardID, id int64) error {
	if err := f.enter("DeleteList"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.lists, id)
	for cid, c := range f.cards {
		if c.ListID == id {
			delete(f.cards, cid)
		}
	}
	return nil
}

func (f *fakeGateway) RepositionLists(ctx context.Context, boardID int64, rows []domain.ListPosition) error {
	f.mu.Lock()
	f.listBatches = append(f.listBatches, append([]domain.ListPosition(nil), rows...))
	f.mu.Unlock()
	if err := f.enter("RepositionLists"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		l := f.lists[r.ID]
		l.Position = r.Position
		f.lists[r.ID] = l
	}
	return nil
}

func (f *fakeGateway) CreateCard(ctx context.Context, boardID int64, in domain.NewCard) (domain.Card, error) {
	if err := f.enter("CreateCard"); err != nil {
		return domain.Card{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c := domain.Card{ID: f.nextID, Content: in.Content, Description: in.Description, ListID: in.ListID, CreatedBy: in.CreatedBy}
	if in.Position != nil {
		c.Position = *in.Position
	}
	f.cards[c.ID] = c
	return c, nil
}

func (f *fakeGateway) UpdateCard(ctx context.Context, boardID, id int64, patch domain.CardPatch) (domain.Card, error) {
	if err := f.enter("UpdateCard"); err != nil {
		return domain.Card{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cards[id]
	if !ok {
		return domain.Card{}, domain.ErrNotFound
	}
	applyCardPatch(&c, patch)
	f.cards[id] = c
	return c, nil
}

func (f *fakeGateway) DeleteCard(ctx context.Context, boardID, id int64) error {
	if err := f.enter("DeleteCard"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cards, id)
	return nil
}

func (f *fakeGateway) MoveCard(ctx context.Context, boardID, id, listID int64, position int) (domain.Card, error) {
	if err := f.enter("MoveCard"); err != nil {
		return domain.Card{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cards[id]
	if !ok {
		return domain.Card{}, domain.ErrNotFound
	}
	c.ListID = listID
	c.Position = position
	f.cards[id] = c
	return c, nil
}

func (f *fakeGateway) RepositionCards(ctx context.Context, boardID int64, rows []domain.CardPosition) error {
	f.mu.Lock()
	f.cardBatches = append(f.cardBatches, append([]domain.CardPosition(nil), rows...))
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	block := f.block
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := f.enter("RepositionCards"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		c := f.cards[r.ID]
		c.Position = r.Position
		c.ListID = r.ListID
		f.cards[r.ID] = c
	}
	return nil
}

func (f *fakeGateway) ListComments(ctx context.Context, cardID int64) ([]domain.Comment, error) {
	if err := f.enter("ListComments"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Comment(nil), f.comments[cardID]...), nil
}

func (f *fakeGateway) AddComment(ctx context.Context, in domain.NewComment) (domain.Comment, error) {
	if err := f.enter("AddComment"); err != nil {
		return domain.Comment{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cm := domain.Comment{ID: f.nextID, CardID: in.CardID, UserID: in.UserID, Content: in.Content}
	f.comments[in.CardID] = append(f.comments[in.CardID], cm)
	return cm, nil
}

func (f *fakeGateway) DeleteComment(ctx context.Context, cardID, id int64) error {
	if err := f.enter("DeleteComment"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.comments[cardID][:0]
	for _, cm := range f.comments[cardID] {
		if cm.ID != id {
			out = append(out, cm)
		}
	}
	f.comments[cardID] = out
	return nil
}

type recordingAlerter struct {
	mu  sync.Mutex
	ops []string
}

func (a *recordingAlerter) Alert(ctx context.Context, boardID int64, op string, err error) {
	a.mu.Lock()
	a.ops = append(a.ops, op)
	a.mu.Unlock()
}

type recordingRepair struct {
	mu   sync.Mutex
	reqs []domain.RepairRequest
}

func (r *recordingRepair) EnqueueRepair(ctx context.Context, req domain.RepairRequest) error {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (p *recordingPublisher) PublishChange(ctx context.Context, ev domain.ChangeEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}
