package api

import (
	"context"
	"errors"
	"sort"
	"sync"

	"kanban-api/domain"
)

var errBoom = errors.New("boom")

// memGateway is a minimal in-memory board gateway for handler tests.
type memGateway struct {
	mu       sync.Mutex
	nextID   int64
	boards   map[int64]domain.Board
	lists    map[int64]domain.List
	cards    map[int64]domain.Card
	comments map[int64][]domain.Comment
	fail     map[string]bool
}

func newMemGateway() *memGateway {
	return &memGateway{
		nextID:   100,
		boards:   map[int64]domain.Board{},
		lists:    map[int64]domain.List{},
		cards:    map[int64]domain.Card{},
		comments: map[int64][]domain.Comment{},
		fail:     map[string]bool{},
	}
}

func (g *memGateway) failing(op string) error {
	if g.fail[op] {
		return errBoom
	}
	return nil
}

func (g *memGateway) id() int64 {
	g.nextID++
	return g.nextID
}

func (g *memGateway) ListBoards(ctx context.Context, orgID string) ([]domain.Board, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Board
	for _, b := range g.boards {
		if b.OrganizationID == orgID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *memGateway) CreateBoard(ctx context.Context, in domain.NewBoard) (domain.Board, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failing("CreateBoard"); err != nil {
		return domain.Board{}, err
	}
	b := domain.Board{ID: g.id(), Title: in.Title, Color: in.Color, OrganizationID: in.OrganizationID, UserID: in.UserID}
	if b.Color == "" {
		b.Color = domain.DefaultBoardColor
	}
	g.boards[b.ID] = b
	return b, nil
}

func (g *memGateway) GetBoard(ctx context.Context, boardID int64) (domain.Board, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.boards[boardID]
	if !ok {
		return domain.Board{}, domain.ErrNotFound
	}
	return b, nil
}

func (g *memGateway) UpdateBoard(ctx context.Context, boardID int64, patch domain.BoardPatch) (domain.Board, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failing("UpdateBoard"); err != nil {
		return domain.Board{}, err
	}
	b := g.boards[boardID]
	if patch.Title != nil {
		b.Title = *patch.Title
	}
	if patch.Color != nil {
		b.Color = *patch.Color
	}
	g.boards[boardID] = b
	return b, nil
}

func (g *memGateway) ListLists(ctx context.Context, boardID int64) ([]domain.List, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.List
	for _, l := range g.lists {
		if l.BoardID != boardID {
			continue
		}
		l.Cards = []domain.Card{}
		for _, c := range g.cards {
			if c.ListID == l.ID {
				l.Cards = append(l.Cards, c)
			}
		}
		sort.Slice(l.Cards, func(i, j int) bool { return l.Cards[i].Position < l.Cards[j].Position })
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (g *memGateway) CreateList(ctx context.Context, in domain.NewList) (domain.List, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failing("CreateList"); err != nil {
		return domain.List{}, err
	}
	l := domain.List{ID: g.id(), Title: in.Title, BoardID: in.BoardID, CreatedBy: in.CreatedBy, Cards: []domain.Card{}}
	if in.Position != nil {
		l.Position = *in.Position
	}
	g.lists[l.ID] = l
	return l, nil
}

func (g *memGateway) UpdateList(ctx context.Context, boardID, id int64, patch domain.ListPatch) (domain.List, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failing("UpdateList"); err != nil {
		return domain.List{}, err
	}
	l, ok := g.lists[id]
	if !ok {
		return domain.List{}, domain.ErrNotFound
	}
	if patch.Title != nil {
		l.Title = *patch.Title
	}
	if patch.Position != nil {
		l.Position = *patch.Position
	}
	g.lists[id] = l
	return l, nil
}

func (g *memGateway) DeleteList(ctx context.Context, boardID, id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failing("DeleteList"); err != nil {
		return err
	}
	delete(g.lists, id)
	for cid, c := range g.cards {
		if c.ListID == id {
			delete(g.cards, cid)
		}
	}
	return nil
}

func (g *memGateway) RepositionLists(ctx context.Context, boardID int64, rows []domain.ListPosition) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failing("RepositionLists"); err != nil {
		return err
	}
	for _, r := range rows {
		l := g.lists[r.ID]
		l.Position = r.Position
		g.lists[r.ID] = l
	}
	return nil
}

func (g *memGateway) CreateCard(ctx context.Context, boardID int64, in domain.NewCard) (domain.Card, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failing("CreateCard"); err != nil {
		return domain.Card{}, err
	}
	c := domain.Card{ID: g.id(), Content: in.Content, Description: in.Description, ListID: in.ListID, CreatedBy: in.CreatedBy}
	if in.Position != nil {
		c.Position = *in.Position
	}
	g.cards[c.ID] = c
	return c, nil
}

func (g *memGateway) UpdateCard(ctx context.Context, boardID, id int64, patch domain.CardPatch) (domain.Card, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failing("UpdateCard"); err != nil {
		return domain.Card{}, err
	}
	c, ok := g.cards[id]
	if !ok {
		return domain.Card{}, domain.ErrNotFound
	}
	if patch.Content != nil {
		c.Content = *patch.Content
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	g.cards[id] = c
	return c, nil
}

func (g *memGateway) DeleteCard(ctx context.Context, boardID, id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failing("DeleteCard"); err != nil {
		return err
	}
	delete(g.cards, id)
	return nil
}

func (g *memGateway) MoveCard(ctx context.Context, boardID, id, listID int64, position int) (domain.Card, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failing("MoveCard"); err != nil {
		return domain.Card{}, err
	}
	c := g.cards[id]
	c.ListID, c.Position = listID, position
	g.cards[id] = c
	return c, nil
}

func (g *memGateway) RepositionCards(ctx context.Context, boardID int64, rows []domain.CardPosition) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failing("RepositionCards"); err != nil {
		return err
	}
	for _, r := range rows {
		c := g.cards[r.ID]
		c.Position, c.ListID = r.Position, r.ListID
		g.cards[r.ID] = c
	}
	return nil
}

func (g *memGateway) ListComments(ctx context.Context, cardID int64) ([]domain.Comment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Comment(nil), g.comments[cardID]...), nil
}

func (g *memGateway) AddComment(ctx context.Context, in domain.NewComment) (domain.Comment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failing("AddComment"); err != nil {
		return domain.Comment{}, err
	}
	cm := domain.Comment{ID: g.id(), CardID: in.CardID, UserID: in.UserID, Content: in.Content}
	g.comments[in.CardID] = append(g.comments[in.CardID], cm)
	return cm, nil
}

func (g *memGateway) DeleteComment(ctx context.Context, cardID, id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failing("DeleteComment"); err != nil {
		return err
	}
	kept := g.comments[cardID][:0]
	for _, cm := range g.comments[cardID] {
		if cm.ID != id {
			kept = append(kept, cm)
		}
	}
	g.comments[cardID] = kept
	return nil
}

// seed creates board 1 with lists Todo [A,B] and Doing [X].
func (g *memGateway) seed() {
	g.boards[1] = domain.Board{ID: 1, Title: "Roadmap", Color: domain.DefaultBoardColor, OrganizationID: "org"}
	g.lists[10] = domain.List{ID: 10, Title: "Todo", Position: 0, BoardID: 1}
	g.lists[20] = domain.List{ID: 20, Title: "Doing", Position: 1, BoardID: 1}
	g.cards[11] = domain.Card{ID: 11, Content: "A", Position: 0, ListID: 10}
	g.cards[12] = domain.Card{ID: 12, Content: "B", Position: 1, ListID: 10}
	g.cards[21] = domain.Card{ID: 21, Content: "X", Position: 0, ListID: 20}
}
