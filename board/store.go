package board

import (
	"errors"
	"sort"
	"sync"

	"kanban-api/domain"
	"kanban-api/ordering"
)

// errUnchanged aborts a commit that would not change the tree.
var errUnchanged = errors.New("unchanged")

// Tree is the in-memory aggregate of one board: its metadata and its
// ordered lists, each holding its ordered cards.
type Tree struct {
	Board domain.Board  `json:"board"`
	Lists []domain.List `json:"lists"`
}

// Clone returns a deep copy of the tree.
func (t Tree) Clone() Tree {
	return Tree{Board: t.Board, Lists: domain.CloneLists(t.Lists)}
}

// Snapshot is a projection of the tree published after a commit.
type Snapshot struct {
	Version uint64 `json:"version"`
	Tree    Tree   `json:"tree"`
}

// Store holds the authoritative in-memory tree of a board. Reads return
// deep copies. Mutation primitives are unexported so that only the
// Coordinator writes to it. Every commit clones the tree, applies the
// change, checks the ordering of the containers it touched and swaps the
// new tree in, so readers never observe a half-applied change.
type Store struct {
	mu          sync.RWMutex
	tree        Tree
	version     uint64
	provisional int64
	subs        map[chan Snapshot]struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{subs: make(map[chan Snapshot]struct{})}
}

// Tree returns a projection of the whole board.
func (s *Store) Tree() Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Clone()
}

// Snapshot returns the current tree together with its version.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Version: s.version, Tree: s.tree.Clone()}
}

// Version is incremented by every commit.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Board returns the board metadata.
func (s *Store) Board() domain.Board {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Board
}

// Lists returns the ordered lists with their cards.
func (s *Store) Lists() []domain.List {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneLists(s.tree.Lists)
}

// List returns the list with the given id.
func (s *Store) List(id int64) (domain.List, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := listIndex(s.tree.Lists, id)
	if i < 0 {
		return domain.List{}, false
	}
	return s.tree.Lists[i].Clone(), true
}

// Card returns the card with the given id.
func (s *Store) Card(id int64) (domain.Card, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	li, ci := cardIndex(s.tree.Lists, id)
	if li < 0 {
		return domain.Card{}, false
	}
	return s.tree.Lists[li].Cards[ci].Clone(), true
}

// Subscribe returns a channel receiving a snapshot after each commit and a
// function releasing it. Snapshots arrive in commit order; a slow reader
// only ever sees the latest pending one.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// commit runs fn on a copy of the tree and installs it when fn succeeds.
func (s *Store) commit(fn func(t *Tree) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.tree.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	s.tree = next
	s.version++
	s.publish()
	return nil
}

// publish must be called with mu held.
func (s *Store) publish() {
	if len(s.subs) == 0 {
		return
	}
	snap := Snapshot{Version: s.version, Tree: s.tree.Clone()}
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// nextProvisionalID hands out negative identities for entities whose
// create call has not resolved yet.
func (s *Store) nextProvisionalID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provisional--
	return s.provisional
}

// loadRepairs holds the rows load renumbered because the data store held
// colliding positions. Cards are keyed by list.
type loadRepairs struct {
	Lists []domain.ListPosition
	Cards map[int64][]domain.CardPosition
}

func (r loadRepairs) empty() bool { return len(r.Lists) == 0 && len(r.Cards) == 0 }

// load replaces the whole tree with data fetched from the gateway. Lists
// and cards are sorted by position then id. Rows whose position does not
// exceed their predecessor's are moved just after it, so the tree always
// satisfies the ordering checks; the renumbered rows are returned.
func (s *Store) load(board domain.Board, lists []domain.List) loadRepairs {
	lists = domain.CloneLists(lists)
	fixes := loadRepairs{Cards: map[int64][]domain.CardPosition{}}
	sortLists(lists)
	for i := range lists {
		if i > 0 && lists[i].Position <= lists[i-1].Position {
			lists[i].Position = lists[i-1].Position + 1
			fixes.Lists = append(fixes.Lists, domain.ListPosition{ID: lists[i].ID, Position: lists[i].Position})
		}
		cards := lists[i].Cards
		sortCards(cards)
		for j := range cards {
			if j > 0 && cards[j].Position <= cards[j-1].Position {
				cards[j].Position = cards[j-1].Position + 1
				fixes.Cards[lists[i].ID] = append(fixes.Cards[lists[i].ID],
					domain.CardPosition{ID: cards[j].ID, Position: cards[j].Position, ListID: lists[i].ID})
			}
		}
	}
	if len(fixes.Cards) == 0 {
		fixes.Cards = nil
	}
	_ = s.commit(func(t *Tree) error {
		t.Board = board
		t.Lists = lists
		return nil
	})
	return fixes
}

// currentCardRows refreshes rows from the tree. Rows for cards that are
// gone or now live in another list are dropped.
func (s *Store) currentCardRows(rows []domain.CardPosition) []domain.CardPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CardPosition, 0, len(rows))
	for _, r := range rows {
		li, ci := cardIndex(s.tree.Lists, r.ID)
		if li < 0 || s.tree.Lists[li].ID != r.ListID {
			continue
		}
		out = append(out, domain.CardPosition{ID: r.ID, Position: s.tree.Lists[li].Cards[ci].Position, ListID: r.ListID})
	}
	return out
}

// currentListRows refreshes rows from the tree, dropping deleted lists.
func (s *Store) currentListRows(rows []domain.ListPosition) []domain.ListPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ListPosition, 0, len(rows))
	for _, r := range rows {
		i := listIndex(s.tree.Lists, r.ID)
		if i < 0 {
			continue
		}
		out = append(out, domain.ListPosition{ID: r.ID, Position: s.tree.Lists[i].Position})
	}
	return out
}

func (s *Store) patchBoard(fn func(b *domain.Board)) {
	_ = s.commit(func(t *Tree) error {
		fn(&t.Board)
		return nil
	})
}

func (s *Store) patchList(id int64, fn func(l *domain.List)) error {
	return s.commit(func(t *Tree) error {
		i := listIndex(t.Lists, id)
		if i < 0 {
			return domain.ErrNotFound
		}
		fn(&t.Lists[i])
		return checkLists(t.Lists)
	})
}

func (s *Store) patchCard(id int64, fn func(c *domain.Card)) error {
	return s.commit(func(t *Tree) error {
		li, ci := cardIndex(t.Lists, id)
		if li < 0 {
			return domain.ErrNotFound
		}
		fn(&t.Lists[li].Cards[ci])
		return checkCards(t.Lists[li].Cards)
	})
}

func (s *Store) removeList(id int64) (domain.List, error) {
	var removed domain.List
	err := s.commit(func(t *Tree) error {
		i := listIndex(t.Lists, id)
		if i < 0 {
			return domain.ErrNotFound
		}
		removed = t.Lists[i]
		t.Lists = append(t.Lists[:i], t.Lists[i+1:]...)
		return nil
	})
	return removed, err
}

func (s *Store) removeCard(id int64) (domain.Card, error) {
	var removed domain.Card
	err := s.commit(func(t *Tree) error {
		li, ci := cardIndex(t.Lists, id)
		if li < 0 {
			return domain.ErrNotFound
		}
		cards := t.Lists[li].Cards
		removed = cards[ci]
		t.Lists[li].Cards = append(cards[:ci], cards[ci+1:]...)
		return nil
	})
	return removed, err
}

// insertList puts l back at the slot its position designates.
func (s *Store) insertList(l domain.List) error {
	l = l.Clone()
	return s.commit(func(t *Tree) error {
		if listIndex(t.Lists, l.ID) >= 0 {
			return domain.Contractf("list %d already present", l.ID)
		}
		at := sort.Search(len(t.Lists), func(i int) bool { return t.Lists[i].Position >= l.Position })
		t.Lists = append(t.Lists, domain.List{})
		copy(t.Lists[at+1:], t.Lists[at:])
		t.Lists[at] = l
		return checkLists(t.Lists)
	})
}

// insertCard puts c back into its list at the slot its position designates.
func (s *Store) insertCard(c domain.Card) error {
	c = c.Clone()
	return s.commit(func(t *Tree) error {
		if li, _ := cardIndex(t.Lists, c.ID); li >= 0 {
			return domain.Contractf("card %d already present", c.ID)
		}
		return insertCardAt(t, c)
	})
}

// swapList replaces a provisional list with the one the server created.
// The local position and cards win, since the list may have been moved
// while its create call was in flight. The installed list is returned.
func (s *Store) swapList(provisionalID int64, l domain.List) (domain.List, error) {
	l = l.Clone()
	err := s.commit(func(t *Tree) error {
		i := listIndex(t.Lists, provisionalID)
		if i < 0 {
			return domain.ErrNotFound
		}
		l.Position = t.Lists[i].Position
		l.Cards = t.Lists[i].Cards
		for j := range l.Cards {
			l.Cards[j].ListID = l.ID
		}
		t.Lists[i] = l
		return checkLists(t.Lists)
	})
	return l.Clone(), err
}

// swapCard replaces a provisional card with the one the server created.
// The local position and parent win, since the card may have been dragged
// while its create call was in flight. The installed card is returned.
func (s *Store) swapCard(provisionalID int64, c domain.Card) (domain.Card, error) {
	c = c.Clone()
	err := s.commit(func(t *Tree) error {
		li, ci := cardIndex(t.Lists, provisionalID)
		if li < 0 {
			return domain.ErrNotFound
		}
		c.Position = t.Lists[li].Cards[ci].Position
		c.ListID = t.Lists[li].ID
		t.Lists[li].Cards[ci] = c
		return checkCards(t.Lists[li].Cards)
	})
	return c.Clone(), err
}

// applyDrop reconciles a card drop against the current tree and installs
// the resulting arrays in the same commit. A drop that changes nothing is
// not committed.
func (s *Store) applyDrop(d ordering.Drop) (ordering.CardPlan, error) {
	var plan ordering.CardPlan
	err := s.commit(func(t *Tree) error {
		var err error
		plan, err = ordering.ReconcileCards(t.Lists, d)
		if err != nil {
			return err
		}
		if plan.Empty() {
			return errUnchanged
		}
		if plan.SameContainer() {
			return setCards(t, plan.SourceListID, domain.CloneCards(plan.Source))
		}
		if err := setCards(t, plan.SourceListID, domain.CloneCards(plan.Source)); err != nil {
			return err
		}
		return setCards(t, plan.DestListID, domain.CloneCards(plan.Dest))
	})
	if errors.Is(err, errUnchanged) {
		err = nil
	}
	return plan, err
}

// applyListMove reorders the board's lists in one commit.
func (s *Store) applyListMove(from, to int) (ordering.ListPlan, error) {
	var plan ordering.ListPlan
	err := s.commit(func(t *Tree) error {
		var err error
		plan, err = ordering.ReconcileLists(t.Lists, from, to)
		if err != nil {
			return err
		}
		if len(plan.Updates) == 0 {
			return errUnchanged
		}
		if err := checkLists(plan.Lists); err != nil {
			return err
		}
		t.Lists = domain.CloneLists(plan.Lists)
		return nil
	})
	if errors.Is(err, errUnchanged) {
		err = nil
	}
	return plan, err
}

// addList appends l after the last list, allocating its position.
func (s *Store) addList(l domain.List) (domain.List, error) {
	l = l.Clone()
	err := s.commit(func(t *Tree) error {
		if listIndex(t.Lists, l.ID) >= 0 {
			return domain.Contractf("list %d already present", l.ID)
		}
		l.Position = ordering.NextListPosition(t.Lists)
		t.Lists = append(t.Lists, l.Clone())
		return nil
	})
	return l, err
}

// addCard appends c after the last card of its list, allocating its
// position.
func (s *Store) addCard(c domain.Card) (domain.Card, error) {
	c = c.Clone()
	err := s.commit(func(t *Tree) error {
		i := listIndex(t.Lists, c.ListID)
		if i < 0 {
			return domain.ErrNotFound
		}
		if li, _ := cardIndex(t.Lists, c.ID); li >= 0 {
			return domain.Contractf("card %d already present", c.ID)
		}
		c.Position = ordering.NextCardPosition(t.Lists[i].Cards)
		t.Lists[i].Cards = append(t.Lists[i].Cards, c.Clone())
		return nil
	})
	return c, err
}

// sendCard moves a card to the end of another list without renumbering
// either list. It returns the card before and after the move.
func (s *Store) sendCard(id, listID int64) (domain.Card, domain.Card, error) {
	var before, after domain.Card
	err := s.commit(func(t *Tree) error {
		li, ci := cardIndex(t.Lists, id)
		if li < 0 {
			return domain.ErrNotFound
		}
		di := listIndex(t.Lists, listID)
		if di < 0 {
			return domain.ErrNotFound
		}
		if li == di {
			return domain.Contractf("card %d already in list %d", id, listID)
		}
		before = t.Lists[li].Cards[ci].Clone()
		cards := t.Lists[li].Cards
		t.Lists[li].Cards = append(cards[:ci], cards[ci+1:]...)
		after = before.Clone()
		after.ListID = listID
		after.Position = ordering.NextCardPosition(t.Lists[di].Cards)
		t.Lists[di].Cards = append(t.Lists[di].Cards, after.Clone())
		return nil
	})
	return before, after, err
}

// putBackCard removes the card with c's id wherever it is and reinserts c
// into its own list at the slot its position designates.
func (s *Store) putBackCard(c domain.Card) error {
	c = c.Clone()
	return s.commit(func(t *Tree) error {
		if li, ci := cardIndex(t.Lists, c.ID); li >= 0 {
			cards := t.Lists[li].Cards
			t.Lists[li].Cards = append(cards[:ci], cards[ci+1:]...)
		}
		return insertCardAt(t, c)
	})
}

func insertCardAt(t *Tree, c domain.Card) error {
	i := listIndex(t.Lists, c.ListID)
	if i < 0 {
		return domain.ErrNotFound
	}
	cards := t.Lists[i].Cards
	at := sort.Search(len(cards), func(j int) bool { return cards[j].Position >= c.Position })
	cards = append(cards, domain.Card{})
	copy(cards[at+1:], cards[at:])
	cards[at] = c
	t.Lists[i].Cards = cards
	return checkCards(cards)
}

func setCards(t *Tree, listID int64, cards []domain.Card) error {
	i := listIndex(t.Lists, listID)
	if i < 0 {
		return domain.ErrNotFound
	}
	for _, c := range cards {
		if c.ListID != listID {
			return domain.Contractf("card %d belongs to list %d, not %d", c.ID, c.ListID, listID)
		}
	}
	if err := checkCards(cards); err != nil {
		return err
	}
	t.Lists[i].Cards = cards
	return nil
}

// checkLists verifies that positions strictly ascend in array order.
func checkLists(lists []domain.List) error {
	for i := 1; i < len(lists); i++ {
		if lists[i].Position <= lists[i-1].Position {
			return domain.Contractf("list %d at position %d does not follow list %d at %d",
				lists[i].ID, lists[i].Position, lists[i-1].ID, lists[i-1].Position)
		}
	}
	return nil
}

// checkCards verifies that positions strictly ascend in array order.
func checkCards(cards []domain.Card) error {
	for i := 1; i < len(cards); i++ {
		if cards[i].Position <= cards[i-1].Position {
			return domain.Contractf("card %d at position %d does not follow card %d at %d",
				cards[i].ID, cards[i].Position, cards[i-1].ID, cards[i-1].Position)
		}
	}
	return nil
}

func sortLists(lists []domain.List) {
	sort.SliceStable(lists, func(i, j int) bool {
		if lists[i].Position != lists[j].Position {
			return lists[i].Position < lists[j].Position
		}
		return lists[i].ID < lists[j].ID
	})
}

func sortCards(cards []domain.Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Position != cards[j].Position {
			return cards[i].Position < cards[j].Position
		}
		return cards[i].ID < cards[j].ID
	})
}

func listIndex(lists []domain.List, id int64) int {
	for i := range lists {
		if lists[i].ID == id {
			return i
		}
	}
	return -1
}

func cardIndex(lists []domain.List, id int64) (int, int) {
	for li := range lists {
		for ci := range lists[li].Cards {
			if lists[li].Cards[ci].ID == id {
				return li, ci
			}
		}
	}
	return -1, -1
}
