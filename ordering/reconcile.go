package ordering

import "kanban-api/domain"

// Drop is the outcome of one drag gesture over card containers.
type Drop struct {
	SourceContainer string `json:"sourceContainer"`
	DestContainer   string `json:"destContainer"`
	SourceIndex     int    `json:"sourceIndex"`
	DestIndex       int    `json:"destIndex"`
}

// CardPlan is the reconciled result of a card drop: the new card arrays and
// the rows to persist for each affected container.
type CardPlan struct {
	SourceListID int64
	DestListID   int64
	// Card is the moved card as it stands after the move.
	Card          domain.Card
	Source        []domain.Card
	Dest          []domain.Card
	SourceUpdates []domain.CardPosition
	DestUpdates   []domain.CardPosition
}

// SameContainer reports whether the card stayed in its list.
func (p CardPlan) SameContainer() bool { return p.SourceListID == p.DestListID }

// Empty reports whether nothing needs to be persisted.
func (p CardPlan) Empty() bool { return len(p.SourceUpdates) == 0 && len(p.DestUpdates) == 0 }

// ListPlan is the reconciled result of a list reorder.
type ListPlan struct {
	List    domain.List
	Lists   []domain.List
	Updates []domain.ListPosition
}

// ReconcileCards applies d to a copy of the board's lists. The input is not
// modified. Unknown or malformed containers and a source index that
// addresses no card are contract violations; the destination index is
// clamped to the insertion range.
func ReconcileCards(lists []domain.List, d Drop) (CardPlan, error) {
	srcID, err := ParseContainerKey(d.SourceContainer)
	if err != nil {
		return CardPlan{}, err
	}
	dstID, err := ParseContainerKey(d.DestContainer)
	if err != nil {
		return CardPlan{}, err
	}
	src := indexOfList(lists, srcID)
	if src < 0 {
		return CardPlan{}, domain.Contractf("unknown container %q", d.SourceContainer)
	}
	dst := indexOfList(lists, dstID)
	if dst < 0 {
		return CardPlan{}, domain.Contractf("unknown container %q", d.DestContainer)
	}
	srcCards := lists[src].Cards
	if d.SourceIndex < 0 || d.SourceIndex >= len(srcCards) {
		return CardPlan{}, domain.Contractf("source index %d out of range for %q (len %d)", d.SourceIndex, d.SourceContainer, len(srcCards))
	}

	plan := CardPlan{SourceListID: srcID, DestListID: dstID}
	if srcID == dstID {
		cards := domain.CloneCards(srcCards)
		to := clamp(d.DestIndex, 0, len(cards)-1)
		if to != d.SourceIndex {
			cards = MoveItem(cards, d.SourceIndex, to)
			plan.SourceUpdates = RenumberCards(cards, srcID)
		}
		plan.Source = cards
		plan.Card = cards[to].Clone()
		return plan, nil
	}

	dstCards := lists[dst].Cards
	to := clamp(d.DestIndex, 0, len(dstCards))
	newSrc, newDst := TransferItem(domain.CloneCards(srcCards), domain.CloneCards(dstCards), d.SourceIndex, to)
	plan.SourceUpdates = RenumberCards(newSrc, srcID)
	plan.DestUpdates = RenumberCards(newDst, dstID)
	plan.Source = newSrc
	plan.Dest = newDst
	plan.Card = newDst[to].Clone()
	return plan, nil
}

// ReconcileLists moves the list at index from to index to on a copy of
// lists and renumbers them. A from index that addresses no list is a
// contract violation; to is clamped.
func ReconcileLists(lists []domain.List, from, to int) (ListPlan, error) {
	if from < 0 || from >= len(lists) {
		return ListPlan{}, domain.Contractf("list index %d out of range (len %d)", from, len(lists))
	}
	out := domain.CloneLists(lists)
	to = clamp(to, 0, len(out)-1)
	plan := ListPlan{}
	if to != from {
		out = MoveItem(out, from, to)
		plan.Updates = RenumberLists(out)
	}
	plan.Lists = out
	plan.List = out[to].Clone()
	return plan, nil
}

func indexOfList(lists []domain.List, id int64) int {
	for i := range lists {
		if lists[i].ID == id {
			return i
		}
	}
	return -1
}
