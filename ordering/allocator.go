// Package ordering computes positions for lists and cards and turns drag
// and drop outcomes into the position rows that must be persisted.
//
// Positions are dense integers. Every reorder renumbers the affected
// sequence to 0..n-1 in its new order, so a gesture costs O(n) writes.
package ordering

import "kanban-api/domain"

// Append returns the position for an item placed after every existing one:
// max+1, or 0 when the sequence is empty.
func Append(positions []int) int {
	if len(positions) == 0 {
		return 0
	}
	highest := positions[0]
	for _, p := range positions[1:] {
		if p > highest {
			highest = p
		}
	}
	return highest + 1
}

// NextListPosition is Append over the positions of lists.
func NextListPosition(lists []domain.List) int {
	positions := make([]int, len(lists))
	for i, l := range lists {
		positions[i] = l.Position
	}
	return Append(positions)
}

// NextCardPosition is Append over the positions of cards.
func NextCardPosition(cards []domain.Card) int {
	positions := make([]int, len(cards))
	for i, c := range cards {
		positions[i] = c.Position
	}
	return Append(positions)
}

// RenumberLists assigns positions 0..n-1 in array order and returns the rows
// whose position changed.
func RenumberLists(lists []domain.List) []domain.ListPosition {
	var changed []domain.ListPosition
	for i := range lists {
		if lists[i].Position != i {
			lists[i].Position = i
			changed = append(changed, domain.ListPosition{ID: lists[i].ID, Position: i})
		}
	}
	return changed
}

// RenumberCards assigns positions 0..n-1 in array order, stamps listID as
// the parent of every card and returns the rows whose position or parent
// changed.
func RenumberCards(cards []domain.Card, listID int64) []domain.CardPosition {
	var changed []domain.CardPosition
	for i := range cards {
		if cards[i].Position == i && cards[i].ListID == listID {
			continue
		}
		cards[i].Position = i
		cards[i].ListID = listID
		changed = append(changed, domain.CardPosition{ID: cards[i].ID, Position: i, ListID: listID})
	}
	return changed
}
