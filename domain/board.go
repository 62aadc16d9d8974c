package domain

import "time"

// DefaultBoardColor is applied to boards created without an explicit color.
const DefaultBoardColor = "bg-blue-600"

// Board is the top-level workspace holding ordered lists.
type Board struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Color          string    `json:"bg_color"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// List is an ordered column of cards within a board.
type List struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Position  int       `json:"position"`
	BoardID   int64     `json:"board_id"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	Cards     []Card    `json:"cards"`
}

// Card is an ordered task item within a list.
type Card struct {
	ID          int64     `json:"id"`
	Content     string    `json:"content"`
	Description string    `json:"description,omitempty"`
	Position    int       `json:"position"`
	ListID      int64     `json:"list_id"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	Comments    []Comment `json:"comments,omitempty"`
}

// Comment is an append-only note attached to a card.
type Comment struct {
	ID        int64     `json:"id"`
	CardID    int64     `json:"card_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	if c.Comments != nil {
		c.Comments = append([]Comment(nil), c.Comments...)
	}
	return c
}

// Clone returns a deep copy of the list including its cards.
func (l List) Clone() List {
	if l.Cards != nil {
		cards := make([]Card, len(l.Cards))
		for i, c := range l.Cards {
			cards[i] = c.Clone()
		}
		l.Cards = cards
	}
	return l
}

// CloneLists deep copies a list array.
func CloneLists(lists []List) []List {
	if lists == nil {
		return nil
	}
	out := make([]List, len(lists))
	for i, l := range lists {
		out[i] = l.Clone()
	}
	return out
}

// CloneCards deep copies a card array.
func CloneCards(cards []Card) []Card {
	if cards == nil {
		return nil
	}
	out := make([]Card, len(cards))
	for i, c := range cards {
		out[i] = c.Clone()
	}
	return out
}
