package storage

import (
	"strconv"
	"time"

	"kanban-api/domain"
)

const (
	EdmInt64    = "Edm.Int64"
	EdmDateTime = "Edm.DateTime"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type boardEntity struct {
	Entity
	Title         string    `json:"Title"`
	Color         string    `json:"Color"`
	UserID        string    `json:"UserId,omitempty"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type"`
}

type boardUpdate struct {
	Entity
	Title *string `json:"Title,omitempty"`
	Color *string `json:"Color,omitempty"`
}

type listEntity struct {
	Entity
	Title         string    `json:"Title"`
	Position      int       `json:"Position"`
	CreatedBy     string    `json:"CreatedBy,omitempty"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type"`
}

type listUpdate struct {
	Entity
	Title    *string `json:"Title,omitempty"`
	Position *int    `json:"Position,omitempty"`
}

type cardEntity struct {
	Entity
	Content       string    `json:"Content"`
	Description   string    `json:"Description,omitempty"`
	Position      int       `json:"Position"`
	ListID        int64     `json:"ListId,string"`
	ListIDType    string    `json:"ListId@odata.type"`
	CreatedBy     string    `json:"CreatedBy,omitempty"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type"`
}

type cardUpdate struct {
	Entity
	Content     *string `json:"Content,omitempty"`
	Description *string `json:"Description,omitempty"`
	Position    *int    `json:"Position,omitempty"`
	ListID      *int64  `json:"ListId,omitempty,string"`
	ListIDType  *string `json:"ListId@odata.type,omitempty"`
}

type commentEntity struct {
	Entity
	UserID        string    `json:"UserId"`
	Content       string    `json:"Content"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type"`
}

func key(id int64) string { return strconv.FormatInt(id, 10) }

func parseKey(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

func newBoardEntity(b domain.Board) boardEntity {
	return boardEntity{
		Entity:        Entity{PartitionKey: b.OrganizationID, RowKey: key(b.ID)},
		Title:         b.Title,
		Color:         b.Color,
		UserID:        b.UserID,
		CreatedAt:     b.CreatedAt,
		CreatedAtType: EdmDateTime,
	}
}

func (e boardEntity) toDomain() (domain.Board, error) {
	id, err := parseKey(e.RowKey)
	if err != nil {
		return domain.Board{}, err
	}
	return domain.Board{
		ID:             id,
		Title:          e.Title,
		Color:          e.Color,
		OrganizationID: e.PartitionKey,
		UserID:         e.UserID,
		CreatedAt:      e.CreatedAt,
	}, nil
}

func newListEntity(l domain.List) listEntity {
	return listEntity{
		Entity:        Entity{PartitionKey: key(l.BoardID), RowKey: key(l.ID)},
		Title:         l.Title,
		Position:      l.Position,
		CreatedBy:     l.CreatedBy,
		CreatedAt:     l.CreatedAt,
		CreatedAtType: EdmDateTime,
	}
}

func (e listEntity) toDomain() (domain.List, error) {
	id, err := parseKey(e.RowKey)
	if err != nil {
		return domain.List{}, err
	}
	boardID, err := parseKey(e.PartitionKey)
	if err != nil {
		return domain.List{}, err
	}
	return domain.List{
		ID:        id,
		Title:     e.Title,
		Position:  e.Position,
		BoardID:   boardID,
		CreatedAt: e.CreatedAt,
		CreatedBy: e.CreatedBy,
		Cards:     []domain.Card{},
	}, nil
}

func newCardEntity(boardID int64, c domain.Card) cardEntity {
	return cardEntity{
		Entity:        Entity{PartitionKey: key(boardID), RowKey: key(c.ID)},
		Content:       c.Content,
		Description:   c.Description,
		Position:      c.Position,
		ListID:        c.ListID,
		ListIDType:    EdmInt64,
		CreatedBy:     c.CreatedBy,
		CreatedAt:     c.CreatedAt,
		CreatedAtType: EdmDateTime,
	}
}

func (e cardEntity) toDomain() (domain.Card, error) {
	id, err := parseKey(e.RowKey)
	if err != nil {
		return domain.Card{}, err
	}
	return domain.Card{
		ID:          id,
		Content:     e.Content,
		Description: e.Description,
		Position:    e.Position,
		ListID:      e.ListID,
		CreatedAt:   e.CreatedAt,
		CreatedBy:   e.CreatedBy,
	}, nil
}

func newCommentEntity(c domain.Comment) commentEntity {
	return commentEntity{
		Entity:        Entity{PartitionKey: key(c.CardID), RowKey: key(c.ID)},
		UserID:        c.UserID,
		Content:       c.Content,
		CreatedAt:     c.CreatedAt,
		CreatedAtType: EdmDateTime,
	}
}

func (e commentEntity) toDomain() (domain.Comment, error) {
	id, err := parseKey(e.RowKey)
	if err != nil {
		return domain.Comment{}, err
	}
	cardID, err := parseKey(e.PartitionKey)
	if err != nil {
		return domain.Comment{}, err
	}
	return domain.Comment{
		ID:        id,
		CardID:    cardID,
		UserID:    e.UserID,
		Content:   e.Content,
		CreatedAt: e.CreatedAt,
	}, nil
}
