package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"kanban-api/domain"
	"kanban-api/ordering"
)

const defaultRepositionConcurrency = 16

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, o *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, o *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, o *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// Tables names the tables backing a board.
type Tables struct {
	Boards   string
	Lists    string
	Cards    string
	Comments string
}

// Storage is the Azure Table Storage implementation of the board gateway.
// Boards are partitioned by organization, lists and cards by board and
// comments by card.
type Storage struct {
	boardTable   tableClient
	listTable    tableClient
	cardTable    tableClient
	commentTable tableClient
	ids          Sequence
	now          func() time.Time

	repositionConcurrency int
}

// New creates a Storage instance from the given connection string.
func New(connStr string, tables Tables, ids Sequence) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		boardTable:            svc.NewClient(tables.Boards),
		listTable:             svc.NewClient(tables.Lists),
		cardTable:             svc.NewClient(tables.Cards),
		commentTable:          svc.NewClient(tables.Comments),
		ids:                   ids,
		now:                   time.Now,
		repositionConcurrency: defaultRepositionConcurrency,
	}, nil
}

// mapErr turns Azure 404 responses into domain.ErrNotFound.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, respErr.ErrorCode)
	}
	return err
}

func queryEntities[T any](ctx context.Context, table tableClient, filter string) ([]T, error) {
	pager := table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out []T
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapErr(err)
		}
		for _, e := range resp.Entities {
			var ent T
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			out = append(out, ent)
		}
	}
	return out, nil
}

func getEntity[T any](ctx context.Context, table tableClient, pk, rk string) (T, error) {
	var ent T
	resp, err := table.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		return ent, mapErr(err)
	}
	err = json.Unmarshal(resp.Value, &ent)
	return ent, err
}

func addEntity(ctx context.Context, table tableClient, ent any) error {
	payload, err := json.Marshal(ent)
	if err == nil {
		_, err = table.AddEntity(ctx, payload, nil)
	}
	return mapErr(err)
}

func mergeEntity(ctx context.Context, table tableClient, ent any) error {
	payload, err := json.Marshal(ent)
	if err == nil {
		et := azcore.ETagAny
		_, err = table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	}
	return mapErr(err)
}

func deleteEntity(ctx context.Context, table tableClient, pk, rk string) error {
	_, err := table.DeleteEntity(ctx, pk, rk, nil)
	return mapErr(err)
}

func partitionFilter(pk string) string {
	return "PartitionKey eq " + quote(pk)
}

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ListBoards returns the boards of an organization, oldest first.
func (s *Storage) ListBoards(ctx context.Context, orgID string) ([]domain.Board, error) {
	ents, err := queryEntities[boardEntity](ctx, s.boardTable, partitionFilter(orgID))
	if err != nil {
		return nil, err
	}
	boards := make([]domain.Board, 0, len(ents))
	for _, e := range ents {
		b, err := e.toDomain()
		if err != nil {
			return nil, err
		}
		boards = append(boards, b)
	}
	sort.SliceStable(boards, func(i, j int) bool { return boards[i].CreatedAt.Before(boards[j].CreatedAt) })
	return boards, nil
}

// CreateBoard stores a new board with a server-assigned identity.
func (s *Storage) CreateBoard(ctx context.Context, in domain.NewBoard) (domain.Board, error) {
	id, err := s.ids.Next(ctx)
	if err != nil {
		return domain.Board{}, err
	}
	b := domain.Board{
		ID:             id,
		Title:          in.Title,
		Color:          in.Color,
		OrganizationID: in.OrganizationID,
		UserID:         in.UserID,
		CreatedAt:      s.now().UTC(),
	}
	if b.Color == "" {
		b.Color = domain.DefaultBoardColor
	}
	if err := addEntity(ctx, s.boardTable, newBoardEntity(b)); err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

// GetBoard looks a board up by identity across organizations.
func (s *Storage) GetBoard(ctx context.Context, boardID int64) (domain.Board, error) {
	ents, err := queryEntities[boardEntity](ctx, s.boardTable, "RowKey eq '"+key(boardID)+"'")
	if err != nil {
		return domain.Board{}, err
	}
	if len(ents) == 0 {
		return domain.Board{}, fmt.Errorf("board %d: %w", boardID, domain.ErrNotFound)
	}
	return ents[0].toDomain()
}

// UpdateBoard merges the title or color of a board.
func (s *Storage) UpdateBoard(ctx context.Context, boardID int64, patch domain.BoardPatch) (domain.Board, error) {
	b, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return domain.Board{}, err
	}
	upd := boardUpdate{Entity: Entity{PartitionKey: b.OrganizationID, RowKey: key(boardID)}, Title: patch.Title, Color: patch.Color}
	if err := mergeEntity(ctx, s.boardTable, upd); err != nil {
		return domain.Board{}, err
	}
	if patch.Title != nil {
		b.Title = *patch.Title
	}
	if patch.Color != nil {
		b.Color = *patch.Color
	}
	return b, nil
}

func (s *Storage) fetchLists(ctx context.Context, boardID int64) ([]domain.List, error) {
	ents, err := queryEntities[listEntity](ctx, s.listTable, partitionFilter(key(boardID)))
	if err != nil {
		return nil, err
	}
	lists := make([]domain.List, 0, len(ents))
	for _, e := range ents {
		l, err := e.toDomain()
		if err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	return lists, nil
}

func (s *Storage) fetchCards(ctx context.Context, boardID int64, filter string) ([]domain.Card, error) {
	f := partitionFilter(key(boardID))
	if filter != "" {
		f += " and " + filter
	}
	ents, err := queryEntities[cardEntity](ctx, s.cardTable, f)
	if err != nil {
		return nil, err
	}
	cards := make([]domain.Card, 0, len(ents))
	for _, e := range ents {
		c, err := e.toDomain()
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}

func listFilter(listID int64) string {
	return "ListId eq " + strconv.FormatInt(listID, 10) + "L"
}

// ListLists returns the lists of a board by position, each with its cards
// by position. Lists and cards are queried concurrently.
func (s *Storage) ListLists(ctx context.Context, boardID int64) ([]domain.List, error) {
	var (
		wg       sync.WaitGroup
		lists    []domain.List
		cards    []domain.Card
		errLists error
		errCards error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		lists, errLists = s.fetchLists(ctx, boardID)
	}()
	go func() {
		defer wg.Done()
		cards, errCards = s.fetchCards(ctx, boardID, "")
	}()
	wg.Wait()
	if err := errors.Join(errLists, errCards); err != nil {
		return nil, err
	}

	byList := make(map[int64]int, len(lists))
	for i, l := range lists {
		byList[l.ID] = i
	}
	for _, c := range cards {
		if i, ok := byList[c.ListID]; ok {
			lists[i].Cards = append(lists[i].Cards, c)
		}
	}
	sort.SliceStable(lists, func(i, j int) bool { return lists[i].Position < lists[j].Position })
	for i := range lists {
		cs := lists[i].Cards
		sort.SliceStable(cs, func(a, b int) bool { return cs[a].Position < cs[b].Position })
	}
	return lists, nil
}

// CreateList stores a new list. A nil position appends it after the
// board's last list.
func (s *Storage) CreateList(ctx context.Context, in domain.NewList) (domain.List, error) {
	pos := 0
	if in.Position != nil {
		pos = *in.Position
	} else {
		lists, err := s.fetchLists(ctx, in.BoardID)
		if err != nil {
			return domain.List{}, err
		}
		pos = ordering.NextListPosition(lists)
	}
	id, err := s.ids.Next(ctx)
	if err != nil {
		return domain.List{}, err
	}
	l := domain.List{
		ID:        id,
		Title:     in.Title,
		Position:  pos,
		BoardID:   in.BoardID,
		CreatedAt: s.now().UTC(),
		CreatedBy: in.CreatedBy,
		Cards:     []domain.Card{},
	}
	if err := addEntity(ctx, s.listTable, newListEntity(l)); err != nil {
		return domain.List{}, err
	}
	return l, nil
}

// UpdateList merges the title or position of a list.
func (s *Storage) UpdateList(ctx context.Context, boardID, id int64, patch domain.ListPatch) (domain.List, error) {
	upd := listUpdate{Entity: Entity{PartitionKey: key(boardID), RowKey: key(id)}, Title: patch.Title, Position: patch.Position}
	if err := mergeEntity(ctx, s.listTable, upd); err != nil {
		return domain.List{}, err
	}
	ent, err := getEntity[listEntity](ctx, s.listTable, key(boardID), key(id))
	if err != nil {
		return domain.List{}, err
	}
	return ent.toDomain()
}

// DeleteList removes a list together with its cards and their comments.
func (s *Storage) DeleteList(ctx context.Context, boardID, id int64) error {
	cards, err := s.fetchCards(ctx, boardID, listFilter(id))
	if err != nil {
		return err
	}
	for _, c := range cards {
		if err := s.DeleteCard(ctx, boardID, c.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return deleteEntity(ctx, s.listTable, key(boardID), key(id))
}

// RepositionLists writes every row concurrently and reports all failures
// joined into one error.
func (s *Storage) RepositionLists(ctx context.Context, boardID int64, rows []domain.ListPosition) error {
	return s.forEachRow(ctx, len(rows), func(ctx context.Context, i int) error {
		pos := rows[i].Position
		upd := listUpdate{Entity: Entity{PartitionKey: key(boardID), RowKey: key(rows[i].ID)}, Position: &pos}
		if err := mergeEntity(ctx, s.listTable, upd); err != nil {
			return fmt.Errorf("list %d: %w", rows[i].ID, err)
		}
		return nil
	})
}

// CreateCard stores a new card. A nil position appends it after the list's
// last card.
func (s *Storage) CreateCard(ctx context.Context, boardID int64, in domain.NewCard) (domain.Card, error) {
	pos := 0
	if in.Position != nil {
		pos = *in.Position
	} else {
		cards, err := s.fetchCards(ctx, boardID, listFilter(in.ListID))
		if err != nil {
			return domain.Card{}, err
		}
		pos = ordering.NextCardPosition(cards)
	}
	id, err := s.ids.Next(ctx)
	if err != nil {
		return domain.Card{}, err
	}
	c := domain.Card{
		ID:          id,
		Content:     in.Content,
		Description: in.Description,
		Position:    pos,
		ListID:      in.ListID,
		CreatedAt:   s.now().UTC(),
		CreatedBy:   in.CreatedBy,
	}
	if err := addEntity(ctx, s.cardTable, newCardEntity(boardID, c)); err != nil {
		return domain.Card{}, err
	}
	return c, nil
}

func (s *Storage) getCard(ctx context.Context, boardID, id int64) (domain.Card, error) {
	ent, err := getEntity[cardEntity](ctx, s.cardTable, key(boardID), key(id))
	if err != nil {
		return domain.Card{}, err
	}
	return ent.toDomain()
}

// UpdateCard merges the given card fields.
func (s *Storage) UpdateCard(ctx context.Context, boardID, id int64, patch domain.CardPatch) (domain.Card, error) {
	upd := cardUpdate{
		Entity:      Entity{PartitionKey: key(boardID), RowKey: key(id)},
		Content:     patch.Content,
		Description: patch.Description,
		Position:    patch.Position,
		ListID:      patch.ListID,
	}
	if upd.ListID != nil {
		t := EdmInt64
		upd.ListIDType = &t
	}
	if err := mergeEntity(ctx, s.cardTable, upd); err != nil {
		return domain.Card{}, err
	}
	return s.getCard(ctx, boardID, id)
}

// MoveCard sets a card's list and position.
func (s *Storage) MoveCard(ctx context.Context, boardID, id, listID int64, position int) (domain.Card, error) {
	return s.UpdateCard(ctx, boardID, id, domain.CardPatch{Position: &position, ListID: &listID})
}

// DeleteCard removes a card and its comments.
func (s *Storage) DeleteCard(ctx context.Context, boardID, id int64) error {
	comments, err := s.ListComments(ctx, id)
	if err != nil {
		return err
	}
	for _, cm := range comments {
		if err := s.DeleteComment(ctx, id, cm.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return deleteEntity(ctx, s.cardTable, key(boardID), key(id))
}

// RepositionCards writes every row concurrently and reports all failures
// joined into one error.
func (s *Storage) RepositionCards(ctx context.Context, boardID int64, rows []domain.CardPosition) error {
	return s.forEachRow(ctx, len(rows), func(ctx context.Context, i int) error {
		pos := rows[i].Position
		listID := rows[i].ListID
		t := EdmInt64
		upd := cardUpdate{
			Entity:     Entity{PartitionKey: key(boardID), RowKey: key(rows[i].ID)},
			Position:   &pos,
			ListID:     &listID,
			ListIDType: &t,
		}
		if err := mergeEntity(ctx, s.cardTable, upd); err != nil {
			return fmt.Errorf("card %d: %w", rows[i].ID, err)
		}
		return nil
	})
}

// forEachRow runs fn for every row index with bounded concurrency.
func (s *Storage) forEachRow(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	limit := s.repositionConcurrency
	if limit <= 0 {
		limit = defaultRepositionConcurrency
	}
	sem := make(chan struct{}, limit)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = fn(ctx, i)
		}(i)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// ListComments returns a card's comments, oldest first.
func (s *Storage) ListComments(ctx context.Context, cardID int64) ([]domain.Comment, error) {
	ents, err := queryEntities[commentEntity](ctx, s.commentTable, partitionFilter(key(cardID)))
	if err != nil {
		return nil, err
	}
	comments := make([]domain.Comment, 0, len(ents))
	for _, e := range ents {
		c, err := e.toDomain()
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	sort.SliceStable(comments, func(i, j int) bool {
		if comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].ID < comments[j].ID
		}
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
	return comments, nil
}

// AddComment stores a new comment.
func (s *Storage) AddComment(ctx context.Context, in domain.NewComment) (domain.Comment, error) {
	id, err := s.ids.Next(ctx)
	if err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{ID: id, CardID: in.CardID, UserID: in.UserID, Content: in.Content, CreatedAt: s.now().UTC()}
	if err := addEntity(ctx, s.commentTable, newCommentEntity(c)); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// DeleteComment removes a comment.
func (s *Storage) DeleteComment(ctx context.Context, cardID, id int64) error {
	return deleteEntity(ctx, s.commentTable, key(cardID), key(id))
}
