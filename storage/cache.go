package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

type backend interface {
	ListBoards(ctx context.Context, orgID string) ([]domain.Board, error)
	CreateBoard(ctx context.Context, in domain.NewBoard) (domain.Board, error)
	GetBoard(ctx context.Context, boardID int64) (domain.Board, error)
	UpdateBoard(ctx context.Context, boardID int64, patch domain.BoardPatch) (domain.Board, error)

	ListLists(ctx context.Context, boardID int64) ([]domain.List, error)
	CreateList(ctx context.Context, in domain.NewList) (domain.List, error)
	UpdateList(ctx context.Context, boardID, id int64, patch domain.ListPatch) (domain.List, error)
	DeleteList(ctx context.Context, boardID, id int64) error
	RepositionLists(ctx context.Context, boardID int64, rows []domain.ListPosition) error
	ReplayLists(ctx context.Context, boardID int64, rows []domain.ListPosition, since time.Time) ([]int64, error)

	CreateCard(ctx context.Context, boardID int64, in domain.NewCard) (domain.Card, error)
	UpdateCard(ctx context.Context, boardID, id int64, patch domain.CardPatch) (domain.Card, error)
	DeleteCard(ctx context.Context, boardID, id int64) error
	MoveCard(ctx context.Context, boardID, id, listID int64, position int) (domain.Card, error)
	RepositionCards(ctx context.Context, boardID int64, rows []domain.CardPosition) error
	ReplayCards(ctx context.Context, boardID int64, rows []domain.CardPosition, since time.Time) ([]int64, error)

	ListComments(ctx context.Context, cardID int64) ([]domain.Comment, error)
	AddComment(ctx context.Context, in domain.NewComment) (domain.Comment, error)
	DeleteComment(ctx context.Context, cardID, id int64) error
}

// Cache wraps a gateway with Redis-backed caching for read operations.
// Every write evicts the keys it may have changed, including writes that
// failed part way through a batch.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching gateway using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListBoards(ctx context.Context, orgID string) ([]domain.Board, error) {
	return cached(ctx, c, boardsCacheKey(orgID), func() ([]domain.Board, error) {
		return c.base.ListBoards(ctx, orgID)
	})
}

func (c *Cache) CreateBoard(ctx context.Context, in domain.NewBoard) (domain.Board, error) {
	b, err := c.base.CreateBoard(ctx, in)
	if err != nil {
		return domain.Board{}, err
	}
	c.evict(ctx, boardsCacheKey(in.OrganizationID))
	return b, nil
}

func (c *Cache) GetBoard(ctx context.Context, boardID int64) (domain.Board, error) {
	return cached(ctx, c, boardCacheKey(boardID), func() (domain.Board, error) {
		return c.base.GetBoard(ctx, boardID)
	})
}

func (c *Cache) UpdateBoard(ctx context.Context, boardID int64, patch domain.BoardPatch) (domain.Board, error) {
	b, err := c.base.UpdateBoard(ctx, boardID, patch)
	if err != nil {
		c.evict(ctx, boardCacheKey(boardID))
		return domain.Board{}, err
	}
	c.evict(ctx, boardCacheKey(boardID), boardsCacheKey(b.OrganizationID))
	return b, nil
}

func (c *Cache) ListLists(ctx context.Context, boardID int64) ([]domain.List, error) {
	return cached(ctx, c, listsCacheKey(boardID), func() ([]domain.List, error) {
		return c.base.ListLists(ctx, boardID)
	})
}

func (c *Cache) CreateList(ctx context.Context, in domain.NewList) (domain.List, error) {
	defer c.evict(ctx, listsCacheKey(in.BoardID))
	return c.base.CreateList(ctx, in)
}

func (c *Cache) UpdateList(ctx context.Context, boardID, id int64, patch domain.ListPatch) (domain.List, error) {
	defer c.evict(ctx, listsCacheKey(boardID))
	return c.base.UpdateList(ctx, boardID, id, patch)
}

func (c *Cache) DeleteList(ctx context.Context, boardID, id int64) error {
	defer c.evict(ctx, listsCacheKey(boardID))
	return c.base.DeleteList(ctx, boardID, id)
}

func (c *Cache) RepositionLists(ctx context.Context, boardID int64, rows []domain.ListPosition) error {
	defer c.evict(ctx, listsCacheKey(boardID))
	return c.base.RepositionLists(ctx, boardID, rows)
}

func (c *Cache) ReplayLists(ctx context.Context, boardID int64, rows []domain.ListPosition, since time.Time) ([]int64, error) {
	defer c.evict(ctx, listsCacheKey(boardID))
	return c.base.ReplayLists(ctx, boardID, rows, since)
}

func (c *Cache) CreateCard(ctx context.Context, boardID int64, in domain.NewCard) (domain.Card, error) {
	defer c.evict(ctx, listsCacheKey(boardID))
	return c.base.CreateCard(ctx, boardID, in)
}

func (c *Cache) UpdateCard(ctx context.Context, boardID, id int64, patch domain.CardPatch) (domain.Card, error) {
	defer c.evict(ctx, listsCacheKey(boardID))
	return c.base.UpdateCard(ctx, boardID, id, patch)
}

func (c *Cache) DeleteCard(ctx context.Context, boardID, id int64) error {
	defer c.evict(ctx, listsCacheKey(boardID), commentsCacheKey(id))
	return c.base.DeleteCard(ctx, boardID, id)
}

func (c *Cache) MoveCard(ctx context.Context, boardID, id, listID int64, position int) (domain.Card, error) {
	defer c.evict(ctx, listsCacheKey(boardID))
	return c.base.MoveCard(ctx, boardID, id, listID, position)
}

func (c *Cache) RepositionCards(ctx context.Context, boardID int64, rows []domain.CardPosition) error {
	defer c.evict(ctx, listsCacheKey(boardID))
	return c.base.RepositionCards(ctx, boardID, rows)
}

func (c *Cache) ReplayCards(ctx context.Context, boardID int64, rows []domain.CardPosition, since time.Time) ([]int64, error) {
	defer c.evict(ctx, listsCacheKey(boardID))
	return c.base.ReplayCards(ctx, boardID, rows, since)
}

func (c *Cache) ListComments(ctx context.Context, cardID int64) ([]domain.Comment, error) {
	return cached(ctx, c, commentsCacheKey(cardID), func() ([]domain.Comment, error) {
		return c.base.ListComments(ctx, cardID)
	})
}

func (c *Cache) AddComment(ctx context.Context, in domain.NewComment) (domain.Comment, error) {
	defer c.evict(ctx, commentsCacheKey(in.CardID))
	return c.base.AddComment(ctx, in)
}

func (c *Cache) DeleteComment(ctx context.Context, cardID, id int64) error {
	defer c.evict(ctx, commentsCacheKey(cardID))
	return c.base.DeleteComment(ctx, cardID, id)
}

func cached[T any](ctx context.Context, c *Cache, key string, fetch func() (T, error)) (T, error) {
	if v, ok := load[T](ctx, c, key); ok {
		return v, nil
	}
	v, err := fetch()
	if err != nil {
		return v, err
	}
	c.store(ctx, key, v)
	return v, nil
}

func load[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var v T
	if c.redis == nil {
		return v, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return v, false
	}
	return v, true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func boardCacheKey(boardID int64) string {
	return "board:" + strconv.FormatInt(boardID, 10)
}

func boardsCacheKey(orgID string) string {
	return "boards:" + orgID
}

func listsCacheKey(boardID int64) string {
	return "lists:" + strconv.FormatInt(boardID, 10)
}

func commentsCacheKey(cardID int64) string {
	return "comments:" + strconv.FormatInt(cardID, 10)
}
