package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"kanban-api/domain"
)

// rowStamp is the server-maintained modification time of an entity.
type rowStamp struct {
	Timestamp time.Time `json:"Timestamp"`
}

// ReplayLists writes list positions that failed to persist earlier. A row
// is skipped when its entity is gone or was modified after since, and each
// write is conditional on the ETag read, so a newer position always wins.
// The ids of skipped rows are returned.
func (s *Storage) ReplayLists(ctx context.Context, boardID int64, rows []domain.ListPosition, since time.Time) ([]int64, error) {
	return s.replay(ctx, len(rows), func(ctx context.Context, i int) (bool, error) {
		pos := rows[i].Position
		upd := listUpdate{Entity: Entity{PartitionKey: key(boardID), RowKey: key(rows[i].ID)}, Position: &pos}
		skipped, err := replayEntity(ctx, s.listTable, upd.Entity, upd, since)
		if err != nil {
			return false, fmt.Errorf("list %d: %w", rows[i].ID, err)
		}
		return skipped, nil
	}, func(i int) int64 { return rows[i].ID })
}

// ReplayCards is ReplayLists for card rows.
func (s *Storage) ReplayCards(ctx context.Context, boardID int64, rows []domain.CardPosition, since time.Time) ([]int64, error) {
	return s.replay(ctx, len(rows), func(ctx context.Context, i int) (bool, error) {
		pos := rows[i].Position
		listID := rows[i].ListID
		t := EdmInt64
		upd := cardUpdate{
			Entity:     Entity{PartitionKey: key(boardID), RowKey: key(rows[i].ID)},
			Position:   &pos,
			ListID:     &listID,
			ListIDType: &t,
		}
		skipped, err := replayEntity(ctx, s.cardTable, upd.Entity, upd, since)
		if err != nil {
			return false, fmt.Errorf("card %d: %w", rows[i].ID, err)
		}
		return skipped, nil
	}, func(i int) int64 { return rows[i].ID })
}

func (s *Storage) replay(ctx context.Context, n int, fn func(ctx context.Context, i int) (bool, error), id func(i int) int64) ([]int64, error) {
	var (
		mu      sync.Mutex
		skipped []int64
	)
	err := s.forEachRow(ctx, n, func(ctx context.Context, i int) error {
		skip, err := fn(ctx, i)
		if skip {
			mu.Lock()
			skipped = append(skipped, id(i))
			mu.Unlock()
		}
		return err
	})
	return skipped, err
}

// replayEntity merges upd into the entity at ent unless it was deleted or
// modified after since. It reports whether the write was skipped.
func replayEntity(ctx context.Context, table tableClient, ent Entity, upd any, since time.Time) (bool, error) {
	resp, err := table.GetEntity(ctx, ent.PartitionKey, ent.RowKey, nil)
	if err != nil {
		if err = mapErr(err); errors.Is(err, domain.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	var stamp rowStamp
	if err := json.Unmarshal(resp.Value, &stamp); err != nil {
		return false, err
	}
	if stamp.Timestamp.After(since) {
		return true, nil
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return false, err
	}
	etag := resp.ETag
	_, err = table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && (respErr.StatusCode == 412 || respErr.StatusCode == 404) {
		return true, nil
	}
	return false, mapErr(err)
}
