package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kanban-api/domain"
)

var (
	errMalformedRepair = errors.New("malformed repair request")
	errStaleRepair     = errors.New("stale repair request")
)

// replayer writes positions unless the stored row changed after since.
type replayer interface {
	ReplayLists(ctx context.Context, boardID int64, rows []domain.ListPosition, since time.Time) ([]int64, error)
	ReplayCards(ctx context.Context, boardID int64, rows []domain.CardPosition, since time.Time) ([]int64, error)
}

type changePublisher interface {
	PublishChange(ctx context.Context, ev domain.ChangeEvent) error
}

type repairOutcome struct {
	Request domain.RepairRequest
	// Skipped holds rows left alone because they were deleted or written
	// again after the failed batch.
	Skipped []int64
}

// processRepair replays the rows of one repair request and announces the
// board change so loaded boards are reloaded. Rows modified after the
// request was recorded are skipped so a later reorder is never undone.
// Requests older than maxAge are rejected.
func processRepair(ctx context.Context, gw replayer, pub changePublisher, payload string, maxAge time.Duration, now time.Time) (repairOutcome, error) {
	var out repairOutcome
	req := &out.Request
	if err := json.Unmarshal([]byte(payload), req); err != nil {
		return out, fmt.Errorf("%w: %v", errMalformedRepair, err)
	}
	if req.BoardID <= 0 || (len(req.Cards) == 0 && len(req.Lists) == 0) {
		return out, errMalformedRepair
	}
	since := now
	if req.Timestamp > 0 {
		since = time.UnixMilli(req.Timestamp)
	}
	if maxAge > 0 && now.Sub(since) > maxAge {
		return out, errStaleRepair
	}

	evType := domain.CardsReordered
	written := 0
	if len(req.Lists) > 0 {
		evType = domain.ListsReordered
		skipped, err := gw.ReplayLists(ctx, req.BoardID, req.Lists, since)
		out.Skipped = append(out.Skipped, skipped...)
		if err != nil {
			return out, err
		}
		written += len(req.Lists) - len(skipped)
	}
	if len(req.Cards) > 0 {
		evType = domain.CardsReordered
		skipped, err := gw.ReplayCards(ctx, req.BoardID, req.Cards, since)
		out.Skipped = append(out.Skipped, skipped...)
		if err != nil {
			return out, err
		}
		written += len(req.Cards) - len(skipped)
	}
	if pub != nil && written > 0 {
		if err := pub.PublishChange(ctx, domain.ChangeEvent{BoardID: req.BoardID, Type: evType}); err != nil {
			return out, fmt.Errorf("publish board %d change: %w", req.BoardID, err)
		}
	}
	return out, nil
}
