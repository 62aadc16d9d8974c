package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"kanban-api/domain"
)

type fakeQueue struct {
	messages []string
	err      error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestEnqueueRepairStampsTimestamp(t *testing.T) {
	fq := &fakeQueue{}
	q := &RepairQueue{queue: fq, now: func() time.Time { return time.UnixMilli(1700) }}
	req := domain.RepairRequest{
		BoardID:   1,
		Container: "list-2",
		Cards:     []domain.CardPosition{{ID: 10, Position: 1, ListID: 2}},
		Error:     "boom",
	}
	if err := q.EnqueueRepair(context.Background(), req); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(fq.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(fq.messages))
	}
	var got domain.RepairRequest
	if err := json.Unmarshal([]byte(fq.messages[0]), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Timestamp != 1700 || got.Container != "list-2" || len(got.Cards) != 1 {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestEnqueueRepairPropagatesErrors(t *testing.T) {
	q := &RepairQueue{queue: &fakeQueue{err: errors.New("queue down")}, now: time.Now}
	if err := q.EnqueueRepair(context.Background(), domain.RepairRequest{BoardID: 1}); err == nil {
		t.Fatal("expected error")
	}
}
