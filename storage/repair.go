package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"kanban-api/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// RepairQueue records reposition rows that failed to persist on an Azure
// queue so a worker can replay them.
type RepairQueue struct {
	queue queueClient
	now   func() time.Time
}

// NewRepairQueue connects to the named queue.
func NewRepairQueue(connStr, queueName string) (*RepairQueue, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &RepairQueue{queue: q, now: time.Now}, nil
}

// EnqueueRepair stores the request as one queue message.
func (q *RepairQueue) EnqueueRepair(ctx context.Context, req domain.RepairRequest) error {
	if req.Timestamp == 0 {
		req.Timestamp = q.now().UnixMilli()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}
