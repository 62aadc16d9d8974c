package main

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

type repairMessage struct {
	ID           string
	PopReceipt   string
	Text         string
	DequeueCount int64
}

type repairQueue interface {
	Receive(ctx context.Context) ([]repairMessage, error)
	Delete(ctx context.Context, m repairMessage) error
}

// azureQueue reads repair requests from an Azure storage queue.
type azureQueue struct {
	client     *azqueue.QueueClient
	batch      int32
	visibility int32
}

func (q *azureQueue) Receive(ctx context.Context) ([]repairMessage, error) {
	resp, err := q.client.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  &q.batch,
		VisibilityTimeout: &q.visibility,
	})
	if err != nil {
		return nil, err
	}
	out := make([]repairMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		msg := repairMessage{ID: *m.MessageID, PopReceipt: *m.PopReceipt}
		if m.MessageText != nil {
			msg.Text = *m.MessageText
		}
		if m.DequeueCount != nil {
			msg.DequeueCount = *m.DequeueCount
		}
		out = append(out, msg)
	}
	return out, nil
}

func (q *azureQueue) Delete(ctx context.Context, m repairMessage) error {
	_, err := q.client.DeleteMessage(ctx, m.ID, m.PopReceipt, nil)
	return err
}

type worker struct {
	queue       repairQueue
	gw          replayer
	pub         changePublisher
	logger      *log.Logger
	idle        time.Duration
	maxAttempts int64
	maxAge      time.Duration
	now         func() time.Time
}

// run polls the queue until ctx is done.
func (w *worker) run(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.poll(ctx)
		if err != nil {
			w.logger.WithError(err).Warn("receive repair requests")
		}
		if err != nil || n == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(w.idle):
			}
		}
	}
}

// poll handles one batch of messages and returns how many were received.
func (w *worker) poll(ctx context.Context) (int, error) {
	msgs, err := w.queue.Receive(ctx)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		w.handle(ctx, m)
	}
	return len(msgs), nil
}

func (w *worker) handle(ctx context.Context, m repairMessage) {
	out, err := processRepair(ctx, w.gw, w.pub, m.Text, w.maxAge, w.now())
	entry := w.logger.WithFields(log.Fields{
		"message":   m.ID,
		"board":     out.Request.BoardID,
		"container": out.Request.Container,
		"attempt":   m.DequeueCount,
	})
	if len(out.Skipped) > 0 {
		entry = entry.WithField("skipped", out.Skipped)
	}
	switch {
	case err == nil:
		entry.Info("repair applied")
	case errors.Is(err, errMalformedRepair), errors.Is(err, errStaleRepair):
		entry.WithError(err).Warn("repair discarded")
	case m.DequeueCount >= w.maxAttempts:
		entry.WithError(err).Error("repair abandoned")
	default:
		// left on the queue; it becomes visible again after the timeout
		entry.WithError(err).Warn("repair failed")
		return
	}
	if derr := w.queue.Delete(ctx, m); derr != nil {
		entry.WithError(derr).Error("delete repair message")
	}
}
