// Package notify fans board change events out between API instances over
// Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "board-updates"

// Publisher publishes board change events stamped with this instance's
// origin so that the instance can ignore its own events.
type Publisher struct {
	client  *redis.Client
	channel string
	origin  string
}

// NewPublisher creates a publisher with a fresh instance origin.
func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel, origin: uuid.NewString()}
}

// Origin identifies this instance in published events.
func (p *Publisher) Origin() string { return p.origin }

// Channel returns the pub/sub channel events are published to.
func (p *Publisher) Channel() string { return p.channel }

func (p *Publisher) PublishChange(ctx context.Context, ev domain.ChangeEvent) error {
	ev.Origin = p.origin
	if ev.Time == 0 {
		ev.Time = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}

// Handler receives change events published by other instances.
type Handler func(ctx context.Context, ev domain.ChangeEvent)

// Subscribe listens on the publisher's channel until ctx is done and hands
// every event from another origin to handle. A closed subscription is
// reopened after a short pause.
func (p *Publisher) Subscribe(ctx context.Context, logger *log.Logger, handle Handler) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	for {
		sub := p.client.Subscribe(ctx, p.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev domain.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.WithError(err).WithField("channel", p.channel).Error("unable to parse board change")
					continue
				}
				if ev.Origin == p.origin {
					continue
				}
				logger.WithFields(log.Fields{"board": ev.BoardID, "type": ev.Type, "origin": ev.Origin}).Debug("remote board change")
				handle(ctx, ev)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.WithField("channel", p.channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
