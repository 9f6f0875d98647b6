package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adaptivelab/bitly-historics/internal/app/model"
	apprepository "github.com/adaptivelab/bitly-historics/internal/app/repository"
	natsclient "github.com/adaptivelab/bitly-historics/internal/infra/nats"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	consumerBatchSize    = 10
	consumerMaxWait      = 5 * time.Second
	consumerErrorBackoff = time.Second
)

// RefreshConsumer stores refresh events from NATS JetStream for auditing
type RefreshConsumer struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	repo   apprepository.RefreshEventRepository
}

// NewRefreshConsumer creates a new refresh event consumer
func NewRefreshConsumer(js nats.JetStreamContext, logger *zap.Logger, repo apprepository.RefreshEventRepository) *RefreshConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshConsumer{js: js, logger: logger, repo: repo}
}

// Start sets up the stream and durable consumer and consumes until ctx is done.
func (c *RefreshConsumer) Start(ctx context.Context) error {
	if err := natsclient.EnsureStream(c.js, RefreshStreamConfig()); err != nil {
		return err
	}

	if _, err := c.js.ConsumerInfo(model.RefreshStreamName, model.RefreshConsumerName); err != nil {
		_, err = c.js.AddConsumer(model.RefreshStreamName, &nats.ConsumerConfig{
			Durable:   model.RefreshConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.RefreshStreamSubject, model.RefreshConsumerName)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go c.consume(ctx, sub)
	return nil
}

func (c *RefreshConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !subscriptionGone(err) {
			c.logger.Warn("failed to unsubscribe refresh consumer", zap.Error(err))
		}
	}()

	for {
		if ctx.Err() != nil {
			c.logger.Info("refresh consumer stopped")
			return
		}

		msgs, err := c.fetch(ctx, sub)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			continue
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			continue
		case subscriptionGone(err):
			c.logger.Warn("refresh consumer stopped, connection closed", zap.Error(err))
			return
		default:
			c.logger.Error("failed to fetch messages", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(consumerErrorBackoff):
			}
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

// fetch pulls the next batch, returning early when ctx is cancelled.
func (c *RefreshConsumer) fetch(ctx context.Context, sub *nats.Subscription) ([]*nats.Msg, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, consumerMaxWait)
	defer cancel()
	return sub.Fetch(consumerBatchSize, nats.Context(fetchCtx))
}

// subscriptionGone reports errors after which Fetch can never succeed again.
func subscriptionGone(err error) bool {
	return errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription)
}

func (c *RefreshConsumer) handle(ctx context.Context, msg *nats.Msg) {
	var event model.RefreshEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.logger.Error("failed to unmarshal refresh event", zap.Error(err))
		// Malformed payloads are never going to decode; drop them.
		_ = msg.Term()
		return
	}

	if err := c.repo.Create(ctx, &event); err != nil {
		c.logger.Error("failed to store refresh event",
			zap.String("id", event.ID),
			zap.String("hash", event.Hash),
			zap.Error(err))
		_ = msg.Nak()
		return
	}

	c.logger.Debug("refresh event stored",
		zap.String("id", event.ID),
		zap.String("hash", event.Hash),
		zap.String("outcome", event.Outcome),
		zap.Time("timestamp", event.Timestamp),
	)
	_ = msg.Ack()
}
