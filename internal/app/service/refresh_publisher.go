package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adaptivelab/bitly-historics/internal/app/model"
	natsclient "github.com/adaptivelab/bitly-historics/internal/infra/nats"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// RefreshStreamConfig describes the JetStream stream carrying refresh events.
func RefreshStreamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:     model.RefreshStreamName,
		Subjects: []string{model.RefreshStreamSubject},
		MaxBytes: model.RefreshStreamMaxBytes,
	}
}

// RefreshPublisher publishes refresh events to NATS JetStream
type RefreshPublisher struct {
	js nats.JetStreamContext
}

// NewRefreshPublisher makes sure the stream exists and returns a publisher for it.
func NewRefreshPublisher(js nats.JetStreamContext) (*RefreshPublisher, error) {
	if err := natsclient.EnsureStream(js, RefreshStreamConfig()); err != nil {
		return nil, err
	}
	return &RefreshPublisher{js: js}, nil
}

// Publish publishes a refresh event to the stream
func (p *RefreshPublisher) Publish(ctx context.Context, event model.RefreshEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode refresh event: %w", err)
	}

	if _, err := p.js.Publish(model.RefreshStreamSubject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish refresh event: %w", err)
	}
	return nil
}
