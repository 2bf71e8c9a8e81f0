// Package pubsub implements the record sink on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/dongwoo46/bottlen/internal/feed"
)

// Sink publishes canonical records to a topic. Downstream consumers are
// expected to be idempotent on (source, link).
type Sink struct {
	publisher *pubsub.Publisher
}

// NewSink creates a Sink for the provided topic publisher.
func NewSink(publisher *pubsub.Publisher) *Sink {
	return &Sink{publisher: publisher}
}

// Store marshals the record to JSON and publishes it.
func (s *Sink) Store(ctx context.Context, rec feed.Record) error {
	if s.publisher == nil {
		return fmt.Errorf("pubsub sink is not configured")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"source": rec.Source,
			"topic":  string(rec.Topic),
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	result := s.publisher.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
