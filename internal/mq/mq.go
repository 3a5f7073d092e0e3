package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qurrota/apiserver/config"
)

// AttrOrderingKey names the attribute that groups messages which must be
// delivered in publish order. Backends that cannot order ignore it.
const AttrOrderingKey = "ordering-key"

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// New connects to the broker named by transport (rabbitmq or pubsub).
func New(ctx context.Context, transport string, cfg config.Config) (Backend, error) {
	switch transport {
	case config.NotifyRabbitMQ:
		return NewRabbitMQClient(cfg.RabbitMQ)
	case config.NotifyPubSub:
		return NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unsupported queue transport %q", transport)
	}
}

// PublishJSON encodes v as JSON and publishes it with a content-type attribute.
func PublishJSON(ctx context.Context, b Backend, channel string, v any, attrs map[string]string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	merged := map[string]string{"content-type": "application/json"}
	for k, val := range attrs {
		merged[k] = val
	}
	return b.Publish(ctx, channel, data, merged)
}
