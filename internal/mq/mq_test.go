package mq

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	channel string
	data    []byte
	attrs   map[string]string
}

func (r *recordingBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	r.channel, r.data, r.attrs = channel, data, attrs
	return "msg-1", nil
}

func (r *recordingBackend) Subscribe(context.Context, string, Handler) error { return nil }

func (r *recordingBackend) Close() error { return nil }

func TestPublishJSON(t *testing.T) {
	t.Parallel()

	backend := &recordingBackend{}
	id, err := PublishJSON(context.Background(), backend, "account.notifications",
		map[string]string{"kind": "verification"}, map[string]string{"kind": "verification"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "account.notifications", backend.channel)
	assert.Equal(t, "application/json", backend.attrs["content-type"])
	assert.Equal(t, "verification", backend.attrs["kind"])

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(backend.data, &decoded))
	assert.Equal(t, "verification", decoded["kind"])
}

func TestPublishJSONEncodeError(t *testing.T) {
	t.Parallel()

	_, err := PublishJSON(context.Background(), &recordingBackend{}, "c", make(chan int), nil)
	assert.Error(t, err)
}

func TestHeadersToAttributes(t *testing.T) {
	t.Parallel()

	assert.Nil(t, headersToAttributes(nil))
	attrs := headersToAttributes(map[string]interface{}{"a": "x", "b": []byte("y"), "c": 3})
	assert.Equal(t, map[string]string{"a": "x", "b": "y", "c": "3"}, attrs)
}

func TestQueueArgsDeadLetter(t *testing.T) {
	t.Parallel()

	args := queueArgs("account.notifications")
	assert.Equal(t, "", args["x-dead-letter-exchange"])
	assert.Equal(t, "account.notifications.dead", args["x-dead-letter-routing-key"])
}

func TestNewPublishing(t *testing.T) {
	t.Parallel()

	msg := newPublishing([]byte("{}"), map[string]string{"content-type": "application/json", "kind": "verification"}, true)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Len(t, msg.MessageId, 32)
	assert.Equal(t, "verification", msg.Headers["kind"])
	assert.False(t, msg.Timestamp.IsZero())

	transient := newPublishing(nil, nil, false)
	assert.Equal(t, "application/octet-stream", transient.ContentType)
	assert.Equal(t, amqp.Transient, transient.DeliveryMode)
	assert.NotEqual(t, msg.MessageId, transient.MessageId)
}
