package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/qurrota/apiserver/internal/mq"
	"github.com/qurrota/apiserver/types"
	"go.uber.org/zap"
)

// Worker consumes queued notifications and sends them.
type Worker struct {
	backend mq.Backend
	channel string
	sender  Sender
	timeout time.Duration
	log     *zap.Logger
}

func NewWorker(backend mq.Backend, channel string, sender Sender, timeout time.Duration, log *zap.Logger) *Worker {
	return &Worker{backend: backend, channel: channel, sender: sender, timeout: timeout, log: log.Named("worker")}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("consuming notifications", zap.String("channel", w.channel))
	return w.backend.Subscribe(ctx, w.channel, w.Handle)
}

// Handle processes one message. Malformed payloads are dropped; send
// failures are returned so the broker redelivers.
func (w *Worker) Handle(ctx context.Context, msg mq.Message) error {
	var n types.Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		w.log.Error("dropping malformed notification", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if n.To == "" || n.Code == "" {
		w.log.Error("dropping incomplete notification",
			zap.String("message_id", msg.ID),
			zap.String("kind", string(n.Kind)),
		)
		return nil
	}
	if _, ok := contents[n.Kind]; !ok {
		w.log.Error("dropping notification of unknown kind",
			zap.String("message_id", msg.ID),
			zap.String("kind", string(n.Kind)),
		)
		return nil
	}

	ctx, cancel := withTimeout(ctx, w.timeout)
	defer cancel()
	return deliver(ctx, w.sender, n, w.log)
}
