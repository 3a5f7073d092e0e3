package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/qurrota/apiserver/internal/metrics"
	"github.com/qurrota/apiserver/internal/mq"
	"github.com/qurrota/apiserver/types"
	"go.uber.org/zap"
)

// Dispatcher hands notifications off for delivery without blocking the
// caller. Delivery failures are logged, never returned.
type Dispatcher interface {
	Dispatch(ctx context.Context, n types.Notification)
	Close() error
}

// DirectDispatcher sends each notification on its own goroutine.
type DirectDispatcher struct {
	sender  Sender
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewDirectDispatcher(sender Sender, timeout time.Duration, log *zap.Logger) *DirectDispatcher {
	return &DirectDispatcher{sender: sender, timeout: timeout, log: log.Named("notify")}
}

// Dispatch detaches from the request context so a finished request does not
// cancel the send.
func (d *DirectDispatcher) Dispatch(ctx context.Context, n types.Notification) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := withTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		_ = deliver(ctx, d.sender, n, d.log)
	}()
}

// Close waits for in-flight sends.
func (d *DirectDispatcher) Close() error {
	d.wg.Wait()
	return nil
}

// QueueDispatcher publishes notifications for a Worker to send.
type QueueDispatcher struct {
	backend mq.Backend
	channel string
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewQueueDispatcher(backend mq.Backend, channel string, timeout time.Duration, log *zap.Logger) *QueueDispatcher {
	return &QueueDispatcher{backend: backend, channel: channel, timeout: timeout, log: log.Named("notify")}
}

func (q *QueueDispatcher) Dispatch(ctx context.Context, n types.Notification) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ctx, cancel := withTimeout(context.WithoutCancel(ctx), q.timeout)
		defer cancel()

		id, err := mq.PublishJSON(ctx, q.backend, q.channel, n, map[string]string{
			"kind":             string(n.Kind),
			mq.AttrOrderingKey: n.To,
		})
		if err != nil {
			metrics.RecordNotification(string(n.Kind), metrics.OutcomeFailed)
			q.log.Error("failed to queue notification",
				zap.String("kind", string(n.Kind)),
				zap.String("email", n.To),
				zap.Error(err),
			)
			return
		}
		metrics.RecordNotification(string(n.Kind), metrics.OutcomeQueued)
		q.log.Debug("notification queued", zap.String("kind", string(n.Kind)), zap.String("message_id", id))
	}()
}

// Close waits for in-flight publishes and closes the broker connection.
func (q *QueueDispatcher) Close() error {
	q.wg.Wait()
	return q.backend.Close()
}

// deliver sends n and records the outcome. ErrDisabled counts as skipped
// and is not reported as a failure.
func deliver(ctx context.Context, sender Sender, n types.Notification, log *zap.Logger) error {
	err := sender.Send(ctx, n)
	switch {
	case err == nil:
		metrics.RecordNotification(string(n.Kind), metrics.OutcomeSent)
		log.Info("notification sent", zap.String("kind", string(n.Kind)), zap.String("email", n.To))
		return nil
	case errors.Is(err, ErrDisabled):
		metrics.RecordNotification(string(n.Kind), metrics.OutcomeSkipped)
		log.Warn("email credentials not configured, skipping notification",
			zap.String("kind", string(n.Kind)),
			zap.String("email", n.To),
		)
		return nil
	default:
		metrics.RecordNotification(string(n.Kind), metrics.OutcomeFailed)
		log.Error("failed to send notification",
			zap.String("kind", string(n.Kind)),
			zap.String("email", n.To),
			zap.Error(err),
		)
		return err
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
