package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/qurrota/apiserver/config"
	"github.com/qurrota/apiserver/internal/mq"
	"github.com/qurrota/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sample(kind types.NotificationKind) types.Notification {
	return types.Notification{Kind: kind, To: "a@x.com", Name: "Ann", Code: "123456", ExpiresIn: 15 * time.Minute}
}

func TestRenderSubjects(t *testing.T) {
	t.Parallel()

	cases := map[types.NotificationKind]string{
		types.NotificationVerification:       "Verify your Qurrota account",
		types.NotificationVerificationResend: "Your Qurrota verification code",
		types.NotificationPasswordReset:      "Reset your Qurrota password",
	}
	for kind, subject := range cases {
		msg, err := Render(sample(kind))
		require.NoError(t, err)
		assert.Equal(t, subject, msg.Subject)
		assert.Contains(t, msg.HTML, "123456")
		assert.Contains(t, msg.HTML, "15 minutes")
		assert.Contains(t, msg.Text, "123456")
	}
}

func TestRenderEscapesName(t *testing.T) {
	t.Parallel()

	n := sample(types.NotificationVerification)
	n.Name = "<script>x</script>"
	msg, err := Render(n)
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
}

func TestRenderUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := Render(sample("welcome"))
	assert.Error(t, err)
}

func TestSMTPMailerDisabledWithoutCredentials(t *testing.T) {
	t.Parallel()

	m := NewSMTPMailer(config.EmailConfig{Host: "smtp.example.com", Port: 587}, time.Second)
	err := m.Send(context.Background(), sample(types.NotificationVerification))
	assert.ErrorIs(t, err, ErrDisabled)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []types.Notification
	err  error
}

func (r *recordingSender) Send(_ context.Context, n types.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestDirectDispatcherSurvivesCancelledRequest(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	d := NewDirectDispatcher(sender, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, sample(types.NotificationVerification))
	d.Dispatch(ctx, sample(types.NotificationPasswordReset))
	require.NoError(t, d.Close())

	assert.Equal(t, 2, sender.count())
}

func TestDirectDispatcherSwallowsErrors(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{err: errors.New("smtp down")}
	d := NewDirectDispatcher(sender, time.Second, zap.NewNop())
	d.Dispatch(context.Background(), sample(types.NotificationVerification))
	require.NoError(t, d.Close())
	assert.Equal(t, 1, sender.count())
}

type memoryBackend struct {
	mu        sync.Mutex
	published [][]byte
	attrs     []map[string]string
	closed    bool
	err       error
}

func (m *memoryBackend) Publish(_ context.Context, _ string, data []byte, attrs map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.published = append(m.published, data)
	m.attrs = append(m.attrs, attrs)
	return "id", nil
}

func (m *memoryBackend) Subscribe(ctx context.Context, _ string, handler mq.Handler) error {
	m.mu.Lock()
	msgs := append([][]byte(nil), m.published...)
	m.mu.Unlock()
	for i, data := range msgs {
		if err := handler(ctx, mq.Message{ID: string(rune('a' + i)), Data: data}); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryBackend) Close() error {
	m.closed = true
	return nil
}

func TestQueueDispatcherAndWorker(t *testing.T) {
	t.Parallel()

	backend := &memoryBackend{}
	q := NewQueueDispatcher(backend, "account.notifications", time.Second, zap.NewNop())
	q.Dispatch(context.Background(), sample(types.NotificationPasswordReset))
	q.wg.Wait()

	require.Len(t, backend.published, 1)
	assert.Equal(t, "password_reset", backend.attrs[0]["kind"])
	assert.Equal(t, sample(types.NotificationPasswordReset).To, backend.attrs[0][mq.AttrOrderingKey])

	var decoded types.Notification
	require.NoError(t, json.Unmarshal(backend.published[0], &decoded))
	assert.Equal(t, sample(types.NotificationPasswordReset), decoded)

	sender := &recordingSender{}
	w := NewWorker(backend, "account.notifications", sender, time.Second, zap.NewNop())
	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 1, sender.count())

	require.NoError(t, q.Close())
	assert.True(t, backend.closed)
}

func TestQueueDispatcherSwallowsPublishErrors(t *testing.T) {
	t.Parallel()

	backend := &memoryBackend{err: errors.New("broker down")}
	q := NewQueueDispatcher(backend, "c", time.Second, zap.NewNop())
	q.Dispatch(context.Background(), sample(types.NotificationVerification))
	require.NoError(t, q.Close())
	assert.Empty(t, backend.published)
}

func TestWorkerHandle(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	w := NewWorker(&memoryBackend{}, "c", sender, time.Second, zap.NewNop())
	ctx := context.Background()

	assert.NoError(t, w.Handle(ctx, mq.Message{ID: "1", Data: []byte("{not json")}))
	assert.NoError(t, w.Handle(ctx, mq.Message{ID: "2", Data: []byte(`{"kind":"verification"}`)}))
	assert.NoError(t, w.Handle(ctx, mq.Message{ID: "3", Data: []byte(`{"kind":"welcome","to":"a@x.com","code":"1"}`)}))
	assert.Equal(t, 0, sender.count())

	payload, err := json.Marshal(sample(types.NotificationVerificationResend))
	require.NoError(t, err)
	assert.NoError(t, w.Handle(ctx, mq.Message{ID: "4", Data: payload}))
	assert.Equal(t, 1, sender.count())

	sender.err = errors.New("smtp down")
	assert.Error(t, w.Handle(ctx, mq.Message{ID: "5", Data: payload}))

	sender.err = ErrDisabled
	assert.NoError(t, w.Handle(ctx, mq.Message{ID: "6", Data: payload}))
}
