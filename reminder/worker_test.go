package reminder_test

import (
	"context"
	"testing"
	"time"

	"github.com/renewalhq/crt/mail"
	"github.com/renewalhq/crt/reminder"
	"github.com/renewalhq/crt/spec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConsumer struct {
	ch chan *spec.ReminderRequest
}

func (c *fakeConsumer) Close() {}

func (c *fakeConsumer) ReceiveReminderRequest(ctx context.Context) (<-chan *spec.ReminderRequest, error) {
	return c.ch, nil
}

type nopMailer struct{}

func (m *nopMailer) Send(ctx context.Context, e mail.Email) error {
	return nil
}

func newIdleWorker(t *testing.T, consumer *fakeConsumer) *reminder.Worker {
	t.Helper()
	w, err := reminder.NewWorker(reminder.WorkerOptions{
		Consumer: consumer,
		ReminderManager: &reminder.Manager{
			ManagerOptions: reminder.ManagerOptions{
				Logger: zap.NewNop(),
			},
		},
		Mailer: &nopMailer{},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	return w
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := newIdleWorker(t, &fakeConsumer{ch: make(chan *spec.ReminderRequest)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorkerRunStopsOnClosedChannel(t *testing.T) {
	t.Parallel()

	consumer := &fakeConsumer{ch: make(chan *spec.ReminderRequest)}
	worker := newIdleWorker(t, consumer)

	done := make(chan error, 1)
	go func() {
		done <- worker.Run(context.Background())
	}()

	close(consumer.ch)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop when the broker channel closed")
	}
}
