package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/renewalhq/crt/spec"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAcknowledger struct {
	mu       sync.Mutex
	acked    bool
	nacked   bool
	requeued bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = true
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = true
	a.requeued = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) state() (acked, nacked, requeued bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acked, a.nacked, a.requeued
}

func reminderDelivery(t *testing.T, ack amqp.Acknowledger) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(&spec.ReminderRequest{
		ReminderID: "rem-1",
		ContractID: "contract-1",
		Email:      "alice@example.com",
	})
	require.NoError(t, err)
	return amqp.Delivery{
		Acknowledger: ack,
		Body:         body,
	}
}

func TestPumpAcksAfterHandoff(t *testing.T) {
	t.Parallel()

	ack := &fakeAcknowledger{}
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- reminderDelivery(t, ack)

	rChan := make(chan *spec.ReminderRequest)
	go pumpReminderRequests(context.Background(), deliveries, rChan)

	// nothing is acked while the worker hasn't taken the message yet
	time.Sleep(50 * time.Millisecond)
	acked, _, _ := ack.state()
	assert.False(t, acked)

	select {
	case req := <-rChan:
		require.NotNil(t, req)
		assert.Equal(t, "rem-1", req.ReminderID)
	case <-time.After(time.Second):
		t.Fatal("pump never handed the message off")
	}

	close(deliveries)
	for range rChan {
	}
	acked, nacked, _ := ack.state()
	assert.True(t, acked)
	assert.False(t, nacked)
}

func TestPumpRequeuesOnShutdown(t *testing.T) {
	t.Parallel()

	ack := &fakeAcknowledger{}
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- reminderDelivery(t, ack)

	ctx, cancel := context.WithCancel(context.Background())
	rChan := make(chan *spec.ReminderRequest)
	done := make(chan struct{})
	go func() {
		pumpReminderRequests(ctx, deliveries, rChan)
		close(done)
	}()

	// the pump is blocked handing off; cancelling must requeue, not ack
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop on context cancel")
	}
	acked, nacked, requeued := ack.state()
	assert.False(t, acked)
	assert.True(t, nacked)
	assert.True(t, requeued)
}

func TestPumpDropsPoisonMessages(t *testing.T) {
	t.Parallel()

	ack := &fakeAcknowledger{}
	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte("not json"),
	}
	close(deliveries)

	rChan := make(chan *spec.ReminderRequest)
	go pumpReminderRequests(context.Background(), deliveries, rChan)

	for range rChan {
		t.Fatal("poison message must not reach the worker")
	}
	acked, nacked, requeued := ack.state()
	assert.True(t, nacked)
	assert.False(t, requeued)
	assert.False(t, acked)
}
