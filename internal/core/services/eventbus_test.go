package services

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PubSub(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	bus := NewEventBus(logger)

	jobID := "job-123"

	ch, unsub := bus.Subscribe(jobID)
	defer unsub()

	event := Event{
		JobID:     jobID,
		Type:      EventTypeStatus,
		Data:      "test-data",
		Timestamp: time.Now().Unix(),
	}
	bus.Publish(event)

	select {
	case received := <-ch:
		assert.Equal(t, event.JobID, received.JobID)
		assert.Equal(t, event.Data, received.Data)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	bus := NewEventBus(logger)

	ch, unsub := bus.Subscribe("job-456")
	unsub()
	unsub() // second call is a no-op

	bus.Publish(Event{JobID: "job-456", Type: EventTypeLog, Data: "should not receive"})

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	bus := NewEventBus(logger)
	jobID := "job-multi"

	ch1, unsub1 := bus.Subscribe(jobID)
	defer unsub1()
	ch2, unsub2 := bus.Subscribe(jobID)
	defer unsub2()

	bus.Publish(Event{JobID: jobID, Data: "broadcast"})

	timeout := time.After(1 * time.Second)
	got1, got2 := false, false
	for i := 0; i < 2; i++ {
		select {
		case <-ch1:
			got1 = true
		case <-ch2:
			got2 = true
		case <-timeout:
			t.Fatal("timeout")
		}
	}

	assert.True(t, got1)
	assert.True(t, got2)
}

func TestEventBus_GlobalSubscriber(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	bus := NewEventBus(logger)

	globalCh, unsub := bus.SubscribeGlobal()
	defer unsub()
	otherCh, unsubOther := bus.Subscribe("job-other")
	defer unsubOther()

	bus.Publish(Event{JobID: "job-abc", Type: EventTypeStatus, Data: `{"status":"RUNNING"}`})

	select {
	case evt := <-globalCh:
		assert.Equal(t, "job-abc", evt.JobID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for global event")
	}

	select {
	case evt := <-otherCh:
		t.Fatalf("unrelated subscriber received %v", evt)
	default:
	}
}

func TestEventBus_PublishStatus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	bus := NewEventBus(logger)
	id := domain.NewJobID()

	ch, unsub := bus.Subscribe(string(id))
	defer unsub()

	bus.PublishStatus(id, StatusPayload{
		Status:  domain.JobStatusFailed,
		Kind:    domain.KindTimeout,
		Message: "conversion did not finish within 1s",
	})

	evt := <-ch
	assert.Equal(t, EventTypeStatus, evt.Type)
	assert.NotZero(t, evt.Timestamp)

	var p StatusPayload
	require.NoError(t, json.Unmarshal([]byte(evt.Data), &p))
	assert.Equal(t, domain.JobStatusFailed, p.Status)
	assert.Equal(t, domain.KindTimeout, p.Kind)
}

func TestEventBus_FullChannelDoesNotBlock(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	bus := NewEventBus(logger)

	_, unsub := bus.Subscribe("slow")
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			bus.Publish(Event{JobID: "slow", Type: EventTypeLog, Data: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
}
