package natsbus

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcdev12/roadbook/go/internal/racetimer"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessage_Update(t *testing.T) {
	at := time.Date(2025, 3, 1, 8, 30, 0, 0, time.FixedZone("CET", 3600))
	snap := racetimer.Snapshot{RawMeters: 10, CorrectedMeters: 10.42, CorrectionFactor: 1042, IsRunning: true}
	event := racetimer.NewUpdateEvent(snap, at)

	msg, err := BuildMessage("racetimer.events", "abcd1234", event)
	require.NoError(t, err)

	assert.Equal(t, "racetimer.events.race-timer-update", msg.Subject)
	assert.Equal(t, "race-timer-update", msg.Header.Get("Event-Type"))
	assert.Equal(t, event.ID, msg.Header.Get("Event-ID"))
	assert.Equal(t, "abcd1234", msg.Header.Get("Instance-ID"))

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, event.ID, env.EventID)
	assert.Equal(t, "abcd1234", env.InstanceID)
	assert.True(t, at.Equal(env.Timestamp))

	var got racetimer.Snapshot
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, snap, got)
}

func TestBuildMessage_Fault(t *testing.T) {
	event := racetimer.NewFaultEvent(errors.New("boom"), time.Now())

	msg, err := BuildMessage("rally", "x", event)
	require.NoError(t, err)
	assert.Equal(t, "rally.race-timer-fault", msg.Subject)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.JSONEq(t, `{"error":"boom"}`, string(env.Payload))
}

func TestPublisher_WorkerSendsQueuedEvents(t *testing.T) {
	sent := make(chan *nats.Msg, 4)
	p := newPublisher(DefaultConfig(), "abcd1234", func(msg *nats.Msg) error {
		sent <- msg
		return nil
	})
	defer p.Close()

	event := racetimer.NewUpdateEvent(racetimer.Snapshot{RawMeters: 1}, time.Now())
	p.Publish(event)

	select {
	case msg := <-sent:
		assert.Equal(t, event.ID, msg.Header.Get("Event-ID"))
	case <-time.After(2 * time.Second):
		t.Fatal("queued event was never sent")
	}
}

func TestPublisher_PublishNeverBlocksOnSlowConnection(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	p := newPublisher(cfg, "x", func(*nats.Msg) error {
		calls.Add(1)
		<-release
		return errors.New("write buffer full")
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			p.Publish(racetimer.NewUpdateEvent(racetimer.Snapshot{}, time.Now()))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked behind a stalled NATS write")
	}

	close(release)
	p.Close()
	p.Close()
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "racetimer.events", cfg.SubjectPrefix)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Equal(t, 256, cfg.QueueSize)
}
