package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher_RecordSubscription(t *testing.T) {
	t.Parallel()

	p := NewMemoryPublisher()
	defer p.Close()

	ch := p.Subscribe("P1")
	other := p.Subscribe("P2")

	p.Publish(Event{Type: EventWorkflowInstantiated, RecordID: "P1", Time: time.Now()})

	select {
	case ev := <-ch:
		assert.Equal(t, EventWorkflowInstantiated, ev.Type)
		assert.Equal(t, "P1", ev.RecordID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case ev := <-other:
		t.Fatalf("unrelated subscriber received %v", ev)
	default:
	}
}

func TestMemoryPublisher_GlobalSubscription(t *testing.T) {
	t.Parallel()

	p := NewMemoryPublisher()
	defer p.Close()

	all := p.Subscribe(GlobalRecordID)

	p.Publish(Event{Type: EventTriggerReceived, RecordID: "P1"})
	p.Publish(Event{Type: EventTemplateSkipped, RecordID: "J2"})

	first := <-all
	second := <-all
	assert.Equal(t, "P1", first.RecordID)
	assert.Equal(t, "J2", second.RecordID)
}

func TestMemoryPublisher_FullBufferDropsEvent(t *testing.T) {
	t.Parallel()

	p := NewMemoryPublisher(WithBufferSize(1))
	defer p.Close()

	ch := p.Subscribe("P1")
	p.Publish(Event{Type: EventTriggerReceived, RecordID: "P1"})
	p.Publish(Event{Type: EventWorkflowInstantiated, RecordID: "P1"})

	// The second publish found the buffer full and was dropped, not blocked.
	ev := <-ch
	assert.Equal(t, EventTriggerReceived, ev.Type)
	select {
	case extra := <-ch:
		t.Fatalf("expected dropped event, got %v", extra)
	default:
	}
}

func TestMemoryPublisher_Unsubscribe(t *testing.T) {
	t.Parallel()

	p := NewMemoryPublisher()
	defer p.Close()

	ch := p.Subscribe("P1")
	p.Unsubscribe("P1", ch)

	_, open := <-ch
	assert.False(t, open, "unsubscribed channel is closed")

	// Publishing after unsubscribe must not panic.
	p.Publish(Event{Type: EventTriggerReceived, RecordID: "P1"})
}

func TestMemoryPublisher_Close(t *testing.T) {
	t.Parallel()

	p := NewMemoryPublisher()
	ch := p.Subscribe("P1")
	p.Close()

	_, open := <-ch
	require.False(t, open)

	// Idempotent close and post-close use are safe.
	p.Close()
	p.Publish(Event{Type: EventTriggerReceived, RecordID: "P1"})

	late := p.Subscribe("P2")
	_, open = <-late
	assert.False(t, open, "post-close subscriptions come back closed")
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	var p NopPublisher
	p.Publish(Event{Type: EventTriggerReceived, RecordID: "P1"})

	ch := p.Subscribe("P1")
	_, open := <-ch
	assert.False(t, open)
	p.Unsubscribe("P1", ch)
	p.Close()
}
