// Package events provides in-memory pub/sub for workflow instantiation
// events. The engine publishes; the API event stream and CLI subscribe.
package events

import (
	"sync"
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventTriggerReceived indicates a trigger event entered the engine.
	EventTriggerReceived EventType = "trigger_received"
	// EventWorkflowInstantiated indicates a workflow instance and its
	// tasks were persisted.
	EventWorkflowInstantiated EventType = "workflow_instantiated"
	// EventTemplateSkipped indicates a matched template was skipped after
	// a load or persistence failure.
	EventTemplateSkipped EventType = "template_skipped"
)

// GlobalRecordID subscribes to events for all records.
const GlobalRecordID = "*"

// Event is a published instantiation event, keyed by the triggering record.
type Event struct {
	Type     EventType `json:"type"`
	RecordID string    `json:"record_id"`
	Data     any       `json:"data,omitempty"`
	Time     time.Time `json:"time"`
}

// Publisher is the interface for event publishing.
type Publisher interface {
	// Publish sends an event to all subscribers of the record.
	Publish(event Event)
	// Subscribe returns a channel receiving events for the given record.
	// Use GlobalRecordID ("*") to receive events for all records.
	Subscribe(recordID string) <-chan Event
	// Unsubscribe removes a subscription channel.
	Unsubscribe(recordID string, ch <-chan Event)
	// Close shuts down the publisher and all subscriptions.
	Close()
}

// MemoryPublisher is an in-memory implementation of Publisher.
type MemoryPublisher struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
	bufferSize  int
	closed      bool
}

// PublisherOption configures a MemoryPublisher.
type PublisherOption func(*MemoryPublisher)

// WithBufferSize sets the channel buffer size for subscribers.
func WithBufferSize(size int) PublisherOption {
	return func(p *MemoryPublisher) {
		p.bufferSize = size
	}
}

// NewMemoryPublisher creates a new in-memory publisher.
func NewMemoryPublisher(opts ...PublisherOption) *MemoryPublisher {
	p := &MemoryPublisher{
		subscribers: make(map[string][]chan Event),
		bufferSize:  64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends an event to record-specific and global subscribers.
// Non-blocking: subscribers with full buffers miss the event.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	for _, ch := range p.subscribers[event.RecordID] {
		select {
		case ch <- event:
		default:
		}
	}

	if event.RecordID != GlobalRecordID {
		for _, ch := range p.subscribers[GlobalRecordID] {
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Subscribe returns a channel that receives events for the given record.
func (p *MemoryPublisher) Subscribe(recordID string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, p.bufferSize)
	p.subscribers[recordID] = append(p.subscribers[recordID], ch)
	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (p *MemoryPublisher) Unsubscribe(recordID string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subscribers[recordID]
	for i, sub := range subs {
		if sub == ch {
			p.subscribers[recordID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}

	if len(p.subscribers[recordID]) == 0 {
		delete(p.subscribers, recordID)
	}
}

// Close shuts down the publisher and closes all subscription channels.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for recordID, subs := range p.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(p.subscribers, recordID)
	}
}

// NopPublisher discards all events. Used where no subscriber exists.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

func (NopPublisher) Subscribe(string) <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

func (NopPublisher) Unsubscribe(string, <-chan Event) {}

func (NopPublisher) Close() {}
