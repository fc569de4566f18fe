package events

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultBufferSize = 64

// Broker is a small publish-subscribe hub with type safety. The coordinator
// publishes session events into it; UI surfaces subscribe with optional
// filters.
type Broker[T any] struct {
	subs map[chan Event[T]]subscriberInfo
	mu   sync.RWMutex
	done chan struct{}

	bufferSize int
}

type subscriberInfo struct {
	id      string
	filters []Filter
}

// NewBroker creates a broker with default buffering.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subs:       make(map[chan Event[T]]subscriberInfo),
		done:       make(chan struct{}),
		bufferSize: defaultBufferSize,
	}
}

// Publish delivers an event to all matching subscribers. A subscriber whose
// channel is full misses the event rather than blocking the session loop.
func (b *Broker[T]) Publish(eventType EventType, conversationID int, payload T) {
	select {
	case <-b.done:
		return
	default:
	}

	event := Event[T]{
		ID:             uuid.New().String(),
		Type:           eventType,
		Payload:        payload,
		Timestamp:      time.Now(),
		ConversationID: conversationID,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, info := range b.subs {
		if !matches(event, info.filters) {
			continue
		}
		select {
		case ch <- event:
		default:
			log.Printf("events: subscriber %s full, dropping event %s", info.id, event.ID)
		}
	}
}

// Subscribe creates a subscription with optional filters. The subscription
// ends when ctx is cancelled.
func (b *Broker[T]) Subscribe(ctx context.Context, filters ...Filter) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event[T], b.bufferSize)
	b.subs[ch] = subscriberInfo{
		id:      uuid.New().String(),
		filters: filters,
	}

	go func() {
		<-ctx.Done()
		b.unsubscribe(ch)
	}()

	return ch
}

func (b *Broker[T]) unsubscribe(ch chan Event[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[ch]; exists {
		delete(b.subs, ch)
		close(ch)
	}
}

// Shutdown closes the broker and every subscriber channel.
func (b *Broker[T]) Shutdown() {
	select {
	case <-b.done:
		return
	default:
		close(b.done)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func matches[T any](event Event[T], filters []Filter) bool {
	if len(filters) == 0 {
		return true
	}

	anyEvent := Event[any]{
		ID:             event.ID,
		Type:           event.Type,
		Payload:        event.Payload,
		Timestamp:      event.Timestamp,
		ConversationID: event.ConversationID,
	}

	for _, filter := range filters {
		if !filter(anyEvent) {
			return false
		}
	}
	return true
}
