package cache

import (
	"context"
	"log"
	"time"

	"github.com/hoverchat/widget-engine/internal/message"
)

// DefaultTTL is how long a cached record is served before it is treated as
// absent.
const DefaultTTL = 210 * time.Second

// Record is the unit of persistence: one complete, self-consistent snapshot
// of a conversation per cache key. Writes are whole-record only; there are no
// partial-field updates.
type Record struct {
	ConversationID int               `json:"conversationId"`
	Messages       []message.Message `json:"messages"`
	WrittenAt      time.Time         `json:"writtenAt"`
}

// Store is a single cache backend.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, key string, record Record) error
	Clear(ctx context.Context, key string) error
}

// Layered is the KeyValueCache the session engine talks to. It mirrors every
// write into an ephemeral store and a durable store; reads prefer the
// ephemeral copy and fall back to the durable one, re-warming the ephemeral
// side on a fallback hit. Caching is an optimization, never a correctness
// requirement: write failures are swallowed.
type Layered struct {
	ephemeral Store
	durable   Store
	ttl       time.Duration
	now       func() time.Time
}

// NewLayered builds the two-backend cache. A non-positive ttl falls back to
// DefaultTTL.
func NewLayered(ephemeral, durable Store, ttl time.Duration) *Layered {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Layered{
		ephemeral: ephemeral,
		durable:   durable,
		ttl:       ttl,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Tests use it to step across the TTL
// boundary.
func (l *Layered) SetClock(now func() time.Time) {
	l.now = now
}

// Get returns the cached record for key, or nil when nothing usable is
// stored. Records older than the TTL are treated as absent and lazily
// removed.
func (l *Layered) Get(ctx context.Context, key string) *Record {
	if rec := l.getFrom(ctx, l.ephemeral, key); rec != nil {
		return rec
	}

	rec := l.getFrom(ctx, l.durable, key)
	if rec == nil {
		return nil
	}

	// Tab-refresh path: re-warm the fast store so the next read is cheap.
	if err := l.ephemeral.Put(ctx, key, *rec); err != nil {
		log.Printf("cache: re-warm failed for %s: %v", key, err)
	}
	return rec
}

func (l *Layered) getFrom(ctx context.Context, store Store, key string) *Record {
	rec, err := store.Get(ctx, key)
	if err != nil {
		log.Printf("cache: read failed for %s: %v", key, err)
		return nil
	}
	if rec == nil {
		return nil
	}
	if l.now().Sub(rec.WrittenAt) > l.ttl {
		if err := store.Clear(ctx, key); err != nil {
			log.Printf("cache: expiry cleanup failed for %s: %v", key, err)
		}
		return nil
	}
	return rec
}

// Put writes the record to both backends. Failures are logged and swallowed.
func (l *Layered) Put(ctx context.Context, key string, rec Record) {
	rec.WrittenAt = l.now()
	if err := l.ephemeral.Put(ctx, key, rec); err != nil {
		log.Printf("cache: ephemeral write failed for %s: %v", key, err)
	}
	if err := l.durable.Put(ctx, key, rec); err != nil {
		log.Printf("cache: durable write failed for %s: %v", key, err)
	}
}

// Clear removes the record from both backends. Safe to call when nothing is
// stored.
func (l *Layered) Clear(ctx context.Context, key string) {
	if err := l.ephemeral.Clear(ctx, key); err != nil {
		log.Printf("cache: ephemeral clear failed for %s: %v", key, err)
	}
	if err := l.durable.Clear(ctx, key); err != nil {
		log.Printf("cache: durable clear failed for %s: %v", key, err)
	}
}
