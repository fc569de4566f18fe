package resolver

import (
	"context"
	"fmt"

	"github.com/hoverchat/widget-engine/internal/backend"
	"github.com/hoverchat/widget-engine/internal/cache"
)

// Source records which rule produced the conversation id.
type Source string

const (
	SourceExplicit   Source = "explicit"
	SourceRemembered Source = "remembered"
	SourceCached     Source = "cached"
	SourceCreated    Source = "created"
)

// Input carries every competing identifier source for one resolution.
type Input struct {
	// ExplicitID is an id supplied by the host page, e.g. via a deep link
	// after scanning a code. Zero means none.
	ExplicitID int
	// RememberedID is the id still bound to the in-memory session, set when
	// the widget reopens without a full teardown. Zero means none.
	RememberedID int
	// CacheKey addresses the persisted record for this embed instance.
	CacheKey string
	// ExplicitlyClosed is true when the previous session ended by user
	// choice. A cached id must not resurrect such a conversation.
	ExplicitlyClosed bool

	UserID string
	BotID  string
	Secret string
}

// Resolution is the outcome: which id the session binds to and why.
type Resolution struct {
	ID     int
	Source Source
}

// Resolver decides which conversation identifier a session binds to.
type Resolver struct {
	cache         *cache.Layered
	conversations backend.ConversationService
}

// New creates a resolver over the given cache and conversation service.
func New(c *cache.Layered, conversations backend.ConversationService) *Resolver {
	return &Resolver{cache: c, conversations: conversations}
}

// Resolve applies the priority rules, first match wins:
//
//  1. explicit host-supplied id: a cross-device continuation the user
//     initiated always wins
//  2. id already bound to the in-memory session
//  3. cached id, unless the previous close was explicit
//  4. a freshly created conversation
//
// A create failure or unusable id surfaces backend.ErrInvalidConversationID;
// the caller must not open a channel.
func (r *Resolver) Resolve(ctx context.Context, in Input) (Resolution, error) {
	if in.ExplicitID > 0 {
		return Resolution{ID: in.ExplicitID, Source: SourceExplicit}, nil
	}

	if in.RememberedID > 0 {
		return Resolution{ID: in.RememberedID, Source: SourceRemembered}, nil
	}

	if !in.ExplicitlyClosed && r.cache != nil && in.CacheKey != "" {
		if rec := r.cache.Get(ctx, in.CacheKey); rec != nil && rec.ConversationID > 0 {
			return Resolution{ID: rec.ConversationID, Source: SourceCached}, nil
		}
	}

	id, err := r.conversations.Create(ctx, in.UserID, in.BotID, in.Secret, in.ExplicitlyClosed)
	if err != nil {
		return Resolution{}, fmt.Errorf("conversation resolution failed: %w", err)
	}
	if id <= 0 {
		return Resolution{}, backend.ErrInvalidConversationID
	}

	return Resolution{ID: id, Source: SourceCreated}, nil
}
