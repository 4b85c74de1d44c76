// Package session keeps short-lived per-user conversation transcripts.
//
// Invariants:
//   - A session idle for longer than the TTL is never returned; callers get a
//     fresh, empty session instead.
//   - Appends for one user are linearizable. Different users never contend
//     beyond a brief index lookup.
//   - Transcripts are capped; the oldest messages are discarded first.
package session

import (
	"context"
	"time"

	"github.com/tripwise/planner/backend/internal/model/chat"
)

// Defaults used when an Options field is left zero.
const (
	DefaultTTL         = 30 * time.Minute
	DefaultMaxMessages = 20
)

// Store is the conversation memory used by the chat orchestrator.
type Store interface {
	// GetOrCreate returns the live session for userID, starting a fresh one
	// when none exists or the previous one expired.
	GetOrCreate(ctx context.Context, userID string) (chat.Session, error)
	// Append adds msgs to the transcript in one step and refreshes the
	// session's last activity.
	Append(ctx context.Context, userID string, msgs ...chat.Message) (chat.Session, error)
	// Peek returns the live session without creating one.
	Peek(ctx context.Context, userID string) (chat.Session, bool, error)
	// Clear forgets the session. Clearing an absent session is a no-op.
	Clear(ctx context.Context, userID string) error
	// EvictExpired drops every session idle since before now-TTL and reports
	// how many were removed.
	EvictExpired(ctx context.Context, now time.Time) (int, error)
}

// Options configures a Store.
type Options struct {
	TTL         time.Duration
	MaxMessages int
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func capMessages(msgs []chat.Message, limit int) []chat.Message {
	if limit > 0 && len(msgs) > limit {
		return append([]chat.Message(nil), msgs[len(msgs)-limit:]...)
	}
	return msgs
}
