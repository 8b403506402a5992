// Package store describes the durable keeper of remote session state: row
// level access to sessions, players and chat messages, plus the change feed
// the notifier listens to.
package store

import (
	"context"
	"errors"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrConflict reports a duplicate key on insert or a stale version on
	// Apply.
	ErrConflict = errors.New("store: conflict")
)

type Store interface {
	Ping(ctx context.Context) error
	SessionExists(ctx context.Context, sessionID string) (bool, error)

	// InsertSession writes the session row only; players are inserted
	// separately.
	InsertSession(ctx context.Context, s engine.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	InsertPlayer(ctx context.Context, sessionID string, p engine.Player) error

	// LoadSession returns the session with its players, or ErrNotFound.
	LoadSession(ctx context.Context, sessionID string) (engine.Session, error)

	// Apply commits c atomically if the stored version still equals
	// c.Version, bumping it by one. Otherwise it returns ErrConflict.
	Apply(ctx context.Context, c Change) error

	InsertChat(ctx context.Context, m engine.ChatMessage) error
	ListChat(ctx context.Context, sessionID string) ([]engine.ChatMessage, error)

	Close() error
}

// Change is a whole-row rewrite of a session plus upserts of the players the
// transition touched.
type Change struct {
	Version int64
	Session engine.Session
	Players []engine.Player
}

// NewChange derives the change that turns before into after.
func NewChange(before, after engine.Session) Change {
	return Change{
		Version: before.Version,
		Session: after,
		Players: engine.ChangedPlayers(before, after),
	}
}

// Channel names one change stream. A session's rows and its chat messages
// are separate channels.
type Channel string

const (
	ChannelSession Channel = "storyforge_session_changes"
	ChannelChat    Channel = "storyforge_chat_changes"
)

// Feed is the push side of the store.
type Feed interface {
	// Subscribe returns once the subscription is acknowledged.
	Subscribe(ctx context.Context, ch Channel, sessionID string) (Subscription, error)
}

type Subscription interface {
	// Notify receives a value per change batch; it is closed when the
	// subscription fails or is closed.
	Notify() <-chan struct{}
	// Err reports why Notify was closed; nil after Close.
	Err() error
	Close() error
}
