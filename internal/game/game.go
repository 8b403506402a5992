// Package game defines the operation surface shared by the remote and local
// session managers, and the reactive subscription contract client bindings
// consume.
package game

import (
	"context"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
)

// Manager is the sole mutator of session state.
//
// Structural precondition failures (missing session, wrong phase, full room,
// unknown player, nothing to resolve) are reported as a false / nil result
// with a nil error and leave the session untouched. Errors are reserved for
// validation failures and store I/O, which are never retried here.
type Manager interface {
	CreateSession(ctx context.Context, host engine.Player, theme string, board engine.Board) (string, error)
	JoinSession(ctx context.Context, sessionID string, player engine.Player) (bool, error)
	StartSession(ctx context.Context, sessionID string) (bool, error)
	RollDice(ctx context.Context, sessionID string) (int, error)
	MovePlayer(ctx context.Context, sessionID, playerID string, steps int) (*engine.Tile, error)
	ResolveEvent(ctx context.Context, sessionID, playerID string, success bool, choice string) (bool, error)
	EndSession(ctx context.Context, sessionID string) (bool, error)
	SendChatMessage(ctx context.Context, sessionID, playerID, playerName, message string) error

	// Snapshot returns the current session, or nil when it does not exist.
	Snapshot(ctx context.Context, sessionID string) (*engine.Session, error)
	ChatMessages(ctx context.Context, sessionID string) ([]engine.ChatMessage, error)
}

// PresenceSetter is implemented by managers that track online status.
type PresenceSetter interface {
	SetPresence(ctx context.Context, sessionID, playerID string, online bool) (bool, error)
}

// Listener receives republished state. Nil fields are skipped.
type Listener struct {
	Session func(engine.Session)
	Chat    func([]engine.ChatMessage)
	Status  func(Status)
}

// Subscriber delivers state changes for one session. The returned function
// tears the subscription down and is safe to call more than once.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string, l Listener) (unsubscribe func(), err error)
}

type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
)
