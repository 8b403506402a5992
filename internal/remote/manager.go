// Package remote is the Session Manager for sessions kept in a shared store.
// Every transition is computed by engine.Apply on a freshly loaded snapshot and
// committed with a version check, so two clients racing on the same turn
// cannot both win.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
	"github.com/DoyleJ11/storyforge-backend/internal/game"
	"github.com/DoyleJ11/storyforge-backend/internal/store"
)

const (
	maxConflictRetries = 3
	maxIDAttempts      = 5
)

type Manager struct {
	store store.Store
	dice  game.Dice
	log   *zap.Logger
	now   func() time.Time
	newID func() (string, error)
}

var (
	_ game.Manager        = (*Manager)(nil)
	_ game.PresenceSetter = (*Manager)(nil)
)

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDSource replaces the session id generator.
func WithIDSource(fn func() (string, error)) Option {
	return func(m *Manager) { m.newID = fn }
}

func New(st store.Store, dice game.Dice, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store: st,
		dice:  dice,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		newID: game.NewSessionID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession writes the session row and then the host's player row. If the
// second write fails the first is deleted again so no empty session is left
// behind.
func (m *Manager) CreateSession(ctx context.Context, host engine.Player, theme string, board engine.Board) (string, error) {
	// validate with a placeholder id before touching the store
	if _, err := engine.NewSession("pending", host, theme, board, m.now()); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	id, err := m.freshID(ctx)
	if err != nil {
		return "", err
	}
	sess, err := engine.NewSession(id, host, theme, board, m.now())
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	if err := m.store.InsertSession(ctx, sess); err != nil {
		return "", fmt.Errorf("create session %s: %w", id, err)
	}
	if err := m.store.InsertPlayer(ctx, id, *sess.Players[host.ID]); err != nil {
		if derr := m.store.DeleteSession(context.WithoutCancel(ctx), id); derr != nil {
			m.log.Error("orphaned session left behind",
				zap.String("session_id", id), zap.Error(derr))
			err = multierr.Append(err, derr)
		}
		return "", fmt.Errorf("create session %s: insert host: %w", id, err)
	}

	m.log.Info("session created",
		zap.String("session_id", id),
		zap.String("host_id", host.ID),
		zap.String("theme", sess.Theme))
	return id, nil
}

func (m *Manager) freshID(ctx context.Context) (string, error) {
	for range maxIDAttempts {
		id, err := m.newID()
		if err != nil {
			return "", fmt.Errorf("create session: generate id: %w", err)
		}
		exists, err := m.store.SessionExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
		if !exists {
			return id, nil
		}
		m.log.Debug("session id taken", zap.String("session_id", id))
	}
	return "", fmt.Errorf("create session: no free id after %d attempts: %w", maxIDAttempts, store.ErrConflict)
}

func (m *Manager) JoinSession(ctx context.Context, sessionID string, player engine.Player) (bool, error) {
	_, _, err := m.mutate(ctx, "join", sessionID, engine.Command{Type: engine.CmdJoin, Player: player})
	if m.rejected("join", sessionID, err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) StartSession(ctx context.Context, sessionID string) (bool, error) {
	_, _, err := m.mutate(ctx, "start", sessionID, engine.Command{Type: engine.CmdStart})
	if m.rejected("start", sessionID, err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RollDice draws once and persists the value. It returns 0 when the session
// does not exist.
func (m *Manager) RollDice(ctx context.Context, sessionID string) (int, error) {
	v := m.dice.Roll()
	_, _, err := m.mutate(ctx, "roll", sessionID, engine.Command{Type: engine.CmdRollDice, Dice: v})
	if m.rejected("roll", sessionID, err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (m *Manager) MovePlayer(ctx context.Context, sessionID, playerID string, steps int) (*engine.Tile, error) {
	events, _, err := m.mutate(ctx, "move", sessionID, engine.Command{Type: engine.CmdMove, PlayerID: playerID, Steps: steps})
	if m.rejected("move", sessionID, err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if e.Type == engine.EvtPlayerMoved {
			return e.Tile, nil
		}
	}
	return nil, nil
}

func (m *Manager) ResolveEvent(ctx context.Context, sessionID, playerID string, success bool, choice string) (bool, error) {
	events, _, err := m.mutate(ctx, "resolve", sessionID, engine.Command{
		Type:     engine.CmdResolve,
		PlayerID: playerID,
		Success:  success,
		Choice:   choice,
	})
	if m.rejected("resolve", sessionID, err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if engine.ContainsEvent(events, engine.EvtGameEnded) {
		m.log.Info("session ended", zap.String("session_id", sessionID), zap.String("finisher", playerID))
	}
	return true, nil
}

// EndSession reports true once the session is ended, including when it
// already was.
func (m *Manager) EndSession(ctx context.Context, sessionID string) (bool, error) {
	events, _, err := m.mutate(ctx, "end", sessionID, engine.Command{Type: engine.CmdEnd})
	if m.rejected("end", sessionID, err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(events) > 0 {
		m.log.Info("session ended", zap.String("session_id", sessionID))
	}
	return true, nil
}

func (m *Manager) SetPresence(ctx context.Context, sessionID, playerID string, online bool) (bool, error) {
	_, _, err := m.mutate(ctx, "presence", sessionID, engine.Command{
		Type:     engine.CmdSetPresence,
		PlayerID: playerID,
		Online:   online,
	})
	if m.rejected("presence", sessionID, err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) SendChatMessage(ctx context.Context, sessionID, playerID, playerName, message string) error {
	msg, err := game.NewChatMessage(sessionID, playerID, playerName, message, m.now())
	if err != nil {
		return err
	}
	if err := m.store.InsertChat(ctx, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("chat %s: %w", sessionID, engine.ErrSessionNotFound)
		}
		return fmt.Errorf("chat %s: %w", sessionID, err)
	}
	return nil
}

func (m *Manager) Snapshot(ctx context.Context, sessionID string) (*engine.Session, error) {
	s, err := m.store.LoadSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *Manager) ChatMessages(ctx context.Context, sessionID string) ([]engine.ChatMessage, error) {
	return m.store.ListChat(ctx, sessionID)
}

// Ping checks that the store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// mutate loads the session, runs cmd through the engine and commits the
// result. A version conflict means someone else wrote first; the command is
// then re-evaluated against their state.
func (m *Manager) mutate(ctx context.Context, op, sessionID string, cmd engine.Command) ([]engine.Event, engine.Session, error) {
	var lastErr error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		before, err := m.store.LoadSession(ctx, sessionID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, engine.Session{}, fmt.Errorf("%s %s: %w", op, sessionID, engine.ErrSessionNotFound)
		}
		if err != nil {
			return nil, engine.Session{}, fmt.Errorf("%s %s: %w", op, sessionID, err)
		}

		cmd.At = m.now()
		events, after, err := engine.Apply(before, cmd)
		if err != nil {
			return nil, before, err
		}
		if len(events) == 0 {
			return nil, before, nil
		}

		err = m.store.Apply(ctx, store.NewChange(before, after))
		if err == nil {
			after.Version = before.Version + 1
			return events, after, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, before, fmt.Errorf("%s %s: %w", op, sessionID, err)
		}
		lastErr = err
		m.log.Debug("version conflict",
			zap.String("op", op),
			zap.String("session_id", sessionID),
			zap.Int("attempt", attempt+1))
	}
	return nil, engine.Session{}, fmt.Errorf("%s %s: gave up after %d conflicts: %w", op, sessionID, maxConflictRetries+1, lastErr)
}

func (m *Manager) rejected(op, sessionID string, err error) bool {
	if err == nil || !engine.IsPrecondition(err) {
		return false
	}
	m.log.Info("operation rejected",
		zap.String("op", op),
		zap.String("session_id", sessionID),
		zap.Error(err))
	return true
}
