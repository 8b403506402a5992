// Package local runs sessions on a single device. State lives in memory, is
// written through to on-device storage after every transition and is read
// back lazily after a restart. Subscribers are called synchronously, after
// the write, on the goroutine that made the change.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
	"github.com/DoyleJ11/storyforge-backend/internal/game"
	"github.com/DoyleJ11/storyforge-backend/internal/kv"
	"github.com/DoyleJ11/storyforge-backend/internal/observe"
)

const maxIDAttempts = 5

func sessionKey(id string) string { return "storyforge/session/" + id }

// FinalKey is where the last state of an ended session is kept for the
// story page.
func FinalKey(id string) string { return "storyforge/final/" + id }

type topics struct {
	session observe.Topic[engine.Session]
	chat    observe.Topic[[]engine.ChatMessage]
}

type Manager struct {
	kv    kv.KV
	dice  game.Dice
	log   *zap.Logger
	now   func() time.Time
	newID func() (string, error)

	mu       sync.Mutex
	sessions map[string]*engine.Session
	chat     map[string][]engine.ChatMessage
	topics   map[string]*topics
}

var (
	_ game.Manager    = (*Manager)(nil)
	_ game.Subscriber = (*Manager)(nil)
)

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithIDSource(fn func() (string, error)) Option {
	return func(m *Manager) { m.newID = fn }
}

func New(store kv.KV, dice game.Dice, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		kv:       store,
		dice:     dice,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    game.NewSessionID,
		sessions: make(map[string]*engine.Session),
		chat:     make(map[string][]engine.ChatMessage),
		topics:   make(map[string]*topics),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) CreateSession(ctx context.Context, host engine.Player, theme string, board engine.Board) (string, error) {
	if _, err := engine.NewSession("pending", host, theme, board, m.now()); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	m.mu.Lock()
	id, err := m.freshIDLocked(ctx)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	sess, err := engine.NewSession(id, host, theme, board, m.now())
	if err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("create session: %w", err)
	}
	sess.Version = 1
	if err := m.persist(ctx, sess); err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.sessions[id] = &sess
	m.mu.Unlock()

	m.log.Info("session created",
		zap.String("session_id", id),
		zap.String("host_id", host.ID),
		zap.String("theme", sess.Theme))
	m.publish(sess)
	return id, nil
}

func (m *Manager) freshIDLocked(ctx context.Context) (string, error) {
	for range maxIDAttempts {
		id, err := m.newID()
		if err != nil {
			return "", fmt.Errorf("create session: generate id: %w", err)
		}
		_, err = m.loadLocked(ctx, id)
		if errors.Is(err, engine.ErrSessionNotFound) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
	}
	return "", fmt.Errorf("create session: no free id after %d attempts", maxIDAttempts)
}

func (m *Manager) JoinSession(ctx context.Context, sessionID string, player engine.Player) (bool, error) {
	_, err := m.mutate(ctx, "join", sessionID, engine.Command{Type: engine.CmdJoin, Player: player})
	return m.outcome("join", sessionID, err)
}

func (m *Manager) StartSession(ctx context.Context, sessionID string) (bool, error) {
	_, err := m.mutate(ctx, "start", sessionID, engine.Command{Type: engine.CmdStart})
	return m.outcome("start", sessionID, err)
}

func (m *Manager) RollDice(ctx context.Context, sessionID string) (int, error) {
	v := m.dice.Roll()
	_, err := m.mutate(ctx, "roll", sessionID, engine.Command{Type: engine.CmdRollDice, Dice: v})
	if ok, err := m.outcome("roll", sessionID, err); !ok {
		return 0, err
	}
	return v, nil
}

func (m *Manager) MovePlayer(ctx context.Context, sessionID, playerID string, steps int) (*engine.Tile, error) {
	events, err := m.mutate(ctx, "move", sessionID, engine.Command{Type: engine.CmdMove, PlayerID: playerID, Steps: steps})
	if ok, err := m.outcome("move", sessionID, err); !ok {
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
	_, err := m.mutate(ctx, "resolve", sessionID, engine.Command{
		Type:     engine.CmdResolve,
		PlayerID: playerID,
		Success:  success,
		Choice:   choice,
	})
	return m.outcome("resolve", sessionID, err)
}

func (m *Manager) EndSession(ctx context.Context, sessionID string) (bool, error) {
	_, err := m.mutate(ctx, "end", sessionID, engine.Command{Type: engine.CmdEnd})
	return m.outcome("end", sessionID, err)
}

// SendChatMessage keeps chat in memory only; it is not restored after a
// restart.
func (m *Manager) SendChatMessage(ctx context.Context, sessionID, playerID, playerName, message string) error {
	msg, err := game.NewChatMessage(sessionID, playerID, playerName, message, m.now())
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, err := m.loadLocked(ctx, sessionID); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("chat %s: %w", sessionID, err)
	}
	m.chat[sessionID] = append(m.chat[sessionID], msg)
	msgs := append([]engine.ChatMessage(nil), m.chat[sessionID]...)
	t := m.topics[sessionID]
	m.mu.Unlock()

	if t != nil {
		t.chat.Publish(msgs)
	}
	return nil
}

func (m *Manager) Snapshot(ctx context.Context, sessionID string) (*engine.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.loadLocked(ctx, sessionID)
	if errors.Is(err, engine.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := s.Clone()
	return &out, nil
}

func (m *Manager) ChatMessages(_ context.Context, sessionID string) ([]engine.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]engine.ChatMessage(nil), m.chat[sessionID]...), nil
}

// FinalSnapshot returns the state saved when the session ended.
func (m *Manager) FinalSnapshot(ctx context.Context, sessionID string) (*engine.Session, error) {
	raw, err := m.kv.Get(ctx, FinalKey(sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s engine.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode final %s: %w", sessionID, err)
	}
	return &s, nil
}

// Subscribe registers l for sessionID and immediately replays the current
// state. Status is always connected: there is no link to lose.
func (m *Manager) Subscribe(ctx context.Context, sessionID string, l game.Listener) (func(), error) {
	m.mu.Lock()
	var current *engine.Session
	if s, err := m.loadLocked(ctx, sessionID); err == nil {
		cp := s.Clone()
		current = &cp
	} else if !errors.Is(err, engine.ErrSessionNotFound) {
		m.mu.Unlock()
		return nil, err
	}
	msgs := append([]engine.ChatMessage(nil), m.chat[sessionID]...)

	t := m.topicsLocked(sessionID)
	var unsubs []func()
	if l.Session != nil {
		unsubs = append(unsubs, t.session.Subscribe(l.Session))
	}
	if l.Chat != nil {
		unsubs = append(unsubs, t.chat.Subscribe(l.Chat))
	}
	m.mu.Unlock()

	if l.Status != nil {
		l.Status(game.StatusConnected)
	}
	if current != nil && l.Session != nil {
		l.Session(*current)
	}
	if l.Chat != nil {
		l.Chat(msgs)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
		})
	}, nil
}

func (m *Manager) topicsLocked(sessionID string) *topics {
	t, ok := m.topics[sessionID]
	if !ok {
		t = &topics{}
		m.topics[sessionID] = t
	}
	return t
}

// mutate runs cmd against the session and writes the result through before
// making it visible.
func (m *Manager) mutate(ctx context.Context, op, sessionID string, cmd engine.Command) ([]engine.Event, error) {
	m.mu.Lock()
	before, err := m.loadLocked(ctx, sessionID)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s %s: %w", op, sessionID, err)
	}

	cmd.At = m.now()
	events, after, err := engine.Apply(*before, cmd)
	if err != nil || len(events) == 0 {
		m.mu.Unlock()
		return nil, err
	}
	after.Version = before.Version + 1

	if err := m.persist(ctx, after); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if engine.ContainsEvent(events, engine.EvtGameEnded) {
		if err := m.persistFinal(ctx, after); err != nil {
			m.log.Warn("final snapshot not saved", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	m.sessions[sessionID] = &after
	m.mu.Unlock()

	m.publish(after)
	return events, nil
}

func (m *Manager) publish(s engine.Session) {
	m.mu.Lock()
	t := m.topics[s.ID]
	m.mu.Unlock()
	if t != nil {
		t.session.Publish(s.Clone())
	}
}

// loadLocked returns the cached session, reading it from storage on first use.
func (m *Manager) loadLocked(ctx context.Context, id string) (*engine.Session, error) {
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	raw, err := m.kv.Get(ctx, sessionKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, engine.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var s engine.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if s.Players == nil {
		s.Players = make(map[string]*engine.Player)
	}
	m.sessions[id] = &s
	m.log.Debug("session restored", zap.String("session_id", id))
	return &s, nil
}

func (m *Manager) persist(ctx context.Context, s engine.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	if err := m.kv.Set(ctx, sessionKey(s.ID), raw); err != nil {
		return fmt.Errorf("persist session %s: %w", s.ID, err)
	}
	return nil
}

func (m *Manager) persistFinal(ctx context.Context, s engine.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.kv.Set(ctx, FinalKey(s.ID), raw)
}

func (m *Manager) outcome(op, sessionID string, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if engine.IsPrecondition(err) {
		m.log.Info("operation rejected",
			zap.String("op", op),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return false, nil
	}
	return false, err
}
