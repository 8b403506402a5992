// Package binding adapts a session Manager and its change subscription into
// the reactive state a single client renders: current session, the client's
// own player, chat, a loading flag, the last error and connection status.
package binding

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
	"github.com/DoyleJ11/storyforge-backend/internal/game"
	"github.com/DoyleJ11/storyforge-backend/internal/observe"
	"github.com/DoyleJ11/storyforge-backend/internal/story"
)

var (
	ErrNoSession = errors.New("binding: no session attached")
	ErrNoPlayer  = errors.New("binding: no player selected")
)

// State is an immutable copy; callers may keep it.
type State struct {
	Session       *engine.Session      `json:"session"`
	CurrentPlayer *engine.Player       `json:"currentPlayer"`
	Chat          []engine.ChatMessage `json:"chat"`
	Loading       bool                 `json:"loading"`
	LastError     string               `json:"lastError,omitempty"`
	Status        game.Status          `json:"status"`
}

func (s State) clone() State {
	if s.Session != nil {
		c := s.Session.Clone()
		s.Session = &c
	}
	if s.CurrentPlayer != nil {
		p := s.CurrentPlayer.Clone()
		s.CurrentPlayer = &p
	}
	s.Chat = slices.Clone(s.Chat)
	return s
}

type Binding struct {
	mgr game.Manager
	sub game.Subscriber
	gen story.Generator
	log *zap.Logger

	mu        sync.Mutex
	state     State
	sessionID string
	playerID  string
	unsub     func()
	epoch     uint64 // bumped on every attach and cleanup; stale callbacks are ignored
	moving    bool   // same-session transition in progress

	changes observe.Topic[State]
}

func New(mgr game.Manager, sub game.Subscriber, gen story.Generator, log *zap.Logger) *Binding {
	return &Binding{
		mgr:   mgr,
		sub:   sub,
		gen:   gen,
		log:   log,
		state: State{Status: game.StatusDisconnected},
	}
}

func (b *Binding) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.clone()
}

func (b *Binding) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

func (b *Binding) PlayerID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playerID
}

// OnChange registers fn for every state change.
func (b *Binding) OnChange(fn func(State)) (unsubscribe func()) {
	return b.changes.Subscribe(fn)
}

// Create generates a board for theme (a random one when empty), creates the
// session with a new host named hostName and attaches to it.
func (b *Binding) Create(ctx context.Context, hostName, theme string) (string, error) {
	var id string
	err := b.run(ctx, "Failed to create game", func(ctx context.Context) (bool, error) {
		theme = strings.TrimSpace(theme)
		if theme == "" {
			t, err := b.gen.RandomTheme(ctx)
			if err != nil {
				return false, err
			}
			theme = t
		}
		board, err := b.gen.GenerateBoard(ctx, theme, engine.MaxPlayers)
		if err != nil {
			return false, err
		}

		host := game.NewPlayer(hostName, true)
		b.setPlayer(host)
		id, err = b.mgr.CreateSession(ctx, host, theme, board)
		if err != nil {
			return false, err
		}
		return true, b.attach(ctx, id, host.ID)
	})
	return id, err
}

// Join adds a new player named name to sessionID and attaches on success.
func (b *Binding) Join(ctx context.Context, sessionID, name string) (bool, error) {
	var joined bool
	err := b.run(ctx, "Failed to join game", func(ctx context.Context) (bool, error) {
		p := game.NewPlayer(name, false)
		ok, err := b.mgr.JoinSession(ctx, sessionID, p)
		if err != nil || !ok {
			return ok, err
		}
		joined = true
		b.setPlayer(p)
		return true, b.attach(ctx, sessionID, p.ID)
	})
	return joined, err
}

// Resume attaches to an existing session as playerID, for example after a
// reload. It reports false when the session does not exist.
func (b *Binding) Resume(ctx context.Context, sessionID, playerID string) (bool, error) {
	snap, err := b.mgr.Snapshot(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if snap == nil {
		b.fail("Game not found")
		return false, nil
	}
	if p, ok := snap.Players[playerID]; ok {
		b.setPlayer(*p)
	}
	return true, b.attach(ctx, sessionID, playerID)
}

func (b *Binding) Start(ctx context.Context) (bool, error) {
	id, err := b.requireSession()
	if err != nil {
		return false, err
	}
	var ok bool
	err = b.run(ctx, "Failed to start game", func(ctx context.Context) (bool, error) {
		var err error
		ok, err = b.mgr.StartSession(ctx, id)
		return ok, err
	})
	return ok, err
}

func (b *Binding) Roll(ctx context.Context) (int, error) {
	id, err := b.requireSession()
	if err != nil {
		return 0, err
	}
	var v int
	err = b.run(ctx, "Failed to roll dice", func(ctx context.Context) (bool, error) {
		var err error
		v, err = b.mgr.RollDice(ctx, id)
		return v != 0, err
	})
	return v, err
}

// Move advances playerID, or the bound player when playerID is empty. Local
// play passes the device around, so any player may be named.
func (b *Binding) Move(ctx context.Context, playerID string, steps int) (*engine.Tile, error) {
	id, pid, err := b.requirePlayer(playerID)
	if err != nil {
		return nil, err
	}
	var tile *engine.Tile
	err = b.run(ctx, "Failed to move player", func(ctx context.Context) (bool, error) {
		var err error
		tile, err = b.mgr.MovePlayer(ctx, id, pid, steps)
		return tile != nil, err
	})
	return tile, err
}

func (b *Binding) Resolve(ctx context.Context, playerID string, success bool, choice string) (bool, error) {
	id, pid, err := b.requirePlayer(playerID)
	if err != nil {
		return false, err
	}
	var ok bool
	err = b.run(ctx, "Failed to resolve event", func(ctx context.Context) (bool, error) {
		var err error
		ok, err = b.mgr.ResolveEvent(ctx, id, pid, success, choice)
		return ok, err
	})
	return ok, err
}

func (b *Binding) End(ctx context.Context) (bool, error) {
	id, err := b.requireSession()
	if err != nil {
		return false, err
	}
	var ok bool
	err = b.run(ctx, "Failed to end game", func(ctx context.Context) (bool, error) {
		var err error
		ok, err = b.mgr.EndSession(ctx, id)
		return ok, err
	})
	return ok, err
}

// Chat posts text as the bound player.
func (b *Binding) Chat(ctx context.Context, text string) error {
	id, pid, err := b.requirePlayer("")
	if err != nil {
		return err
	}
	b.mu.Lock()
	name := ""
	if b.state.CurrentPlayer != nil {
		name = b.state.CurrentPlayer.Name
	}
	b.mu.Unlock()

	if err := b.mgr.SendChatMessage(ctx, id, pid, name, text); err != nil {
		b.fail(err.Error())
		return err
	}
	return nil
}

// Refresh re-reads the session and chat directly from the manager.
func (b *Binding) Refresh(ctx context.Context) error {
	id, err := b.requireSession()
	if err != nil {
		return err
	}
	snap, err := b.mgr.Snapshot(ctx, id)
	if err != nil {
		return err
	}
	chat, err := b.mgr.ChatMessages(ctx, id)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.sessionID != id {
		b.mu.Unlock()
		return nil
	}
	if snap != nil {
		b.applySessionLocked(*snap)
	}
	b.state.Chat = chat
	st := b.state.clone()
	b.mu.Unlock()
	b.changes.Publish(st)
	return nil
}

// Stories asks the story collaborator for one ending per player of the
// attached session.
func (b *Binding) Stories(ctx context.Context) ([]story.PlayerStory, error) {
	id, err := b.requireSession()
	if err != nil {
		return nil, err
	}
	snap, err := b.mgr.Snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, engine.ErrSessionNotFound
	}
	return story.Stories(ctx, b.gen, *snap)
}

// Attach subscribes to sessionID as playerID. Attaching again with the same
// ids keeps the existing subscription.
func (b *Binding) Attach(ctx context.Context, sessionID, playerID string) error {
	return b.attach(ctx, sessionID, playerID)
}

func (b *Binding) attach(ctx context.Context, sessionID, playerID string) error {
	b.mu.Lock()
	if b.unsub != nil && b.sessionID == sessionID && b.playerID == playerID {
		b.mu.Unlock()
		return nil
	}
	old := b.unsub
	b.unsub = nil
	if b.sessionID != sessionID {
		b.state.Session = nil
		b.state.Chat = nil
	}
	b.sessionID, b.playerID = sessionID, playerID
	b.epoch++
	epoch := b.epoch
	b.mu.Unlock()

	if old != nil {
		old()
	}

	unsub, err := b.sub.Subscribe(ctx, sessionID, game.Listener{
		Session: func(s engine.Session) { b.update(epoch, func() { b.applySessionLocked(s) }) },
		Chat:    func(c []engine.ChatMessage) { b.update(epoch, func() { b.state.Chat = c }) },
		Status:  func(st game.Status) { b.update(epoch, func() { b.state.Status = st }) },
	})
	if err != nil {
		b.fail(err.Error())
		return err
	}

	b.mu.Lock()
	if b.epoch != epoch {
		// a later attach or a cleanup won
		b.mu.Unlock()
		unsub()
		return nil
	}
	b.unsub = unsub
	b.mu.Unlock()
	b.log.Debug("binding attached", zap.String("session_id", sessionID), zap.String("player_id", playerID))
	return nil
}

// BeginTransition marks a move between two views of the same session.
// Cleanup is suppressed until EndTransition.
func (b *Binding) BeginTransition() {
	b.mu.Lock()
	b.moving = true
	b.mu.Unlock()
}

func (b *Binding) EndTransition() {
	b.mu.Lock()
	b.moving = false
	b.mu.Unlock()
}

// Cleanup releases the subscription and resets the state, unless a
// same-session transition is in progress. Calling it again is a no-op.
func (b *Binding) Cleanup() {
	b.mu.Lock()
	if b.moving {
		b.mu.Unlock()
		b.log.Debug("cleanup skipped during transition")
		return
	}
	b.cleanupLocked()
}

// Close tears down regardless of any pending transition.
func (b *Binding) Close() {
	b.mu.Lock()
	b.moving = false
	b.cleanupLocked()
}

// cleanupLocked is entered with b.mu held and releases it.
func (b *Binding) cleanupLocked() {
	unsub := b.unsub
	b.unsub = nil
	b.epoch++
	attached := b.sessionID != ""
	b.sessionID, b.playerID = "", ""
	b.state = State{Status: game.StatusDisconnected}
	st := b.state.clone()
	b.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if attached {
		b.changes.Publish(st)
	}
}

func (b *Binding) update(epoch uint64, fn func()) {
	b.mu.Lock()
	if b.epoch != epoch {
		b.mu.Unlock()
		return
	}
	fn()
	st := b.state.clone()
	b.mu.Unlock()
	b.changes.Publish(st)
}

func (b *Binding) applySessionLocked(s engine.Session) {
	if cur := b.state.Session; cur != nil && cur.ID == s.ID && s.Version < cur.Version {
		return
	}
	b.state.Session = &s
	if p, ok := s.Players[b.playerID]; ok {
		cp := p.Clone()
		b.state.CurrentPlayer = &cp
	}
}

func (b *Binding) setPlayer(p engine.Player) {
	b.mu.Lock()
	b.state.CurrentPlayer = &p
	st := b.state.clone()
	b.mu.Unlock()
	b.changes.Publish(st)
}

func (b *Binding) fail(msg string) {
	b.mu.Lock()
	b.state.LastError = msg
	st := b.state.clone()
	b.mu.Unlock()
	b.changes.Publish(st)
}

// run brackets op with the loading flag. A false result without an error is
// recorded as failMsg.
func (b *Binding) run(ctx context.Context, failMsg string, op func(context.Context) (bool, error)) error {
	b.mu.Lock()
	b.state.Loading = true
	b.state.LastError = ""
	st := b.state.clone()
	b.mu.Unlock()
	b.changes.Publish(st)

	ok, err := op(ctx)

	b.mu.Lock()
	b.state.Loading = false
	switch {
	case err != nil:
		b.state.LastError = err.Error()
	case !ok:
		b.state.LastError = failMsg
	}
	st = b.state.clone()
	b.mu.Unlock()
	b.changes.Publish(st)
	return err
}

func (b *Binding) requireSession() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessionID == "" {
		return "", ErrNoSession
	}
	return b.sessionID, nil
}

func (b *Binding) requirePlayer(playerID string) (string, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessionID == "" {
		return "", "", ErrNoSession
	}
	if playerID == "" {
		playerID = b.playerID
	}
	if playerID == "" {
		return "", "", ErrNoPlayer
	}
	return b.sessionID, playerID, nil
}
