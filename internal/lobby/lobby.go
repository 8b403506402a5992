// Package lobby is the per-session fan-out actor. One lobby holds a single
// upstream subscription for a session and re-broadcasts every update to the
// clients connected to it, so N browsers on one server share one watcher.
package lobby

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
	"github.com/DoyleJ11/storyforge-backend/internal/game"
)

type Msg interface{ isLobbyMsg() }

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// upstream updates
type sessionUpdated struct{ Session engine.Session }
type chatUpdated struct{ Chat []engine.ChatMessage }
type statusChanged struct{ Status game.Status }

func (sessionUpdated) isLobbyMsg() {}
func (chatUpdated) isLobbyMsg()    {}
func (statusChanged) isLobbyMsg()  {}

type Changed uint8

const (
	ChangedSession Changed = 1 << iota
	ChangedChat
	ChangedStatus

	ChangedAll = ChangedSession | ChangedChat | ChangedStatus
)

// Snapshot is what clients receive. Changed marks the parts that moved since
// the previous snapshot; a join snapshot marks everything.
type Snapshot struct {
	Version int
	Changed Changed
	Session *engine.Session
	Chat    []engine.ChatMessage
	Status  game.Status
}

type View struct {
	Version    int
	NumClients int
	Session    *engine.Session
	Chat       []engine.ChatMessage
	Status     game.Status
}

type Lobby struct {
	sessionID string
	inbox     chan Msg
	version   int
	session   *engine.Session
	chat      []engine.ChatMessage
	status    game.Status
	clients   map[string]chan Snapshot
	unsub     func()
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closed    chan struct{}
}

// NewLobby subscribes to sessionID through src and starts the actor. The lobby
// stops by itself once its last client leaves.
func NewLobby(parent context.Context, sessionID string, src game.Subscriber, log *zap.Logger) (*Lobby, error) {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		sessionID: sessionID,
		inbox:     make(chan Msg, 64), // Small buffer
		status:    game.StatusDisconnected,
		clients:   make(map[string]chan Snapshot),
		log:       log.With(zap.String("session_id", sessionID)),
		ctx:       ctx,
		cancel:    cancel,
		closed:    make(chan struct{}),
	}

	unsub, err := src.Subscribe(ctx, sessionID, game.Listener{
		Session: func(s engine.Session) { l.post(sessionUpdated{Session: s}) },
		Chat:    func(c []engine.ChatMessage) { l.post(chatUpdated{Chat: c}) },
		Status:  func(s game.Status) { l.post(statusChanged{Status: s}) },
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("lobby %s: subscribe: %w", sessionID, err)
	}
	l.unsub = unsub

	go l.loop()
	return l, nil
}

// post delivers an upstream update unless the lobby is already gone.
func (l *Lobby) post(m Msg) {
	select {
	case l.inbox <- m:
	case <-l.ctx.Done():
	}
}

// Send delivers m to the lobby; false means the lobby has stopped.
func (l *Lobby) Send(m Msg) bool {
	select {
	case <-l.closed:
		return false
	default:
	}
	select {
	case l.inbox <- m:
		return true
	case <-l.closed:
		return false
	}
}

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Closed is closed once the lobby has shut down.
func (l *Lobby) Closed() <-chan struct{} { return l.closed }

func (l *Lobby) SessionID() string { return l.sessionID }

func (l *Lobby) loop() {
	defer close(l.closed)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + send current snapshot immediately
				l.clients[msg.ClientID] = msg.Outbox
				l.sendTo(msg.ClientID, msg.Outbox, l.snapshot(ChangedAll))

			case Leave:
				if ch, ok := l.clients[msg.ClientID]; ok {
					close(ch)
					delete(l.clients, msg.ClientID)
				}
				if len(l.clients) == 0 {
					l.log.Debug("last client left")
					l.shutdown()
					return
				}

			case sessionUpdated:
				s := msg.Session
				if l.session != nil && s.Version < l.session.Version {
					// fetched before an update we already have
					break
				}
				l.session = &s
				l.version++
				l.broadcast(l.snapshot(ChangedSession))

			case chatUpdated:
				l.chat = msg.Chat
				l.version++
				l.broadcast(l.snapshot(ChangedChat))

			case statusChanged:
				if msg.Status == l.status {
					break
				}
				l.status = msg.Status
				l.version++
				l.broadcast(l.snapshot(ChangedStatus))

			case GetState:
				// test-only: reflect internal state without data races
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					Session:    l.session,
					Chat:       l.chat,
					Status:     l.status,
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) snapshot(changed Changed) Snapshot {
	snap := Snapshot{Version: l.version, Changed: changed, Chat: l.chat, Status: l.status}
	if l.session != nil {
		cp := l.session.Clone()
		snap.Session = &cp
	}
	return snap
}

func (l *Lobby) shutdown() {
	l.cancel()
	if l.unsub != nil {
		l.unsub()
		l.unsub = nil
	}
	for id, ch := range l.clients {
		close(ch) // Tell client no more snapshots
		delete(l.clients, id)
	}
}

func (l *Lobby) broadcast(snap Snapshot) {
	for id, ch := range l.clients {
		l.sendTo(id, ch, snap)
	}
}

func (l *Lobby) sendTo(id string, ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		//ok
	default:
		// Client is slow/full - drop them.
		l.log.Info("dropping slow client", zap.String("client_id", id))
		close(ch)
		delete(l.clients, id)
	}
}
