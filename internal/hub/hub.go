// Package hub keeps the registry of live lobbies, one per session, and
// exposes them as a game.Subscriber so every client binding on this server
// shares a session's single upstream subscription.
package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storyforge-backend/internal/game"
	"github.com/DoyleJ11/storyforge-backend/internal/lobby"
)

var ErrHubClosed = errors.New("hub: closed")

type HubMsg interface{ isHubMsg() }

type LobbyReply struct {
	Lobby *lobby.Lobby
	Err   error
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

// EnsureLobby returns the live lobby for Code, starting a new one when there
// is none or the previous one has shut down.
type EnsureLobby struct {
	Code  string
	Reply chan LobbyReply
}

// RemoveLobby drops the lobby for Code and shuts it down. When Lobby is set
// the entry is only dropped if it is still that lobby.
type RemoveLobby struct {
	Code  string
	Lobby *lobby.Lobby
}

// CountLobbies reports how many lobbies are registered.
type CountLobbies struct {
	Reply chan int
}

type ShutdownHub struct{}

func (GetLobby) isHubMsg()     {}
func (EnsureLobby) isHubMsg()  {}
func (RemoveLobby) isHubMsg()  {}
func (CountLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	src     game.Subscriber
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ game.Subscriber = (*Hub)(nil)

func NewHub(parent context.Context, src game.Subscriber, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		src:     src,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetLobby:
				msg.Reply <- h.live(msg.Code) // May be nil

			case EnsureLobby:
				if lb := h.live(msg.Code); lb != nil {
					msg.Reply <- LobbyReply{Lobby: lb}
					break
				}
				lb, err := lobby.NewLobby(h.ctx, msg.Code, h.src, h.log)
				if err != nil {
					msg.Reply <- LobbyReply{Err: err}
					break
				}
				h.lobbies[msg.Code] = lb
				go h.evictOnClose(msg.Code, lb)
				h.log.Debug("lobby started", zap.String("session_id", msg.Code))
				msg.Reply <- LobbyReply{Lobby: lb}

			case RemoveLobby:
				lb := h.lobbies[msg.Code]
				if lb == nil || (msg.Lobby != nil && msg.Lobby != lb) {
					break
				}
				lb.Send(lobby.Shutdown{})
				delete(h.lobbies, msg.Code)
				h.log.Debug("lobby removed",
					zap.String("session_id", msg.Code), zap.Int("lobbies", len(h.lobbies)))

			case CountLobbies:
				msg.Reply <- len(h.lobbies)

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

// evictOnClose unregisters lb once it shuts itself down.
func (h *Hub) evictOnClose(code string, lb *lobby.Lobby) {
	select {
	case <-lb.Closed():
	case <-h.ctx.Done():
		return
	}
	select {
	case h.inbox <- RemoveLobby{Code: code, Lobby: lb}:
	case <-h.ctx.Done():
	}
}

// live returns the registered lobby for code if it is still running.
func (h *Hub) live(code string) *lobby.Lobby {
	lb := h.lobbies[code]
	if lb == nil {
		return nil
	}
	select {
	case <-lb.Closed():
		delete(h.lobbies, code)
		return nil
	default:
		return lb
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Send(lobby.Shutdown{})
	}
	clear(h.lobbies)
}

func (h *Hub) ensure(ctx context.Context, code string) (*lobby.Lobby, error) {
	reply := make(chan LobbyReply, 1)
	select {
	case h.inbox <- EnsureLobby{Code: code, Reply: reply}:
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.Lobby, r.Err
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

const joinAttempts = 3

// Subscribe joins the session's lobby and forwards its snapshots to l on a
// dedicated goroutine. The initial snapshot has been delivered by the time
// Subscribe returns.
func (h *Hub) Subscribe(ctx context.Context, sessionID string, l game.Listener) (func(), error) {
	for range joinAttempts {
		lb, err := h.ensure(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		clientID := uuid.NewString()
		out := make(chan lobby.Snapshot, 16)
		if !lb.Send(lobby.Join{ClientID: clientID, Outbox: out}) {
			continue
		}

		var first lobby.Snapshot
		select {
		case snap, ok := <-out:
			if !ok {
				continue
			}
			first = snap
		case <-lb.Closed():
			// the lobby shut down before it saw our join
			continue
		case <-ctx.Done():
			lb.Send(lobby.Leave{ClientID: clientID})
			return nil, ctx.Err()
		}
		deliver(l, first)

		var (
			once    sync.Once
			leaving = make(chan struct{})
			done    = make(chan struct{})
		)
		go func() {
			defer close(done)
			for snap := range out {
				deliver(l, snap)
			}
			select {
			case <-leaving:
			default:
				// dropped by the lobby
				if l.Status != nil {
					l.Status(game.StatusDisconnected)
				}
			}
		}()

		return func() {
			once.Do(func() {
				close(leaving)
				lb.Send(lobby.Leave{ClientID: clientID})
				<-done
			})
		}, nil
	}
	return nil, errors.New("hub: lobby unavailable")
}

func deliver(l game.Listener, snap lobby.Snapshot) {
	if snap.Changed&lobby.ChangedStatus != 0 && l.Status != nil {
		l.Status(snap.Status)
	}
	if snap.Changed&lobby.ChangedSession != 0 && snap.Session != nil && l.Session != nil {
		l.Session(*snap.Session)
	}
	if snap.Changed&lobby.ChangedChat != 0 && l.Chat != nil {
		l.Chat(snap.Chat)
	}
}
