package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storyforge-backend/internal/binding"
	"github.com/DoyleJ11/storyforge-backend/internal/game"
	"github.com/DoyleJ11/storyforge-backend/internal/story"
	"github.com/DoyleJ11/storyforge-backend/internal/types"
)

const (
	writeTimeout    = 3 * time.Second
	pingInterval    = 30 * time.Second
	presenceTimeout = 5 * time.Second
)

var errUnknownType = errors.New("unknown type")

// Handler serves one client binding per connection. Optional query
// parameters session and player resume an existing seat.
func Handler(mgr game.Manager, sub game.Subscriber, gen story.Generator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		c := &client{
			conn: conn,
			mgr:  mgr,
			b:    binding.New(mgr, sub, gen, log),
			log:  log,
		}
		defer c.close()

		// Writer goroutine: coalesces state changes, always sends the latest.
		dirty := make(chan struct{}, 1)
		unsub := c.b.OnChange(func(binding.State) {
			select {
			case dirty <- struct{}{}:
			default:
			}
		})
		defer unsub()

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			ping := time.NewTicker(pingInterval)
			defer ping.Stop()
			for {
				select {
				case <-writeCtx.Done():
					return
				case <-dirty:
					st := c.b.State()
					c.write(writeCtx, types.ServerMessage{Type: "State", State: &st})
				case <-ping.C:
					ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
					err := conn.Ping(ctx)
					cancel()
					if err != nil {
						conn.Close(websocket.StatusGoingAway, "ping timeout")
						return
					}
				}
			}
		}()

		q := r.URL.Query()
		if sid, pid := q.Get("session"), q.Get("player"); sid != "" {
			c.handle(r.Context(), types.ClientMessage{Type: "Resume", SessionID: sid, PlayerID: pid})
		}

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("websocket read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				c.write(r.Context(), types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}
			c.handle(r.Context(), cm)
		}
	}
}

type client struct {
	conn *websocket.Conn
	mgr  game.Manager
	b    *binding.Binding
	log  *zap.Logger
}

func (c *client) handle(ctx context.Context, m types.ClientMessage) {
	res, err := c.dispatch(ctx, m)
	if err != nil {
		c.write(ctx, types.ServerMessage{Type: "Error", Op: m.Type, Error: err.Error()})
		return
	}
	res.Type = "Result"
	res.Op = m.Type
	c.write(ctx, res)
}

func (c *client) dispatch(ctx context.Context, m types.ClientMessage) (types.ServerMessage, error) {
	var (
		res types.ServerMessage
		err error
	)
	switch m.Type {
	case "Create":
		res.SessionID, err = c.b.Create(ctx, m.Name, m.Theme)
		res.OK = err == nil
		c.online(ctx, true)
	case "Join":
		res.OK, err = c.b.Join(ctx, m.SessionID, m.Name)
		c.online(ctx, true)
	case "Resume":
		res.OK, err = c.b.Resume(ctx, m.SessionID, m.PlayerID)
		c.online(ctx, true)
	case "Start":
		res.OK, err = c.b.Start(ctx)
	case "Roll":
		res.Dice, err = c.b.Roll(ctx)
		res.OK = res.Dice != 0
	case "Move":
		res.Tile, err = c.b.Move(ctx, m.PlayerID, m.Steps)
		res.OK = res.Tile != nil
	case "Resolve":
		res.OK, err = c.b.Resolve(ctx, m.PlayerID, m.Success, m.Choice)
	case "End":
		res.OK, err = c.b.End(ctx)
	case "Chat":
		err = c.b.Chat(ctx, m.Message)
		res.OK = err == nil
	case "Refresh":
		err = c.b.Refresh(ctx)
		res.OK = err == nil
	case "Stories":
		res.Stories, err = c.b.Stories(ctx)
		res.OK = err == nil
	case "BeginTransition":
		c.b.BeginTransition()
		res.OK = true
	case "EndTransition":
		c.b.EndTransition()
		res.OK = true
	case "Leave":
		sid, pid := c.b.SessionID(), c.b.PlayerID()
		c.b.Cleanup()
		if res.OK = c.b.SessionID() == ""; res.OK {
			c.presence(ctx, sid, pid, false)
		}
	default:
		return res, errUnknownType
	}
	res.SessionID = c.b.SessionID()
	res.PlayerID = c.b.PlayerID()
	return res, err
}

// online flips the bound player's presence when the manager tracks it.
func (c *client) online(ctx context.Context, on bool) {
	c.presence(ctx, c.b.SessionID(), c.b.PlayerID(), on)
}

func (c *client) presence(ctx context.Context, sid, pid string, on bool) {
	ps, ok := c.mgr.(game.PresenceSetter)
	if !ok || sid == "" || pid == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceTimeout)
	defer cancel()
	if _, err := ps.SetPresence(ctx, sid, pid, on); err != nil {
		c.log.Warn("presence update failed",
			zap.String("session_id", sid), zap.String("player_id", pid), zap.Error(err))
	}
}

func (c *client) close() {
	c.online(context.Background(), false)
	c.b.Close()
}

func (c *client) write(ctx context.Context, m types.ServerMessage) {
	payload, err := json.Marshal(m)
	if err != nil {
		c.log.Error("encode server message", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = c.conn.Write(ctx, websocket.MessageText, payload)
}
