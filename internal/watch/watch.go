// Package watch keeps one session's cached state convergent with the store.
//
// A Watcher holds two push links, one for session and player rows and one for
// chat. Every push notification triggers a full re-read. While a link is not
// connected a ticker polls in its place, and a dropped link is re-opened with
// exponential backoff until the attempt cap is reached, after which polling
// carries on alone.
package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
	"github.com/DoyleJ11/storyforge-backend/internal/game"
	"github.com/DoyleJ11/storyforge-backend/internal/store"
)

// Reader is the read side of the store the watcher refetches from.
type Reader interface {
	LoadSession(ctx context.Context, sessionID string) (engine.Session, error)
	ListChat(ctx context.Context, sessionID string) ([]engine.ChatMessage, error)
}

type Config struct {
	PollInterval         time.Duration
	ChatPollInterval     time.Duration
	ReconnectBase        time.Duration
	MaxReconnectAttempts int
	SubscribeTimeout     time.Duration
	FetchTimeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:         time.Second,
		ChatPollInterval:     3 * time.Second,
		ReconnectBase:        time.Second,
		MaxReconnectAttempts: 5,
		SubscribeTimeout:     10 * time.Second,
		FetchTimeout:         5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ChatPollInterval <= 0 {
		c.ChatPollInterval = d.ChatPollInterval
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = d.ReconnectBase
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = d.SubscribeTimeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	return c
}

type Watcher struct {
	sessionID string
	reader    Reader
	feed      store.Feed
	listener  game.Listener
	cfg       Config
	log       *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	stop   sync.Once

	mu     sync.Mutex
	status game.Status
}

// New starts watching sessionID. Listener callbacks run on the watcher's own
// goroutine, never after Stop has returned.
func New(parent context.Context, sessionID string, r Reader, feed store.Feed, l game.Listener, cfg Config, log *zap.Logger) *Watcher {
	ctx, cancel := context.WithCancel(parent)
	w := &Watcher{
		sessionID: sessionID,
		reader:    r,
		feed:      feed,
		listener:  l,
		cfg:       cfg.withDefaults(),
		log:       log.With(zap.String("session_id", sessionID)),
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    game.StatusDisconnected,
	}
	go w.loop(ctx)
	return w
}

func (w *Watcher) Status() game.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Stop tears down both links and every timer, and waits for the loop to
// exit. Later calls return immediately.
func (w *Watcher) Stop() {
	w.stop.Do(func() {
		w.cancel()
		<-w.done
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	session := w.newLink(store.ChannelSession)
	chat := w.newLink(store.ChannelChat)
	defer session.close()
	defer chat.close()

	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()
	chatPoll := time.NewTicker(w.cfg.ChatPollInterval)
	defer chatPoll.Stop()

	w.connect(ctx, session)
	w.connect(ctx, chat)
	_ = w.fetchSession(ctx)
	_ = w.fetchChat(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case _, ok := <-session.notifyC():
			if !ok {
				w.linkDown(session)
				continue
			}
			_ = w.fetchSession(ctx)

		case _, ok := <-chat.notifyC():
			if !ok {
				w.linkDown(chat)
				continue
			}
			_ = w.fetchChat(ctx)

		case <-session.retryC():
			session.retry = nil
			if w.connect(ctx, session) {
				_ = w.fetchSession(ctx)
			}

		case <-chat.retryC():
			chat.retry = nil
			if w.connect(ctx, chat) {
				_ = w.fetchChat(ctx)
			}

		case <-poll.C:
			if !session.connected() {
				_ = w.fetchSession(ctx)
			}

		case <-chatPoll.C:
			if !chat.connected() {
				_ = w.fetchChat(ctx)
			}
		}
	}
}

func (w *Watcher) fetchSession(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()

	s, err := w.reader.LoadSession(ctx, w.sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		w.log.Debug("session gone")
		return err
	case errors.Is(err, context.Canceled):
		return err
	case err != nil:
		w.log.Warn("session fetch failed", zap.Error(err))
		return err
	}
	if w.listener.Session != nil {
		w.listener.Session(s)
	}
	return nil
}

func (w *Watcher) fetchChat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()

	msgs, err := w.reader.ListChat(ctx, w.sessionID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.log.Warn("chat fetch failed", zap.Error(err))
		}
		return err
	}
	if w.listener.Chat != nil {
		w.listener.Chat(msgs)
	}
	return nil
}

func (w *Watcher) setStatus(s game.Status) {
	w.mu.Lock()
	changed := w.status != s
	w.status = s
	w.mu.Unlock()

	if changed && w.listener.Status != nil {
		w.listener.Status(s)
	}
}
