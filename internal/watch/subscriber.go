package watch

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/storyforge-backend/internal/game"
	"github.com/DoyleJ11/storyforge-backend/internal/store"
)

// Subscriber hands out one Watcher per subscription.
type Subscriber struct {
	reader Reader
	feed   store.Feed
	cfg    Config
	log    *zap.Logger
}

var _ game.Subscriber = (*Subscriber)(nil)

func NewSubscriber(r Reader, feed store.Feed, cfg Config, log *zap.Logger) *Subscriber {
	return &Subscriber{reader: r, feed: feed, cfg: cfg, log: log}
}

// Subscribe starts a watcher for sessionID that lives until the returned
// function is called or ctx is done.
func (s *Subscriber) Subscribe(ctx context.Context, sessionID string, l game.Listener) (func(), error) {
	w := New(ctx, sessionID, s.reader, s.feed, l, s.cfg, s.log)
	return w.Stop, nil
}
