package watch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storyforge-backend/internal/game"
	"github.com/DoyleJ11/storyforge-backend/internal/store"
)

// link is one push subscription and its reconnect bookkeeping. It is only
// touched from the watcher loop.
type link struct {
	ch       store.Channel
	sub      store.Subscription
	attempts int
	backoff  *backoff.ExponentialBackOff
	retry    *time.Timer
	gaveUp   bool
	log      *zap.Logger
}

func (w *Watcher) newLink(ch store.Channel) *link {
	return &link{
		ch:      ch,
		backoff: newBackoff(w.cfg.ReconnectBase),
		log:     w.log.With(zap.String("channel", string(ch))),
	}
}

// newBackoff yields base, 2*base, 4*base and so on, without jitter.
func newBackoff(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = base << 16
	b.Reset()
	return b
}

func (l *link) connected() bool { return l.sub != nil }

func (l *link) notifyC() <-chan struct{} {
	if l.sub == nil {
		return nil
	}
	return l.sub.Notify()
}

func (l *link) retryC() <-chan time.Time {
	if l.retry == nil {
		return nil
	}
	return l.retry.C
}

func (l *link) close() {
	if l.retry != nil {
		l.retry.Stop()
		l.retry = nil
	}
	if l.sub != nil {
		if err := l.sub.Close(); err != nil {
			l.log.Debug("close subscription", zap.Error(err))
		}
		l.sub = nil
	}
}

// connect opens the link and reports whether it is now live.
func (w *Watcher) connect(ctx context.Context, l *link) bool {
	sctx, cancel := context.WithTimeout(ctx, w.cfg.SubscribeTimeout)
	sub, err := w.feed.Subscribe(sctx, l.ch, w.sessionID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		l.log.Warn("subscribe failed", zap.Error(err), zap.Int("attempt", l.attempts))
		w.scheduleRetry(l)
		return false
	}

	l.sub = sub
	l.attempts = 0
	l.backoff.Reset()
	if l.ch == store.ChannelSession {
		w.setStatus(game.StatusConnected)
	}
	l.log.Debug("subscribed")
	return true
}

// linkDown handles a subscription that closed under us.
func (w *Watcher) linkDown(l *link) {
	err := l.sub.Err()
	_ = l.sub.Close()
	l.sub = nil
	l.log.Warn("push link dropped", zap.Error(err))
	w.scheduleRetry(l)
}

func (w *Watcher) scheduleRetry(l *link) {
	primary := l.ch == store.ChannelSession
	if primary {
		w.setStatus(game.StatusDisconnected)
	}
	if l.attempts >= w.cfg.MaxReconnectAttempts {
		if !l.gaveUp {
			l.gaveUp = true
			l.log.Warn("reconnect attempts exhausted, polling only",
				zap.Int("attempts", l.attempts))
		}
		return
	}

	delay := l.backoff.NextBackOff()
	l.attempts++
	l.retry = time.NewTimer(delay)
	l.log.Info("reconnect scheduled",
		zap.Int("attempt", l.attempts),
		zap.Duration("delay", delay))
	if primary {
		w.setStatus(game.StatusReconnecting)
	}
}
