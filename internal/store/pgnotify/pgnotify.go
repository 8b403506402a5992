// Package pgnotify implements the push path over PostgreSQL LISTEN/NOTIFY.
// Each subscription holds its own connection so a dropped link only affects
// the session that owns it.
package pgnotify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storyforge-backend/internal/store"
)

type Feed struct {
	dsn string
	log *zap.Logger
}

var _ store.Feed = (*Feed)(nil)

func New(dsn string, log *zap.Logger) *Feed {
	return &Feed{dsn: dsn, log: log}
}

// Subscribe connects, issues LISTEN and returns once the server has
// acknowledged it.
func (f *Feed) Subscribe(ctx context.Context, ch store.Channel, sessionID string) (store.Subscription, error) {
	conn, err := pgx.Connect(ctx, f.dsn)
	if err != nil {
		return nil, fmt.Errorf("pgnotify: connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{string(ch)}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("pgnotify: listen %s: %w", ch, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		conn:      conn,
		sessionID: sessionID,
		c:         make(chan struct{}, 1),
		cancel:    cancel,
		done:      make(chan struct{}),
		log:       f.log.With(zap.String("channel", string(ch)), zap.String("session_id", sessionID)),
	}
	go s.loop(loopCtx)
	return s, nil
}

type subscription struct {
	conn      *pgx.Conn
	sessionID string
	c         chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	log       *zap.Logger

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func (s *subscription) Notify() <-chan struct{} { return s.c }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) loop(ctx context.Context) {
	defer close(s.done)
	defer close(s.c)

	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				s.log.Warn("notification link lost", zap.Error(err))
			}
			return
		}
		if n.Payload != s.sessionID {
			continue
		}
		select {
		case s.c <- struct{}{}:
		default:
		}
	}
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		err = s.conn.Close(context.Background())
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return err
}
