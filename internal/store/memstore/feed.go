package memstore

import (
	"context"
	"errors"
	"sync"

	"github.com/DoyleJ11/storyforge-backend/internal/store"
)

var ErrDropped = errors.New("memstore: subscription dropped")

type subKey struct {
	ch        store.Channel
	sessionID string
}

// Feed fans store writes out to subscriptions keyed by channel and session.
type Feed struct {
	mu           sync.Mutex
	subs         map[subKey]map[*subscription]struct{}
	failNext     int
	subscribed   int
	unsubscribed int
}

var _ store.Feed = (*Feed)(nil)

func newFeed() *Feed {
	return &Feed{subs: make(map[subKey]map[*subscription]struct{})}
}

// FailSubscribe makes the next n Subscribe calls fail.
func (f *Feed) FailSubscribe(n int) {
	f.mu.Lock()
	f.failNext += n
	f.mu.Unlock()
}

// DropAll terminates every live subscription with err (ErrDropped when nil).
func (f *Feed) DropAll(err error) {
	if err == nil {
		err = ErrDropped
	}
	f.mu.Lock()
	var victims []*subscription
	for _, set := range f.subs {
		for s := range set {
			victims = append(victims, s)
		}
	}
	f.mu.Unlock()

	for _, s := range victims {
		s.terminate(err)
	}
}

// Active counts live subscriptions on ch for sessionID.
func (f *Feed) Active(ch store.Channel, sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[subKey{ch, sessionID}])
}

// Stats returns how many subscriptions were opened and closed in total.
func (f *Feed) Stats() (subscribed, unsubscribed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed, f.unsubscribed
}

func (f *Feed) Subscribe(ctx context.Context, ch store.Channel, sessionID string) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return nil, ErrInjected
	}

	key := subKey{ch, sessionID}
	s := &subscription{feed: f, key: key, c: make(chan struct{}, 1)}
	if f.subs[key] == nil {
		f.subs[key] = make(map[*subscription]struct{})
	}
	f.subs[key][s] = struct{}{}
	f.subscribed++
	return s, nil
}

func (f *Feed) publish(ch store.Channel, sessionID string) {
	f.mu.Lock()
	targets := make([]*subscription, 0, len(f.subs[subKey{ch, sessionID}]))
	for s := range f.subs[subKey{ch, sessionID}] {
		targets = append(targets, s)
	}
	f.mu.Unlock()

	for _, s := range targets {
		s.signal()
	}
}

func (f *Feed) remove(s *subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.subs[s.key]; ok {
		if _, live := set[s]; live {
			delete(set, s)
			f.unsubscribed++
		}
		if len(set) == 0 {
			delete(f.subs, s.key)
		}
	}
}

type subscription struct {
	feed *Feed
	key  subKey

	mu     sync.Mutex
	c      chan struct{}
	closed bool
	err    error
}

func (s *subscription) Notify() <-chan struct{} { return s.c }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) signal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.c <- struct{}{}:
	default:
		// a pending signal already covers this change
	}
}

func (s *subscription) terminate(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.c)
	s.mu.Unlock()

	s.feed.remove(s)
}

func (s *subscription) Close() error {
	s.terminate(nil)
	return nil
}
