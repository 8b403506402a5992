// Package memstore is an in-process implementation of store.Store and
// store.Feed. It backs the "memory" server mode and the tests, and can be
// told to fail specific operations.
package memstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
	"github.com/DoyleJ11/storyforge-backend/internal/store"
)

type Op string

const (
	OpLoad          Op = "load"
	OpExists        Op = "exists"
	OpInsertSession Op = "insert_session"
	OpDeleteSession Op = "delete_session"
	OpInsertPlayer  Op = "insert_player"
	OpApply         Op = "apply"
	OpInsertChat    Op = "insert_chat"
	OpListChat      Op = "list_chat"
)

var ErrInjected = errors.New("memstore: injected failure")

type sessionRow struct {
	session engine.Session // Players is always empty here
	players map[string]engine.Player
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRow
	chat     map[string][]engine.ChatMessage
	failures map[Op][]error

	feed *Feed
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sessions: make(map[string]*sessionRow),
		chat:     make(map[string][]engine.ChatMessage),
		failures: make(map[Op][]error),
		feed:     newFeed(),
	}
}

// Feed returns the change feed fed by this store's writes.
func (s *Store) Feed() *Feed { return s.feed }

// FailNext makes the next call of op return err (ErrInjected when nil).
// Calls queue up.
func (s *Store) FailNext(op Op, err error) {
	if err == nil {
		err = ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

func (s *Store) failLocked(op Op) error {
	q := s.failures[op]
	if len(q) == 0 {
		return nil
	}
	s.failures[op] = q[1:]
	return q[0]
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) SessionExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked(OpExists); err != nil {
		return false, err
	}
	_, ok := s.sessions[id]
	return ok, nil
}

func (s *Store) InsertSession(_ context.Context, sess engine.Session) error {
	s.mu.Lock()
	if err := s.failLocked(OpInsertSession); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.sessions[sess.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("insert session %s: %w", sess.ID, store.ErrConflict)
	}
	row := sess.Clone()
	row.Players = nil
	row.Version = 1
	s.sessions[sess.ID] = &sessionRow{session: row, players: make(map[string]engine.Player)}
	s.mu.Unlock()

	s.feed.publish(store.ChannelSession, sess.ID)
	return nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	if err := s.failLocked(OpDeleteSession); err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.sessions, id)
	delete(s.chat, id)
	s.mu.Unlock()

	s.feed.publish(store.ChannelSession, id)
	return nil
}

func (s *Store) InsertPlayer(_ context.Context, sessionID string, p engine.Player) error {
	s.mu.Lock()
	if err := s.failLocked(OpInsertPlayer); err != nil {
		s.mu.Unlock()
		return err
	}
	row, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("insert player: session %s: %w", sessionID, store.ErrNotFound)
	}
	if _, dup := row.players[p.ID]; dup {
		s.mu.Unlock()
		return fmt.Errorf("insert player %s: %w", p.ID, store.ErrConflict)
	}
	row.players[p.ID] = p.Clone()
	s.mu.Unlock()

	s.feed.publish(store.ChannelSession, sessionID)
	return nil
}

func (s *Store) LoadSession(_ context.Context, id string) (engine.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked(OpLoad); err != nil {
		return engine.Session{}, err
	}
	row, ok := s.sessions[id]
	if !ok {
		return engine.Session{}, fmt.Errorf("load session %s: %w", id, store.ErrNotFound)
	}
	out := row.session.Clone()
	for pid, p := range row.players {
		cp := p.Clone()
		out.Players[pid] = &cp
	}
	return out, nil
}

func (s *Store) Apply(_ context.Context, c store.Change) error {
	id := c.Session.ID
	s.mu.Lock()
	if err := s.failLocked(OpApply); err != nil {
		s.mu.Unlock()
		return err
	}
	row, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("apply %s: %w", id, store.ErrNotFound)
	}
	if row.session.Version != c.Version {
		s.mu.Unlock()
		return fmt.Errorf("apply %s: version %d != %d: %w", id, c.Version, row.session.Version, store.ErrConflict)
	}

	next := c.Session.Clone()
	next.Players = nil
	next.Version = c.Version + 1
	next.CreatedAt = row.session.CreatedAt
	row.session = next
	for _, p := range c.Players {
		row.players[p.ID] = p.Clone()
	}
	s.mu.Unlock()

	s.feed.publish(store.ChannelSession, id)
	return nil
}

func (s *Store) InsertChat(_ context.Context, m engine.ChatMessage) error {
	s.mu.Lock()
	if err := s.failLocked(OpInsertChat); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.sessions[m.SessionID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("insert chat: session %s: %w", m.SessionID, store.ErrNotFound)
	}
	s.chat[m.SessionID] = append(s.chat[m.SessionID], m)
	s.mu.Unlock()

	s.feed.publish(store.ChannelChat, m.SessionID)
	return nil
}

func (s *Store) ListChat(_ context.Context, sessionID string) ([]engine.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked(OpListChat); err != nil {
		return nil, err
	}
	out := slices.Clone(s.chat[sessionID])
	slices.SortStableFunc(out, func(a, b engine.ChatMessage) int {
		return cmp.Compare(a.Timestamp.UnixNano(), b.Timestamp.UnixNano())
	})
	return out, nil
}

func (s *Store) Close() error {
	s.feed.DropAll(nil)
	return nil
}
