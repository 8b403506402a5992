package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
	"github.com/DoyleJ11/storyforge-backend/internal/store"
)

func board() engine.Board {
	return engine.Board{Tiles: []engine.Tile{
		{ID: 0, Type: engine.TileStart, Title: "Start"},
		{ID: 1, Type: engine.TileFinish, Title: "End"},
	}}
}

func seed(t *testing.T, s *Store) engine.Session {
	t.Helper()
	host := engine.Player{ID: "h", Name: "Ada", Avatar: "a", Color: "c"}
	sess, err := engine.NewSession("ABC123", host, "Theme", board(), time.Now())
	require.NoError(t, err)
	require.NoError(t, s.InsertSession(context.Background(), sess))
	require.NoError(t, s.InsertPlayer(context.Background(), sess.ID, *sess.Players["h"]))
	return sess
}

func recvSignal(t *testing.T, sub store.Subscription) {
	t.Helper()
	select {
	case _, ok := <-sub.Notify():
		require.True(t, ok, "subscription closed unexpectedly")
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for notification")
	}
}

func TestStore_InsertAndLoad(t *testing.T) {
	s := New()
	seed(t, s)

	got, err := s.LoadSession(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	require.Contains(t, got.Players, "h")
	assert.True(t, got.Players["h"].IsHost)

	_, err = s.LoadSession(context.Background(), "NOPE00")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_DuplicateSessionConflicts(t *testing.T) {
	s := New()
	sess := seed(t, s)
	assert.ErrorIs(t, s.InsertSession(context.Background(), sess), store.ErrConflict)
}

func TestStore_ApplyRejectsStaleVersion(t *testing.T) {
	s := New()
	seed(t, s)
	ctx := context.Background()

	before, err := s.LoadSession(ctx, "ABC123")
	require.NoError(t, err)
	_, after, err := engine.Apply(before, engine.Command{Type: engine.CmdStart})
	require.NoError(t, err)

	require.NoError(t, s.Apply(ctx, store.NewChange(before, after)))
	err = s.Apply(ctx, store.NewChange(before, after))
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := s.LoadSession(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, engine.PhasePlaying, got.Phase)
}

func TestStore_FailNextIsOneShot(t *testing.T) {
	s := New()
	s.FailNext(OpLoad, nil)
	seed(t, s)

	_, err := s.LoadSession(context.Background(), "ABC123")
	assert.ErrorIs(t, err, ErrInjected)
	_, err = s.LoadSession(context.Background(), "ABC123")
	assert.NoError(t, err)
}

func TestFeed_NotifiesPerChannelAndSession(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s)

	sessSub, err := s.Feed().Subscribe(ctx, store.ChannelSession, "ABC123")
	require.NoError(t, err)
	chatSub, err := s.Feed().Subscribe(ctx, store.ChannelChat, "ABC123")
	require.NoError(t, err)

	require.NoError(t, s.InsertChat(ctx, engine.ChatMessage{ID: "m1", SessionID: "ABC123", Message: "hi", Timestamp: time.Now()}))
	recvSignal(t, chatSub)
	select {
	case <-sessSub.Notify():
		t.Fatal("chat insert must not signal the session channel")
	default:
	}

	require.NoError(t, s.InsertPlayer(ctx, "ABC123", engine.Player{ID: "b", Name: "Bo", Avatar: "a", Color: "c", Seat: 1}))
	recvSignal(t, sessSub)
}

func TestFeed_DropClosesWithError(t *testing.T) {
	s := New()
	sub, err := s.Feed().Subscribe(context.Background(), store.ChannelSession, "ABC123")
	require.NoError(t, err)

	s.Feed().DropAll(nil)
	_, ok := <-sub.Notify()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), ErrDropped)
	assert.Zero(t, s.Feed().Active(store.ChannelSession, "ABC123"))

	require.NoError(t, sub.Close(), "close after drop must be harmless")
}

func TestFeed_FailSubscribe(t *testing.T) {
	s := New()
	s.Feed().FailSubscribe(1)
	_, err := s.Feed().Subscribe(context.Background(), store.ChannelSession, "ABC123")
	assert.ErrorIs(t, err, ErrInjected)
	_, err = s.Feed().Subscribe(context.Background(), store.ChannelSession, "ABC123")
	assert.NoError(t, err)
}
