package watch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
	"github.com/DoyleJ11/storyforge-backend/internal/game"
	"github.com/DoyleJ11/storyforge-backend/internal/game/gametest"
	"github.com/DoyleJ11/storyforge-backend/internal/remote"
	"github.com/DoyleJ11/storyforge-backend/internal/store"
	"github.com/DoyleJ11/storyforge-backend/internal/store/memstore"
)

type recorder struct {
	mu       sync.Mutex
	sessions []engine.Session
	chats    [][]engine.ChatMessage
	statuses []game.Status
}

func (r *recorder) listener() game.Listener {
	return game.Listener{
		Session: func(s engine.Session) {
			r.mu.Lock()
			r.sessions = append(r.sessions, s)
			r.mu.Unlock()
		},
		Chat: func(m []engine.ChatMessage) {
			r.mu.Lock()
			r.chats = append(r.chats, m)
			r.mu.Unlock()
		},
		Status: func(s game.Status) {
			r.mu.Lock()
			r.statuses = append(r.statuses, s)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) latest() (engine.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) == 0 {
		return engine.Session{}, false
	}
	return r.sessions[len(r.sessions)-1], true
}

func (r *recorder) latestChat() []engine.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chats) == 0 {
		return nil
	}
	return r.chats[len(r.chats)-1]
}

func (r *recorder) statusLog() []game.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]game.Status(nil), r.statuses...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions) + len(r.chats)
}

// countingReader counts session loads.
type countingReader struct {
	Reader
	loads atomic.Int64
}

func (c *countingReader) LoadSession(ctx context.Context, id string) (engine.Session, error) {
	c.loads.Add(1)
	return c.Reader.LoadSession(ctx, id)
}

func fastConfig() Config {
	return Config{
		PollInterval:         20 * time.Millisecond,
		ChatPollInterval:     20 * time.Millisecond,
		ReconnectBase:        10 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}
}

func setup(t *testing.T) (*memstore.Store, *remote.Manager, string) {
	t.Helper()
	st := memstore.New()
	m := remote.New(st, game.NewDice(1, 2), zaptest.NewLogger(t))
	id, err := m.CreateSession(context.Background(), gametest.Player("Ada"), "Test Theme", gametest.Board())
	require.NoError(t, err)
	return st, m, id
}

func TestWatcher_PublishesInitialSnapshotAndConnects(t *testing.T) {
	st, _, id := setup(t)
	rec := &recorder{}
	w := New(context.Background(), id, st, st.Feed(), rec.listener(), fastConfig(), zaptest.NewLogger(t))
	defer w.Stop()

	require.Eventually(t, func() bool {
		s, ok := rec.latest()
		return ok && s.ID == id
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return w.Status() == game.StatusConnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []game.Status{game.StatusConnected}, rec.statusLog())
	assert.Equal(t, 1, st.Feed().Active(store.ChannelSession, id))
	assert.Equal(t, 1, st.Feed().Active(store.ChannelChat, id))
}

func TestWatcher_PushTriggersRefetch(t *testing.T) {
	st, m, id := setup(t)
	rec := &recorder{}
	w := New(context.Background(), id, st, st.Feed(), rec.listener(), fastConfig(), zaptest.NewLogger(t))
	defer w.Stop()
	require.Eventually(t, func() bool { return w.Status() == game.StatusConnected }, time.Second, 5*time.Millisecond)

	ok, err := m.JoinSession(context.Background(), id, gametest.Player("Bo"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		s, _ := rec.latest()
		return len(s.Players) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.SendChatMessage(context.Background(), id, "id-Bo", "Bo", "hi"))
	require.Eventually(t, func() bool { return len(rec.latestChat()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestWatcher_NoPollingWhilePushConnected(t *testing.T) {
	st, _, id := setup(t)
	r := &countingReader{Reader: st}
	w := New(context.Background(), id, r, st.Feed(), game.Listener{}, fastConfig(), zaptest.NewLogger(t))
	defer w.Stop()

	require.Eventually(t, func() bool { return w.Status() == game.StatusConnected }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return r.loads.Load() > 1 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestWatcher_ReconnectsAfterDrop(t *testing.T) {
	st, m, id := setup(t)
	rec := &recorder{}
	w := New(context.Background(), id, st, st.Feed(), rec.listener(), fastConfig(), zaptest.NewLogger(t))
	defer w.Stop()
	require.Eventually(t, func() bool { return w.Status() == game.StatusConnected }, time.Second, 5*time.Millisecond)

	st.Feed().DropAll(nil)

	require.Eventually(t, func() bool {
		log := rec.statusLog()
		return len(log) >= 4 && log[len(log)-1] == game.StatusConnected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []game.Status{
		game.StatusConnected,
		game.StatusDisconnected,
		game.StatusReconnecting,
		game.StatusConnected,
	}, rec.statusLog())
	assert.Equal(t, 1, st.Feed().Active(store.ChannelSession, id))

	// the re-opened link still delivers
	_, err := m.StartSession(context.Background(), id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, _ := rec.latest()
		return s.Phase == engine.PhasePlaying
	}, time.Second, 5*time.Millisecond)
}

func TestWatcher_FallsBackToPollingAfterAttemptCap(t *testing.T) {
	st, m, id := setup(t)
	st.Feed().FailSubscribe(1000)
	rec := &recorder{}
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 2
	w := New(context.Background(), id, st, st.Feed(), rec.listener(), cfg, zaptest.NewLogger(t))
	defer w.Stop()

	// starts disconnected, then two rounds of reconnecting/disconnected
	require.Eventually(t, func() bool { return len(rec.statusLog()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []game.Status{
		game.StatusReconnecting,
		game.StatusDisconnected,
		game.StatusReconnecting,
		game.StatusDisconnected,
	}, rec.statusLog())
	assert.Never(t, func() bool { return len(rec.statusLog()) > 4 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Zero(t, st.Feed().Active(store.ChannelSession, id))

	ok, err := m.JoinSession(context.Background(), id, gametest.Player("Bo"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		s, _ := rec.latest()
		return len(s.Players) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.SendChatMessage(context.Background(), id, "id-Bo", "Bo", "anyone?"))
	require.Eventually(t, func() bool { return len(rec.latestChat()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestWatcher_StopIsIdempotentAndSilences(t *testing.T) {
	st, m, id := setup(t)
	rec := &recorder{}
	w := New(context.Background(), id, st, st.Feed(), rec.listener(), fastConfig(), zaptest.NewLogger(t))
	require.Eventually(t, func() bool { return w.Status() == game.StatusConnected }, time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()

	assert.Zero(t, st.Feed().Active(store.ChannelSession, id))
	assert.Zero(t, st.Feed().Active(store.ChannelChat, id))

	seen := rec.count()
	_, err := m.JoinSession(context.Background(), id, gametest.Player("Bo"))
	require.NoError(t, err)
	assert.Never(t, func() bool { return rec.count() != seen }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestWatcher_StopDuringBackoff(t *testing.T) {
	st, _, id := setup(t)
	st.Feed().FailSubscribe(1000)
	cfg := fastConfig()
	cfg.ReconnectBase = time.Hour
	w := New(context.Background(), id, st, st.Feed(), game.Listener{}, cfg, zaptest.NewLogger(t))

	require.Eventually(t, func() bool { return w.Status() == game.StatusReconnecting }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a pending reconnect timer")
	}
}

func TestBackoffDoubles(t *testing.T) {
	b := newBackoff(100 * time.Millisecond)
	got := []time.Duration{b.NextBackOff(), b.NextBackOff(), b.NextBackOff(), b.NextBackOff()}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}, got)

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
}

func TestSubscriber_UnsubscribeStopsWatcher(t *testing.T) {
	st, _, id := setup(t)
	sub := NewSubscriber(st, st.Feed(), fastConfig(), zaptest.NewLogger(t))

	rec := &recorder{}
	unsubscribe, err := sub.Subscribe(context.Background(), id, rec.listener())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return st.Feed().Active(store.ChannelSession, id) == 1 }, time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
	assert.Zero(t, st.Feed().Active(store.ChannelSession, id))
}
