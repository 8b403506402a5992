package remote

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
	"github.com/DoyleJ11/storyforge-backend/internal/game"
	"github.com/DoyleJ11/storyforge-backend/internal/game/gametest"
	"github.com/DoyleJ11/storyforge-backend/internal/store"
	"github.com/DoyleJ11/storyforge-backend/internal/store/memstore"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	t.Cleanup(func() { _ = st.Close() })
	return New(st, game.NewDice(7, 11), zaptest.NewLogger(t), opts...), st
}

func TestManagerContract(t *testing.T) {
	gametest.RunManagerContract(t, func(t *testing.T) game.Manager {
		m, _ := newTestManager(t)
		return m
	})
}

func TestCreateSession_RollsBackWhenHostInsertFails(t *testing.T) {
	m, st := newTestManager(t, WithIDSource(func() (string, error) { return "ROLL01", nil }))
	st.FailNext(memstore.OpInsertPlayer, nil)

	_, err := m.CreateSession(context.Background(), gametest.Player("Ada"), "Test Theme", gametest.Board())
	require.ErrorIs(t, err, memstore.ErrInjected)

	exists, err := st.SessionExists(context.Background(), "ROLL01")
	require.NoError(t, err)
	assert.False(t, exists, "session shell must be removed")
}

func TestCreateSession_ReportsFailedRollback(t *testing.T) {
	m, st := newTestManager(t, WithIDSource(func() (string, error) { return "ROLL02", nil }))
	st.FailNext(memstore.OpInsertPlayer, nil)
	cleanupErr := errors.New("delete failed")
	st.FailNext(memstore.OpDeleteSession, cleanupErr)

	_, err := m.CreateSession(context.Background(), gametest.Player("Ada"), "Test Theme", gametest.Board())
	require.ErrorIs(t, err, memstore.ErrInjected)
	require.ErrorIs(t, err, cleanupErr)
}

func TestCreateSession_ValidatesBeforeWriting(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	// stays queued unless an insert is attempted
	st.FailNext(memstore.OpInsertSession, nil)

	bad := gametest.Player("Ada")
	bad.Avatar = ""
	_, err := m.CreateSession(ctx, bad, "Test Theme", gametest.Board())
	require.ErrorIs(t, err, engine.ErrInvalidPlayer)

	_, err = m.CreateSession(ctx, gametest.Player("Ada"), "", gametest.Board())
	require.Error(t, err)

	_, err = m.CreateSession(ctx, gametest.Player("Ada"), "Test Theme", gametest.Board())
	require.ErrorIs(t, err, memstore.ErrInjected)
}

func TestCreateSession_SkipsTakenIDs(t *testing.T) {
	ids := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	var mu sync.Mutex
	next := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}
	m, _ := newTestManager(t, WithIDSource(next))
	ctx := context.Background()

	first, err := m.CreateSession(ctx, gametest.Player("Ada"), "Test Theme", gametest.Board())
	require.NoError(t, err)
	second, err := m.CreateSession(ctx, gametest.Player("Bo"), "Test Theme", gametest.Board())
	require.NoError(t, err)

	assert.Equal(t, "AAAAAA", first)
	assert.Equal(t, "BBBBBB", second)
}

func TestCreateSession_ConflictWhenNoIDFree(t *testing.T) {
	m, _ := newTestManager(t, WithIDSource(func() (string, error) { return "SAME00", nil }))
	ctx := context.Background()

	_, err := m.CreateSession(ctx, gametest.Player("Ada"), "Test Theme", gametest.Board())
	require.NoError(t, err)
	_, err = m.CreateSession(ctx, gametest.Player("Bo"), "Test Theme", gametest.Board())
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestMutate_RetriesOnVersionConflict(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	id, err := m.CreateSession(ctx, gametest.Player("Ada"), "Test Theme", gametest.Board())
	require.NoError(t, err)

	st.FailNext(memstore.OpApply, store.ErrConflict)
	ok, err := m.JoinSession(ctx, id, gametest.Player("Bo"))
	require.NoError(t, err)
	assert.True(t, ok)

	s, err := m.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Len(t, s.Players, 2)
}

func TestMutate_GivesUpAfterRepeatedConflicts(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	id, err := m.CreateSession(ctx, gametest.Player("Ada"), "Test Theme", gametest.Board())
	require.NoError(t, err)

	for range maxConflictRetries + 1 {
		st.FailNext(memstore.OpApply, store.ErrConflict)
	}
	ok, err := m.StartSession(ctx, id)
	require.ErrorIs(t, err, store.ErrConflict)
	assert.False(t, ok)
}

func TestWriteFailureIsSurfaced(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	id, err := m.CreateSession(ctx, gametest.Player("Ada"), "Test Theme", gametest.Board())
	require.NoError(t, err)

	st.FailNext(memstore.OpApply, nil)
	_, err = m.RollDice(ctx, id)
	require.ErrorIs(t, err, memstore.ErrInjected)

	st.FailNext(memstore.OpLoad, nil)
	_, err = m.MovePlayer(ctx, id, "id-Ada", 1)
	require.ErrorIs(t, err, memstore.ErrInjected)
}

func TestConcurrentResolveAdvancesTurnOnce(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	id, err := m.CreateSession(ctx, gametest.Player("Ada"), "Test Theme", gametest.Board())
	require.NoError(t, err)
	for _, name := range []string{"Bo", "Cy"} {
		ok, err := m.JoinSession(ctx, id, gametest.Player(name))
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, err = m.StartSession(ctx, id)
	require.NoError(t, err)
	_, err = m.MovePlayer(ctx, id, "id-Ada", 3)
	require.NoError(t, err)

	const clients = 4
	results := make(chan bool, clients)
	var wg sync.WaitGroup
	for range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.ResolveEvent(ctx, id, "id-Ada", true, "")
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	s, err := m.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "id-Bo", s.CurrentPlayerID)
	assert.Equal(t, 5, s.Players["id-Ada"].Karma)
}

func TestSetPresence(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	id, err := m.CreateSession(ctx, gametest.Player("Ada"), "Test Theme", gametest.Board())
	require.NoError(t, err)

	ok, err := m.SetPresence(ctx, id, "id-Ada", false)
	require.NoError(t, err)
	require.True(t, ok)

	s, err := m.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.False(t, s.Players["id-Ada"].IsOnline)
	assert.Equal(t, []string{"Ada created the game"}, s.GameLog)

	ok, err = m.SetPresence(ctx, id, "id-Ghost", true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChatToMissingSession(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.SendChatMessage(context.Background(), "NOPE00", "p", "Ada", "hi")
	require.ErrorIs(t, err, engine.ErrSessionNotFound)
}
