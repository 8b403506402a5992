// Package gametest holds the behaviour every game.Manager must show. Both
// session variants run it unmodified.
package gametest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
	"github.com/DoyleJ11/storyforge-backend/internal/game"
)

// Board is a five tile board: start, a dilemma, a dare, a task and the finish.
func Board() engine.Board {
	return engine.Board{
		Theme:        "Test Theme",
		StoryContext: "A test adventure.",
		Tiles: []engine.Tile{
			{ID: 0, Type: engine.TileStart, Title: "Start"},
			{ID: 1, Type: engine.TileDilemma, Title: "Fork in the Road", KarmaValue: 1, Choices: []string{"Help", "Ignore"}},
			{ID: 2, Type: engine.TileDare, Title: "Cold Shower", KarmaValue: -3},
			{ID: 3, Type: engine.TileTask, Title: "Sing a Song", KarmaValue: 5},
			{ID: 4, Type: engine.TileFinish, Title: "Finish", KarmaValue: 10},
		},
	}
}

// Player returns a well-formed player with a fixed id.
func Player(name string) engine.Player {
	return engine.Player{
		ID:       "id-" + name,
		Name:     name,
		Avatar:   "🤖",
		Color:    "bg-blue-500",
		IsReady:  true,
		IsOnline: true,
		Actions:  []string{},
	}
}

type Factory func(t *testing.T) game.Manager

// RunManagerContract runs the shared suite against managers built by newManager.
func RunManagerContract(t *testing.T, newManager Factory) {
	t.Run("CreateSession", func(t *testing.T) { testCreate(t, newManager(t)) })
	t.Run("CreateRejectsMalformedHost", func(t *testing.T) { testCreateMalformed(t, newManager(t)) })
	t.Run("PlaythroughToFinish", func(t *testing.T) { testPlaythrough(t, newManager(t)) })
	t.Run("JoinCapacity", func(t *testing.T) { testJoinCapacity(t, newManager(t)) })
	t.Run("JoinAfterStartFails", func(t *testing.T) { testJoinAfterStart(t, newManager(t)) })
	t.Run("UnknownSession", func(t *testing.T) { testUnknownSession(t, newManager(t)) })
	t.Run("KarmaArithmetic", func(t *testing.T) { testKarma(t, newManager) })
	t.Run("ResolveWithoutEvent", func(t *testing.T) { testResolveWithoutEvent(t, newManager(t)) })
	t.Run("MoveClampsAtFinish", func(t *testing.T) { testMoveClamps(t, newManager(t)) })
	t.Run("EndSession", func(t *testing.T) { testEnd(t, newManager(t)) })
	t.Run("RollDicePersists", func(t *testing.T) { testRoll(t, newManager(t)) })
	t.Run("Chat", func(t *testing.T) { testChat(t, newManager(t)) })
}

func snapshot(t *testing.T, m game.Manager, id string) engine.Session {
	t.Helper()
	s, err := m.Snapshot(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s, "session %s missing", id)
	return *s
}

// lobby creates a session hosted by Ada and joins the given guests.
func lobby(t *testing.T, m game.Manager, guests ...string) string {
	t.Helper()
	ctx := context.Background()
	id, err := m.CreateSession(ctx, Player("Ada"), "Test Theme", Board())
	require.NoError(t, err)
	for _, g := range guests {
		ok, err := m.JoinSession(ctx, id, Player(g))
		require.NoError(t, err)
		require.True(t, ok, "join %s", g)
	}
	return id
}

func started(t *testing.T, m game.Manager, guests ...string) string {
	t.Helper()
	id := lobby(t, m, guests...)
	ok, err := m.StartSession(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	return id
}

func testCreate(t *testing.T, m game.Manager) {
	id := lobby(t, m)
	assert.Regexp(t, `^[A-Z0-9]{6}$`, id)

	s := snapshot(t, m, id)
	assert.Equal(t, engine.PhaseLobby, s.Phase)
	require.Len(t, s.Players, 1)
	ada := s.Players["id-Ada"]
	require.NotNil(t, ada)
	assert.True(t, ada.IsHost)
	assert.Equal(t, 0, ada.Karma)
	assert.Equal(t, 0, ada.Position)
	assert.Equal(t, []string{"Ada created the game"}, s.GameLog)
	assert.Equal(t, "Test Theme", s.Theme)
	assert.Len(t, s.Board.Tiles, 5)
}

func testCreateMalformed(t *testing.T, m game.Manager) {
	ctx := context.Background()
	bad := Player("Ada")
	bad.Name = " "
	_, err := m.CreateSession(ctx, bad, "Test Theme", Board())
	require.ErrorIs(t, err, engine.ErrInvalidPlayer)

	board := Board()
	board.Tiles = board.Tiles[:1]
	_, err = m.CreateSession(ctx, Player("Ada"), "Test Theme", board)
	require.ErrorIs(t, err, engine.ErrInvalidBoard)
}

func testPlaythrough(t *testing.T, m game.Manager) {
	ctx := context.Background()
	id := lobby(t, m)

	ok, err := m.JoinSession(ctx, id, Player("Bo"))
	require.NoError(t, err)
	require.True(t, ok)
	s := snapshot(t, m, id)
	assert.Len(t, s.Players, 2)
	assert.Equal(t, "Bo joined the game", s.GameLog[len(s.GameLog)-1])
	assert.False(t, s.Players["id-Bo"].IsHost)

	ok, err = m.StartSession(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	s = snapshot(t, m, id)
	assert.Equal(t, engine.PhasePlaying, s.Phase)
	assert.Equal(t, []string{"id-Ada", "id-Bo"}, engine.TurnOrder(s))
	assert.Equal(t, "id-Ada", s.CurrentPlayerID)
	assert.Equal(t, "Game started!", s.GameLog[len(s.GameLog)-1])

	tile, err := m.MovePlayer(ctx, id, "id-Ada", 3)
	require.NoError(t, err)
	require.NotNil(t, tile)
	assert.Equal(t, "Sing a Song", tile.Title)
	s = snapshot(t, m, id)
	require.NotNil(t, s.CurrentEvent)
	assert.Equal(t, 3, s.CurrentEvent.ID)
	assert.Equal(t, 3, s.Players["id-Ada"].Position)
	assert.Equal(t, `Ada rolled 3 and landed on "Sing a Song"`, s.GameLog[len(s.GameLog)-1])
	assert.Equal(t, "id-Ada", s.CurrentPlayerID, "moving does not advance the turn")

	ok, err = m.ResolveEvent(ctx, id, "id-Ada", true, "")
	require.NoError(t, err)
	require.True(t, ok)
	s = snapshot(t, m, id)
	assert.Equal(t, 5, s.Players["id-Ada"].Karma)
	assert.Nil(t, s.CurrentEvent)
	assert.Equal(t, "id-Bo", s.CurrentPlayerID)
	assert.Equal(t, 1, s.CurrentPlayerIndex)
	assert.Contains(t, s.GameLog[len(s.GameLog)-1], "gained 5 karma")
	assert.Equal(t, []string{"succeeded at Sing a Song"}, s.Players["id-Ada"].Actions)

	tile, err = m.MovePlayer(ctx, id, "id-Bo", 4)
	require.NoError(t, err)
	require.NotNil(t, tile)
	assert.Equal(t, engine.TileFinish, tile.Type)

	ok, err = m.ResolveEvent(ctx, id, "id-Bo", true, "")
	require.NoError(t, err)
	require.True(t, ok)
	s = snapshot(t, m, id)
	assert.Equal(t, engine.PhaseEnded, s.Phase)
	assert.Equal(t, "Game ended! Generating stories...", s.GameLog[len(s.GameLog)-1])
	assert.Equal(t, "id-Ada", s.CurrentPlayerID, "turn wraps to the first joiner")
	assert.Equal(t, 10, s.Players["id-Bo"].Karma)
}

func testJoinCapacity(t *testing.T, m game.Manager) {
	ctx := context.Background()
	id := lobby(t, m, "Bo", "Cy", "Di")

	ok, err := m.JoinSession(ctx, id, Player("Ed"))
	require.NoError(t, err)
	assert.False(t, ok)

	s := snapshot(t, m, id)
	assert.Len(t, s.Players, engine.MaxPlayers)
	assert.Equal(t, []string{"id-Ada", "id-Bo", "id-Cy", "id-Di"}, engine.TurnOrder(s))

	hosts := 0
	for _, p := range s.Players {
		if p.IsHost {
			hosts++
		}
	}
	assert.Equal(t, 1, hosts)
}

func testJoinAfterStart(t *testing.T, m game.Manager) {
	ctx := context.Background()
	id := started(t, m, "Bo")
	before := snapshot(t, m, id)

	ok, err := m.JoinSession(ctx, id, Player("Cy"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.StartSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "start is only valid from the lobby")

	after := snapshot(t, m, id)
	assert.Equal(t, before.GameLog, after.GameLog)
	assert.Len(t, after.Players, 2)
}

func testUnknownSession(t *testing.T, m game.Manager) {
	ctx := context.Background()
	const id = "ZZZZZZ"

	s, err := m.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, s)

	ok, err := m.JoinSession(ctx, id, Player("Bo"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.StartSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	tile, err := m.MovePlayer(ctx, id, "id-Bo", 2)
	require.NoError(t, err)
	assert.Nil(t, tile)

	ok, err = m.ResolveEvent(ctx, id, "id-Bo", true, "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.EndSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testKarma(t *testing.T, newManager Factory) {
	cases := []struct {
		steps   int
		success bool
		choice  string
		want    int
	}{
		{steps: 3, success: true, want: 5},
		{steps: 3, success: false, want: 2},
		{steps: 2, success: true, want: -3},
		{steps: 2, success: false, want: -2},
		{steps: 1, choice: "Help", want: 6},
		{steps: 1, choice: "Ignore", want: -1},
		{steps: 1, success: true, want: 1},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("steps=%d/success=%t/choice=%q", tc.steps, tc.success, tc.choice), func(t *testing.T) {
			m := newManager(t)
			ctx := context.Background()
			id := started(t, m, "Bo")

			_, err := m.MovePlayer(ctx, id, "id-Ada", tc.steps)
			require.NoError(t, err)
			ok, err := m.ResolveEvent(ctx, id, "id-Ada", tc.success, tc.choice)
			require.NoError(t, err)
			require.True(t, ok)

			s := snapshot(t, m, id)
			assert.Equal(t, tc.want, s.Players["id-Ada"].Karma)
			assert.Len(t, s.Players["id-Ada"].Actions, 1)
		})
	}
}

func testResolveWithoutEvent(t *testing.T, m game.Manager) {
	ctx := context.Background()
	id := started(t, m, "Bo")
	before := snapshot(t, m, id)

	ok, err := m.ResolveEvent(ctx, id, "id-Ada", true, "")
	require.NoError(t, err)
	assert.False(t, ok)

	after := snapshot(t, m, id)
	assert.Equal(t, before.CurrentPlayerID, after.CurrentPlayerID)
	assert.Equal(t, before.GameLog, after.GameLog)

	tile, err := m.MovePlayer(ctx, id, "id-Nobody", 1)
	require.NoError(t, err)
	assert.Nil(t, tile)
}

func testMoveClamps(t *testing.T, m game.Manager) {
	ctx := context.Background()
	id := started(t, m, "Bo")

	tile, err := m.MovePlayer(ctx, id, "id-Ada", 99)
	require.NoError(t, err)
	require.NotNil(t, tile)
	assert.Equal(t, 4, tile.ID)

	s := snapshot(t, m, id)
	assert.Equal(t, 4, s.Players["id-Ada"].Position)

	ok, err := m.ResolveEvent(ctx, id, "id-Ada", false, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, engine.PhaseEnded, snapshot(t, m, id).Phase)
}

func testEnd(t *testing.T, m game.Manager) {
	ctx := context.Background()
	id := lobby(t, m, "Bo")

	ok, err := m.EndSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "a lobby cannot skip straight to ended")
	assert.Equal(t, engine.PhaseLobby, snapshot(t, m, id).Phase)

	ok, err = m.StartSession(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.EndSession(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	first := snapshot(t, m, id)
	assert.Equal(t, engine.PhaseEnded, first.Phase)

	ok, err = m.EndSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	second := snapshot(t, m, id)
	assert.Equal(t, first.GameLog, second.GameLog, "ending twice adds nothing")

	ok, err = m.StartSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, engine.PhaseEnded, snapshot(t, m, id).Phase)
}

func testRoll(t *testing.T, m game.Manager) {
	ctx := context.Background()
	id := started(t, m, "Bo")
	before := snapshot(t, m, id)

	for range 10 {
		v, err := m.RollDice(ctx, id)
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, 1)
		require.LessOrEqual(t, v, 6)
		assert.Equal(t, v, snapshot(t, m, id).DiceValue)
	}

	after := snapshot(t, m, id)
	assert.Equal(t, before.CurrentPlayerID, after.CurrentPlayerID)
	assert.Equal(t, before.Players["id-Ada"].Position, after.Players["id-Ada"].Position)
}

func testChat(t *testing.T, m game.Manager) {
	ctx := context.Background()
	id := lobby(t, m, "Bo")
	before := snapshot(t, m, id)

	require.NoError(t, m.SendChatMessage(ctx, id, "id-Ada", "Ada", "  hello  "))
	require.NoError(t, m.SendChatMessage(ctx, id, "id-Bo", "Bo", "hi Ada"))
	require.ErrorIs(t, m.SendChatMessage(ctx, id, "id-Bo", "Bo", "   "), game.ErrEmptyMessage)

	msgs, err := m.ChatMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Message)
	assert.Equal(t, "Ada", msgs[0].PlayerName)
	assert.Equal(t, "hi Ada", msgs[1].Message)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)

	assert.Equal(t, before.GameLog, snapshot(t, m, id).GameLog, "chat stays out of the game log")
}
