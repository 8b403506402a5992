package engine

import (
	"errors"
	"testing"
	"time"
)

func testBoard() Board {
	return Board{
		Theme: "Test Theme",
		Tiles: []Tile{
			{ID: 0, Type: TileStart, Title: "Begin Adventure"},
			{ID: 1, Type: TileTask, Title: "First Challenge", KarmaValue: 5},
			{ID: 2, Type: TileDilemma, Title: "Moral Choice", KarmaValue: 0, Choices: []string{"Help others", "Help yourself"}},
			{ID: 3, Type: TileTask, Title: "Riddle", KarmaValue: 5},
			{ID: 4, Type: TileFinish, Title: "Journey's End", KarmaValue: 10},
		},
	}
}

func testPlayer(id, name string) Player {
	return Player{ID: id, Name: name, Avatar: "🤖", Color: "bg-blue-500", IsReady: true, IsOnline: true}
}

func playingState(t *testing.T, names ...string) Session {
	t.Helper()
	s, err := NewSession("ABC123", testPlayer("p0", names[0]), "Test Theme", testBoard(), time.Time{})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	for i, n := range names[1:] {
		_, s, err = Apply(s, Command{Type: CmdJoin, Player: testPlayer(string(rune('a'+i)), n)})
		if err != nil {
			t.Fatalf("join %s: %v", n, err)
		}
	}
	_, s, err = Apply(s, Command{Type: CmdStart})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return s
}

func TestNewSession_HostIsSolePlayer(t *testing.T) {
	s, err := NewSession("ABC123", testPlayer("ada", "Ada"), "Test Theme", testBoard(), time.Time{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.Phase != PhaseLobby {
		t.Fatalf("phase: got %s, want lobby", s.Phase)
	}
	if len(s.Players) != 1 || !s.Players["ada"].IsHost {
		t.Fatalf("expected Ada as sole host, got %+v", s.Players)
	}
	if len(s.GameLog) != 1 || s.GameLog[0] != "Ada created the game" {
		t.Fatalf("log: got %q", s.GameLog)
	}
}

func TestNewSession_RejectsMalformedInput(t *testing.T) {
	badBoard := testBoard()
	badBoard.Tiles[0].Type = TileTask

	cases := []struct {
		name    string
		host    Player
		board   Board
		wantErr error
	}{
		{name: "board without start", host: testPlayer("a", "Ada"), board: badBoard, wantErr: ErrInvalidBoard},
		{name: "host without name", host: Player{ID: "a", Avatar: "x", Color: "y"}, board: testBoard(), wantErr: ErrInvalidPlayer},
		{name: "empty board", host: testPlayer("a", "Ada"), board: Board{}, wantErr: ErrInvalidBoard},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSession("ABC123", tc.host, "Theme", tc.board, time.Time{})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestJoin_CapacityAndPhase(t *testing.T) {
	s, _ := NewSession("ABC123", testPlayer("p0", "Ada"), "Theme", testBoard(), time.Time{})
	var err error
	for i := 1; i < MaxPlayers; i++ {
		_, s, err = Apply(s, Command{Type: CmdJoin, Player: testPlayer(string(rune('a'+i)), "P")})
		if err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}

	_, after, err := Apply(s, Command{Type: CmdJoin, Player: testPlayer("late", "Late")})
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("want ErrRoomFull, got %v", err)
	}
	if len(after.Players) != MaxPlayers {
		t.Fatalf("state mutated on failure: %d players", len(after.Players))
	}

	_, started, _ := Apply(s, Command{Type: CmdStart})
	_, _, err = Apply(started, Command{Type: CmdJoin, Player: testPlayer("late", "Late")})
	if !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("want ErrWrongPhase, got %v", err)
	}
}

func TestJoin_NeverCreatesSecondHost(t *testing.T) {
	s, _ := NewSession("ABC123", testPlayer("p0", "Ada"), "Theme", testBoard(), time.Time{})
	impostor := testPlayer("p1", "Bo")
	impostor.IsHost = true

	_, s, err := Apply(s, Command{Type: CmdJoin, Player: impostor})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.Players["p1"].IsHost {
		t.Fatalf("joined player must not be host")
	}
}

func TestKarmaOutcome(t *testing.T) {
	dilemma := Tile{Type: TileDilemma, Title: "Trust Test", KarmaValue: 3, Choices: []string{"Trust", "Doubt"}}

	cases := []struct {
		name      string
		tile      Tile
		success   bool
		choice    string
		wantDelta int
	}{
		{name: "task success", tile: Tile{Type: TileTask, KarmaValue: 5}, success: true, wantDelta: 5},
		{name: "task failure halves", tile: Tile{Type: TileTask, KarmaValue: 5}, success: false, wantDelta: 2},
		{name: "negative failure floors", tile: Tile{Type: TileAction, KarmaValue: -3}, success: false, wantDelta: -2},
		{name: "negative success", tile: Tile{Type: TileAction, KarmaValue: -2}, success: true, wantDelta: -2},
		{name: "dilemma first choice", tile: dilemma, choice: "Trust", wantDelta: 8},
		{name: "dilemma second choice", tile: dilemma, choice: "Doubt", wantDelta: 1},
		{name: "dilemma without choice uses success", tile: dilemma, success: true, wantDelta: 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := KarmaOutcome(tc.tile, tc.success, tc.choice)
			if got != tc.wantDelta {
				t.Fatalf("delta: got %d, want %d", got, tc.wantDelta)
			}
		})
	}
}

func TestMove_ClampsAtFinishAndSetsEvent(t *testing.T) {
	s := playingState(t, "Ada", "Bo")

	events, s, err := Apply(s, Command{Type: CmdMove, PlayerID: "p0", Steps: 6})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !ContainsEvent(events, EvtPlayerMoved) {
		t.Fatalf("expected EvtPlayerMoved")
	}
	if got := s.Players["p0"].Position; got != 4 {
		t.Fatalf("position: got %d, want 4", got)
	}
	if s.CurrentEvent == nil || s.CurrentEvent.Type != TileFinish {
		t.Fatalf("current event: got %+v", s.CurrentEvent)
	}
	if s.CurrentPlayerID != "p0" {
		t.Fatalf("move must not advance turn, current=%s", s.CurrentPlayerID)
	}
	want := `Ada rolled 6 and landed on "Journey's End"`
	if last := s.GameLog[len(s.GameLog)-1]; last != want {
		t.Fatalf("log: got %q, want %q", last, want)
	}
}

func TestMove_NegativeStepsStayPut(t *testing.T) {
	s := playingState(t, "Ada", "Bo")

	_, s, err := Apply(s, Command{Type: CmdMove, PlayerID: "p0", Steps: -2})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := s.Players["p0"].Position; got != 0 {
		t.Fatalf("position: got %d, want 0", got)
	}
	want := `Ada rolled 0 and landed on "Begin Adventure"`
	if last := s.GameLog[len(s.GameLog)-1]; last != want {
		t.Fatalf("log: got %q, want %q", last, want)
	}
}

func TestResolve_AdvancesTurnAndWraps(t *testing.T) {
	s := playingState(t, "Ada", "Bo")
	order := TurnOrder(s)

	_, s, _ = Apply(s, Command{Type: CmdMove, PlayerID: order[0], Steps: 1})
	_, s, err := Apply(s, Command{Type: CmdResolve, PlayerID: order[0], Success: true})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.CurrentPlayerID != order[1] || s.CurrentPlayerIndex != 1 {
		t.Fatalf("turn: got %s/%d, want %s/1", s.CurrentPlayerID, s.CurrentPlayerIndex, order[1])
	}
	if s.CurrentEvent != nil {
		t.Fatalf("current event must clear")
	}
	if s.Players[order[0]].Karma != 5 {
		t.Fatalf("karma: got %d", s.Players[order[0]].Karma)
	}
	if last := s.GameLog[len(s.GameLog)-1]; last != "Ada succeeded at First Challenge and gained 5 karma" {
		t.Fatalf("log: got %q", last)
	}

	_, s, _ = Apply(s, Command{Type: CmdMove, PlayerID: order[1], Steps: 1})
	_, s, _ = Apply(s, Command{Type: CmdResolve, PlayerID: order[1], Success: false})
	if s.CurrentPlayerID != order[0] || s.CurrentPlayerIndex != 0 {
		t.Fatalf("turn should wrap to first joiner, got %s", s.CurrentPlayerID)
	}
}

func TestResolve_WithoutEventFails(t *testing.T) {
	s := playingState(t, "Ada")
	_, after, err := Apply(s, Command{Type: CmdResolve, PlayerID: "p0", Success: true})
	if !errors.Is(err, ErrNoCurrentEvent) {
		t.Fatalf("want ErrNoCurrentEvent, got %v", err)
	}
	if len(after.GameLog) != len(s.GameLog) {
		t.Fatalf("state mutated on failure")
	}
}

func TestApply_EmitsGameEndedOnFinish(t *testing.T) {
	s := playingState(t, "Ada", "Bo")
	_, s, _ = Apply(s, Command{Type: CmdMove, PlayerID: "p0", Steps: 4})

	events, s, err := Apply(s, Command{Type: CmdResolve, PlayerID: "p0", Success: true})
	if err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	if !ContainsEvent(events, EvtGameEnded) {
		t.Fatalf("expected EvtGameEnded")
	}
	if s.Phase != PhaseEnded {
		t.Fatalf("phase: got %s", s.Phase)
	}
	if last := s.GameLog[len(s.GameLog)-1]; last != "Game ended! Generating stories..." {
		t.Fatalf("log: got %q", last)
	}
}

func TestPhase_NeverMovesBackward(t *testing.T) {
	s := playingState(t, "Ada")
	if _, _, err := Apply(s, Command{Type: CmdStart}); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("restart from playing: want ErrWrongPhase, got %v", err)
	}

	_, ended, _ := Apply(s, Command{Type: CmdEnd})
	events, again, err := Apply(ended, Command{Type: CmdEnd})
	if err != nil || len(events) != 0 {
		t.Fatalf("second end should be a silent no-op, got events=%v err=%v", events, err)
	}
	if len(again.GameLog) != len(ended.GameLog) {
		t.Fatalf("second end appended to log")
	}
	if _, _, err := Apply(ended, Command{Type: CmdStart}); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("start after end: want ErrWrongPhase, got %v", err)
	}

	lobby, _ := NewSession("ABC123", testPlayer("p0", "Ada"), "Theme", testBoard(), time.Time{})
	if _, _, err := Apply(lobby, Command{Type: CmdEnd}); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("end from lobby: want ErrWrongPhase, got %v", err)
	}
}

func TestApply_DoesNotAliasInput(t *testing.T) {
	s := playingState(t, "Ada")
	_, _, _ = Apply(s, Command{Type: CmdMove, PlayerID: "p0", Steps: 2})
	if s.Players["p0"].Position != 0 || s.CurrentEvent != nil {
		t.Fatalf("input session was mutated")
	}
}

func TestIsPrecondition(t *testing.T) {
	if !IsPrecondition(ErrRoomFull) || !IsPrecondition(errors.Join(ErrWrongPhase)) {
		t.Fatalf("expected precondition classification")
	}
	if IsPrecondition(ErrInvalidPlayer) {
		t.Fatalf("validation errors are not preconditions")
	}
}

func TestWinner_TieGoesToEarliestJoiner(t *testing.T) {
	s := playingState(t, "Ada", "Bo")
	for _, p := range s.Players {
		p.Karma = 7
	}
	if got := Winner(s); got != "p0" {
		t.Fatalf("winner: got %s, want p0", got)
	}
}
