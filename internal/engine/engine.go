package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")
var ErrWrongPhase = errors.New("wrong game phase")
var ErrRoomFull = errors.New("room is full")
var ErrPlayerNotFound = errors.New("player not found")
var ErrPlayerExists = errors.New("player already in session")
var ErrNoCurrentEvent = errors.New("no event to resolve")
var ErrInvalidPlayer = errors.New("invalid player")
var ErrUnsupportedCommand = errors.New("unsupported command")

// IsPrecondition reports whether err is a structural precondition failure
// that callers surface as a failed operation rather than an error.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrWrongPhase) ||
		errors.Is(err, ErrRoomFull) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrPlayerExists) ||
		errors.Is(err, ErrNoCurrentEvent)
}

const MaxPlayers = 4

type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhasePlaying Phase = "playing"
	PhaseEnded   Phase = "ended"
)

func (p Phase) Valid() bool {
	return p == PhaseLobby || p == PhasePlaying || p == PhaseEnded
}

type Player struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Avatar   string   `json:"avatar"`
	Color    string   `json:"color"`
	Karma    int      `json:"karma"`
	Position int      `json:"position"`
	IsHost   bool     `json:"isHost"`
	IsReady  bool     `json:"isReady"`
	IsOnline bool     `json:"isOnline"`
	Actions  []string `json:"actions"`
	// Seat is the join index; turn order sorts by it.
	Seat     int       `json:"seat"`
	LastSeen time.Time `json:"lastSeen,omitzero"`
}

// Validate checks the fields a player record must carry before it is written.
func (p Player) Validate() error {
	var missing []string
	if strings.TrimSpace(p.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(p.Name) == "" {
		missing = append(missing, "name")
	}
	if p.Avatar == "" {
		missing = append(missing, "avatar")
	}
	if p.Color == "" {
		missing = append(missing, "color")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidPlayer, strings.Join(missing, ", "))
	}
	return nil
}

func (p Player) Clone() Player {
	p.Actions = append([]string{}, p.Actions...)
	return p
}

type Session struct {
	ID                 string             `json:"id"`
	Theme              string             `json:"theme"`
	Board              Board              `json:"board"`
	Players            map[string]*Player `json:"players"`
	CurrentPlayerIndex int                `json:"currentPlayerIndex"`
	CurrentPlayerID    string             `json:"currentPlayerId"`
	Phase              Phase              `json:"gamePhase"`
	DiceValue          int                `json:"diceValue"`
	CurrentEvent       *Tile              `json:"currentEvent"`
	GameLog            []string           `json:"gameLog"`
	Version            int64              `json:"version"`
	CreatedAt          time.Time          `json:"createdAt,omitzero"`
	LastActivity       time.Time          `json:"lastActivity,omitzero"`
}

type ChatMessage struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

type CommandType string

const (
	CmdJoin        CommandType = "Join"
	CmdStart       CommandType = "Start"
	CmdRollDice    CommandType = "RollDice"
	CmdMove        CommandType = "Move"
	CmdResolve     CommandType = "Resolve"
	CmdEnd         CommandType = "End"
	CmdSetPresence CommandType = "SetPresence"
)

/*
	CmdJoin        -> EvtPlayerJoined
	CmdStart       -> EvtGameStarted
	CmdRollDice    -> EvtDiceRolled
	CmdMove        -> EvtPlayerMoved
	CmdResolve     -> EvtEventResolved -> EvtTurnAdvanced [-> EvtGameEnded]
	CmdEnd         -> EvtGameEnded (nothing when already ended)
	CmdSetPresence -> EvtPresenceChanged
*/

type Command struct {
	Type     CommandType
	Player   Player // CmdJoin
	PlayerID string
	Steps    int    // CmdMove
	Dice     int    // CmdRollDice
	Success  bool   // CmdResolve
	Choice   string // CmdResolve, dilemma tiles only
	Online   bool   // CmdSetPresence
	At       time.Time
}

type EventType string

const (
	EvtPlayerJoined    EventType = "PlayerJoined"
	EvtGameStarted     EventType = "GameStarted"
	EvtDiceRolled      EventType = "DiceRolled"
	EvtPlayerMoved     EventType = "PlayerMoved"
	EvtEventResolved   EventType = "EventResolved"
	EvtTurnAdvanced    EventType = "TurnAdvanced"
	EvtGameEnded       EventType = "GameEnded"
	EvtPresenceChanged EventType = "PresenceChanged"
)

type Event struct {
	Type       EventType
	PlayerID   string
	Tile       *Tile
	KarmaDelta int
	Value      int
}

// Apply validates cmd against s and returns the resulting events and the new
// session. On error the returned session is s, untouched.
func Apply(s Session, cmd Command) ([]Event, Session, error) {
	next := s.Clone()
	if !cmd.At.IsZero() {
		next.LastActivity = cmd.At
	}

	switch cmd.Type {
	case CmdJoin:
		if s.Phase != PhaseLobby {
			return nil, s, fmt.Errorf("join: %w (%s)", ErrWrongPhase, s.Phase)
		}
		if len(s.Players) >= MaxPlayers {
			return nil, s, fmt.Errorf("join: %w", ErrRoomFull)
		}
		if err := cmd.Player.Validate(); err != nil {
			return nil, s, err
		}
		if _, ok := s.Players[cmd.Player.ID]; ok {
			return nil, s, fmt.Errorf("join: %w", ErrPlayerExists)
		}

		p := cmd.Player.Clone()
		p.IsHost = false
		p.Seat = nextSeat(s)
		if !cmd.At.IsZero() {
			p.LastSeen = cmd.At
		}
		next.Players[p.ID] = &p
		next.GameLog = append(next.GameLog, fmt.Sprintf("%s joined the game", p.Name))
		return []Event{{Type: EvtPlayerJoined, PlayerID: p.ID}}, next, nil

	case CmdStart:
		if s.Phase != PhaseLobby {
			return nil, s, fmt.Errorf("start: %w (%s)", ErrWrongPhase, s.Phase)
		}
		next.Phase = PhasePlaying
		order := TurnOrder(next)
		if len(order) > 0 {
			next.CurrentPlayerIndex = 0
			next.CurrentPlayerID = order[0]
		}
		next.GameLog = append(next.GameLog, "Game started!")
		return []Event{{Type: EvtGameStarted}}, next, nil

	case CmdRollDice:
		if cmd.Dice < 1 || cmd.Dice > 6 {
			return nil, s, fmt.Errorf("roll: dice value %d out of range", cmd.Dice)
		}
		next.DiceValue = cmd.Dice
		return []Event{{Type: EvtDiceRolled, Value: cmd.Dice}}, next, nil

	case CmdMove:
		if s.Phase != PhasePlaying {
			return nil, s, fmt.Errorf("move: %w (%s)", ErrWrongPhase, s.Phase)
		}
		p, ok := next.Players[cmd.PlayerID]
		if !ok {
			return nil, s, fmt.Errorf("move: %w: %s", ErrPlayerNotFound, cmd.PlayerID)
		}
		steps := max(cmd.Steps, 0)
		p.Position = min(p.Position+steps, s.Board.LastIndex())
		tile := next.Board.Tiles[p.Position].Clone()
		next.CurrentEvent = &tile
		next.GameLog = append(next.GameLog,
			fmt.Sprintf("%s rolled %d and landed on %q", p.Name, steps, tile.Title))
		return []Event{{Type: EvtPlayerMoved, PlayerID: p.ID, Tile: &tile, Value: p.Position}}, next, nil

	case CmdResolve:
		if s.Phase != PhasePlaying {
			return nil, s, fmt.Errorf("resolve: %w (%s)", ErrWrongPhase, s.Phase)
		}
		if s.CurrentEvent == nil {
			return nil, s, fmt.Errorf("resolve: %w", ErrNoCurrentEvent)
		}
		p, ok := next.Players[cmd.PlayerID]
		if !ok {
			return nil, s, fmt.Errorf("resolve: %w: %s", ErrPlayerNotFound, cmd.PlayerID)
		}

		tile := *s.CurrentEvent
		delta, action := KarmaOutcome(tile, cmd.Success, cmd.Choice)
		p.Karma += delta
		p.Actions = append(p.Actions, action)
		next.CurrentEvent = nil
		next.GameLog = append(next.GameLog, fmt.Sprintf("%s %s and %s karma", p.Name, action, karmaText(delta)))

		events := []Event{{Type: EvtEventResolved, PlayerID: p.ID, Tile: &tile, KarmaDelta: delta}}

		idx, id := NextTurn(next)
		next.CurrentPlayerIndex = idx
		next.CurrentPlayerID = id
		events = append(events, Event{Type: EvtTurnAdvanced, PlayerID: id, Value: idx})

		if p.Position >= s.Board.LastIndex() {
			next.Phase = PhaseEnded
			next.GameLog = append(next.GameLog, endedLogLine)
			events = append(events, Event{Type: EvtGameEnded, PlayerID: p.ID})
		}
		return events, next, nil

	case CmdEnd:
		switch s.Phase {
		case PhaseEnded:
			return nil, s, nil
		case PhasePlaying:
			next.Phase = PhaseEnded
			next.GameLog = append(next.GameLog, endedLogLine)
			return []Event{{Type: EvtGameEnded}}, next, nil
		default:
			return nil, s, fmt.Errorf("end: %w (%s)", ErrWrongPhase, s.Phase)
		}

	case CmdSetPresence:
		p, ok := next.Players[cmd.PlayerID]
		if !ok {
			return nil, s, fmt.Errorf("presence: %w: %s", ErrPlayerNotFound, cmd.PlayerID)
		}
		p.IsOnline = cmd.Online
		if !cmd.At.IsZero() {
			p.LastSeen = cmd.At
		}
		return []Event{{Type: EvtPresenceChanged, PlayerID: p.ID}}, next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

const endedLogLine = "Game ended! Generating stories..."

// KarmaOutcome returns the karma delta and the action summary for resolving
// tile. For dilemmas the first listed choice is always the favourable one.
func KarmaOutcome(tile Tile, success bool, choice string) (int, string) {
	if tile.Type == TileDilemma && choice != "" {
		delta := tile.KarmaValue - 2
		if len(tile.Choices) > 0 && choice == tile.Choices[0] {
			delta = tile.KarmaValue + 5
		}
		return delta, fmt.Sprintf("chose %q in %s", choice, tile.Title)
	}
	if success {
		return tile.KarmaValue, "succeeded at " + tile.Title
	}
	return floorHalf(tile.KarmaValue), "failed at " + tile.Title
}

func karmaText(delta int) string {
	if delta > 0 {
		return fmt.Sprintf("gained %d", delta)
	}
	return fmt.Sprintf("lost %d", -delta)
}

func floorHalf(v int) int {
	if v < 0 && v%2 != 0 {
		return v/2 - 1
	}
	return v / 2
}
