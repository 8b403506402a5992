package engine

import (
	"fmt"
	"strings"
	"time"
)

// NewSession builds the lobby-phase session a host creates.
func NewSession(id string, host Player, theme string, board Board, at time.Time) (Session, error) {
	if strings.TrimSpace(id) == "" {
		return Session{}, fmt.Errorf("new session: empty id")
	}
	if strings.TrimSpace(theme) == "" {
		return Session{}, fmt.Errorf("new session: empty theme")
	}
	if err := board.Validate(); err != nil {
		return Session{}, err
	}
	if err := host.Validate(); err != nil {
		return Session{}, err
	}

	h := host.Clone()
	h.IsHost = true
	h.Seat = 0
	h.Karma = 0
	h.Position = 0
	h.LastSeen = at

	return Session{
		ID:              id,
		Theme:           strings.TrimSpace(theme),
		Board:           board.Clone(),
		Players:         map[string]*Player{h.ID: &h},
		CurrentPlayerID: h.ID,
		Phase:           PhaseLobby,
		DiceValue:       1,
		GameLog:         []string{fmt.Sprintf("%s created the game", h.Name)},
		CreatedAt:       at,
		LastActivity:    at,
	}, nil
}

func (s Session) Clone() Session {
	out := s
	out.Board = s.Board.Clone()
	out.Players = make(map[string]*Player, len(s.Players))
	for id, p := range s.Players {
		cp := p.Clone()
		out.Players[id] = &cp
	}
	if s.CurrentEvent != nil {
		t := s.CurrentEvent.Clone()
		out.CurrentEvent = &t
	}
	out.GameLog = append([]string{}, s.GameLog...)
	return out
}

// Winner returns the id of the highest-karma player, ties going to the
// earliest in turn order.
func Winner(s Session) string {
	best := ""
	for _, id := range TurnOrder(s) {
		if best == "" || s.Players[id].Karma > s.Players[best].Karma {
			best = id
		}
	}
	return best
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// ChangedPlayers lists the players whose rows differ between before and after.
func ChangedPlayers(before, after Session) []Player {
	var out []Player
	for _, id := range TurnOrder(after) {
		p := after.Players[id]
		old, ok := before.Players[id]
		if !ok || !samePlayer(*old, *p) {
			out = append(out, p.Clone())
		}
	}
	return out
}

func samePlayer(a, b Player) bool {
	if a.Karma != b.Karma || a.Position != b.Position || a.IsOnline != b.IsOnline ||
		a.IsReady != b.IsReady || a.IsHost != b.IsHost || !a.LastSeen.Equal(b.LastSeen) ||
		len(a.Actions) != len(b.Actions) {
		return false
	}
	for i := range a.Actions {
		if a.Actions[i] != b.Actions[i] {
			return false
		}
	}
	return true
}
