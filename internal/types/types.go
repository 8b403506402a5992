package types

import (
	"github.com/DoyleJ11/storyforge-backend/internal/binding"
	"github.com/DoyleJ11/storyforge-backend/internal/engine"
	"github.com/DoyleJ11/storyforge-backend/internal/story"
)

// ClientMessage is one websocket request. Type selects the operation:
// Create, Join, Resume, Start, Roll, Move, Resolve, End, Chat, Refresh,
// Stories, BeginTransition, EndTransition or Leave.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	PlayerID  string `json:"playerId,omitempty"`
	Name      string `json:"name,omitempty"`
	Theme     string `json:"theme,omitempty"`
	Steps     int    `json:"steps,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Choice    string `json:"choice,omitempty"`
	Message   string `json:"message,omitempty"`
}

type ServerMessage struct {
	Type      string              `json:"type"` // "State" | "Result" | "Error"
	Op        string              `json:"op,omitempty"`
	OK        bool                `json:"ok,omitempty"`
	SessionID string              `json:"sessionId,omitempty"`
	PlayerID  string              `json:"playerId,omitempty"`
	Dice      int                 `json:"dice,omitempty"`
	Tile      *engine.Tile        `json:"tile,omitempty"`
	Stories   []story.PlayerStory `json:"stories,omitempty"`
	State     *binding.State      `json:"state,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// REST bodies.

type CreateSessionRequest struct {
	HostName string `json:"hostName"`
	Theme    string `json:"theme"`
}

type CreateSessionResponse struct {
	SessionID string         `json:"sessionId"`
	PlayerID  string         `json:"playerId"`
	Session   engine.Session `json:"session"`
}

type JoinRequest struct {
	Name string `json:"name"`
}

type JoinResponse struct {
	PlayerID string `json:"playerId"`
}

type MoveRequest struct {
	PlayerID string `json:"playerId"`
	Steps    int    `json:"steps"`
}

type ResolveRequest struct {
	PlayerID string `json:"playerId"`
	Success  bool   `json:"success"`
	Choice   string `json:"choice,omitempty"`
}

type ChatRequest struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Message    string `json:"message"`
}

type RollResponse struct {
	Value int `json:"value"`
}

type ThemeResponse struct {
	Theme string `json:"theme"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
