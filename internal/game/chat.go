package game

import (
	"errors"
	"strings"
	"time"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
)

var ErrEmptyMessage = errors.New("empty chat message")

// NewChatMessage trims text and stamps a fresh id. Chat never touches the
// game log.
func NewChatMessage(sessionID, playerID, playerName, text string, at time.Time) (engine.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return engine.ChatMessage{}, ErrEmptyMessage
	}
	return engine.ChatMessage{
		ID:         NewMessageID(),
		SessionID:  sessionID,
		PlayerID:   playerID,
		PlayerName: playerName,
		Message:    text,
		Timestamp:  at,
	}, nil
}
