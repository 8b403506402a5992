package game

import (
	"math/rand/v2"
	"strings"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
)

// NewPlayer builds a fresh player record with a random avatar and colour.
func NewPlayer(name string, host bool) engine.Player {
	return engine.Player{
		ID:       NewPlayerID(),
		Name:     strings.TrimSpace(name),
		Avatar:   playerAvatars[rand.IntN(len(playerAvatars))],
		Color:    playerColors[rand.IntN(len(playerColors))],
		IsHost:   host,
		IsReady:  true,
		IsOnline: true,
		Actions:  []string{},
	}
}
