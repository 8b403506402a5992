package story

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
)

var fallbackThemes = []string{
	"Jungle Safari Adventure",
	"Ghost Town Road Trip",
	"Space Station Mystery",
	"Medieval Castle Quest",
	"Underwater Treasure Hunt",
	"Time Travel Classroom Adventure",
	"Alien Road Trip Across America",
	"Secret Santa Gone Wrong Office Party",
	"Dinosaur Expedition Team Building",
	"Pirate Ship Crew Bonding Experience",
	"Wizard School Study Group",
	"Zombie Apocalypse Survival Team",
	"Arctic Research Station Isolation",
	"Carnival Workers Summer Adventure",
	"Detective Agency Mystery Solving",
}

func FallbackThemes() []string { return append([]string(nil), fallbackThemes...) }

// Fallback generates everything locally. Boards and stories depend only on
// their inputs.
type Fallback struct{}

var _ Generator = Fallback{}

func (Fallback) GenerateBoard(_ context.Context, theme string, _ int) (engine.Board, error) {
	return FallbackBoard(theme), nil
}

func (Fallback) GenerateStory(_ context.Context, req StoryRequest) (string, error) {
	return FallbackStory(req), nil
}

func (Fallback) RandomTheme(context.Context) (string, error) {
	return fallbackThemes[rand.IntN(len(fallbackThemes))], nil
}

// FallbackBoard builds a 20 tile board; the opening tiles follow a few theme
// keywords.
func FallbackBoard(theme string) engine.Board {
	tiles := []engine.Tile{{Type: engine.TileStart, Title: "Begin Adventure", Description: "Your journey starts here!"}}

	kw := strings.ToLower(theme)
	switch {
	case strings.Contains(kw, "family") || strings.Contains(kw, "sibling"):
		tiles = append(tiles,
			engine.Tile{Type: engine.TileTask, Title: "Family Memory", Description: "Share a favorite family memory", KarmaValue: 5},
			engine.Tile{Type: engine.TileDare, Title: "Sibling Challenge", Description: "Do your best impression of a family member", KarmaValue: 3},
			engine.Tile{Type: engine.TileDilemma, Title: "Family Secret", Description: "Someone tells you a family secret",
				Choices: []string{"Keep it safe", "Share with others"}, Consequence: "Trust is earned or lost"},
		)
	case strings.Contains(kw, "office") || strings.Contains(kw, "work"):
		tiles = append(tiles,
			engine.Tile{Type: engine.TileTask, Title: "Team Building", Description: "Lead a team building exercise", KarmaValue: 5},
			engine.Tile{Type: engine.TileDare, Title: "Office Talent", Description: "Show off your hidden office talent", KarmaValue: 3},
			engine.Tile{Type: engine.TileDilemma, Title: "Deadline Pressure", Description: "Help a colleague or finish your own work?",
				Choices: []string{"Help colleague", "Focus on yourself"}, Consequence: "Teamwork vs individual success"},
		)
	default:
		tiles = append(tiles,
			engine.Tile{Type: engine.TileTask, Title: "First Challenge", Description: "Prove your worth with a simple task", KarmaValue: 5},
			engine.Tile{Type: engine.TileDare, Title: "Courage Test", Description: "Show your bravery", KarmaValue: 3},
			engine.Tile{Type: engine.TileDilemma, Title: "Moral Choice", Description: "Choose between helping others or yourself",
				Choices: []string{"Help others", "Help yourself"}, Consequence: "Your choice reveals your character"},
		)
	}

	tiles = append(tiles,
		engine.Tile{Type: engine.TileAction, Title: "Lucky Break", Description: "Move forward 2 spaces", KarmaValue: 2},
		engine.Tile{Type: engine.TileTask, Title: "Wisdom Test", Description: "Answer a riddle", KarmaValue: 4},
		engine.Tile{Type: engine.TileBonus, Title: "Karma Boost", Description: "Good fortune smiles upon you", KarmaValue: 8},
		engine.Tile{Type: engine.TileDare, Title: "Social Challenge", Description: "Connect with your fellow players", KarmaValue: 3},
		engine.Tile{Type: engine.TileTask, Title: "Skill Check", Description: "Demonstrate your abilities", KarmaValue: 5},
		engine.Tile{Type: engine.TileDilemma, Title: "Trust Test", Description: "Will you trust or doubt?",
			Choices: []string{"Trust", "Doubt"}, Consequence: "Trust builds karma, doubt diminishes it"},
		engine.Tile{Type: engine.TileAction, Title: "Setback", Description: "Move back 1 space", KarmaValue: -2},
		engine.Tile{Type: engine.TileTask, Title: "Memory Lane", Description: "Recall something important", KarmaValue: 4},
		engine.Tile{Type: engine.TileDare, Title: "Performance", Description: "Entertain your companions", KarmaValue: 3},
		engine.Tile{Type: engine.TileBonus, Title: "Hidden Treasure", Description: "Discover unexpected rewards", KarmaValue: 6},
		engine.Tile{Type: engine.TileDilemma, Title: "Final Test", Description: "Your ultimate moral challenge",
			Choices: []string{"Sacrifice for others", "Secure your victory"}, Consequence: "Your final choice defines your legacy"},
		engine.Tile{Type: engine.TileTask, Title: "Last Challenge", Description: "One final test of your skills", KarmaValue: 7},
		engine.Tile{Type: engine.TileAction, Title: "Sprint Ahead", Description: "Rush toward the finish", KarmaValue: 1},
		engine.Tile{Type: engine.TileDare, Title: "Final Dare", Description: "One last act of courage", KarmaValue: 4},
		engine.Tile{Type: engine.TileBonus, Title: "Victory Lap", Description: "Celebrate your journey", KarmaValue: 5},
		engine.Tile{Type: engine.TileFinish, Title: "Journey's End", Description: "Your adventure concludes here!", KarmaValue: 10},
	)
	for i := range tiles {
		tiles[i].ID = i
	}

	return engine.Board{
		Tiles: tiles,
		Theme: theme,
		StoryContext: fmt.Sprintf("Welcome to an adventure themed around %s. Your choices will shape your destiny "+
			"and determine your karma. Every decision matters in this unique journey.", theme),
	}
}

func FallbackStory(req StoryRequest) string {
	verdict := "Though not the winner, their journey was truly meaningful."
	if req.IsWinner {
		verdict = "Their victory was well-deserved!"
	}
	templates := []string{
		fmt.Sprintf("%s embarked on an incredible journey through %q. With %d karma points, they navigated challenges "+
			"with wisdom and courage. Their adventure showcased the power of good choices and determination.",
			req.PlayerName, req.Theme, req.Karma),
		fmt.Sprintf("In the world of %q, %s discovered their true character. Earning %d karma through thoughtful "+
			"decisions, they proved that every choice shapes our destiny. %s",
			req.Theme, req.PlayerName, req.Karma, verdict),
		fmt.Sprintf("%s's adventure in %q was filled with meaningful moments. With %d karma points reflecting their "+
			"moral compass, they showed that the journey matters more than the destination. Their story will inspire others.",
			req.PlayerName, req.Theme, req.Karma),
	}
	i := (len(req.PlayerName) + len(req.Actions)) % len(templates)
	if req.IsWinner {
		i = 1
	}
	return templates[i]
}
