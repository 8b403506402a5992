package story

import (
	"fmt"
	"strings"
)

func boardPrompt(theme string, playerCount int) string {
	return fmt.Sprintf(`Create a board game for %[1]d players with the theme: %[2]q.

Generate exactly 20 unique game tiles in JSON format. Each tile should have:
- id: number (0-19)
- type: one of ["task", "dare", "action", "dilemma", "bonus", "start", "finish"]
- title: short catchy name
- description: detailed description of what happens
- karmaValue: points gained/lost (-10 to +15)
- choices: array of 2-3 choice options (for dilemma tiles only)
- consequence: what happens based on choices (for dilemma tiles only)

Rules:
- Tile 0 must be type "start" with title "Begin Adventure"
- Tile 19 must be type "finish" with title "Journey's End"
- Include 6 task tiles, 4 dare tiles, 3 action tiles, 4 dilemma tiles and 2 bonus tiles
- Make everything themed around: %[2]s
- Keep karma values balanced, more positive than negative overall

Also provide storyContext: a 2-sentence background story for this adventure.

Return ONLY valid JSON in this exact format:
{"tiles": [...], "theme": %[2]q, "storyContext": "..."}`, playerCount, theme)
}

func storyPrompt(req StoryRequest) string {
	return fmt.Sprintf(`Write a personalized story ending for a player in a board game.

Player Details:
- Name: %s
- Theme: %s
- Final Karma: %d
- Final Position: %d
- Winner: %t
- Key Actions: %s

Write a 3-paragraph story that summarizes their journey, highlights their most
significant choices and reflects on what their karma says about them.
Keep the tone positive even if they did not win, and stay under 200 words.`,
		req.PlayerName, req.Theme, req.Karma, req.FinalPosition, req.IsWinner, strings.Join(req.Actions, ", "))
}

const themePrompt = `Generate a creative, fun theme for a multiplayer board game.
It should be family-friendly, imaginative, suitable for 2-4 players and create
interesting social dynamics.

Examples: "Jungle Safari Adventure", "Space Station Mystery", "Medieval Castle Quest"

Return only the theme name, nothing else.`
