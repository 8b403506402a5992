// Package story is the board, story and theme generation collaborator. The
// session core never depends on the remote service succeeding: Resilient
// falls back to deterministic local content on any error.
package story

import (
	"context"
	"errors"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
)

// BoardSize is the number of tiles a generated board carries.
const BoardSize = 20

var ErrMalformedBoard = errors.New("story: malformed board")

type StoryRequest struct {
	PlayerName    string
	Theme         string
	Karma         int
	Actions       []string
	FinalPosition int
	IsWinner      bool
}

type Generator interface {
	GenerateBoard(ctx context.Context, theme string, playerCount int) (engine.Board, error)
	GenerateStory(ctx context.Context, req StoryRequest) (string, error)
	RandomTheme(ctx context.Context) (string, error)
}

// CheckBoard rejects boards a session cannot be created with.
func CheckBoard(b engine.Board) error {
	if len(b.Tiles) != BoardSize {
		return errors.Join(ErrMalformedBoard, engine.ErrInvalidBoard)
	}
	return b.Validate()
}
