package story

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
)

// DefaultTimeout bounds a single call to the primary generator.
const DefaultTimeout = 20 * time.Second

// Resilient wraps a primary generator and substitutes local content for any
// failure, including a call that outlives its timeout. Its methods never
// return an error.
type Resilient struct {
	primary Generator
	timeout time.Duration
	log     *zap.Logger
}

var _ Generator = (*Resilient)(nil)

// NewResilient wraps primary. A nil primary means local content only; a
// non-positive timeout means DefaultTimeout.
func NewResilient(primary Generator, timeout time.Duration, log *zap.Logger) *Resilient {
	if primary == nil {
		primary = Fallback{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resilient{primary: primary, timeout: timeout, log: log}
}

func (r *Resilient) GenerateBoard(ctx context.Context, theme string, playerCount int) (engine.Board, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	b, err := r.primary.GenerateBoard(ctx, theme, playerCount)
	if err == nil {
		err = CheckBoard(b)
	}
	if err != nil {
		r.fallingBack("board", err)
		return FallbackBoard(theme), nil
	}
	return b, nil
}

func (r *Resilient) GenerateStory(ctx context.Context, req StoryRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text, err := r.primary.GenerateStory(ctx, req)
	if err != nil || strings.TrimSpace(text) == "" {
		r.fallingBack("story", err)
		return FallbackStory(req), nil
	}
	return text, nil
}

func (r *Resilient) RandomTheme(ctx context.Context) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	theme, err := r.primary.RandomTheme(tctx)
	if err != nil || strings.TrimSpace(theme) == "" {
		r.fallingBack("theme", err)
		return Fallback{}.RandomTheme(ctx)
	}
	return theme, nil
}

func (r *Resilient) fallingBack(what string, err error) {
	switch {
	case IsRateLimited(err):
		r.log.Warn("story service rate limited, using local content", zap.String("kind", what))
		return
	case errors.Is(err, context.DeadlineExceeded):
		r.log.Warn("story service timed out, using local content",
			zap.String("kind", what), zap.Duration("timeout", r.timeout))
		return
	}
	r.log.Warn("story service failed, using local content", zap.String("kind", what), zap.Error(err))
}

type PlayerStory struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Karma    int    `json:"karma"`
	IsWinner bool   `json:"isWinner"`
	Story    string `json:"story"`
}

// Stories writes one ending per player, in turn order. The winner is the
// player with the most karma.
func Stories(ctx context.Context, gen Generator, s engine.Session) ([]PlayerStory, error) {
	winner := engine.Winner(s)
	order := engine.TurnOrder(s)
	out := make([]PlayerStory, len(order))

	g, ctx := errgroup.WithContext(ctx)
	for i, id := range order {
		p := s.Players[id]
		out[i] = PlayerStory{PlayerID: p.ID, Name: p.Name, Karma: p.Karma, IsWinner: id == winner}
		req := StoryRequest{
			PlayerName:    p.Name,
			Theme:         s.Theme,
			Karma:         p.Karma,
			Actions:       append([]string(nil), p.Actions...),
			FinalPosition: p.Position,
			IsWinner:      id == winner,
		}
		g.Go(func() error {
			text, err := gen.GenerateStory(ctx, req)
			if err != nil {
				return err
			}
			out[i].Story = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
