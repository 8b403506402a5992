package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
)

type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Cooldown time.Duration
}

// OpenAI talks to an OpenAI-compatible chat completion endpoint. Calls are
// spaced at least Cooldown apart.
type OpenAI struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
	log     *zap.Logger
}

var _ Generator = (*OpenAI)(nil)

func NewOpenAI(cfg OpenAIConfig, log *zap.Logger, opts ...option.RequestOption) *OpenAI {
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)

	model := cfg.Model
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	limit := rate.Inf
	if cfg.Cooldown > 0 {
		limit = rate.Every(cfg.Cooldown)
	}
	return &OpenAI{
		client:  openai.NewClient(reqOpts...),
		model:   model,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

func (o *OpenAI) GenerateBoard(ctx context.Context, theme string, playerCount int) (engine.Board, error) {
	text, err := o.complete(ctx, boardPrompt(theme, playerCount))
	if err != nil {
		return engine.Board{}, err
	}
	return parseBoard(text, theme)
}

func (o *OpenAI) GenerateStory(ctx context.Context, req StoryRequest) (string, error) {
	text, err := o.complete(ctx, storyPrompt(req))
	if err != nil {
		return "", err
	}
	if text = strings.TrimSpace(text); text == "" {
		return "", errors.New("story: empty completion")
	}
	return text, nil
}

func (o *OpenAI) RandomTheme(ctx context.Context) (string, error) {
	text, err := o.complete(ctx, themePrompt)
	if err != nil {
		return "", err
	}
	theme := strings.Trim(strings.TrimSpace(text), `"`)
	if theme == "" {
		return "", errors.New("story: empty theme")
	}
	return theme, nil
}

func (o *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("story: cooldown: %w", err)
	}
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: shared.ChatModel(o.model),
	})
	if err != nil {
		o.log.Debug("story completion failed", zap.String("model", o.model), zap.Error(err))
		return "", fmt.Errorf("story: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("story: completion has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// IsRateLimited reports whether err is the service refusing for quota.
func IsRateLimited(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

// parseBoard pulls the first JSON object out of model output and checks it
// is a playable board.
func parseBoard(text, theme string) (engine.Board, error) {
	raw := strings.TrimSpace(text)
	if !gjson.Valid(raw) {
		start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return engine.Board{}, fmt.Errorf("%w: no JSON object in response", ErrMalformedBoard)
		}
		raw = raw[start : end+1]
		if !gjson.Valid(raw) {
			return engine.Board{}, fmt.Errorf("%w: invalid JSON", ErrMalformedBoard)
		}
	}
	if n := gjson.Get(raw, "tiles.#").Int(); n != BoardSize {
		return engine.Board{}, fmt.Errorf("%w: %d tiles", ErrMalformedBoard, n)
	}

	var b engine.Board
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return engine.Board{}, fmt.Errorf("%w: %v", ErrMalformedBoard, err)
	}
	if b.Theme == "" {
		b.Theme = theme
	}
	if err := CheckBoard(b); err != nil {
		return engine.Board{}, fmt.Errorf("%w: %v", ErrMalformedBoard, err)
	}
	return b, nil
}
