// Package config loads server settings from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeMemory Mode = "memory"
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

type Config struct {
	Addr        string `env:"STORYFORGE_ADDR" envDefault:":8080"`
	Mode        Mode   `env:"STORYFORGE_MODE" envDefault:"memory"`
	DatabaseURL string `env:"DATABASE_URL"`
	LocalDB     string `env:"STORYFORGE_LOCAL_DB" envDefault:"storyforge_local.db"`

	PollInterval         time.Duration `env:"STORYFORGE_POLL_INTERVAL" envDefault:"1s"`
	ChatPollInterval     time.Duration `env:"STORYFORGE_CHAT_POLL_INTERVAL" envDefault:"3s"`
	ReconnectBase        time.Duration `env:"STORYFORGE_RECONNECT_BASE" envDefault:"1s"`
	MaxReconnectAttempts int           `env:"STORYFORGE_RECONNECT_MAX_ATTEMPTS" envDefault:"5"`

	StoryAPIKey   string        `env:"STORYFORGE_STORY_API_KEY"`
	StoryBaseURL  string        `env:"STORYFORGE_STORY_BASE_URL"`
	StoryModel    string        `env:"STORYFORGE_STORY_MODEL" envDefault:"gpt-4o-mini"`
	StoryCooldown time.Duration `env:"STORYFORGE_STORY_COOLDOWN" envDefault:"5s"`
	StoryTimeout  time.Duration `env:"STORYFORGE_STORY_TIMEOUT" envDefault:"20s"`

	LogLevel string `env:"STORYFORGE_LOG_LEVEL" envDefault:"info"`
	LogDev   bool   `env:"STORYFORGE_LOG_DEV" envDefault:"false"`
}

// Load reads the given .env files (default ".env"; missing files are
// ignored), then parses and validates the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeMemory, ModeLocal:
	case ModeRemote:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required in remote mode")
		}
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if c.PollInterval <= 0 || c.ChatPollInterval <= 0 || c.ReconnectBase <= 0 {
		return errors.New("config: poll and reconnect intervals must be positive")
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.New("config: reconnect attempts cannot be negative")
	}
	return nil
}
