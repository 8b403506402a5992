package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/storyforge-backend/internal/config"
	"github.com/DoyleJ11/storyforge-backend/internal/game"
	"github.com/DoyleJ11/storyforge-backend/internal/httpapi"
	"github.com/DoyleJ11/storyforge-backend/internal/hub"
	"github.com/DoyleJ11/storyforge-backend/internal/kv"
	"github.com/DoyleJ11/storyforge-backend/internal/local"
	"github.com/DoyleJ11/storyforge-backend/internal/logging"
	"github.com/DoyleJ11/storyforge-backend/internal/remote"
	"github.com/DoyleJ11/storyforge-backend/internal/store"
	"github.com/DoyleJ11/storyforge-backend/internal/store/gormstore"
	"github.com/DoyleJ11/storyforge-backend/internal/store/memstore"
	"github.com/DoyleJ11/storyforge-backend/internal/store/pgnotify"
	"github.com/DoyleJ11/storyforge-backend/internal/story"
	"github.com/DoyleJ11/storyforge-backend/internal/watch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

// backend is the session manager for the configured mode together with its
// change source and the resources to release on shutdown.
type backend struct {
	mgr    game.Manager
	src    game.Subscriber
	ping   func(context.Context) error
	closer func() error
}

func open(ctx context.Context, cfg config.Config, log *zap.Logger) (*backend, error) {
	wcfg := watch.Config{
		PollInterval:         cfg.PollInterval,
		ChatPollInterval:     cfg.ChatPollInterval,
		ReconnectBase:        cfg.ReconnectBase,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}

	switch cfg.Mode {
	case config.ModeRemote:
		st, err := gormstore.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		return remoteBackend(st, pgnotify.New(cfg.DatabaseURL, log), wcfg, log), nil

	case config.ModeLocal:
		db, err := kv.OpenSQLite(cfg.LocalDB)
		if err != nil {
			return nil, err
		}
		m := local.New(db, game.SystemDice{}, log)
		return &backend{mgr: m, src: m, ping: db.Ping, closer: db.Close}, nil

	default:
		st := memstore.New()
		return remoteBackend(st, st.Feed(), wcfg, log), nil
	}
}

func remoteBackend(st store.Store, feed store.Feed, wcfg watch.Config, log *zap.Logger) *backend {
	return &backend{
		mgr:    remote.New(st, game.SystemDice{}, log),
		src:    watch.NewSubscriber(st, feed, wcfg, log),
		ping:   st.Ping,
		closer: st.Close,
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) (err error) {
	be, err := open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Mode, err)
	}
	defer func() { err = multierr.Append(err, be.closer()) }()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = be.ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connection test: %w", err)
	}

	var primary story.Generator
	if cfg.StoryAPIKey != "" {
		primary = story.NewOpenAI(story.OpenAIConfig{
			APIKey:   cfg.StoryAPIKey,
			BaseURL:  cfg.StoryBaseURL,
			Model:    cfg.StoryModel,
			Cooldown: cfg.StoryCooldown,
		}, log)
	} else {
		log.Info("no story service key, using local boards and stories")
	}

	h := hub.NewHub(ctx, be.src, log)
	defer func() { h.Inbox() <- hub.ShutdownHub{} }()

	handler := httpapi.SetupRoutes(httpapi.Deps{
		Manager:    be.mgr,
		Subscriber: h,
		Stories:    story.NewResilient(primary, cfg.StoryTimeout, log),
		Ping:       be.ping,
		Log:        log,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("mode", string(cfg.Mode)))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
