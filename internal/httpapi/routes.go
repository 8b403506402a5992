package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storyforge-backend/internal/ws"
)

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Log))

	// Public routes
	r.Get("/healthz", Healthz(d))
	r.Get("/themes/random", RandomTheme(d))
	r.Get("/ws", ws.Handler(d.Manager, d.Subscriber, d.Stories, d.Log))

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", CreateSession(d))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", GetSession(d))
			r.Post("/players", JoinSession(d))
			r.Post("/start", StartSession(d))
			r.Post("/roll", RollDice(d))
			r.Post("/move", MovePlayer(d))
			r.Post("/resolve", ResolveEvent(d))
			r.Post("/end", EndSession(d))
			r.Get("/chat", ListChat(d))
			r.Post("/chat", PostChat(d))
			r.Get("/stories", Stories(d))
		})
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
