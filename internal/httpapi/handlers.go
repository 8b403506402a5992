package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
	"github.com/DoyleJ11/storyforge-backend/internal/game"
	"github.com/DoyleJ11/storyforge-backend/internal/store"
	"github.com/DoyleJ11/storyforge-backend/internal/story"
	"github.com/DoyleJ11/storyforge-backend/internal/types"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Manager    game.Manager
	Subscriber game.Subscriber
	Stories    story.Generator
	// Ping checks the backing store; nil means always healthy.
	Ping func(context.Context) error
	Log  *zap.Logger
}

const maxBody = 64 << 10

func CreateSession(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateSessionRequest
		if !decode(w, r, &req) {
			return
		}
		ctx := r.Context()

		theme := strings.TrimSpace(req.Theme)
		if theme == "" {
			t, err := d.Stories.RandomTheme(ctx)
			if err != nil {
				writeError(w, d.Log, err)
				return
			}
			theme = t
		}
		board, err := d.Stories.GenerateBoard(ctx, theme, engine.MaxPlayers)
		if err != nil {
			writeError(w, d.Log, err)
			return
		}

		host := game.NewPlayer(req.HostName, true)
		id, err := d.Manager.CreateSession(ctx, host, theme, board)
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		snap, err := d.Manager.Snapshot(ctx, id)
		if err != nil || snap == nil {
			writeError(w, d.Log, errors.Join(engine.ErrSessionNotFound, err))
			return
		}
		writeJSON(w, http.StatusCreated, types.CreateSessionResponse{SessionID: id, PlayerID: host.ID, Session: *snap})
	}
}

func JoinSession(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.JoinRequest
		if !decode(w, r, &req) {
			return
		}
		p := game.NewPlayer(req.Name, false)
		ok, err := d.Manager.JoinSession(r.Context(), chi.URLParam(r, "id"), p)
		if !result(w, d.Log, ok, err, "could not join game") {
			return
		}
		writeJSON(w, http.StatusCreated, types.JoinResponse{PlayerID: p.ID})
	}
}

func GetSession(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := d.Manager.Snapshot(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		if snap == nil {
			writeError(w, d.Log, engine.ErrSessionNotFound)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func StartSession(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := d.Manager.StartSession(r.Context(), chi.URLParam(r, "id"))
		if result(w, d.Log, ok, err, "game cannot be started") {
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func RollDice(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := d.Manager.RollDice(r.Context(), chi.URLParam(r, "id"))
		if result(w, d.Log, v != 0, err, "dice cannot be rolled") {
			writeJSON(w, http.StatusOK, types.RollResponse{Value: v})
		}
	}
}

func MovePlayer(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.MoveRequest
		if !decode(w, r, &req) {
			return
		}
		tile, err := d.Manager.MovePlayer(r.Context(), chi.URLParam(r, "id"), req.PlayerID, req.Steps)
		if result(w, d.Log, tile != nil, err, "player cannot move") {
			writeJSON(w, http.StatusOK, tile)
		}
	}
}

func ResolveEvent(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ResolveRequest
		if !decode(w, r, &req) {
			return
		}
		ok, err := d.Manager.ResolveEvent(r.Context(), chi.URLParam(r, "id"), req.PlayerID, req.Success, req.Choice)
		if result(w, d.Log, ok, err, "no event to resolve") {
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func EndSession(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := d.Manager.EndSession(r.Context(), chi.URLParam(r, "id"))
		if result(w, d.Log, ok, err, "game cannot be ended") {
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func PostChat(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatRequest
		if !decode(w, r, &req) {
			return
		}
		err := d.Manager.SendChatMessage(r.Context(), chi.URLParam(r, "id"), req.PlayerID, req.PlayerName, req.Message)
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func ListChat(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := d.Manager.ChatMessages(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		if msgs == nil {
			msgs = []engine.ChatMessage{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

// Stories is only available once the game has ended.
func Stories(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		snap, err := d.Manager.Snapshot(ctx, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		if snap == nil {
			writeError(w, d.Log, engine.ErrSessionNotFound)
			return
		}
		if snap.Phase != engine.PhaseEnded {
			writeJSON(w, http.StatusConflict, types.ErrorResponse{Error: "game has not ended"})
			return
		}
		out, err := story.Stories(ctx, d.Stories, *snap)
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func RandomTheme(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		theme, err := d.Stories.RandomTheme(r.Context())
		if err != nil {
			writeError(w, d.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ThemeResponse{Theme: theme})
	}
}

func Healthz(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ping(ctx); err != nil {
				d.Log.Warn("health check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "bad json"})
		return false
	}
	return true
}

// result writes the failure response for a rejected or failed operation and
// reports whether the caller should write its success response.
func result(w http.ResponseWriter, log *zap.Logger, ok bool, err error, rejected string) bool {
	if err != nil {
		writeError(w, log, err)
		return false
	}
	if !ok {
		writeJSON(w, http.StatusConflict, types.ErrorResponse{Error: rejected})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidPlayer), errors.Is(err, engine.ErrInvalidBoard),
		errors.Is(err, game.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		writeJSON(w, status, types.ErrorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, types.ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
