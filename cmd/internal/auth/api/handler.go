package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"vision/cmd/internal/auth/session"
	"vision/cmd/internal/metrics"
	"vision/cmd/internal/scores"
)

// Handler serves the /api routes.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions *session.Service
	scores   *scores.Service
	met      *metrics.Metrics
	now      nowFunc
}

// NewHandler constructs the API handler. met may be nil.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, sc *scores.Service, met *metrics.Metrics) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		scores:   sc,
		met:      met,
		now:      time.Now,
	}
}

// Register wires the API routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/register", h.handleRegister)
	mux.HandleFunc("POST /api/token", h.handleToken)
	mux.HandleFunc("POST /api/deactivate", h.handleDeactivate)
	mux.HandleFunc("DELETE /api/user", h.handleDeleteUser)
	mux.HandleFunc("GET /api/settings", h.handleGetSettings)
	mux.HandleFunc("PATCH /api/settings", h.handlePatchSettings)
	mux.HandleFunc("GET /api/entries", h.handleListEntries)
	mux.HandleFunc("GET /api/entries/{id}", h.handleGetEntry)
	mux.HandleFunc("PATCH /api/entries/{id}", h.handlePatchEntry)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Malformed JSON body.")
		return
	}

	g, err := h.sessions.Register(r.Context(), h.now(), req.Username, req.Password)
	if err != nil {
		h.writeSessionError(w, r, "register", err, req.Username)
		return
	}

	if err := h.scores.InitBoard(r.Context(), g.Username); err != nil {
		// Without a board the account is unusable; undo the registration.
		h.log.ErrorContext(r.Context(), "api.register.board_fail", "username", g.Username, "err", err)
		_ = h.sessions.Delete(r.Context(), g.Username)
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error.")
		return
	}

	h.met.Registration()
	writeJSON(w, http.StatusCreated, toAccessInfo(g))
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Malformed JSON body.")
		return
	}

	g, err := h.sessions.Login(r.Context(), h.now(), req.Username, req.Password)
	if err != nil {
		h.writeSessionError(w, r, "login", err, req.Username)
		return
	}

	h.met.Login()
	writeJSON(w, http.StatusOK, toAccessInfo(g))
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	username, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Deactivate(r.Context(), username); err != nil {
		h.writeSessionError(w, r, "deactivate", err, username)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	username, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if err := h.scores.DropBoard(r.Context(), username); err != nil {
		h.log.ErrorContext(r.Context(), "api.delete.board_fail", "username", username, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error.")
		return
	}
	if err := h.sessions.Delete(r.Context(), username); err != nil {
		h.writeSessionError(w, r, "delete", err, username)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	username, ok := h.authorize(w, r)
	if !ok {
		return
	}
	theme, err := h.sessions.Theme(r.Context(), username)
	if err != nil {
		h.writeSessionError(w, r, "settings", err, username)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(theme))
}

func (h *Handler) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	username, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req settingUpdateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Malformed JSON body.")
		return
	}
	if req.Setting != "theme" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("Unknown setting %q.", req.Setting))
		return
	}

	if err := h.sessions.SetTheme(r.Context(), username, req.Value); err != nil {
		h.writeSessionError(w, r, "settings", err, username)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(req.Value))
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	username, ok := h.authorize(w, r)
	if !ok {
		return
	}
	entries, err := h.scores.Entries(r.Context(), username)
	if err != nil {
		h.writeScoresError(w, r, "entries", err)
		return
	}
	writeJSON(w, http.StatusOK, entriesResponse{Data: entries})
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	username, ok := h.authorize(w, r)
	if !ok {
		return
	}
	e, err := h.scores.Entry(r.Context(), username, r.PathValue("id"))
	if err != nil {
		h.writeScoresError(w, r, "entry", err)
		return
	}
	writeJSON(w, http.StatusOK, entryResponse{Data: e})
}

func (h *Handler) handlePatchEntry(w http.ResponseWriter, r *http.Request) {
	username, accessToken, ok := h.authorizeWithToken(w, r)
	if !ok {
		return
	}

	var req entryUpdateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Malformed JSON body.")
		return
	}
	if req.Update != "score" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("Unknown update %q.", req.Update))
		return
	}

	entryID := r.PathValue("id")
	if err := h.scores.UpdateScore(r.Context(), username, accessToken, entryID, req.Score); err != nil {
		h.writeScoresError(w, r, "entry_update", err)
		return
	}

	e, err := h.scores.Entry(r.Context(), username, entryID)
	if err != nil {
		h.writeScoresError(w, r, "entry_update", err)
		return
	}
	writeJSON(w, http.StatusOK, entryResponse{Data: e})
}

// authorize resolves the Bearer token into a username, writing the error
// response itself on failure.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, _, ok := h.authorizeWithToken(w, r)
	return username, ok
}

func (h *Handler) authorizeWithToken(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	accessToken, ok := bearerToken(r)
	if !ok {
		h.met.AuthFailure("http_bearer")
		writeError(w, http.StatusUnauthorized, "unauthorized", session.ErrInvalidToken.Error())
		return "", "", false
	}

	username, err := h.sessions.AuthorizeAccess(r.Context(), h.now(), accessToken)
	if errors.Is(err, session.ErrInvalidToken) {
		h.met.AuthFailure("http_bearer")
		writeError(w, http.StatusUnauthorized, "unauthorized", session.ErrInvalidToken.Error())
		return "", "", false
	}
	if err != nil {
		h.log.ErrorContext(r.Context(), "api.authorize.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error.")
		return "", "", false
	}
	return username, accessToken, true
}

func bearerToken(r *http.Request) (string, bool) {
	raw := r.Header.Get("Authorization")
	tok, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || tok == "" {
		return "", false
	}
	return tok, true
}

func (h *Handler) writeSessionError(w http.ResponseWriter, r *http.Request, op string, err error, username string) {
	var vErr session.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, "validation", vErr.Msg)
	case errors.Is(err, session.ErrAlreadyExists):
		writeError(w, http.StatusBadRequest, "already_exists", fmt.Sprintf("User: '%s' already exists.", username))
	case errors.Is(err, session.ErrInvalidCredentials):
		h.met.AuthFailure("http_login")
		writeError(w, http.StatusBadRequest, "invalid_credentials", session.ErrInvalidCredentials.Error())
	case errors.Is(err, session.ErrDeactivated):
		h.met.AuthFailure("http_login")
		writeError(w, http.StatusBadRequest, "deactivated", session.ErrDeactivated.Error())
	case errors.Is(err, session.ErrInvalidToken):
		h.met.AuthFailure("http_bearer")
		writeError(w, http.StatusUnauthorized, "unauthorized", session.ErrInvalidToken.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Not found.")
	default:
		h.log.ErrorContext(r.Context(), "api."+op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error.")
	}
}

func (h *Handler) writeScoresError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var rangeErr scores.ScoreRangeError
	switch {
	case errors.Is(err, scores.ErrUnknownEntry):
		writeError(w, http.StatusNotFound, "not_found", "Not found.")
	case errors.As(err, &rangeErr):
		writeError(w, http.StatusBadRequest, "validation", rangeErr.Error())
	case errors.Is(err, scores.ErrNoRow):
		writeError(w, http.StatusNotFound, "not_found", "Not found.")
	default:
		h.log.ErrorContext(r.Context(), "api."+op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error.")
	}
}
