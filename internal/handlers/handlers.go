package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"drivepaddy/internal/models"
	"drivepaddy/internal/services"
)

const maxFrameBody = 16 << 20

// HealthChecker reports whether the ML sidecar answers.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// API serves the REST endpoints.
type API struct {
	manager *services.Manager
	sidecar HealthChecker
	hub     *Hub
	origins []string
	version string
	logger  *zap.Logger
}

func NewAPI(manager *services.Manager, sidecar HealthChecker, hub *Hub, corsOrigins, version string, logger *zap.Logger) *API {
	var origins []string
	for _, o := range strings.Split(corsOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return &API{
		manager: manager,
		sidecar: sidecar,
		hub:     hub,
		origins: origins,
		version: version,
		logger:  logger.Named("api"),
	}
}

// Routes returns the HTTP handler for the REST API and the WebSocket endpoint.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", a.createSession)
	mux.HandleFunc("GET /api/sessions", a.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", a.getSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", a.deleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/end", a.endSession)
	mux.HandleFunc("GET /api/sessions/{id}/events", a.listEvents)
	mux.HandleFunc("POST /api/detect", a.detect)
	mux.HandleFunc("GET /api/health", a.health)
	mux.HandleFunc("GET /api/metrics", a.metrics)
	if a.hub != nil {
		mux.Handle("GET /ws", a.hub)
	}
	return a.cors(mux)
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && a.allowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) allowed(origin string) bool {
	for _, o := range a.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request", "bad_request")
			return
		}
	}

	resp, err := a.manager.Create(r.Context(), req.Name)
	if errors.Is(err, services.ErrTooManySessions) {
		a.fail(w, err)
		return
	}
	if err != nil {
		a.logger.Error("create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start session", "internal")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != models.SessionActive && status != models.SessionEnded {
		writeError(w, http.StatusBadRequest, "status must be active or ended", "bad_request")
		return
	}
	sessions, err := a.manager.List(r.Context(), status)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.manager.Lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) endSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.manager.Authenticate(id, bearer(r.Header.Get("Authorization"))); err != nil {
		a.fail(w, err)
		return
	}
	if err := a.manager.End(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.manager.Authorize(r.Context(), id, bearer(r.Header.Get("Authorization"))); err != nil {
		a.fail(w, err)
		return
	}
	if err := a.manager.Delete(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.manager.Authorize(r.Context(), id, bearer(r.Header.Get("Authorization"))); err != nil {
		a.fail(w, err)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", "bad_request")
			return
		}
		limit = n
	}
	events, err := a.manager.Events(r.Context(), id, limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *API) detect(w http.ResponseWriter, r *http.Request) {
	var req models.VideoFrame
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "bad_request")
		return
	}
	token := req.Token
	if token == "" {
		token = bearer(r.Header.Get("Authorization"))
	}
	sess, err := a.manager.Authenticate(req.SessionID, token)
	if err != nil {
		a.fail(w, err)
		return
	}

	img, err := decodeFrame(req.Frame, a.manager.FrameLimit())
	if err != nil {
		a.fail(w, err)
		return
	}
	res, err := sess.HandleFrame(r.Context(), img)
	if err != nil {
		a.fail(w, err)
		return
	}
	res.ClientTimestamp = req.Timestamp
	res.SequenceNumber = req.SequenceNumber
	writeJSON(w, http.StatusOK, res)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	sidecar := false
	if a.sidecar != nil {
		sidecar = a.sidecar.HealthCheck(r.Context())
	}
	clients := 0
	if a.hub != nil {
		clients = a.hub.Count()
	}
	writeJSON(w, http.StatusOK, models.HealthStatus{
		Status:         "healthy",
		GoBackend:      "running",
		SidecarService: sidecar,
		ActiveSessions: a.manager.Active(),
		ActiveClients:  clients,
		UptimeSeconds:  int64(a.manager.Metrics().Uptime().Seconds()),
		Version:        a.version,
	})
}

func (a *API) metrics(w http.ResponseWriter, r *http.Request) {
	snap := a.manager.Metrics().Snapshot()
	if a.hub != nil {
		snap["active_clients"] = a.hub.Count()
	}
	snap["timestamp"] = time.Now().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, snap)
}

// fail maps service errors to HTTP status codes.
func (a *API) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadFrame):
		writeError(w, http.StatusBadRequest, err.Error(), "bad_frame")
	case errors.Is(err, services.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid session token", "unauthorized")
	case errors.Is(err, services.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found", "not_found")
	case errors.Is(err, services.ErrSessionEnded):
		writeError(w, http.StatusGone, "session ended", "session_ended")
	case errors.Is(err, services.ErrSessionBusy), errors.Is(err, services.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error(), "frame_dropped")
	case errors.Is(err, services.ErrTooManySessions):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, err.Error(), "session_limit")
	default:
		a.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error", "internal")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, models.ErrorResponse{
		Error:     msg,
		Timestamp: time.Now().Unix(),
		Code:      code,
	})
}
