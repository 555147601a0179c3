package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/vkd/internal/events"
	"github.com/devghori1264/aerophoenix/vkd/internal/instance"
	"github.com/devghori1264/aerophoenix/vkd/internal/models"
)

// ProtocolVersion is reported by /info so clients can detect incompatible daemons.
const ProtocolVersion = 1

// maxBody caps request bodies; inline constructs are base64 so allow a few MiB.
const maxBody = 8 << 20

// Options configures the HTTP handler.
type Options struct {
	Version string
	// Latency is added to every request before it is handled.
	Latency time.Duration
	// KeepAlive is the SSE comment interval. Zero uses 15s.
	KeepAlive time.Duration
}

type Handler struct {
	m      *instance.Manager
	events *events.Broker[events.Notification]
	log    *zap.Logger
	opts   Options
}

func NewHTTPHandler(m *instance.Manager, notifications *events.Broker[events.Notification], log *zap.Logger, opts Options) http.Handler {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	h := &Handler{m: m, events: notifications, log: log.Named("http"), opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /info", h.handleInfo)
	mux.HandleFunc("POST /auth/login", h.handleLogin)

	mux.HandleFunc("GET /instances", h.handleList)
	mux.HandleFunc("POST /instances", h.handleCreate)
	mux.HandleFunc("GET /instances/{id}", h.handleGet)
	mux.HandleFunc("DELETE /instances/{id}", h.handleDelete)
	mux.HandleFunc("POST /instances/{id}/start", h.handleStart)
	mux.HandleFunc("POST /instances/{id}/stop", h.handleStop)
	mux.HandleFunc("GET /events", h.handleEvents)

	mux.HandleFunc("GET /host/auth", h.host(h.handleHostAuth))
	mux.HandleFunc("POST /host/heartbeat", h.host(h.handleHeartbeat))
	mux.HandleFunc("GET /host/definition", h.host(h.handleDefinition))
	mux.HandleFunc("GET /host/events", h.host(h.handleHostEvents))

	return h.withLatency(mux)
}

func (h *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("vkd\n"))
}

func (h *Handler) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  h.opts.Version,
		"protocol": ProtocolVersion,
		"mode":     "no-auth",
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"token": nil, "additional": nil})
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.m.List())
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload", err)
		return
	}
	h.log.Info("new instance requested", zap.String("name", req.Name))

	id, err := h.m.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, statusFor(err), "failed to create instance", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(id))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	v, err := h.m.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, statusFor(err), "instance not found", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	h.accepted(w, r, "delete", h.m.Delete)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	h.accepted(w, r, "start", h.m.Start)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	h.accepted(w, r, "stop", h.m.Stop)
}

// accepted runs an asynchronous lifecycle operation and answers 202 once it is queued.
func (h *Handler) accepted(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) error) {
	id := r.PathValue("id")
	h.log.Info("instance "+op+" requested", zap.String("instance", id))
	if err := fn(r.Context(), id); err != nil {
		h.writeError(w, statusFor(err), op+" rejected", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sub := h.events.Subscribe()
	h.log.Debug("client requested event listener")
	defer h.log.Debug("client dropped event listener")
	streamSSE(w, r, sub, h.opts.KeepAlive, func(n events.Notification) any { return n })
}

// host resolves the bearer token to an instance id and passes it to next.
func (h *Handler) host(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.m.FindByToken(bearer(r))
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r, id)
	}
}

func bearer(r *http.Request) string {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func (h *Handler) handleHostAuth(w http.ResponseWriter, _ *http.Request, _ string) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, _ *http.Request, id string) {
	if err := h.m.RecordHeartbeat(id); err != nil {
		h.writeError(w, http.StatusInternalServerError, "heartbeat failed", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleDefinition(w http.ResponseWriter, _ *http.Request, id string) {
	def, err := h.m.Definition(id)
	switch {
	case errors.Is(err, instance.ErrNotFound):
		w.WriteHeader(http.StatusUnauthorized)
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, "definition unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (h *Handler) handleHostEvents(w http.ResponseWriter, r *http.Request, id string) {
	commands, err := h.m.Commands(id)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	sub := commands.Subscribe()
	h.log.Debug("host connected to command stream", zap.String("instance", id))
	defer h.log.Debug("host dropped command stream", zap.String("instance", id))
	streamSSE(w, r, sub, h.opts.KeepAlive, func(c events.Command) any {
		return map[string]events.Command{"command": c}
	})
}

func (h *Handler) withLatency(next http.Handler) http.Handler {
	if h.opts.Latency <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.log.Info("adding latency to request", zap.Duration("latency", h.opts.Latency))
		t := time.NewTimer(h.opts.Latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-r.Context().Done():
			return
		}
		next.ServeHTTP(w, r)
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, instance.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, instance.ErrDeleting):
		return http.StatusConflict
	case errors.Is(err, models.ErrNameRequired),
		errors.Is(err, models.ErrTypeRequired),
		errors.Is(err, models.ErrInvalidSource),
		errors.Is(err, models.ErrInvalidConstruct):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := map[string]string{"error": msg}
	if err != nil && status < http.StatusInternalServerError {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
	if status >= http.StatusInternalServerError {
		h.log.Error(msg, zap.Int("status", status), zap.Error(err))
		return
	}
	h.log.Debug(msg, zap.Int("status", status), zap.Error(err))
}
