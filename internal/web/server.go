// Package web exposes the session controller over HTTP.
//
// The JSON API drives the call lifecycle and history; GET /api/events upgrades
// to a WebSocket that streams controller events to the UI and accepts speech
// capture events from the browser.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrWong99/callcoach/internal/app"
	"github.com/MrWong99/callcoach/internal/health"
	"github.com/MrWong99/callcoach/internal/history"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/internal/report"
	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/pkg/types"
)

// maxBodyBytes bounds JSON request bodies. Uploaded transcripts are the
// largest payloads.
const maxBodyBytes = 1 << 20

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

// Server routes HTTP requests to a [app.Controller].
type Server struct {
	ctrl           *app.Controller
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	reportOpts     report.Options
	originPatterns []string

	mux *http.ServeMux
}

// Option is a functional option for [NewServer].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the instruments used by the request middleware. Defaults
// to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithReportOptions configures the plain-text report export.
func WithReportOptions(o report.Options) Option {
	return func(s *Server) { s.reportOpts = o }
}

// WithOriginPatterns allows cross-origin WebSocket connections from hosts
// matching the given patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// NewServer creates a Server for ctrl.
func NewServer(ctrl *app.Controller, opts ...Option) *Server {
	s := &Server{ctrl: ctrl, mux: http.NewServeMux()}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/call", s.handleSnapshot)
	s.mux.HandleFunc("POST /api/call/start", s.handleStart)
	s.mux.HandleFunc("POST /api/call/capture", s.handleCapture)
	s.mux.HandleFunc("POST /api/call/transcript", s.handleTranscript)
	s.mux.HandleFunc("GET /api/call/suggestions", s.handleSuggestions)
	s.mux.HandleFunc("POST /api/call/suggestions/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/call/cancel", s.handleCancel)
	s.mux.HandleFunc("POST /api/call/end", s.handleEnd)

	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.HandleFunc("DELETE /api/history", s.handleClearHistory)
	s.mux.HandleFunc("GET /api/history/{id}", s.handleHistoryItem)
	s.mux.HandleFunc("DELETE /api/history/{id}", s.handleDeleteHistory)
	s.mux.HandleFunc("GET /api/history/{id}/report", s.handleReport)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)

	s.mux.HandleFunc("GET /api/events", s.handleEvents)

	if s.health != nil {
		s.health.Register(s.mux)
	}
	if s.metricsHandler != nil {
		s.mux.Handle("GET /metrics", s.metricsHandler)
	}
}

// Handler returns the root handler wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.metrics)(s.mux)
}

// ── Call lifecycle ───────────────────────────────────────────────────────────

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ctrl.Snapshot(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var customer types.Customer
	if err := decodeJSON(w, r, &customer); err != nil {
		writeError(w, r, err)
		return
	}
	call, err := s.ctrl.StartCall(r.Context(), customer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

// captureRequest is one speech recognition event.
type captureRequest struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ctrl.Capture(r.Context(), req.Text, req.IsFinal); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// transcriptRequest carries typed text or an uploaded transcript split into
// chunks. Each non-blank chunk is analysed as a final entry.
type transcriptRequest struct {
	Speaker types.Speaker `json:"speaker,omitempty"`
	Text    string        `json:"text,omitempty"`
	Chunks  []string      `json:"chunks,omitempty"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	chunks := req.Chunks
	if req.Text != "" {
		chunks = append([]string{req.Text}, chunks...)
	}
	if len(chunks) == 0 {
		writeError(w, r, session.ErrEmptyText)
		return
	}

	accepted := 0
	for _, c := range chunks {
		err := s.ctrl.SubmitText(r.Context(), req.Speaker, c)
		if errors.Is(err, session.ErrEmptyText) && len(chunks) > 1 {
			continue
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		accepted++
	}
	if accepted == 0 {
		writeError(w, r, session.ErrEmptyText)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	sugs, err := s.ctrl.Suggestions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(sugs))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sugs, err := s.ctrl.RefreshSuggestions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(sugs))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.CancelCall(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	call, err := s.ctrl.EndCall(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// ── History ──────────────────────────────────────────────────────────────────

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	items, err := s.ctrl.History(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ClearHistory(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.ctrl.HistoryItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.DeleteHistory(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	item, err := s.ctrl.HistoryItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "call-"+item.ID+".txt"))
	pages, err := report.Render(w, item, s.reportOpts)
	if err != nil {
		// Headers are already sent.
		observe.Logger(r.Context()).Warn("web: report write failed", "id", item.ID, "pages", pages, "err", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ctrl.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, types.ErrInvalidCustomer),
		errors.Is(err, session.ErrEmptyText),
		errors.Is(err, app.ErrInvalidSpeaker):
		return http.StatusBadRequest
	case errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidState),
		errors.Is(err, session.ErrNoActiveCall):
		return http.StatusConflict
	case errors.Is(err, app.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("web: request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("web: encode response", "err", err)
	}
}

// decodeJSON reads a single JSON object into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
