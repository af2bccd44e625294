// Package intake exposes the HTTP interface that turns end-user actions into
// bus commands and relays broadcast envelopes to browsers as server-sent
// events.
package intake

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spidercast/spidercast/internal/bus"
	"github.com/spidercast/spidercast/internal/envelope"
	"github.com/spidercast/spidercast/internal/metrics"
)

// Bus is the transport surface the intake server needs: publishing commands
// and tapping the broadcast stream.
type Bus interface {
	bus.Publisher
	bus.Subscriber
}

// Server wires HTTP handlers to the command exchange and broadcast stream.
type Server struct {
	router chi.Router
	bus    Bus
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(b Bus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{bus: b, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/crawl", func(r chi.Router) {
		r.Post("/start", s.startCrawl)
		r.Post("/stop/{task_id}", s.stopCrawl)
		r.Get("/stream/{task_id}", s.streamCrawl)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startRequest mirrors the command body; task_id is generated when absent and
// keywords accept both the array and the legacy string encodings.
type startRequest struct {
	TaskID      string          `json:"task_id"`
	Keywords    json.RawMessage `json:"keywords"`
	PageSize    int             `json:"pageSize"`
	Engine      string          `json:"engine"`
	Concurrency int             `json:"concurrency"`
	RatePerSec  float64         `json:"rateLimitPerSec"`
}

type commandBody struct {
	Cmd         string   `json:"cmd"`
	TaskID      string   `json:"task_id"`
	Keywords    []string `json:"keywords,omitempty"`
	PageSize    int      `json:"pageSize,omitempty"`
	Engine      string   `json:"engine,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
	RatePerSec  float64  `json:"rateLimitPerSec,omitempty"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	keywords := envelope.NormalizeKeywords(req.Keywords)
	if len(keywords) == 0 {
		writeError(w, http.StatusBadRequest, "keywords required")
		return
	}
	taskID := req.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	body, err := json.Marshal(commandBody{
		Cmd:         "start",
		TaskID:      taskID,
		Keywords:    keywords,
		PageSize:    req.PageSize,
		Engine:      req.Engine,
		Concurrency: req.Concurrency,
		RatePerSec:  req.RatePerSec,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode command")
		return
	}
	if err := s.bus.PublishCommand(r.Context(), bus.RouteStart, body); err != nil {
		s.logger.Error("publish start failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "command publish failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *Server) stopCrawl(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	body, err := json.Marshal(commandBody{Cmd: "stop", TaskID: taskID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode command")
		return
	}
	if err := s.bus.PublishCommand(r.Context(), bus.RouteStop, body); err != nil {
		s.logger.Error("publish stop failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "command publish failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
