package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tiered-crawler/internal/config"
	"github.com/JakeFAU/tiered-crawler/internal/crawler"
	"github.com/JakeFAU/tiered-crawler/internal/metrics"
	"github.com/JakeFAU/tiered-crawler/internal/worker"
)

// MaxBatchURLs bounds one batch request.
const MaxBatchURLs = 100

const handlerTimeout = 5 * time.Minute

// Fetcher is the dispatcher surface the handlers call.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (crawler.FetchResult, error)
	FetchBrowser(ctx context.Context, rawURL string) (crawler.FetchResult, error)
}

// BatchFetcher runs many fetches with bounded concurrency.
type BatchFetcher interface {
	FetchAll(ctx context.Context, urls []string) ([]worker.Item, error)
}

// RouteLister exposes configured route domains.
type RouteLister interface {
	Domains() []string
}

// IDGenerator mints request IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Server wires HTTP handlers to the dispatcher.
type Server struct {
	router  chi.Router
	fetcher Fetcher
	batch   BatchFetcher
	routes  RouteLister
	idGen   IDGenerator
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. routes and idGen
// may be nil.
func NewServer(
	fetcher Fetcher,
	batch BatchFetcher,
	routes RouteLister,
	idGen IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		fetcher: fetcher,
		batch:   batch,
		routes:  routes,
		idGen:   idGen,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(handlerTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/fetch", s.fetch)
		r.Post("/fetch/batch", s.fetchBatch)
		r.Get("/routes", s.listRoutes)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.fetcher == nil || s.batch == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type fetchRequest struct {
	URL         string `json:"url"`
	BrowserOnly bool   `json:"browser_only"`
}

type batchRequest struct {
	URLs []string `json:"urls"`
}

type batchItem struct {
	crawler.FetchResult
	Rejected string `json:"rejected,omitempty"`
}

type batchResponse struct {
	Results []batchItem `json:"results"`
	Failed  int         `json:"failed"`
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.writeError(w, http.StatusBadRequest, "url required")
		return
	}

	var (
		res crawler.FetchResult
		err error
	)
	if req.BrowserOnly {
		res, err = s.fetcher.FetchBrowser(r.Context(), req.URL)
	} else {
		res, err = s.fetcher.Fetch(r.Context(), req.URL)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, crawler.ErrInvalidURL) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) fetchBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	switch {
	case len(req.URLs) == 0:
		s.writeError(w, http.StatusBadRequest, "urls required")
		return
	case len(req.URLs) > MaxBatchURLs:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls per batch", MaxBatchURLs))
		return
	}

	items, err := s.batch.FetchAll(r.Context(), req.URLs)
	if err != nil && len(items) == 0 {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.writeError(w, status, err.Error())
		return
	}

	resp := batchResponse{Results: make([]batchItem, 0, len(items))}
	for i, item := range items {
		entry := batchItem{FetchResult: item.Result}
		if entry.URL == "" {
			entry.URL = req.URLs[i]
		}
		if entry.Links == nil {
			entry.Links = []string{}
		}
		if item.Err != nil {
			entry.Rejected = item.Err.Error()
		}
		if item.Err != nil || item.Result.Failed() {
			resp.Failed++
		}
		resp.Results = append(resp.Results, entry)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listRoutes(w http.ResponseWriter, _ *http.Request) {
	domains := []string{}
	if s.routes != nil {
		domains = append(domains, s.routes.Domains()...)
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"domains": domains})
}

func (s *Server) newRequestID() string {
	if s.idGen != nil {
		if id, err := s.idGen.NewID(); err == nil {
			return id
		}
	}
	return uuid.NewString()
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = s.newRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the ID assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
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
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("error", rec),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSONError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
