// Package server is the web front-end of the hit counter.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/metaphi-org/go-hit-counter/hitcounter"
	"github.com/metaphi-org/go-hit-counter/hitcounter/datastore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	Counter   *hitcounter.Counter
	Datastore datastore.Datastore
	// Key is the page view counter key.
	Key        string
	MaxRetries int
	Windows    []hitcounter.Granularity
	Gatherer   prometheus.Gatherer
	Logger     hclog.Logger
}

type Server struct {
	counter    *hitcounter.Counter
	key        string
	maxRetries int
	windows    []hitcounter.Granularity
	logger     hclog.Logger
	router     chi.Router
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		counter:    opts.Counter,
		key:        opts.Key,
		maxRetries: opts.MaxRetries,
		windows:    opts.Windows,
		logger:     logger,
	}

	checker := health.NewChecker(
		health.WithCacheDuration(time.Second),
		health.WithTimeout(5*time.Second),
		health.WithCheck(health.Check{
			Name:  "datastore",
			Check: opts.Datastore.Ping,
		}),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/", s.handleIndex)
	r.Get("/stats", s.handleStats)
	r.Method(http.MethodGet, "/healthz", health.NewHandler(checker))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	count, err := s.counter.Increment(r.Context(), s.key, s.maxRetries)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Hello World! I have been seen %d times.\n", count)
}

type statsResponse struct {
	Key     string        `json:"key"`
	Count   int64         `json:"count"`
	Windows []windowStats `json:"windows"`
}

type windowStats struct {
	Granularity hitcounter.Granularity `json:"granularity"`
	Count       int64                  `json:"count"`
	Error       string                 `json:"error,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.counter.Increment(r.Context(), s.key, s.maxRetries)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := statsResponse{Key: s.key, Count: count, Windows: []windowStats{}}

	// Window failures are reported per window, the page view itself was counted.
	results, _ := s.counter.CountWindows(r.Context(), s.key, s.windows, s.maxRetries)
	for _, res := range results {
		ws := windowStats{Granularity: res.Granularity, Count: res.Count}
		if res.Err != nil {
			ws.Error = res.Err.Error()
		}
		resp.Windows = append(resp.Windows, ws)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("unable to write stats response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "unable to count this visit"
	if errors.Is(err, hitcounter.ErrRetriesExhausted) {
		status = http.StatusServiceUnavailable
		msg = "counter store unavailable, try again later"
	}

	s.logger.Error("request failed",
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"status", status,
		"error", err,
	)
	http.Error(w, msg, status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
