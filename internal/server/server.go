// Package server exposes the analysis pipeline and the result store over
// HTTP.
//
// Routes:
//
//	POST /v1/analyses                  run an analysis and persist the result
//	GET  /v1/analyses?from=&to=        results processed in [from, to)
//	GET  /v1/analyses/{id}             one result
//	GET  /v1/analyses/{id}/similar?k=  nearest past results by transcript embedding
//	GET  /v1/progress?from=&to=        mean fluency score per UTC day
//	GET  /healthz, /readyz             probes (when a health handler is set)
//	GET  /metrics                      Prometheus scrape endpoint
//
// Time bounds accept RFC 3339 timestamps or plain dates (2006-01-02, UTC
// midnight). Errors are JSON objects with an "error" field.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/speakaura/internal/analysis"
	"github.com/MrWong99/speakaura/internal/health"
	"github.com/MrWong99/speakaura/internal/observe"
	"github.com/MrWong99/speakaura/pkg/store"
)

// Request limits.
const (
	DefaultMaxBodyBytes = 32 << 20
	DefaultSimilarK     = 5
	MaxSimilarK         = 100
)

// Analyzer runs one analysis. *[analysis.Pipeline] satisfies it.
type Analyzer interface {
	Run(ctx context.Context, in analysis.Input) (*analysis.Report, error)
}

// Server routes API requests to an [Analyzer] and a [store.Store].
type Server struct {
	analyzer Analyzer
	store    store.Store
	metrics  *observe.Metrics
	health   *health.Handler
	scrape   http.Handler
	maxBody  int64

	mux *http.ServeMux
}

// Option is a functional option for [New].
type Option func(*Server)

// WithMetrics sets the metrics recorded by the request middleware.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth mounts the health probes.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithScrapeHandler replaces the /metrics handler. Default: promhttp.Handler.
func WithScrapeHandler(h http.Handler) Option {
	return func(s *Server) { s.scrape = h }
}

// WithMaxBodyBytes caps the size of an analysis request body.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// New builds a Server and its routes.
func New(a Analyzer, st store.Store, opts ...Option) *Server {
	s := &Server{
		analyzer: a,
		store:    st,
		maxBody:  DefaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.scrape == nil {
		s.scrape = promhttp.Handler()
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /v1/analyses", s.createAnalysis)
	s.mux.HandleFunc("GET /v1/analyses", s.listAnalyses)
	s.mux.HandleFunc("GET /v1/analyses/{id}", s.getAnalysis)
	s.mux.HandleFunc("GET /v1/analyses/{id}/similar", s.similarAnalyses)
	s.mux.HandleFunc("GET /v1/progress", s.progress)
	s.mux.Handle("GET /metrics", s.scrape)
	if s.health != nil {
		s.health.Register(s.mux)
	}
	return s
}

// Handler returns the routes wrapped in the tracing and metrics middleware.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.metrics)(s.mux)
}

// CreateResponse is the body of a successful POST /v1/analyses.
type CreateResponse struct {
	*analysis.Report

	// Warnings lists collaborator failures of a partially assembled result.
	Warnings []string `json:"warnings,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) createAnalysis(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	var in analysis.Input
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(in.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records must not be empty")
		return
	}

	rep, err := s.analyzer.Run(r.Context(), in)
	if errors.Is(err, analysis.ErrEmptyTranscript) {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
		return
	}
	if rep == nil || rep.Result == nil {
		if err == nil {
			err = errors.New("analyzer returned no result")
		}
		log.Error("analysis failed", "err", err)
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	resp := CreateResponse{Report: rep}
	if err != nil {
		resp.Warnings = warnings(err)
	}

	if err := s.store.Save(r.Context(), rep.Result); err != nil {
		log.Error("saving analysis result", "run_id", rep.Result.RunID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not persist analysis result")
		return
	}

	w.Header().Set("Location", "/v1/analyses/"+rep.Result.RunID)
	writeJSON(w, http.StatusCreated, resp)
}

// warnings flattens a joined collaborator error into one message per cause.
func warnings(err error) []string {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range j.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	from, to, ok := timeBounds(w, r)
	if !ok {
		return
	}
	results, err := s.store.Range(r.Context(), from, to)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": nonNil(results)})
}

func (s *Server) similarAnalyses(w http.ResponseWriter, r *http.Request) {
	k := DefaultSimilarK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxSimilarK {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("k must be an integer between 1 and %d", MaxSimilarK))
			return
		}
		k = n
	}

	ref, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if len(ref.TranscriptEmbedding) == 0 {
		writeError(w, http.StatusConflict, "analysis has no transcript embedding")
		return
	}

	// The reference is at most one of k+1 rows, so k others always remain.
	matches, err := s.store.Similar(r.Context(), ref.TranscriptEmbedding, k+1)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	out := make([]store.Match, 0, k)
	for _, m := range matches {
		if m.Result.RunID == ref.RunID {
			continue
		}
		if len(out) == k {
			break
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": out})
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	from, to, ok := timeBounds(w, r)
	if !ok {
		return
	}
	points, err := s.store.DailyProgress(r.Context(), from, to)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": nonNil(points)})
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	observe.Logger(r.Context()).Error("store request failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "store unavailable")
}

// timeBounds parses the from/to query parameters and writes a 400 on failure.
func timeBounds(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	q := r.URL.Query()
	var err error
	if from, err = ParseTime(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return from, to, false
	}
	if to, err = ParseTime(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return from, to, false
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		writeError(w, http.StatusBadRequest, "to must be after from")
		return from, to, false
	}
	return from, to, true
}

// ParseTime accepts an RFC 3339 timestamp or a date. The empty string yields
// the zero time (unbounded).
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", s)
	}
	return t, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding response"}`, http.StatusInternalServerError)
	}
}
