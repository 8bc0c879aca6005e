// Package health serves the liveness and readiness probes of the SpeakAura
// API.
//
//   - /healthz is the liveness probe and always returns 200 OK.
//   - /readyz returns 200 when every required [Checker] passes. Failing
//     optional checkers downgrade the status to "degraded" but keep 200.
//
// Responses are JSON objects with a top-level "status" field ("ok",
// "degraded" or "fail") and a "checks" map with the result of each checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/speakaura/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Probe statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named readiness check.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "store", "llm").
	Name string

	// Check returns nil when the dependency is usable. It must respect
	// context cancellation.
	Check func(ctx context.Context) error

	// Optional checks never fail the probe; they only mark it degraded.
	Optional bool
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates checkers on each /readyz request.
// Checkers run concurrently.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: StatusOK})
}

// Readyz runs every checker with a [checkTimeout] deadline derived from the
// request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.evaluate(r.Context())
	status := http.StatusOK
	if res.Status == StatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func (h *Handler) evaluate(ctx context.Context) result {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		checks   = make(map[string]string, len(h.checkers))
		failed   bool
		degraded bool
	)
	for _, c := range h.checkers {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := c.Check(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				checks[c.Name] = StatusOK
				return
			}
			checks[c.Name] = "fail: " + err.Error()
			if c.Optional {
				degraded = true
			} else {
				failed = true
			}
		})
	}
	wg.Wait()

	res := result{Status: StatusOK, Checks: checks}
	switch {
	case failed:
		res.Status = StatusFail
	case degraded:
		res.Status = StatusDegraded
	}
	return res
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Pinger is implemented by result stores and connection pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker returns a required checker that pings p.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// FallbackStatus is implemented by the provider fallback groups.
type FallbackStatus interface {
	Status() []resilience.EntryStatus
}

// BreakerCheckers returns the checkers over a provider fallback group. It fails
// when every circuit in the group is open. Open circuits among healthy ones
// are reported through an optional companion so that the probe shows
// "degraded".
func BreakerCheckers(name string, fs FallbackStatus) []Checker {
	openNames := func() (open []string, total int) {
		st := fs.Status()
		for _, e := range st {
			if e.State == resilience.StateOpen {
				open = append(open, e.Name)
			}
		}
		return open, len(st)
	}
	return []Checker{
		{
			Name: name,
			Check: func(context.Context) error {
				open, total := openNames()
				if total > 0 && len(open) == total {
					return errors.New("all provider circuits open")
				}
				return nil
			},
		},
		{
			Name:     name + "_circuits",
			Optional: true,
			Check: func(context.Context) error {
				if open, _ := openNames(); len(open) > 0 {
					return fmt.Errorf("open: %s", strings.Join(open, ", "))
				}
				return nil
			},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
