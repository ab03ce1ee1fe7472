// Package health serves the liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz runs every
// registered [Checker] concurrently and answers:
//
//   - 200 "ok" when all checks pass,
//   - 200 "degraded" when only optional checks fail,
//   - 503 "fail" when any required check fails.
//
// Capture is required; the reply stages behind it are usually registered as
// optional so a speech synthesis outage does not take the endpointer out of
// rotation.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single check.
const checkTimeout = 5 * time.Second

// Probe outcomes.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named dependency probe. Check returns nil when healthy and must
// honour ctx.
type Checker struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

// CheckResult is one entry of the /readyz body.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Optional bool   `json:"optional,omitempty"`
	Took     string `json:"took"`
}

// Report is the JSON body of both probes.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
}

func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Evaluate runs every checker concurrently, each under its own timeout, and
// folds the outcomes into a report.
func (h *Handler) Evaluate(ctx context.Context) Report {
	results := make([]CheckResult, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			res := CheckResult{
				Status:   StatusOK,
				Optional: c.Optional,
				Took:     time.Since(start).Round(time.Microsecond).String(),
			}
			if err != nil {
				res.Status = StatusFail
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: StatusOK, Checks: make(map[string]CheckResult, len(results))}
	for i, res := range results {
		rep.Checks[h.checkers[i].Name] = res
		if res.Status == StatusOK {
			continue
		}
		switch {
		case !res.Optional:
			rep.Status = StatusFail
		case rep.Status == StatusOK:
			rep.Status = StatusDegraded
		}
	}
	return rep
}

// Optional marks c as not required for readiness.
func Optional(c Checker) Checker {
	c.Optional = true
	return c
}

// Fresh fails when last reports the zero time or a time older than maxAge.
// It detects a stalled capture loop.
func Fresh(name string, last func() time.Time, maxAge time.Duration) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			t := last()
			if t.IsZero() {
				return errors.New("not started")
			}
			if age := time.Since(t); age > maxAge {
				return fmt.Errorf("last activity %s ago", age.Round(time.Millisecond))
			}
			return nil
		},
	}
}

// Availability reports whether any backend of a provider group would accept a
// call.
type Availability interface {
	Available() error
}

// Available adapts a provider group to a checker.
func Available(name string, a Availability) Checker {
	return Checker{
		Name:  name,
		Check: func(context.Context) error { return a.Available() },
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
