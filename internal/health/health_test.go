package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Report {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rep
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "capture", Check: failWith("down")})
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 regardless of checks", rec.Code)
	}
	if rep := decode(t, rec); rep.Status != StatusOK || rep.Checks != nil {
		t.Errorf("report = %+v, want bare ok", rep)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "capture", Check: pass},
				{Name: "stt", Check: pass},
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]string{"capture": StatusOK, "stt": StatusOK},
		},
		{
			name: "required fails",
			checkers: []Checker{
				{Name: "capture", Check: failWith("stalled")},
				{Name: "stt", Check: pass},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"capture": StatusFail, "stt": StatusOK},
		},
		{
			name: "optional fails",
			checkers: []Checker{
				{Name: "capture", Check: pass},
				Optional(Checker{Name: "tts", Check: failWith("breaker open")}),
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{"capture": StatusOK, "tts": StatusFail},
		},
		{
			name: "required and optional fail",
			checkers: []Checker{
				Optional(Checker{Name: "llm", Check: failWith("quota")}),
				{Name: "stt", Check: failWith("breaker open")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"llm": StatusFail, "stt": StatusFail},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			New(tt.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			rep := decode(t, rec)
			if rep.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", rep.Status, tt.wantStatus)
			}
			if len(rep.Checks) != len(tt.wantChecks) {
				t.Fatalf("checks = %v, want %d entries", rep.Checks, len(tt.wantChecks))
			}
			for name, want := range tt.wantChecks {
				got := rep.Checks[name]
				if got.Status != want {
					t.Errorf("checks[%s].status = %q, want %q", name, got.Status, want)
				}
				if (got.Error != "") != (want == StatusFail) {
					t.Errorf("checks[%s].error = %q", name, got.Error)
				}
				if got.Took == "" {
					t.Errorf("checks[%s].took is empty", name)
				}
			}
		})
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Checker{Name: "capture", Check: failWith("stalled")}).Register(mux)

	for path, want := range map[string]int{
		"/healthz": http.StatusOK,
		"/readyz":  http.StatusServiceUnavailable,
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != want {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, want)
		}
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/readyz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /readyz = %d, want 405", rec.Code)
	}
}

func TestEvaluate_CancelledContext(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if rep := h.Evaluate(ctx); rep.Status != StatusFail {
		t.Errorf("status = %q, want %q", rep.Status, StatusFail)
	}
}

func TestEvaluate_Concurrent(t *testing.T) {
	t.Parallel()

	// Each check waits for the other to start.
	var wg sync.WaitGroup
	wg.Add(2)
	barrier := func(context.Context) error {
		wg.Done()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-time.After(time.Second):
			return errors.New("peer check never started")
		}
	}
	rep := New(Checker{Name: "a", Check: barrier}, Checker{Name: "b", Check: barrier}).Evaluate(context.Background())
	if rep.Status != StatusOK {
		t.Errorf("status = %q, want ok: %+v", rep.Status, rep.Checks)
	}
}

func TestFresh(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		last    time.Time
		wantErr bool
	}{
		{name: "recent", last: time.Now(), wantErr: false},
		{name: "stale", last: time.Now().Add(-time.Minute), wantErr: true},
		{name: "never ran", last: time.Time{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Fresh("capture", func() time.Time { return tt.last }, 5*time.Second)
			if err := c.Check(context.Background()); (err != nil) != tt.wantErr {
				t.Errorf("Check() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type availability struct{ err error }

func (a availability) Available() error { return a.err }

func TestAvailable(t *testing.T) {
	t.Parallel()

	if err := Available("stt", availability{}).Check(context.Background()); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}
	down := Optional(Available("llm", availability{err: errors.New("all breakers open")}))
	if !down.Optional || down.Name != "llm" {
		t.Errorf("Optional(Available) = %+v", down)
	}
	if err := down.Check(context.Background()); err == nil {
		t.Error("Check() = nil, want error")
	}
}
