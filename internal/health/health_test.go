package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakePinger stands in for a pgxpool.Pool in PingChecker tests.
type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(_ context.Context) error { return p.err }

// databaseUp and generationDown model the two dependencies the interview
// server reports on: the flow-state store and the LLM backend group.
func databaseUp(_ context.Context) error { return nil }

func generationDown(_ context.Context) error {
	return errors.New("all generation backends suspended: openai")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) (status string, checks map[string]string) {
	t.Helper()
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body.Status, body.Checks
}

func TestHealthz_AliveRegardlessOfDependencies(t *testing.T) {
	t.Parallel()

	// Liveness must not flap with the LLM backend: restarting the process
	// fixes nothing when OpenAI is down.
	h := New(Checker{Name: "generation", Check: generationDown})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if status, _ := decode(t, rec); status != "ok" {
		t.Errorf("body status = %q, want ok", status)
	}
}

func TestReadyz_ReportsEachDependency(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantBody   string
	}{
		{
			name: "all dependencies healthy",
			checkers: []Checker{
				{Name: "database", Check: databaseUp},
				{Name: "generation", Check: func(_ context.Context) error { return nil }},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name: "generation backends suspended",
			checkers: []Checker{
				{Name: "database", Check: databaseUp},
				{Name: "generation", Check: generationDown},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
		},
		{
			name:       "no checkers registered",
			checkers:   nil,
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := New(tc.checkers...)

			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tc.wantStatus {
				t.Errorf("readyz status = %d, want %d", rec.Code, tc.wantStatus)
			}
			status, checks := decode(t, rec)
			if status != tc.wantBody {
				t.Errorf("body status = %q, want %q", status, tc.wantBody)
			}
			if len(checks) != len(tc.checkers) {
				t.Errorf("reported checks = %d, want %d", len(checks), len(tc.checkers))
			}
		})
	}
}

func TestReadyz_NamesTheFailingDependency(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "database", Check: databaseUp},
		Checker{Name: "generation", Check: generationDown},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	_, checks := decode(t, rec)
	if checks["database"] != "ok" {
		t.Errorf(`checks["database"] = %q, want ok`, checks["database"])
	}
	if want := "fail: all generation backends suspended: openai"; checks["generation"] != want {
		t.Errorf(`checks["generation"] = %q, want %q`, checks["generation"], want)
	}
}

func TestReadyz_ChecksSeeRequestCancellation(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "database", Check: func(ctx context.Context) error {
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx)

	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503 when the check context is dead", rec.Code)
	}
}

func TestPingChecker_AdaptsPool(t *testing.T) {
	t.Parallel()

	up := PingChecker("database", &fakePinger{})
	if err := up.Check(context.Background()); err != nil {
		t.Errorf("healthy pinger: %v", err)
	}
	if up.Name != "database" {
		t.Errorf("checker name = %q, want database", up.Name)
	}

	down := PingChecker("database", &fakePinger{err: errors.New("dial tcp: connection refused")})
	if err := down.Check(context.Background()); err == nil {
		t.Error("unreachable pinger should fail the check")
	}
}

func TestRegister_MountsProbeRoutes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Checker{Name: "database", Check: databaseUp}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}

	// Probes are GET-only.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz status = %d, want 405", rec.Code)
	}
}
