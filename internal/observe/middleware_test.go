package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newAPIMux builds a mux shaped like the interview API, with every handler
// answering a fixed status, and wraps it in the telemetry middleware.
func newAPIMux(t *testing.T, m *Metrics, status int) http.Handler {
	t.Helper()
	h := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) }

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/flows", h)
	mux.HandleFunc("GET /v1/flows/{sessionID}", h)
	mux.HandleFunc("POST /v1/flows/{sessionID}/next", h)
	mux.HandleFunc("DELETE /v1/calls/{sessionID}", h)
	return Middleware(m)(mux)
}

// requestDuration collects the request-duration histogram datapoints.
func requestDuration(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voxprep.http.request.duration")
	if met == nil {
		t.Fatal("voxprep.http.request.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("request duration is not a histogram")
	}
	return hist.DataPoints
}

// attrValue pulls a string attribute off a histogram datapoint.
func attrValue(dp metricdata.HistogramDataPoint[float64], key string) string {
	for _, kv := range dp.Attributes.ToSlice() {
		if string(kv.Key) == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	m, reader := newTestMetrics(t)
	handler := newAPIMux(t, m, http.StatusOK)

	// Two sessions hit the same endpoint. The histogram must aggregate them
	// under the registered pattern, not split a series per session ID.
	for _, path := range []string{"/v1/flows/sess-a/next", "/v1/flows/sess-b/next"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", path, nil))
	}

	dps := requestDuration(t, reader)
	if len(dps) != 1 {
		t.Fatalf("datapoints = %d, want 1 series for both sessions", len(dps))
	}
	if dps[0].Count != 2 {
		t.Errorf("sample count = %d, want 2", dps[0].Count)
	}
	if got := attrValue(dps[0], "route"); got != "POST /v1/flows/{sessionID}/next" {
		t.Errorf("route attr = %q, want the registered pattern", got)
	}
	if got := attrValue(dps[0], "method"); got != "POST" {
		t.Errorf("method attr = %q, want POST", got)
	}
}

func TestMiddleware_UnmatchedRouteFallsBackToPath(t *testing.T) {
	m, reader := newTestMetrics(t)
	handler := newAPIMux(t, m, http.StatusOK)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))

	dps := requestDuration(t, reader)
	if len(dps) != 1 {
		t.Fatalf("datapoints = %d, want 1", len(dps))
	}
	if got := attrValue(dps[0], "route"); got != "GET /nope" {
		t.Errorf("route attr = %q, want the raw method and path", got)
	}
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	exp := installTracing(t)
	m, _ := newTestMetrics(t)
	handler := newAPIMux(t, m, http.StatusOK)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/flows/sess-1", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "GET /v1/flows/{sessionID}" {
		t.Errorf("span name = %q, want the route pattern", spans[0].Name)
	}
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	installTracing(t)
	m, _ := newTestMetrics(t)

	var capturedCID string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/analyze", func(w http.ResponseWriter, r *http.Request) {
		capturedCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(m)(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/analyze", nil))

	if len(capturedCID) != 32 {
		t.Fatalf("correlation ID = %q, want a 32-char trace ID", capturedCID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != capturedCID {
		t.Errorf("X-Correlation-ID header = %q, want %q", got, capturedCID)
	}
}

func TestMiddleware_CapturesErrorStatus(t *testing.T) {
	exp := installTracing(t)
	m, _ := newTestMetrics(t)
	handler := newAPIMux(t, m, http.StatusConflict)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/flows/sess-1/next", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("response status = %d, want 409", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatal("no span recorded")
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 409 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code=409")
	}
}

func TestMiddleware_JoinsUpstreamTrace(t *testing.T) {
	installTracing(t)
	m, _ := newTestMetrics(t)
	handler := newAPIMux(t, m, http.StatusOK)

	// A platform gateway in front of this service forwards its W3C trace
	// context; the interview span must join that trace, not start a new one.
	const upstream = "8a3c60f7d1e2b4a6c8e0f2a4b6d8e0f2"
	req := httptest.NewRequest("POST", "/v1/flows", nil)
	req.Header.Set("traceparent", "00-"+upstream+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != upstream {
		t.Errorf("X-Correlation-ID = %q, want the upstream trace ID %q", got, upstream)
	}
}
