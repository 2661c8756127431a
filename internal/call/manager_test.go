package call_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voxprep/voxprep/internal/call"
	"github.com/voxprep/voxprep/internal/flow"
	"github.com/voxprep/voxprep/internal/observe"
	"github.com/voxprep/voxprep/pkg/provider/llm"
	llmmock "github.com/voxprep/voxprep/pkg/provider/llm/mock"
	"github.com/voxprep/voxprep/pkg/voice"
	voicemock "github.com/voxprep/voxprep/pkg/voice/mock"
)

const initialSetJSON = `{
	"roleQuestion": "What does a backend engineer do day to day?",
	"stackQuestion": "How does Go schedule goroutines?",
	"generalQuestion": "How do you approach debugging a production incident?"
}`

const analysisJSON = `{
	"mvpKeywords": ["goroutines"],
	"confidence": 7,
	"technicalAccuracy": 7,
	"completeness": 7,
	"overallScore": 7,
	"suggestedNextDifficulty": 6,
	"reasoning": "solid answer"
}`

// fixture bundles one manager with its collaborators for inspection.
type fixture struct {
	manager   *call.Manager
	orch      *flow.Orchestrator
	llm       *llmmock.Provider
	transport *voicemock.Transport
	dialErr   error
	dials     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		llm:       &llmmock.Provider{},
		transport: voicemock.New(16),
	}
	f.orch = flow.NewOrchestrator(
		flow.NewMemStore(),
		flow.NewAnalyzer(f.llm, nil),
		flow.NewGenerator(f.llm, nil),
		nil,
	)
	f.manager = call.NewManager(f.orch, func(ctx context.Context) (voice.Transport, error) {
		f.dials++
		if f.dialErr != nil {
			return nil, f.dialErr
		}
		return f.transport, nil
	})
	return f
}

// initFlow creates a session whose pending question is the general opener.
func (f *fixture) initFlow(t *testing.T, sessionID string) {
	t.Helper()
	f.llm.CompleteResponses = append(f.llm.CompleteResponses, completion(initialSetJSON))
	_, _, err := f.orch.Initialize(context.Background(), flow.InitializeRequest{
		SessionID:      sessionID,
		Role:           "backend engineer",
		TechStack:      []string{"Go"},
		BaseDifficulty: 5,
		TotalQuestions: 5,
	})
	if err != nil {
		t.Fatalf("initialize flow: %v", err)
	}
}

func completion(content string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: content}
}

// waitUntil polls cond until it returns true or the deadline passes.
func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStart_UnknownSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	err := f.manager.Start(context.Background(), "ghost")
	if !errors.Is(err, flow.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.dials != 0 {
		t.Errorf("transport should not be dialed for unknown session, got %d dials", f.dials)
	}
}

func TestStart_SpeaksPendingQuestionAndBriefs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.initFlow(t, "s1")

	if err := f.manager.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.manager.Stop(context.Background(), "s1")

	if !f.manager.Active("s1") {
		t.Error("call should be active after Start")
	}
	if len(f.transport.SayCalls) != 1 {
		t.Fatalf("expected 1 Say call, got %d", len(f.transport.SayCalls))
	}
	if want := "How do you approach debugging a production incident?"; f.transport.SayCalls[0] != want {
		t.Errorf("spoken question: got %q, want %q", f.transport.SayCalls[0], want)
	}
	if len(f.transport.SystemCalls) != 1 {
		t.Fatalf("expected 1 system message, got %d", len(f.transport.SystemCalls))
	}
	if !strings.Contains(f.transport.SystemCalls[0], "backend engineer") {
		t.Errorf("briefing should mention the role, got %q", f.transport.SystemCalls[0])
	}
}

func TestStart_SecondCallRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.initFlow(t, "s1")

	if err := f.manager.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.manager.Stop(context.Background(), "s1")

	err := f.manager.Start(context.Background(), "s1")
	if !errors.Is(err, call.ErrCallActive) {
		t.Fatalf("expected ErrCallActive, got %v", err)
	}
}

func TestStart_DialFailureReleasesSlot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.initFlow(t, "s1")
	f.dialErr = errors.New("relay unreachable")

	if err := f.manager.Start(context.Background(), "s1"); err == nil {
		t.Fatal("expected dial error, got nil")
	}
	if f.manager.Active("s1") {
		t.Error("failed Start must not leave the call registered")
	}

	// The slot is free again once the dialer recovers.
	f.dialErr = nil
	if err := f.manager.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start after dial recovery: %v", err)
	}
	f.manager.Stop(context.Background(), "s1")
}

func TestUtterance_AdvancesTurnAndSpeaksFollowup(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.initFlow(t, "s1")

	if err := f.manager.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// One turn consumes two completions: answer analysis, then the follow-up.
	f.llm.CompleteResponses = append(f.llm.CompleteResponses,
		completion(analysisJSON),
		completion("How would you shard a Postgres table?"),
	)

	f.transport.Emit(voice.Event{
		Type:           voice.EventTranscript,
		Role:           voice.RoleUser,
		TranscriptType: voice.TranscriptFinal,
		Transcript:     "Goroutines are multiplexed onto OS threads by the runtime scheduler.",
	})

	waitUntil(t, func() bool {
		state, err := f.orch.Status(context.Background(), "s1")
		return err == nil && state.QuestionsAsked == 4
	}, "turn was not advanced")

	f.transport.Close()
	waitUntil(t, func() bool { return !f.manager.Active("s1") }, "call not cleaned up after hangup")

	if len(f.transport.SayCalls) != 2 {
		t.Fatalf("expected 2 Say calls, got %d: %v", len(f.transport.SayCalls), f.transport.SayCalls)
	}
	if want := "How would you shard a Postgres table?"; f.transport.SayCalls[1] != want {
		t.Errorf("follow-up: got %q, want %q", f.transport.SayCalls[1], want)
	}
}

func TestUtterance_FinalTurnSpeaksClosingRemark(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.llm.CompleteResponses = append(f.llm.CompleteResponses, completion(initialSetJSON))
	_, _, err := f.orch.Initialize(context.Background(), flow.InitializeRequest{
		SessionID:      "s1",
		Role:           "backend engineer",
		TechStack:      []string{"Go"},
		BaseDifficulty: 5,
		TotalQuestions: 4,
	})
	if err != nil {
		t.Fatalf("initialize flow: %v", err)
	}

	if err := f.manager.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.llm.CompleteResponses = append(f.llm.CompleteResponses,
		completion(analysisJSON),
		completion("Unused: the flow is exhausted after this turn."),
	)

	f.transport.Emit(voice.Event{
		Type:           voice.EventTranscript,
		Role:           voice.RoleUser,
		TranscriptType: voice.TranscriptFinal,
		Transcript:     "Channels synchronise goroutines by communicating.",
	})

	// The closing remark is spoken and the call retires itself.
	waitUntil(t, func() bool { return !f.manager.Active("s1") }, "call did not end after final turn")
	waitUntil(t, func() bool {
		state, err := f.orch.Status(context.Background(), "s1")
		return err == nil && !state.ShouldContinue()
	}, "flow should be exhausted")
}

// activeCallsGauge reads the current value of voxprep.active_calls.
func activeCallsGauge(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "voxprep.active_calls" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				return 0
			}
			return sum.DataPoints[0].Value
		}
	}
	return 0
}

func TestRemoteHangup_TearsDownCall(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := newFixture(t)
	f.initFlow(t, "s1")
	f.manager = call.NewManager(f.orch, func(ctx context.Context) (voice.Transport, error) {
		f.dials++
		return f.transport, nil
	}, call.WithMetrics(metrics))

	if err := f.manager.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := activeCallsGauge(t, reader); got != 1 {
		t.Fatalf("active calls after Start = %d, want 1", got)
	}

	// Far end hangs up: the relay closes its event channel without Stop ever
	// being called. The manager must run the same teardown Stop would.
	f.transport.Close()
	waitUntil(t, func() bool { return !f.manager.Active("s1") }, "call not released after hangup")
	waitUntil(t, func() bool { return activeCallsGauge(t, reader) == 0 }, "active calls gauge not decremented after hangup")

	if _, err := f.manager.Stop(context.Background(), "s1"); !errors.Is(err, call.ErrNoCall) {
		t.Errorf("Stop after hangup should return ErrNoCall, got %v", err)
	}

	// The slot is reusable: a fresh Start dials again.
	f.transport = voicemock.New(16)
	if err := f.manager.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start after hangup: %v", err)
	}
	if f.dials != 2 {
		t.Errorf("dials = %d, want 2", f.dials)
	}
	if got := activeCallsGauge(t, reader); got != 1 {
		t.Errorf("active calls after restart = %d, want 1", got)
	}
	if _, err := f.manager.Stop(context.Background(), "s1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := activeCallsGauge(t, reader); got != 0 {
		t.Errorf("active calls after Stop = %d, want 0", got)
	}
}

func TestStop_ReturnsStatsAndClosesTransport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.initFlow(t, "s1")

	if err := f.manager.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	stats, err := f.manager.Stop(context.Background(), "s1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("expected no interruptions recorded, got %d", stats.Total)
	}
	if f.manager.Active("s1") {
		t.Error("call should be gone after Stop")
	}

	if _, err := f.manager.Stop(context.Background(), "s1"); !errors.Is(err, call.ErrNoCall) {
		t.Errorf("second Stop should return ErrNoCall, got %v", err)
	}
}

func TestClose_StopsAllCalls(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.initFlow(t, "s1")

	if err := f.manager.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.manager.Close(context.Background())
	if f.manager.Active("s1") {
		t.Error("Close should stop every live call")
	}
}
