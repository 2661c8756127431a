// Package interrupt implements turn-taking for live interview calls: a
// per-call state machine that detects candidate barge-in while the assistant
// is speaking, cancels assistant speech through the voice transport, and
// keeps latency statistics on how quickly cancellations happen.
package interrupt

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// DefaultMaxDelay is the target ceiling for barge-in reaction time. An
// average cancellation slower than this fails the [Recorder.Report] verdict.
const DefaultMaxDelay = 200 * time.Millisecond

// Recorder accumulates barge-in latency statistics for one call.
// It is safe for concurrent use. The zero value is NOT ready; use
// [NewRecorder].
type Recorder struct {
	mu        sync.Mutex
	threshold time.Duration

	delays  []time.Duration
	average time.Duration
	fastest time.Duration
	slowest time.Duration

	successfulCancellations int
	failedCancellations     int
	failureReasons          []string
}

// NewRecorder returns a Recorder with the given verdict threshold.
// A non-positive threshold falls back to [DefaultMaxDelay].
func NewRecorder(threshold time.Duration) *Recorder {
	if threshold <= 0 {
		threshold = DefaultMaxDelay
	}
	r := &Recorder{threshold: threshold}
	r.resetLocked()
	return r
}

// resetLocked restores the empty-statistics state. Callers hold r.mu, except
// during construction.
func (r *Recorder) resetLocked() {
	r.delays = nil
	r.average = 0
	r.fastest = time.Duration(math.MaxInt64)
	r.slowest = 0
	r.successfulCancellations = 0
	r.failedCancellations = 0
	r.failureReasons = nil
}

// Record appends one barge-in delay and recomputes the running aggregates.
func (r *Recorder) Record(delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.delays = append(r.delays, delay)

	var total time.Duration
	for _, d := range r.delays {
		total += d
	}
	r.average = total / time.Duration(len(r.delays))
	if delay < r.fastest {
		r.fastest = delay
	}
	if delay > r.slowest {
		r.slowest = delay
	}
}

// RecordSuccessfulCancellation counts one speech cancellation that the
// transport acknowledged. It does not affect delay statistics.
func (r *Recorder) RecordSuccessfulCancellation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successfulCancellations++
}

// RecordFailedCancellation counts one cancellation the transport rejected or
// lost. reason may be empty.
func (r *Recorder) RecordFailedCancellation(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedCancellations++
	if reason != "" {
		r.failureReasons = append(r.failureReasons, reason)
	}
}

// Reset clears all statistics back to their initial values.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

// Stats is a point-in-time snapshot of the recorder.
type Stats struct {
	// Total is the number of recorded barge-ins.
	Total int

	// Average, Fastest, and Slowest summarise recorded delays. With no
	// recorded delays, Average and Slowest are 0 and Fastest is the maximum
	// representable duration.
	Average time.Duration
	Fastest time.Duration
	Slowest time.Duration

	// SuccessfulCancellations and FailedCancellations count transport
	// cancellation outcomes.
	SuccessfulCancellations int
	FailedCancellations     int

	// SuccessRate is SuccessfulCancellations over Total in percent, 0 when
	// nothing was recorded.
	SuccessRate float64
}

// Snapshot returns the current statistics.
func (r *Recorder) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		Total:                   len(r.delays),
		Average:                 r.average,
		Fastest:                 r.fastest,
		Slowest:                 r.slowest,
		SuccessfulCancellations: r.successfulCancellations,
		FailedCancellations:     r.failedCancellations,
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.SuccessfulCancellations) / float64(s.Total) * 100
	}
	return s
}

// Report renders the statistics as a human-readable block, with delays in
// whole milliseconds (rounded to nearest) and a verdict comparing the
// average against the configured threshold.
func (r *Recorder) Report() string {
	s := r.Snapshot()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Interruption report\n")
	fmt.Fprintf(&sb, "Total interruptions: %d\n", s.Total)
	if s.Total > 0 {
		fmt.Fprintf(&sb, "Average delay: %dms\n", roundMillis(s.Average))
		fmt.Fprintf(&sb, "Fastest delay: %dms\n", roundMillis(s.Fastest))
		fmt.Fprintf(&sb, "Slowest delay: %dms\n", roundMillis(s.Slowest))
	}
	fmt.Fprintf(&sb, "Cancellation success rate: %.0f%%\n", s.SuccessRate)

	verdict := "PASS"
	if s.Total > 0 && s.Average > r.threshold {
		verdict = "FAIL"
	}
	fmt.Fprintf(&sb, "Verdict: %s (threshold %dms)\n", verdict, roundMillis(r.threshold))
	return sb.String()
}

// roundMillis converts d to integer milliseconds, rounding to nearest.
func roundMillis(d time.Duration) int64 {
	return int64(d.Round(time.Millisecond) / time.Millisecond)
}
