package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	logx "dianabot/pkg/logx"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Delays = Delays{
		Low:    40 * time.Millisecond,
		Medium: 25 * time.Millisecond,
		High:   10 * time.Millisecond,
	}
	cfg.DuplicateWindow = 200 * time.Millisecond
	cfg.RatePerSec = 1000
	cfg.Format.UseMarkdown = false
	return cfg
}

// recordingSink collects delivered digests.
type recordingSink struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (s *recordingSink) Deliver(_ context.Context, _ int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.texts = append(s.texts, text)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

func (s *recordingSink) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.texts) == 0 {
		return ""
	}
	return s.texts[len(s.texts)-1]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSubmitAggregatesIntoSingleDigest(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	s := New(testConfig(), sink, logx.Nop(), nil, nil)

	ctx := context.Background()
	if err := s.Submit(ctx, 1, PointsPayload{Amount: 5, Total: 5}, PriorityLow); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(ctx, 1, MissionPayload{Name: "primer paso", Points: 10}, PriorityLow); err != nil {
		t.Fatal(err)
	}
	if got := s.PendingCount(1); got != 2 {
		t.Fatalf("PendingCount = %d, want 2", got)
	}

	waitFor(t, time.Second, func() bool { return sink.count() == 1 })
	text := sink.last()
	if !strings.Contains(text, "puntos") || !strings.Contains(text, "primer paso") {
		t.Fatalf("digest missing content: %q", text)
	}
	if got := s.PendingCount(1); got != 0 {
		t.Fatalf("PendingCount after flush = %d, want 0", got)
	}
}

func TestDuplicateWindowSuppressesRepeats(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	s := New(testConfig(), sink, logx.Nop(), nil, nil)

	ctx := context.Background()
	p := AchievementPayload{Name: "madrugadora"}
	if err := s.Submit(ctx, 2, p, PriorityLow); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(ctx, 2, p, PriorityLow); err != nil {
		t.Fatal(err)
	}
	if got := s.PendingCount(2); got != 1 {
		t.Fatalf("PendingCount = %d, want 1 (duplicate suppressed)", got)
	}

	waitFor(t, time.Second, func() bool { return sink.count() == 1 })
	if n := strings.Count(sink.last(), "madrugadora"); n != 1 {
		t.Fatalf("achievement appears %d times, want 1", n)
	}
}

func TestDuplicateWindowExpiry(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.DuplicateWindow = 30 * time.Millisecond
	sink := &recordingSink{}
	s := New(cfg, sink, logx.Nop(), nil, nil)

	ctx := context.Background()
	p := HintPayload{Text: "mira el canal"}
	if err := s.Submit(ctx, 3, p, PriorityHigh); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return sink.count() == 1 })

	time.Sleep(50 * time.Millisecond)
	if err := s.Submit(ctx, 3, p, PriorityHigh); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return sink.count() == 2 })
}

func TestHigherPriorityPullsFlushEarlier(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Delays = Delays{Low: 300 * time.Millisecond, Medium: 150 * time.Millisecond, High: 15 * time.Millisecond}
	sink := &recordingSink{}
	s := New(cfg, sink, logx.Nop(), nil, nil)

	ctx := context.Background()
	start := time.Now()
	if err := s.Submit(ctx, 4, PointsPayload{Amount: 1}, PriorityLow); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(ctx, 4, ErrorPayload{Text: "algo falló"}, PriorityHigh); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool { return sink.count() == 1 })
	if took := time.Since(start); took > 150*time.Millisecond {
		t.Fatalf("flush took %v, expected the high-priority pull-in (~15ms)", took)
	}
	text := sink.last()
	if !strings.Contains(text, "puntos") || !strings.Contains(text, "algo falló") {
		t.Fatalf("digest should contain both events: %q", text)
	}
}

func TestLowerPriorityNeverPushesFlushLater(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Delays = Delays{Low: 400 * time.Millisecond, Medium: 200 * time.Millisecond, High: 20 * time.Millisecond}
	sink := &recordingSink{}
	s := New(cfg, sink, logx.Nop(), nil, nil)

	ctx := context.Background()
	start := time.Now()
	if err := s.Submit(ctx, 5, ErrorPayload{Text: "rápido"}, PriorityHigh); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(ctx, 5, PointsPayload{Amount: 1}, PriorityLow); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool { return sink.count() == 1 })
	if took := time.Since(start); took > 150*time.Millisecond {
		t.Fatalf("flush took %v; the earlier deadline must win", took)
	}
}

func TestCriticalFlushesSynchronously(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	s := New(testConfig(), sink, logx.Nop(), nil, nil)

	ctx := context.Background()
	if err := s.Submit(ctx, 6, PointsPayload{Amount: 3}, PriorityLow); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(ctx, 6, ErrorPayload{Text: "urgente"}, PriorityCritical); err != nil {
		t.Fatal(err)
	}

	// Critical submits deliver before returning.
	if sink.count() != 1 {
		t.Fatalf("sink calls = %d, want 1 (synchronous)", sink.count())
	}
	text := sink.last()
	if !strings.Contains(text, "urgente") || !strings.Contains(text, "puntos") {
		t.Fatalf("critical flush must carry pending events too: %q", text)
	}
	if got := s.PendingCount(6); got != 0 {
		t.Fatalf("PendingCount = %d, want 0", got)
	}
}

func TestQueueOverflowForcesFlush(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxQueueSize = 3
	cfg.Delays = Delays{Low: time.Hour, Medium: time.Hour, High: time.Hour}
	sink := &recordingSink{}
	s := New(cfg, sink, logx.Nop(), nil, nil)

	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		p := HintPayload{Text: "pista " + strings.Repeat("a", i)}
		if err := s.Submit(ctx, 7, p, PriorityLow); err != nil {
			t.Fatal(err)
		}
	}

	if sink.count() != 1 {
		t.Fatalf("sink calls = %d, want 1 (overflow flush)", sink.count())
	}
	if got := s.PendingCount(7); got != 0 {
		t.Fatalf("PendingCount = %d, want 0", got)
	}
}

func TestAggregationDisabledDeliversImmediately(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Aggregation = false
	sink := &recordingSink{}
	s := New(cfg, sink, logx.Nop(), nil, nil)

	ctx := context.Background()
	if err := s.Submit(ctx, 8, PointsPayload{Amount: 2}, PriorityLow); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 1 {
		t.Fatalf("sink calls = %d, want 1 (aggregation off)", sink.count())
	}
}

func TestFlushWithNothingPendingIsNoOp(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	s := New(testConfig(), sink, logx.Nop(), nil, nil)

	s.Flush(context.Background(), 9)
	if sink.count() != 0 {
		t.Fatalf("sink calls = %d, want 0", sink.count())
	}
}

func TestCancelDiscardsPending(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Delays = Delays{Low: 30 * time.Millisecond, Medium: 30 * time.Millisecond, High: 30 * time.Millisecond}
	sink := &recordingSink{}
	s := New(cfg, sink, logx.Nop(), nil, nil)

	ctx := context.Background()
	if err := s.Submit(ctx, 10, PointsPayload{Amount: 1}, PriorityLow); err != nil {
		t.Fatal(err)
	}
	s.Cancel(10)
	if got := s.PendingCount(10); got != 0 {
		t.Fatalf("PendingCount = %d, want 0", got)
	}

	// The armed timer must not deliver after Cancel.
	time.Sleep(80 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatalf("sink calls = %d, want 0 after cancel", sink.count())
	}
}

func TestSinkFailureDropsBatch(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{err: errors.New("telegram down")}
	s := New(testConfig(), sink, logx.Nop(), nil, nil)

	ctx := context.Background()
	if err := s.Submit(ctx, 11, ErrorPayload{Text: "se pierde"}, PriorityCritical); err != nil {
		t.Fatal(err)
	}
	// At-most-once: batch is gone, nothing requeued.
	if got := s.PendingCount(11); got != 0 {
		t.Fatalf("PendingCount = %d, want 0 (dropped)", got)
	}

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatalf("sink calls = %d, want 0 (no redelivery)", sink.count())
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), &recordingSink{}, logx.Nop(), nil, nil)
	ctx := context.Background()

	if err := s.Submit(ctx, 12, nil, PriorityLow); !errors.Is(err, ErrNilPayload) {
		t.Fatalf("nil payload: err = %v, want ErrNilPayload", err)
	}
	if err := s.Submit(ctx, 12, PointsPayload{Amount: 1}, Priority(9)); !errors.Is(err, ErrInvalidPriority) {
		t.Fatalf("bad priority: err = %v, want ErrInvalidPriority", err)
	}
	if err := s.Submit(ctx, 12, PointsPayload{Amount: 0}, PriorityLow); err == nil {
		t.Fatal("zero-amount points payload must be rejected")
	}
	if err := s.Submit(ctx, 12, MissionPayload{}, PriorityLow); err == nil {
		t.Fatal("empty mission name must be rejected")
	}
}

func TestSweepExpiredReleasesUserState(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.DuplicateWindow = 10 * time.Millisecond
	sink := &recordingSink{}
	s := New(cfg, sink, logx.Nop(), nil, nil)

	ctx := context.Background()
	if err := s.Submit(ctx, 13, HintPayload{Text: "efímera"}, PriorityCritical); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if removed := s.SweepExpired(); removed != 1 {
		t.Fatalf("SweepExpired = %d, want 1", removed)
	}
}

func TestApplySwapsConfigLive(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	s := New(testConfig(), sink, logx.Nop(), nil, nil)

	cfg := s.Config()
	cfg.Aggregation = false
	s.Apply(cfg)

	if err := s.Submit(context.Background(), 14, PointsPayload{Amount: 1}, PriorityLow); err != nil {
		t.Fatal(err)
	}
	if sink.count() != 1 {
		t.Fatalf("sink calls = %d, want 1 after disabling aggregation", sink.count())
	}
}
