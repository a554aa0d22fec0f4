package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "dianabot/pkg/logx"
)

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := ParseHHMM("23:15")
	if err != nil {
		t.Fatalf("ParseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}

	bad := []string{"24:00", "12:60", "12", "a:b", ""}
	for _, s := range bad {
		if _, _, err := ParseHHMM(s); err == nil {
			t.Fatalf("ParseHHMM(%q): expected error", s)
		}
	}
}

func TestAddBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	if _, err := s.AddInterval("x", time.Second, 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("AddInterval before Start must fail")
	}
}

func TestIntervalJobRuns(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop(context.Background())

	var runs atomic.Int32
	if _, err := s.AddInterval("tick", time.Second, 0, func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("interval job never ran")
	}
	if len(s.History()) == 0 {
		t.Fatal("history must record the run")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	s.Stop(ctx)
	s.Stop(ctx)
}
