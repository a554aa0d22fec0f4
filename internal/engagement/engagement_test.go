package engagement

import (
	"context"
	"sync"
	"testing"

	"dianabot/internal/notify"
	logx "dianabot/pkg/logx"
)

// captureNotifier records submissions instead of delivering them.
type captureNotifier struct {
	mu   sync.Mutex
	subs []capturedSub
}

type capturedSub struct {
	userID int64
	kind   notify.Kind
	prio   notify.Priority
}

func (c *captureNotifier) Submit(_ context.Context, userID int64, p notify.Payload, prio notify.Priority) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, capturedSub{userID: userID, kind: p.Kind(), prio: prio})
	return nil
}

func (c *captureNotifier) kinds() []notify.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Kind, len(c.subs))
	for i, s := range c.subs {
		out[i] = s.kind
	}
	return out
}

func newTestService(n Notifier) *Service {
	return New(Config{PointsPerLevel: 100}, nil, n, logx.Nop())
}

func TestAwardPointsAccumulates(t *testing.T) {
	t.Parallel()
	n := &captureNotifier{}
	s := newTestService(n)
	ctx := context.Background()

	total, err := s.AwardPoints(ctx, 1, 30, "quiz")
	if err != nil || total != 30 {
		t.Fatalf("AwardPoints = (%d, %v), want (30, nil)", total, err)
	}
	total, err = s.AwardPoints(ctx, 1, 20, "quiz")
	if err != nil || total != 50 {
		t.Fatalf("AwardPoints = (%d, %v), want (50, nil)", total, err)
	}
	if got := s.Points(ctx, 1); got != 50 {
		t.Fatalf("Points = %d, want 50", got)
	}

	kinds := n.kinds()
	if len(kinds) != 2 || kinds[0] != notify.KindPoints || kinds[1] != notify.KindPoints {
		t.Fatalf("unexpected notifications: %v", kinds)
	}
}

func TestLevelUpNotification(t *testing.T) {
	t.Parallel()
	n := &captureNotifier{}
	s := newTestService(n)
	ctx := context.Background()

	if _, err := s.AwardPoints(ctx, 2, 90, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AwardPoints(ctx, 2, 20, ""); err != nil {
		t.Fatal(err)
	}

	kinds := n.kinds()
	// points, points, level
	var levels int
	for _, k := range kinds {
		if k == notify.KindLevel {
			levels++
		}
	}
	if levels != 1 {
		t.Fatalf("level notifications = %d, want 1 (kinds: %v)", levels, kinds)
	}
	if got := s.Level(ctx, 2); got != 2 {
		t.Fatalf("Level = %d, want 2", got)
	}
}

func TestNegativePointsNeverLevelUp(t *testing.T) {
	t.Parallel()
	n := &captureNotifier{}
	s := newTestService(n)
	ctx := context.Background()

	if _, err := s.AwardPoints(ctx, 3, -10, "penalización"); err != nil {
		t.Fatal(err)
	}
	for _, k := range n.kinds() {
		if k == notify.KindLevel {
			t.Fatal("a deduction must not trigger a level-up")
		}
	}
}

func TestCompleteMissionIdempotent(t *testing.T) {
	t.Parallel()
	n := &captureNotifier{}
	s := newTestService(n)
	ctx := context.Background()

	if err := s.CompleteMission(ctx, 4, "m1", "primer reto", 10); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteMission(ctx, 4, "m1", "primer reto", 10); err != nil {
		t.Fatal(err)
	}

	if got := s.Points(ctx, 4); got != 10 {
		t.Fatalf("Points = %d, want 10 (no double award)", got)
	}
	var missions int
	for _, k := range n.kinds() {
		if k == notify.KindMission {
			missions++
		}
	}
	if missions != 1 {
		t.Fatalf("mission notifications = %d, want 1", missions)
	}
}

func TestUnlockAchievementIdempotent(t *testing.T) {
	t.Parallel()
	n := &captureNotifier{}
	s := newTestService(n)
	ctx := context.Background()

	if err := s.UnlockAchievement(ctx, 5, "a1", "constante", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.UnlockAchievement(ctx, 5, "a1", "constante", ""); err != nil {
		t.Fatal(err)
	}

	var got int
	for _, k := range n.kinds() {
		if k == notify.KindAchievement {
			got++
		}
	}
	if got != 1 {
		t.Fatalf("achievement notifications = %d, want 1", got)
	}
}

func TestAwardZeroIsNoOp(t *testing.T) {
	t.Parallel()
	n := &captureNotifier{}
	s := newTestService(n)

	total, err := s.AwardPoints(context.Background(), 6, 0, "")
	if err != nil || total != 0 {
		t.Fatalf("AwardPoints(0) = (%d, %v)", total, err)
	}
	if len(n.kinds()) != 0 {
		t.Fatal("zero award must not notify")
	}
}
