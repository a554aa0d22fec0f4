package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "dianabot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(disabled) = (%v, %v), want (nil, nil)", st, err)
	}
	st, err = Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(none) = (%v, %v), want (nil, nil)", st, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "bolt"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestDedupRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	until := time.Now().Add(time.Minute)
	if err := st.PutDedup(ctx, "1:abc", until); err != nil {
		t.Fatal(err)
	}

	got, ok, err := st.GetDedup(ctx, "1:abc")
	if err != nil || !ok {
		t.Fatalf("GetDedup = (_, %v, %v), want hit", ok, err)
	}
	if got.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until = %v, want %v", got, until)
	}

	_, ok, err = st.GetDedup(ctx, "1:missing")
	if err != nil || ok {
		t.Fatalf("GetDedup(miss) = (_, %v, %v), want miss", ok, err)
	}
}

func TestDedupSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "store")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	until := time.Now().Add(time.Hour)
	if err := st.PutDedup(ctx, "7:fp", until); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	_, ok, err := st.GetDedup(ctx, "7:fp")
	if err != nil || !ok {
		t.Fatalf("dedup entry lost across reopen (ok=%v err=%v)", ok, err)
	}
}

func TestPointsLedger(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	total, err := st.AddPoints(ctx, 1, 10)
	if err != nil || total != 10 {
		t.Fatalf("AddPoints = (%d, %v), want (10, nil)", total, err)
	}
	total, err = st.AddPoints(ctx, 1, -3)
	if err != nil || total != 7 {
		t.Fatalf("AddPoints = (%d, %v), want (7, nil)", total, err)
	}
	got, err := st.GetPoints(ctx, 1)
	if err != nil || got != 7 {
		t.Fatalf("GetPoints = (%d, %v), want (7, nil)", got, err)
	}
	got, err = st.GetPoints(ctx, 999)
	if err != nil || got != 0 {
		t.Fatalf("GetPoints(unknown) = (%d, %v), want (0, nil)", got, err)
	}
}

func TestMissionFirstCompletion(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	first, err := st.PutMission(ctx, 1, "m1")
	if err != nil || !first {
		t.Fatalf("PutMission = (%v, %v), want first", first, err)
	}
	first, err = st.PutMission(ctx, 1, "m1")
	if err != nil || first {
		t.Fatalf("repeat PutMission = (%v, %v), want not-first", first, err)
	}
	// Different user, same mission id: independent.
	first, err = st.PutMission(ctx, 2, "m1")
	if err != nil || !first {
		t.Fatalf("PutMission other user = (%v, %v), want first", first, err)
	}
}

func TestAchievementFirstUnlock(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	first, err := st.PutAchievement(ctx, 1, "a1")
	if err != nil || !first {
		t.Fatalf("PutAchievement = (%v, %v), want first", first, err)
	}
	first, err = st.PutAchievement(ctx, 1, "a1")
	if err != nil || first {
		t.Fatalf("repeat PutAchievement = (%v, %v), want not-first", first, err)
	}
}

func TestLedgerSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "store")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.AddPoints(ctx, 3, 42); err != nil {
		t.Fatal(err)
	}
	if _, err := st.PutMission(ctx, 3, "m9"); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	got, err := st.GetPoints(ctx, 3)
	if err != nil || got != 42 {
		t.Fatalf("points lost across reopen: (%d, %v)", got, err)
	}
	first, err := st.PutMission(ctx, 3, "m9")
	if err != nil || first {
		t.Fatalf("mission completion lost across reopen: (%v, %v)", first, err)
	}
}
