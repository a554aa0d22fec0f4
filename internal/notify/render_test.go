package notify

import (
	"strings"
	"testing"
	"time"
)

func fullFormat() Format {
	return Format{
		UseEmojis:        true,
		UseMarkdown:      true,
		ShowTotals:       true,
		GroupSimilar:     true,
		DianaPersonality: true,
	}
}

func ev(p Payload) Event {
	return Event{UserID: 1, Payload: p, CreatedAt: time.Now()}
}

func TestRenderEmptyBatch(t *testing.T) {
	t.Parallel()
	if got := Render(nil, fullFormat()); got != "" {
		t.Fatalf("Render(nil) = %q, want empty", got)
	}
}

func TestRenderSingleLineHasNoHeader(t *testing.T) {
	t.Parallel()
	got := Render([]Event{ev(HintPayload{Text: "hola"})}, fullFormat())
	if strings.Contains(got, "Diana susurra") {
		t.Fatalf("single-line digest must not carry the header: %q", got)
	}
	if !strings.Contains(got, "hola") {
		t.Fatalf("missing hint text: %q", got)
	}
}

func TestRenderMultiLineHeader(t *testing.T) {
	t.Parallel()
	got := Render([]Event{
		ev(PointsPayload{Amount: 5, Total: 20}),
		ev(MissionPayload{Name: "reto", Points: 5}),
	}, fullFormat())

	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3 (header + 2): %q", len(lines), got)
	}
	if !strings.Contains(lines[0], "Diana susurra") {
		t.Fatalf("first line must be the header: %q", lines[0])
	}
}

func TestRenderKindOrderIsFixed(t *testing.T) {
	t.Parallel()
	f := fullFormat()
	f.DianaPersonality = false

	// Submitted out of order on purpose.
	got := Render([]Event{
		ev(OtherPayload{Tag: "x", Text: "otra cosa"}),
		ev(LevelPayload{Level: 2}),
		ev(PointsPayload{Amount: 5, Total: 5}),
		ev(AchievementPayload{Name: "constante"}),
	}, f)

	idx := func(sub string) int { return strings.Index(got, sub) }
	if !(idx("puntos") < idx("Logro") && idx("Logro") < idx("Nivel") && idx("Nivel") < idx("otra cosa")) {
		t.Fatalf("kinds out of order: %q", got)
	}
}

func TestRenderGroupsPoints(t *testing.T) {
	t.Parallel()
	f := fullFormat()
	f.DianaPersonality = false

	got := Render([]Event{
		ev(PointsPayload{Amount: 5, Total: 5, Source: "a"}),
		ev(PointsPayload{Amount: 3, Total: 8, Source: "b"}),
	}, f)

	if !strings.Contains(got, "+8 puntos en total") {
		t.Fatalf("points not summed: %q", got)
	}
	if !strings.Contains(got, "total: 8") {
		t.Fatalf("running total missing: %q", got)
	}
	if strings.Count(got, "\n") != 0 {
		t.Fatalf("grouped points must collapse into one line: %q", got)
	}
}

func TestRenderUngroupedPointsKeepLines(t *testing.T) {
	t.Parallel()
	f := fullFormat()
	f.GroupSimilar = false
	f.DianaPersonality = false

	got := Render([]Event{
		ev(PointsPayload{Amount: 5, Total: 5}),
		ev(PointsPayload{Amount: 3, Total: 8}),
	}, f)
	if got == "" || strings.Count(got, "\n") != 1 {
		t.Fatalf("want two separate lines: %q", got)
	}
}

func TestRenderFormatFlags(t *testing.T) {
	t.Parallel()
	plain := Format{}
	got := Render([]Event{ev(MissionPayload{Name: "reto", Points: 5})}, plain)
	if strings.Contains(got, "🎯") {
		t.Fatalf("emojis must be off: %q", got)
	}
	if strings.Contains(got, "*") {
		t.Fatalf("markdown must be off: %q", got)
	}

	rich := fullFormat()
	got = Render([]Event{ev(MissionPayload{Name: "reto", Points: 5})}, rich)
	if !strings.Contains(got, "🎯") || !strings.Contains(got, "*reto*") {
		t.Fatalf("emojis/markdown missing: %q", got)
	}
}

func TestRenderShowTotalsOff(t *testing.T) {
	t.Parallel()
	f := fullFormat()
	f.ShowTotals = false
	got := Render([]Event{ev(PointsPayload{Amount: 5, Total: 50})}, f)
	if strings.Contains(got, "total") {
		t.Fatalf("totals must be hidden: %q", got)
	}
}

func TestRenderIsPure(t *testing.T) {
	t.Parallel()
	batch := []Event{
		ev(PointsPayload{Amount: 5, Total: 5}),
		ev(HintPayload{Text: "pista"}),
	}
	f := fullFormat()
	a := Render(batch, f)
	b := Render(batch, f)
	if a != b {
		t.Fatalf("Render is not deterministic:\n%q\n%q", a, b)
	}
}
