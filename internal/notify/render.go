package notify

import (
	"fmt"
	"strings"
)

// kindOrder fixes the digest section order: what happened, most materially
// important first.
var kindOrder = []Kind{
	KindPoints,
	KindMission,
	KindAchievement,
	KindLevel,
	KindHint,
	KindReaction,
	KindError,
	KindOther,
}

// Render assembles one digest text from a flushed batch. It is pure: the same
// event list and format always produce the same text.
//
// Events keep insertion order inside their kind group; groups follow
// kindOrder. Points events collapse into a single summed line when
// GroupSimilar is set.
func Render(events []Event, f Format) string {
	if len(events) == 0 {
		return ""
	}

	byKind := map[Kind][]Event{}
	for _, ev := range events {
		if ev.Payload == nil {
			continue
		}
		k := ev.Payload.Kind()
		byKind[k] = append(byKind[k], ev)
	}

	var lines []string
	for _, k := range kindOrder {
		group := byKind[k]
		if len(group) == 0 {
			continue
		}
		if k == KindPoints && f.GroupSimilar && len(group) > 1 {
			lines = append(lines, renderPointsSum(group, f))
			continue
		}
		for _, ev := range group {
			lines = append(lines, renderLine(ev, f))
		}
	}
	if len(lines) == 0 {
		return ""
	}

	if f.DianaPersonality && len(lines) > 1 {
		header := "Diana susurra..."
		if f.UseEmojis {
			header = "💋 " + header
		}
		lines = append([]string{header}, lines...)
	}
	return strings.Join(lines, "\n")
}

// renderLine formats one event. A malformed payload degrades to a generic
// line instead of breaking the whole digest.
func renderLine(ev Event, f Format) (line string) {
	defer func() {
		if r := recover(); r != nil {
			line = fallbackLine(f)
		}
	}()

	switch p := ev.Payload.(type) {
	case PointsPayload:
		line = renderPoints(p.Amount, p.Total, p.Source, f)
	case MissionPayload:
		line = emoji("🎯", f) + "Misión completada: " + bold(p.Name, f) +
			fmt.Sprintf(" (+%d puntos)", p.Points)
		if d := strings.TrimSpace(p.Description); d != "" {
			line += " — " + d
		}
	case AchievementPayload:
		line = emoji("🏆", f) + "Logro desbloqueado: " + bold(p.Name, f)
	case LevelPayload:
		line = emoji("🆙", f) + fmt.Sprintf("¡Nivel %d alcanzado!", p.Level)
		if t := strings.TrimSpace(p.Title); t != "" {
			line += " " + bold(t, f)
		}
	case HintPayload:
		line = emoji("💡", f) + p.Text
	case ReactionPayload:
		line = emoji("💞", f) + "Reacción " + p.Emoji + " registrada"
		if c := strings.TrimSpace(p.Context); c != "" {
			line += " en " + c
		}
	case ErrorPayload:
		line = emoji("⚠️", f) + p.Text
	case OtherPayload:
		line = emoji("📌", f) + p.Text
	default:
		line = fallbackLine(f)
	}
	return line
}

func renderPoints(amount, total int, source string, f Format) string {
	line := emoji("✨", f) + fmt.Sprintf("%+d puntos", amount)
	if s := strings.TrimSpace(source); s != "" {
		line += " (" + s + ")"
	}
	if f.ShowTotals && total > 0 {
		line += fmt.Sprintf(" · total: %d", total)
	}
	return line
}

// renderPointsSum collapses several points events into one line. The running
// total of the last event wins (it is the most recent ledger state).
func renderPointsSum(group []Event, f Format) string {
	sum := 0
	total := 0
	for _, ev := range group {
		p, ok := ev.Payload.(PointsPayload)
		if !ok {
			continue
		}
		sum += p.Amount
		total = p.Total
	}
	line := emoji("✨", f) + fmt.Sprintf("%+d puntos en total", sum)
	if f.ShowTotals && total > 0 {
		line += fmt.Sprintf(" · total: %d", total)
	}
	return line
}

func fallbackLine(f Format) string {
	return emoji("📌", f) + "Tienes una actualización"
}

func emoji(e string, f Format) string {
	if !f.UseEmojis {
		return ""
	}
	return e + " "
}

func bold(s string, f Format) string {
	if !f.UseMarkdown {
		return s
	}
	return "*" + s + "*"
}
