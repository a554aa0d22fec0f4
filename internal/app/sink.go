package app

import (
	"context"
	"sync/atomic"

	kit "dianabot/internal/transport"
)

// digestSink bridges the notification engine to the Telegram adapter. A
// user's digest goes to their private chat (chat id == user id). The parse
// mode follows the configured message format and may change on hot-reload.
type digestSink struct {
	adapter   kit.Adapter
	parseMode atomic.Value // string
}

func newDigestSink(adapter kit.Adapter, markdown bool) *digestSink {
	s := &digestSink{adapter: adapter}
	s.setMarkdown(markdown)
	return s
}

func (s *digestSink) setMarkdown(enabled bool) {
	mode := ""
	if enabled {
		mode = "Markdown"
	}
	s.parseMode.Store(mode)
}

func (s *digestSink) Deliver(ctx context.Context, userID int64, text string) error {
	mode, _ := s.parseMode.Load().(string)
	_, err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: userID}, text, &kit.SendOptions{
		ParseMode:      mode,
		DisablePreview: true,
	})
	return err
}
