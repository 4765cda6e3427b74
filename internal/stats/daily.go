package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/xaenox/vailentin/internal/models"
)

// DailySummary totals the last 24 hours over every enabled chat. Bot
// replies are not counted as messages.
func (c *Cache) DailySummary(ctx context.Context) (*models.DailySummary, error) {
	chats, err := c.store.ListChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	summary := &models.DailySummary{Since: c.now().Add(-24 * time.Hour)}
	for _, chat := range chats {
		if chat.IsDisabled {
			continue
		}
		summary.TotalChats++
		msgs, err := c.store.MessagesSince(ctx, chat.ID, summary.Since)
		if err != nil {
			return nil, fmt.Errorf("load messages of chat %d: %w", chat.ID, err)
		}
		human := 0
		for _, msg := range msgs {
			if msg.FromBot {
				continue
			}
			human++
			if msg.WasResponded {
				summary.Responded++
			}
		}
		if human > 0 {
			summary.ActiveChats++
		}
		summary.Messages += human
	}
	if summary.Messages > 0 {
		summary.ResponseRate = float64(summary.Responded) / float64(summary.Messages)
	}
	return summary, nil
}
