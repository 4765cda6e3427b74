package threads

import (
	"context"
	"fmt"
	"sort"

	"github.com/xaenox/vailentin/internal/models"
)

const topTags = 5

// List returns up to limit threads of the chat, newest first.
func (m *Manager) List(ctx context.Context, chatID int64, limit int) ([]*models.Thread, error) {
	threads, err := m.store.ChatThreads(ctx, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads of chat %d: %w", chatID, err)
	}
	return threads, nil
}

// Stats counts a thread's messages and participants and ranks its tags.
// Bot replies count as messages but not as participants.
func (m *Manager) Stats(ctx context.Context, thread *models.Thread) (*models.ThreadStats, error) {
	msgs, err := m.store.RecentThreadMessages(ctx, thread.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("load messages of thread %s: %w", thread.ID, err)
	}

	stats := &models.ThreadStats{Thread: thread, MessageCount: len(msgs)}
	users := make(map[int64]struct{})
	tagCounts := make(map[string]int)
	for _, msg := range msgs {
		if !msg.FromBot {
			users[msg.SenderID] = struct{}{}
		}
		tags, err := m.store.MessageTags(ctx, msg.ID)
		if err != nil {
			return nil, fmt.Errorf("load tags of message %d: %w", msg.ID, err)
		}
		for _, tag := range tags {
			tagCounts[tag.Name]++
		}
	}
	stats.UserCount = len(users)
	if len(msgs) > 1 {
		stats.Duration = msgs[len(msgs)-1].CreatedAt.Sub(msgs[0].CreatedAt)
	}

	for name, count := range tagCounts {
		stats.TopTags = append(stats.TopTags, models.Count{Key: name, Count: count})
	}
	sort.Slice(stats.TopTags, func(i, j int) bool {
		if stats.TopTags[i].Count != stats.TopTags[j].Count {
			return stats.TopTags[i].Count > stats.TopTags[j].Count
		}
		return stats.TopTags[i].Key < stats.TopTags[j].Key
	})
	if len(stats.TopTags) > topTags {
		stats.TopTags = stats.TopTags[:topTags]
	}
	return stats, nil
}
