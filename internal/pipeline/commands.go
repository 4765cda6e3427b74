package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/vailentin/internal/models"
	"github.com/xaenox/vailentin/internal/storage"
	"go.uber.org/zap"
)

// StartThread opens a new thread with topic and retires the current one.
func (p *Pipeline) StartThread(ctx context.Context, chatID int64, topic string) (*models.Thread, error) {
	if _, err := p.EnsureChat(ctx, chatID, ""); err != nil {
		return nil, p.fail(ctx, "load chat", chatID, err)
	}
	previous, err := p.Store.ActiveThreads(ctx, chatID)
	if err != nil {
		return nil, p.fail(ctx, "load threads", chatID, err)
	}
	thread, err := p.Threads.GetOrCreateActive(ctx, chatID, topic)
	if err != nil {
		return nil, p.fail(ctx, "start thread", chatID, err)
	}
	if p.Related != nil {
		for _, t := range previous {
			p.Related.Forget(t.ID)
		}
	}
	return thread, nil
}

// CloseThread closes the chat's active thread and returns it, or nil when
// nothing was open. The next message starts a default thread.
func (p *Pipeline) CloseThread(ctx context.Context, chatID int64) (*models.Thread, error) {
	closed, err := p.Threads.CloseActive(ctx, chatID)
	if err != nil {
		return nil, p.fail(ctx, "close thread", chatID, err)
	}
	if closed != nil && p.Related != nil {
		p.Related.Forget(closed.ID)
	}
	return closed, nil
}

// ThreadInfo returns the stats of the chat's active thread, or nil when no
// thread is open.
func (p *Pipeline) ThreadInfo(ctx context.Context, chatID int64) (*models.ThreadStats, error) {
	active, err := p.Store.ActiveThreads(ctx, chatID)
	if err != nil {
		return nil, p.fail(ctx, "load threads", chatID, err)
	}
	if len(active) == 0 {
		return nil, nil
	}
	stats, err := p.Threads.Stats(ctx, active[0])
	if err != nil {
		return nil, p.fail(ctx, "thread stats", chatID, err)
	}
	return stats, nil
}

// ListThreads returns the stats of up to limit recent threads, newest first.
func (p *Pipeline) ListThreads(ctx context.Context, chatID int64, limit int) ([]*models.ThreadStats, error) {
	threads, err := p.Threads.List(ctx, chatID, limit)
	if err != nil {
		return nil, p.fail(ctx, "list threads", chatID, err)
	}
	out := make([]*models.ThreadStats, 0, len(threads))
	for _, t := range threads {
		stats, err := p.Threads.Stats(ctx, t)
		if err != nil {
			return nil, p.fail(ctx, "thread stats", chatID, err)
		}
		out = append(out, stats)
	}
	return out, nil
}

var errTaggingDisabled = errors.New("tagging is not enabled")

// TagMessage attaches manual tags to the chat message the transport knows
// as transportID and returns the tags it now carries.
func (p *Pipeline) TagMessage(ctx context.Context, chatID int64, transportID int, names ...string) ([]string, error) {
	if p.Tags == nil {
		return nil, errTaggingDisabled
	}
	msg, err := p.findMessage(ctx, chatID, transportID)
	if err != nil {
		return nil, err
	}
	if err := p.Tags.AttachManual(ctx, msg.ID, names...); err != nil {
		return nil, p.fail(ctx, "tag message", chatID, err)
	}
	return p.messageTags(ctx, chatID, msg.ID)
}

// UntagMessage removes one tag and reports whether the message carried it.
func (p *Pipeline) UntagMessage(ctx context.Context, chatID int64, transportID int, name string) (bool, error) {
	if p.Tags == nil {
		return false, errTaggingDisabled
	}
	msg, err := p.findMessage(ctx, chatID, transportID)
	if err != nil {
		return false, err
	}
	removed, err := p.Tags.Detach(ctx, msg.ID, name)
	if err != nil {
		return false, p.fail(ctx, "untag message", chatID, err)
	}
	return removed, nil
}

// MessageTags lists the tags of the chat message known as transportID.
func (p *Pipeline) MessageTags(ctx context.Context, chatID int64, transportID int) ([]string, error) {
	if p.Tags == nil {
		return nil, errTaggingDisabled
	}
	msg, err := p.findMessage(ctx, chatID, transportID)
	if err != nil {
		return nil, err
	}
	return p.messageTags(ctx, chatID, msg.ID)
}

func (p *Pipeline) messageTags(ctx context.Context, chatID, messageID int64) ([]string, error) {
	names, err := p.Tags.Names(ctx, messageID)
	if err != nil {
		return nil, p.fail(ctx, "load message tags", chatID, err)
	}
	return names, nil
}

// findMessage returns storage.ErrNotFound unwrapped so callers can tell an
// unknown message from a failure.
func (p *Pipeline) findMessage(ctx context.Context, chatID int64, transportID int) (*models.Message, error) {
	msg, err := p.Store.MessageByTransportID(ctx, chatID, transportID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, p.fail(ctx, "find message", chatID, err)
	}
	return msg, nil
}

// SetThreshold overrides the chat's importance threshold. A later tuning
// pass may move it again; the last write wins.
func (p *Pipeline) SetThreshold(ctx context.Context, chatID int64, threshold float64) error {
	if !(threshold >= 0 && threshold <= 1) {
		return fmt.Errorf("threshold %.2f is outside [0, 1]", threshold)
	}
	if _, err := p.EnsureChat(ctx, chatID, ""); err != nil {
		return p.fail(ctx, "load chat", chatID, err)
	}
	if err := p.Store.SetImportanceThreshold(ctx, chatID, threshold); err != nil {
		return p.fail(ctx, "set threshold", chatID, err)
	}
	p.Metrics.SetThreshold(chatID, threshold)
	return nil
}

// UpdateChat applies change to the chat's settings and stores them. The
// read and the write happen under one row lock, so concurrent toggles do
// not cancel each other out.
func (p *Pipeline) UpdateChat(ctx context.Context, chatID int64, change func(*models.Chat)) (*models.Chat, error) {
	_, after, err := p.modifyChat(ctx, chatID, change)
	return after, err
}

func (p *Pipeline) modifyChat(ctx context.Context, chatID int64, change func(*models.Chat)) (*models.Chat, *models.Chat, error) {
	if _, err := p.EnsureChat(ctx, chatID, ""); err != nil {
		return nil, nil, p.fail(ctx, "load chat", chatID, err)
	}
	before, after, err := p.Store.ModifyChatSettings(ctx, chatID, change)
	if err != nil {
		return nil, nil, p.fail(ctx, "update chat", chatID, err)
	}
	return before, after, nil
}

// SetChatType switches the chat's reply style and alerts the operator when
// the type actually changed.
func (p *Pipeline) SetChatType(ctx context.Context, chatID int64, t models.ChatType) (*models.Chat, error) {
	before, after, err := p.modifyChat(ctx, chatID, func(c *models.Chat) { c.Type = t })
	if err != nil {
		return nil, err
	}
	if p.Alerts != nil {
		p.Alerts.NotifyStyleChange(ctx, chatID, before.Type, after.Type)
	}
	return after, nil
}

func (p *Pipeline) SetProbability(ctx context.Context, chatID int64, probability float64) (*models.Chat, error) {
	if !(probability >= 0 && probability <= 1) {
		return nil, fmt.Errorf("probability %.2f is outside [0, 1]", probability)
	}
	return p.UpdateChat(ctx, chatID, func(c *models.Chat) {
		c.SmartMode = false
		c.ResponseProbability = probability
	})
}

// ChatStats returns the chat's cached aggregates.
func (p *Pipeline) ChatStats(ctx context.Context, chatID int64) (*models.AggregateStats, error) {
	if p.Stats == nil {
		return nil, fmt.Errorf("stats are not enabled")
	}
	return p.Stats.Get(ctx, chatID)
}

// RelatedTopics returns the active thread of the chat and the threads
// linked to it, either earlier or by a fresh similarity check.
func (p *Pipeline) RelatedTopics(ctx context.Context, chatID int64) (*models.Thread, []*models.Thread, error) {
	active, err := p.Store.ActiveThreads(ctx, chatID)
	if err != nil {
		return nil, nil, p.fail(ctx, "load threads", chatID, err)
	}
	if len(active) == 0 {
		return nil, nil, nil
	}
	current := active[0]

	linked, err := p.Store.RelatedThreads(ctx, current.ID)
	if err != nil {
		return current, nil, p.fail(ctx, "load related threads", chatID, err)
	}
	if p.Related == nil {
		return current, linked, nil
	}

	fresh, err := p.Related.Link(ctx, current)
	if err != nil {
		p.logger.Warn("Similarity check failed, showing stored links only",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		return current, linked, nil
	}
	seen := make(map[string]struct{}, len(linked))
	for _, t := range linked {
		seen[t.ID.String()] = struct{}{}
	}
	for _, t := range fresh {
		if _, exists := seen[t.ID.String()]; !exists {
			linked = append(linked, t)
		}
	}
	return current, linked, nil
}
