// Package summarizer keeps a rolling summary of each thread.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/vailentin/internal/llm"
	"github.com/xaenox/vailentin/internal/models"
	"github.com/xaenox/vailentin/internal/storage"
	"go.uber.org/zap"
)

const DefaultWindow = 10

// ErrProvider marks a refresh that was skipped because the language model
// failed. The stored summary is left as it was.
var ErrProvider = errors.New("summary provider failure")

type Summarizer struct {
	store    storage.Storage
	provider llm.Provider
	window   int
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Summarizer)

func WithClock(now func() time.Time) Option {
	return func(s *Summarizer) { s.now = now }
}

// New builds a summarizer that looks at the last window messages and
// recomputes at most once per window new messages.
func New(store storage.Storage, provider llm.Provider, window int, logger *zap.Logger, opts ...Option) *Summarizer {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &Summarizer{
		store:    store,
		provider: provider,
		window:   window,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh recomputes the thread's summary when it is missing or when the
// thread has grown by at least a full window since the last summary.
// It reports whether a new summary was written.
func (s *Summarizer) Refresh(ctx context.Context, thread *models.Thread) (bool, error) {
	count, err := s.store.CountThreadMessages(ctx, thread.ID)
	if err != nil {
		return false, fmt.Errorf("count thread messages: %w", err)
	}
	if count == 0 {
		return false, nil
	}

	existing, err := s.store.GetThreadContext(ctx, thread.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		existing = nil
	case err != nil:
		return false, fmt.Errorf("load thread context: %w", err)
	}
	if existing != nil && existing.Summary != "" && count-existing.MessageCount < s.window {
		return false, nil
	}

	msgs, err := s.store.RecentThreadMessages(ctx, thread.ID, s.window)
	if err != nil {
		return false, fmt.Errorf("load recent messages: %w", err)
	}
	if len(msgs) == 0 {
		return false, nil
	}

	summary, err := s.provider.Complete(ctx, Prompt(thread.Topic, msgs))
	if err != nil {
		s.logger.Warn("Keeping stale thread summary",
			zap.String("thread_id", thread.ID.String()),
			zap.Error(err))
		return false, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return false, fmt.Errorf("%w: empty summary", ErrProvider)
	}

	if err := s.store.UpsertContextSummary(ctx, thread.ID, summary, count); err != nil {
		return false, fmt.Errorf("save thread summary: %w", err)
	}
	if err := s.store.TouchSummary(ctx, thread.ChatID, s.now()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("Failed to stamp last summary time",
			zap.Int64("chat_id", thread.ChatID),
			zap.Error(err))
	}

	s.logger.Debug("Refreshed thread summary",
		zap.String("thread_id", thread.ID.String()),
		zap.Int("messages", count))
	return true, nil
}

// Prompt renders the summarization request for msgs in chronological order.
func Prompt(topic string, msgs []*models.Message) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation")
	if topic != "" {
		fmt.Fprintf(&b, " about %q", topic)
	}
	b.WriteString(":\n")
	for _, msg := range msgs {
		fmt.Fprintf(&b, "- %s\n", msg.Text)
	}
	b.WriteString("\nFormat:\nBrief summary in 1-2 sentences.")
	return b.String()
}
