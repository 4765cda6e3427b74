// Package notify sends deduplicated alerts to the bot owner.
package notify

import (
	"context"
	"fmt"
	"math"

	"github.com/xaenox/vailentin/internal/metrics"
	"github.com/xaenox/vailentin/internal/models"
	"go.uber.org/zap"
)

const (
	KindStartup         = "startup"
	KindShutdown        = "shutdown"
	KindError           = "error"
	KindLowResponseRate = "low_response_rate"
	KindThresholdChange = "threshold_change"
	KindHighActivity    = "high_activity"
	KindDailySummary    = "daily_summary"
	KindStyleChange     = "style_change"
)

const globalSubject = "global"

type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	OwnerID           int64
	LowResponseRate   float64
	HighActivityCount int
	ThresholdChange   float64
}

// Notifier delivers operator alerts. Without an owner every call is a no-op.
type Notifier struct {
	sender  Sender
	dedup   *Deduplicator
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewNotifier(sender Sender, dedup *Deduplicator, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender:  sender,
		dedup:   dedup,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

func (n *Notifier) NotifyStartup(ctx context.Context) {
	n.send(ctx, KindStartup, "", "🟢 Bot started")
}

func (n *Notifier) NotifyShutdown(ctx context.Context) {
	n.send(ctx, KindShutdown, "", "🔴 Bot stopped")
}

// NotifyError alerts about a systemic failure. subject groups repeats, for
// example "db" or "llm".
func (n *Notifier) NotifyError(ctx context.Context, subject string, err error) {
	n.send(ctx, KindError, subject, fmt.Sprintf("⚠️ Error (%s): %v", subject, err))
}

// NotifyLowResponseRate reports a chat whose response rate fell below the
// configured floor. It reports whether the alert applied.
func (n *Notifier) NotifyLowResponseRate(ctx context.Context, chatID int64, rate float64) bool {
	if rate >= n.cfg.LowResponseRate {
		return false
	}
	n.send(ctx, KindLowResponseRate, chatSubject(chatID),
		fmt.Sprintf("📉 Low response rate in chat %d: %.0f%%", chatID, rate*100))
	return true
}

func (n *Notifier) NotifyThresholdChange(ctx context.Context, chatID int64, before, after float64) bool {
	if math.Abs(after-before) < n.cfg.ThresholdChange-1e-9 {
		return false
	}
	n.send(ctx, KindThresholdChange, chatSubject(chatID),
		fmt.Sprintf("🎚 Importance threshold in chat %d changed: %.2f → %.2f", chatID, before, after))
	return true
}

func (n *Notifier) NotifyHighActivity(ctx context.Context, chatID int64, lastHour int) bool {
	if n.cfg.HighActivityCount <= 0 || lastHour < n.cfg.HighActivityCount {
		return false
	}
	n.send(ctx, KindHighActivity, chatSubject(chatID),
		fmt.Sprintf("🔥 High activity in chat %d: %d messages in the last hour", chatID, lastHour))
	return true
}

// NotifyDailySummary reports the last day's totals across all chats.
func (n *Notifier) NotifyDailySummary(ctx context.Context, summary *models.DailySummary) {
	n.send(ctx, KindDailySummary, globalSubject, fmt.Sprintf(
		"📊 Daily summary\nMessages: %d\nReplies: %d (%.0f%%)\nActive chats: %d of %d",
		summary.Messages,
		summary.Responded,
		summary.ResponseRate*100,
		summary.ActiveChats,
		summary.TotalChats))
}

// NotifyStyleChange reports a chat switching to another chat type. It
// reports whether the type actually changed.
func (n *Notifier) NotifyStyleChange(ctx context.Context, chatID int64, before, after models.ChatType) bool {
	if before == after {
		return false
	}
	n.send(ctx, KindStyleChange, chatSubject(chatID),
		fmt.Sprintf("🎨 Chat %d style changed: %s → %s", chatID, before, after))
	return true
}

func (n *Notifier) send(ctx context.Context, kind, subject, text string) {
	if n.cfg.OwnerID == 0 || n.sender == nil {
		return
	}
	if n.dedup != nil && !n.dedup.ShouldNotify(kind, subject) {
		n.metrics.ObserveNotification(kind, false)
		n.logger.Debug("Notification suppressed",
			zap.String("kind", kind),
			zap.String("subject", subject))
		return
	}
	if err := n.sender.SendText(ctx, n.cfg.OwnerID, text); err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("kind", kind),
			zap.Error(err))
		n.metrics.ObserveNotification(kind, false)
		return
	}
	n.metrics.ObserveNotification(kind, true)
}

func chatSubject(chatID int64) string {
	return fmt.Sprintf("chat:%d", chatID)
}
