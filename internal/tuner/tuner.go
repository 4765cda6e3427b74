// Package tuner nudges each chat's importance threshold toward a target
// response rate.
package tuner

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xaenox/vailentin/internal/metrics"
	"github.com/xaenox/vailentin/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Window      time.Duration
	TargetLow   float64
	TargetHigh  float64
	Step        float64
	Min         float64
	Max         float64
	Parallelism int
}

func DefaultConfig() Config {
	return Config{
		Window:      24 * time.Hour,
		TargetLow:   0.20,
		TargetHigh:  0.40,
		Step:        0.05,
		Min:         0.1,
		Max:         0.9,
		Parallelism: 4,
	}
}

// Alerter receives tuning observations worth telling the operator about.
type Alerter interface {
	NotifyLowResponseRate(ctx context.Context, chatID int64, rate float64) bool
	NotifyThresholdChange(ctx context.Context, chatID int64, before, after float64) bool
}

type Store interface {
	storage.ChatStorage
	ResponseWindow(ctx context.Context, chatID int64, since time.Time) (total, responded int, err error)
}

type Outcome string

const (
	NoSignal  Outcome = "no_signal"
	Unchanged Outcome = "unchanged"
	Raised    Outcome = "raised"
	Lowered   Outcome = "lowered"
	Reset     Outcome = "reset"
)

type Result struct {
	ChatID       int64
	Outcome      Outcome
	ResponseRate float64
	Before       float64
	After        float64
}

type Tuner struct {
	store   Store
	alerter Alerter
	cfg     Config
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

type Option func(*Tuner)

func WithClock(now func() time.Time) Option {
	return func(t *Tuner) { t.now = now }
}

func New(store Store, alerter Alerter, cfg Config, m *metrics.Metrics, logger *zap.Logger, opts ...Option) *Tuner {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	t := &Tuner{
		store:   store,
		alerter: alerter,
		cfg:     cfg,
		now:     time.Now,
		metrics: m,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Next returns the threshold after one pass at the given response rate.
// The result is rounded to hundredths and kept within [min, max]. A
// non-finite current value restarts from the middle of the range.
func (c Config) Next(current, rate float64) float64 {
	if !isFinite(current) {
		current = math.Round((c.Min+c.Max)/2*100) / 100
	}
	next := current
	switch {
	case rate < c.TargetLow:
		next = current - c.Step
	case rate > c.TargetHigh:
		next = current + c.Step
	}
	next = math.Round(next*100) / 100
	return math.Max(c.Min, math.Min(c.Max, next))
}

// Tune runs one pass for a chat. A chat with no messages in the window is
// left untouched.
func (t *Tuner) Tune(ctx context.Context, chatID int64) (Result, error) {
	res := Result{ChatID: chatID, Outcome: NoSignal}

	total, responded, err := t.store.ResponseWindow(ctx, chatID, t.now().Add(-t.cfg.Window))
	if err != nil {
		return res, fmt.Errorf("load response window for chat %d: %w", chatID, err)
	}
	if total == 0 {
		t.metrics.ObserveTuning(string(NoSignal))
		return res, nil
	}
	res.ResponseRate = float64(responded) / float64(total)

	res.Before, res.After, err = t.store.AdjustImportanceThreshold(ctx, chatID, func(current float64) float64 {
		return t.cfg.Next(current, res.ResponseRate)
	})
	if err != nil {
		return res, fmt.Errorf("adjust threshold for chat %d: %w", chatID, err)
	}

	switch {
	case !isFinite(res.Before):
		res.Outcome = Reset
	case res.After > res.Before:
		res.Outcome = Raised
	case res.After < res.Before:
		res.Outcome = Lowered
	default:
		res.Outcome = Unchanged
	}
	t.metrics.ObserveTuning(string(res.Outcome))
	t.metrics.SetThreshold(chatID, res.After)

	t.logger.Debug("Tuned importance threshold",
		zap.Int64("chat_id", chatID),
		zap.Float64("response_rate", res.ResponseRate),
		zap.Float64("before", res.Before),
		zap.Float64("after", res.After))

	if t.alerter != nil {
		t.alerter.NotifyLowResponseRate(ctx, chatID, res.ResponseRate)
		t.alerter.NotifyThresholdChange(ctx, chatID, res.Before, res.After)
	}
	return res, nil
}

// TuneAll tunes every smart-mode chat. Each chat commits on its own; a
// failing chat is logged and does not stop the others.
func (t *Tuner) TuneAll(ctx context.Context) ([]Result, error) {
	chats, err := t.store.ListChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	results := make([]Result, len(chats))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Parallelism)
	for i, chat := range chats {
		if !chat.SmartMode || chat.IsDisabled {
			results[i] = Result{ChatID: chat.ID, Outcome: Unchanged, Before: chat.ImportanceThreshold, After: chat.ImportanceThreshold}
			continue
		}
		i, chatID := i, chat.ID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := t.Tune(gctx, chatID)
			if err != nil {
				t.metrics.ObserveTuning("error")
				t.logger.Error("Threshold tuning failed",
					zap.Int64("chat_id", chatID),
					zap.Error(err))
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
