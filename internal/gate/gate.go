// Package gate decides whether a message deserves a reply.
package gate

import (
	"context"
	"math/rand"
	"strings"

	"github.com/xaenox/vailentin/internal/llm"
	"github.com/xaenox/vailentin/internal/models"
	"go.uber.org/zap"
)

type Reason string

const (
	ReasonShutdown    Reason = "shutdown"
	ReasonDisabled    Reason = "disabled"
	ReasonSilent      Reason = "silent"
	ReasonAddressed   Reason = "addressed"
	ReasonUrgent      Reason = "urgent"
	ReasonImportant   Reason = "important"
	ReasonUnimportant Reason = "unimportant"
	ReasonLucky       Reason = "probability_hit"
	ReasonUnlucky     Reason = "probability_miss"
)

// DefaultUrgencyMarkers always trigger a reply when present in a message.
var DefaultUrgencyMarkers = []string{"urgent", "asap", "important", "срочно", "важно", "?"}

type Scorer interface {
	ScoreImportance(ctx context.Context, text string) (float64, error)
}

// Input is everything a decision depends on.
type Input struct {
	ShuttingDown bool
	Chat         *models.Chat
	Text         string
}

// Decision is the outcome of Decide. Score is set only when Scored is true.
type Decision struct {
	Respond bool
	Reason  Reason
	Score   float64
	Scored  bool
}

// Gate evaluates, in order: shutdown, disabled, silent, direct address,
// urgency markers, then the chat's mode.
type Gate struct {
	scorer  Scorer
	names   []string
	markers []string
	random  func() float64
	logger  *zap.Logger
}

type Option func(*Gate)

// WithRandom replaces the uniform [0,1) source used in probability mode.
func WithRandom(random func() float64) Option {
	return func(g *Gate) { g.random = random }
}

// WithUrgencyMarkers replaces DefaultUrgencyMarkers.
func WithUrgencyMarkers(markers []string) Option {
	return func(g *Gate) { g.markers = lowerAll(markers) }
}

// New builds a gate. names are the ways people address the bot directly.
func New(scorer Scorer, names []string, logger *zap.Logger, opts ...Option) *Gate {
	g := &Gate{
		scorer:  scorer,
		names:   lowerAll(names),
		markers: lowerAll(DefaultUrgencyMarkers),
		random:  rand.Float64,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Decide(ctx context.Context, in Input) Decision {
	switch {
	case in.ShuttingDown:
		return Decision{Reason: ReasonShutdown}
	case in.Chat.IsDisabled:
		return Decision{Reason: ReasonDisabled}
	case in.Chat.IsSilent:
		return Decision{Reason: ReasonSilent}
	}

	text := strings.ToLower(in.Text)
	if containsAny(text, g.names) {
		return Decision{Respond: true, Reason: ReasonAddressed}
	}
	if containsAny(text, g.markers) {
		return Decision{Respond: true, Reason: ReasonUrgent}
	}

	switch mode := in.Chat.Mode().(type) {
	case models.SmartMode:
		score, err := g.scorer.ScoreImportance(ctx, in.Text)
		if err != nil {
			g.logger.Warn("Importance scoring failed, using default",
				zap.Int64("chat_id", in.Chat.ID),
				zap.Error(err))
			score = llm.DefaultImportance
		}
		score = llm.Clamp01(score)
		d := Decision{Score: score, Scored: true, Reason: ReasonUnimportant}
		if score >= mode.Threshold {
			d.Respond = true
			d.Reason = ReasonImportant
		}
		return d
	case models.ProbabilityMode:
		if g.random() < mode.Probability {
			return Decision{Respond: true, Reason: ReasonLucky}
		}
		return Decision{Reason: ReasonUnlucky}
	}
	return Decision{Reason: ReasonUnlucky}
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
