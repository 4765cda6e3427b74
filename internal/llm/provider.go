// Package llm is the language-model boundary: chat completion, text
// embeddings and per-message importance scoring.
package llm

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
)

var (
	ErrRateLimited   = errors.New("llm rate limit reached")
	ErrQuotaExceeded = errors.New("llm quota exceeded")
	ErrTimeout       = errors.New("llm request timed out")
)

// DefaultImportance is used whenever a score cannot be obtained or parsed.
const DefaultImportance = 0.5

const (
	QuotaPlaceholder     = "⚠️ OpenAI API quota exceeded. Please check your billing details."
	RateLimitPlaceholder = "⚠️ OpenAI API rate limit reached. Please try again later."
)

type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Embed(ctx context.Context, text string) ([]float64, error)
	// ScoreImportance returns a value in [0,1]. Unparsable model output
	// yields DefaultImportance without an error.
	ScoreImportance(ctx context.Context, text string) (float64, error)
}

// Reply completes prompt for a user-visible answer. Rate-limit and quota
// failures become placeholder text instead of errors.
func Reply(ctx context.Context, p Provider, prompt string) (string, error) {
	text, err := p.Complete(ctx, prompt)
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return QuotaPlaceholder, nil
	case errors.Is(err, ErrRateLimited):
		return RateLimitPlaceholder, nil
	}
	return text, err
}

// ParseImportance extracts a score from raw model output and clamps it to [0,1].
func ParseImportance(raw string) float64 {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return DefaultImportance
	}
	token := strings.TrimRight(strings.TrimLeft(fields[0], "*`"), "*`.,;:")
	score, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsNaN(score) {
		return DefaultImportance
	}
	return Clamp01(score)
}

func Clamp01(v float64) float64 {
	if !(v >= 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
