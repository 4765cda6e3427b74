package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/vailentin/internal/metrics"
	"go.uber.org/zap"
)

const importancePrompt = `You are an assistant trained to evaluate the importance of a message in a group chat context. Return a single numeric value from 0.0 to 1.0 representing how important this message is for the user to respond to.

Scoring guidelines:
- 1.0: directly asks the user a question or requests an action, mentions the user explicitly, or relates to urgent decisions, deadlines, emergencies or personal matters.
- 0.8: asks for advice, help or expertise; important group coordination or planning; sensitive topics that need a thoughtful answer.
- 0.6: general question to the group, ongoing discussion relevant to the user, useful but not urgent information.
- 0.4: casual conversation, jokes, memes, greetings, emoji replies; the user is not expected to respond.
- 0.2: spam, automated replies, bots, system notifications, repetitive or off-topic content.

Return only the number, with no explanation.

Message to analyze: %s`

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float64
	Timeout        time.Duration
}

// OpenAIProvider implements Provider on top of the OpenAI API. Every call
// is bounded by the configured timeout.
type OpenAIProvider struct {
	client  *openai.Client
	cfg     OpenAIConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewOpenAIProvider(cfg OpenAIConfig, m *metrics.Metrics, logger *zap.Logger) *OpenAIProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.AdaEmbeddingV2)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return p.chat(ctx, "complete", "You are a helpful assistant.", prompt, p.cfg.MaxTokens, p.cfg.Temperature)
}

func (p *OpenAIProvider) ScoreImportance(ctx context.Context, text string) (float64, error) {
	raw, err := p.chat(ctx, "score",
		"You are a message importance analyzer. Respond only with a number between 0 and 1.",
		fmt.Sprintf(importancePrompt, text), 10, 0.3)
	if err != nil {
		return DefaultImportance, err
	}
	score := ParseImportance(raw)
	p.logger.Debug("Scored message importance", zap.Float64("score", score), zap.String("raw", raw))
	return score, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embed: empty text")
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.cfg.EmbeddingModel),
	})
	err = classify(ctx, err)
	p.metrics.ObserveLLM("embed", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embed: empty embedding returned")
	}

	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float64(v)
	}
	return vec, nil
}

func (p *OpenAIProvider) chat(ctx context.Context, op, system, prompt string, maxTokens int, temperature float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: p.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: system,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   maxTokens,
			Temperature: float32(temperature),
		},
	)
	err = classify(ctx, err)
	p.metrics.ObserveLLM(op, err, time.Since(start))
	if err != nil {
		p.logger.Warn("OpenAI request failed", zap.String("op", op), zap.Error(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices returned", op)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classify maps transport and API failures onto the package sentinels.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		switch {
		case code == "insufficient_quota" || apiErr.Type == "insufficient_quota":
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		case apiErr.HTTPStatusCode == 429:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == 429 {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient_quota"):
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	case strings.Contains(msg, "rate_limit") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
