package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xaenox/vailentin/internal/llm"
	"go.uber.org/zap"
)

type gptTag struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

type GPTResponse struct {
	Tags []gptTag `json:"tags"`
}

// GPTClassifier asks the language model for topical tags. Hashtags written
// by the author are always kept as manual tags; model tags are automatic.
type GPTClassifier struct {
	provider      llm.Provider
	minConfidence float64
	maxTags       int
	fallback      *SimpleClassifier
	logger        *zap.Logger
}

func NewGPTClassifier(provider llm.Provider, minConfidence float64, maxTags int, logger *zap.Logger) *GPTClassifier {
	return &GPTClassifier{
		provider:      provider,
		minConfidence: minConfidence,
		maxTags:       maxTags,
		fallback:      NewSimpleClassifier(minConfidence, maxTags),
		logger:        logger,
	}
}

func (c *GPTClassifier) Classify(ctx context.Context, content string) []Suggestion {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	prompt := fmt.Sprintf(`Analyze the following chat message and suggest short topical tags (max %d).
Each tag is a single lowercase word or snake_case phrase with a confidence between 0 and 1.

Return the response as a JSON object with this structure:
{
    "tags": [{"name": "tag1", "confidence": 0.9}, ...]
}

Message: %s`, c.maxTags, content)

	raw, err := c.provider.Complete(ctx, prompt)
	if err != nil {
		c.logger.Warn("Failed to get GPT tags", zap.Error(err))
		return c.fallback.Classify(ctx, content)
	}

	// Parse the structured response
	var gptResponse GPTResponse
	response := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "`"))
	response = strings.TrimPrefix(response, "json")
	if err := json.Unmarshal([]byte(response), &gptResponse); err != nil {
		c.logger.Warn("Failed to parse GPT tags",
			zap.Error(err),
			zap.String("response", raw))
		return c.fallback.Classify(ctx, content)
	}

	tags := Hashtags(content)
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		seen[t.Name] = struct{}{}
	}
	for _, t := range gptResponse.Tags {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(t.Name, "#")))
		if name == "" || t.Confidence < c.minConfidence {
			continue
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}
		tags = append(tags, Suggestion{Name: name, IsAuto: true, Confidence: llm.Clamp01(t.Confidence)})
	}

	// Ensure we don't exceed maxTags
	return limit(tags, c.maxTags)
}
