package classifier

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// Suggestion is a tag proposed for a message. Manual suggestions come from
// text the author wrote (hashtags) and always carry confidence 1.0.
type Suggestion struct {
	Name       string
	IsAuto     bool
	Confidence float64
}

type Classifier interface {
	Classify(ctx context.Context, content string) []Suggestion
}

type SimpleClassifier struct {
	minConfidence float64
	maxTags       int
}

func NewSimpleClassifier(minConfidence float64, maxTags int) *SimpleClassifier {
	return &SimpleClassifier{
		minConfidence: minConfidence,
		maxTags:       maxTags,
	}
}

// Extract common categories based on keywords
var categories = map[string][]string{
	"work":      {"project", "meeting", "deadline", "task", "report", "release"},
	"personal":  {"family", "friend", "home", "birthday", "holiday"},
	"shopping":  {"buy", "purchase", "store", "shop", "price"},
	"education": {"study", "learn", "course", "book", "homework"},
	"travel":    {"trip", "flight", "hotel", "vacation", "booking"},
}

// Classify extracts hashtags as manual tags and keyword categories as
// automatic tags at the classifier's minimum confidence.
func (c *SimpleClassifier) Classify(ctx context.Context, content string) []Suggestion {
	result := Hashtags(content)
	seen := make(map[string]struct{}, len(result))
	for _, s := range result {
		seen[s.Name] = struct{}{}
	}

	lower := strings.ToLower(content)
	var auto []Suggestion
	for category, keywords := range categories {
		if _, exists := seen[category]; exists {
			continue
		}
		for _, keyword := range keywords {
			if strings.Contains(lower, keyword) {
				auto = append(auto, Suggestion{Name: category, IsAuto: true, Confidence: c.minConfidence})
				break
			}
		}
	}
	if strings.Contains(content, "?") {
		if _, exists := seen["question"]; !exists {
			auto = append(auto, Suggestion{Name: "question", IsAuto: true, Confidence: 1.0})
		}
	}
	sort.Slice(auto, func(i, j int) bool { return auto[i].Name < auto[j].Name })

	return limit(append(result, auto...), c.maxTags)
}

// Hashtags returns every distinct #tag in content, lowercased, in order of appearance.
func Hashtags(content string) []Suggestion {
	var result []Suggestion
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(content) {
		if !strings.HasPrefix(word, "#") {
			continue
		}
		tag := strings.ToLower(strings.TrimFunc(strings.TrimPrefix(word, "#"), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		}))
		if tag == "" {
			continue
		}
		if _, exists := seen[tag]; exists {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, Suggestion{Name: tag, Confidence: 1.0})
	}
	return result
}

// Limit the number of tags
func limit(tags []Suggestion, max int) []Suggestion {
	if max > 0 && len(tags) > max {
		return tags[:max]
	}
	return tags
}
