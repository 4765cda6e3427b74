// Package tags creates tags by name and attaches them to messages with
// provenance.
package tags

import (
	"context"
	"fmt"
	"strings"

	"github.com/xaenox/vailentin/internal/classifier"
	"github.com/xaenox/vailentin/internal/llm"
	"github.com/xaenox/vailentin/internal/models"
	"github.com/xaenox/vailentin/internal/storage"
	"go.uber.org/zap"
)

const maxTagLength = 64

type Store struct {
	storage storage.TagStorage
	logger  *zap.Logger
}

func NewStore(st storage.TagStorage, logger *zap.Logger) *Store {
	return &Store{storage: st, logger: logger}
}

// Normalize lowercases a tag name and strips a leading '#'.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "#")))
	name = strings.Join(strings.Fields(name), "_")
	if r := []rune(name); len(r) > maxTagLength {
		name = string(r[:maxTagLength])
	}
	return name
}

// GetOrCreate returns the tag for each distinct name, creating missing ones.
func (s *Store) GetOrCreate(ctx context.Context, names []string) ([]*models.Tag, error) {
	seen := make(map[string]struct{}, len(names))
	tags := make([]*models.Tag, 0, len(names))
	for _, raw := range names {
		name := Normalize(raw)
		if name == "" {
			continue
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}

		tag, err := s.storage.GetOrCreateTag(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("get or create tag %q: %w", name, err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// AttachManual tags a message on behalf of a person; confidence is always 1.0.
func (s *Store) AttachManual(ctx context.Context, messageID int64, names ...string) error {
	tags, err := s.GetOrCreate(ctx, names)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if err := s.attach(ctx, messageID, tag, false, 1.0); err != nil {
			return err
		}
	}
	return nil
}

// AttachAuto tags a message with a machine suggestion.
func (s *Store) AttachAuto(ctx context.Context, messageID int64, name string, confidence float64) error {
	tags, err := s.GetOrCreate(ctx, []string{name})
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if err := s.attach(ctx, messageID, tag, true, llm.Clamp01(confidence)); err != nil {
			return err
		}
	}
	return nil
}

// Detach removes a tag from a message. It reports false when the message
// did not carry it.
func (s *Store) Detach(ctx context.Context, messageID int64, name string) (bool, error) {
	name = Normalize(name)
	if name == "" {
		return false, nil
	}
	removed, err := s.storage.DetachTag(ctx, messageID, name)
	if err != nil {
		return false, fmt.Errorf("detach tag %q from message %d: %w", name, messageID, err)
	}
	return removed, nil
}

// Names returns the names of the tags a message carries, sorted.
func (s *Store) Names(ctx context.Context, messageID int64) ([]string, error) {
	tags, err := s.storage.MessageTags(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("load tags of message %d: %w", messageID, err)
	}
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	return names, nil
}

// Apply attaches every classifier suggestion, keeping its provenance.
// It returns the names that were attached.
func (s *Store) Apply(ctx context.Context, messageID int64, suggestions []classifier.Suggestion) ([]string, error) {
	var applied []string
	for _, sg := range suggestions {
		name := Normalize(sg.Name)
		if name == "" {
			continue
		}
		var err error
		if sg.IsAuto {
			err = s.AttachAuto(ctx, messageID, sg.Name, sg.Confidence)
		} else {
			err = s.AttachManual(ctx, messageID, sg.Name)
		}
		if err != nil {
			return applied, err
		}
		applied = append(applied, name)
	}
	if len(applied) > 0 {
		s.logger.Debug("Tagged message",
			zap.Int64("message_id", messageID),
			zap.Strings("tags", applied))
	}
	return applied, nil
}

func (s *Store) attach(ctx context.Context, messageID int64, tag *models.Tag, auto bool, confidence float64) error {
	err := s.storage.AttachTag(ctx, &models.MessageTag{
		MessageID:  messageID,
		TagID:      tag.ID,
		IsAuto:     auto,
		Confidence: confidence,
	})
	if err != nil {
		return fmt.Errorf("attach tag %q to message %d: %w", tag.Name, messageID, err)
	}
	return nil
}
