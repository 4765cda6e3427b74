package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/vailentin/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPersistence matches every failed read or write other than ErrNotFound.
	ErrPersistence = errors.New("persistence failure")
)

// Error wraps a failed storage operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrPersistence }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

type Storage interface {
	ChatStorage
	ThreadStorage
	MessageStorage
	TagStorage
	ContextStorage
	StatsStorage
	Close() error
}

type ChatStorage interface {
	GetChat(ctx context.Context, chatID int64) (*models.Chat, error)
	// EnsureChat inserts chat unless a row with the same ID exists and returns the stored row.
	EnsureChat(ctx context.Context, chat *models.Chat) (*models.Chat, error)
	ListChats(ctx context.Context) ([]*models.Chat, error)
	// UpdateChatSettings writes title, type, silent, disabled, smart mode and probability.
	// The importance threshold is left alone.
	UpdateChatSettings(ctx context.Context, chat *models.Chat) error
	// ModifyChatSettings applies change to the stored chat and writes the same
	// settings as UpdateChatSettings, all under one row lock.
	ModifyChatSettings(ctx context.Context, chatID int64, change func(*models.Chat)) (before, after *models.Chat, err error)
	SetImportanceThreshold(ctx context.Context, chatID int64, threshold float64) error
	// AdjustImportanceThreshold reads and rewrites the threshold in one transaction.
	AdjustImportanceThreshold(ctx context.Context, chatID int64, adjust func(current float64) float64) (before, after float64, err error)
	TouchSummary(ctx context.Context, chatID int64, at time.Time) error
	DeleteChat(ctx context.Context, chatID int64) error
}

type ThreadStorage interface {
	GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error)
	// ActiveThreads returns the chat's active threads, newest first.
	ActiveThreads(ctx context.Context, chatID int64) ([]*models.Thread, error)
	// ChatThreads returns up to limit threads of the chat, newest first.
	ChatThreads(ctx context.Context, chatID int64, limit int) ([]*models.Thread, error)
	// RotateThread inserts thread as the chat's active thread and deactivates
	// every other active thread of that chat in one transaction.
	RotateThread(ctx context.Context, thread *models.Thread) error
	DeactivateThread(ctx context.Context, id uuid.UUID) error
	LinkThreads(ctx context.Context, a, b uuid.UUID) error
	RelatedThreads(ctx context.Context, id uuid.UUID) ([]*models.Thread, error)
}

type MessageStorage interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	// AssignThread sets the message's thread if it has none yet.
	AssignThread(ctx context.Context, messageID int64, threadID uuid.UUID) error
	MarkResponded(ctx context.Context, messageID int64) error
	// MessageByTransportID finds a chat's message by the ID the transport gave it.
	MessageByTransportID(ctx context.Context, chatID int64, transportID int) (*models.Message, error)
	// RecentThreadMessages returns up to limit latest messages of a thread in chronological order.
	RecentThreadMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]*models.Message, error)
	CountThreadMessages(ctx context.Context, threadID uuid.UUID) (int, error)
	MessagesSince(ctx context.Context, chatID int64, since time.Time) ([]*models.Message, error)
	// ResponseWindow counts the chat's non-bot messages since the given time and how many were answered.
	ResponseWindow(ctx context.Context, chatID int64, since time.Time) (total, responded int, err error)
}

type TagStorage interface {
	GetOrCreateTag(ctx context.Context, name string) (*models.Tag, error)
	// AttachTag is a no-op when the message already carries the tag.
	AttachTag(ctx context.Context, mt *models.MessageTag) error
	MessageTags(ctx context.Context, messageID int64) ([]*models.Tag, error)
	// DetachTag removes a tag by name and reports whether the message carried it.
	DetachTag(ctx context.Context, messageID int64, name string) (bool, error)
}

type ContextStorage interface {
	GetThreadContext(ctx context.Context, threadID uuid.UUID) (*models.ThreadContext, error)
	// UpsertContextSummary writes the summary, keeping any importance score.
	UpsertContextSummary(ctx context.Context, threadID uuid.UUID, summary string, messageCount int) error
	// SetImportanceScore writes the score, creating an empty context if needed.
	SetImportanceScore(ctx context.Context, threadID uuid.UUID, score float64) error
}

type StatsStorage interface {
	SaveStats(ctx context.Context, stats *models.AggregateStats) error
}
