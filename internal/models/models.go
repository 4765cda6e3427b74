package models

import (
    "time"

    "github.com/google/uuid"
)

// Thread is a span of topically related messages within a chat.
// At most one thread per chat is active at any time.
type Thread struct {
    ID        uuid.UUID `json:"id"`
    ChatID    int64     `json:"chat_id"`
    Topic     string    `json:"topic"`
    IsActive  bool      `json:"is_active"`
    CreatedAt time.Time `json:"created_at"`
    UpdatedAt time.Time `json:"updated_at"`
}

// DefaultTopic is used when a thread is opened without an explicit topic.
const DefaultTopic = "General Discussion"

// Message is an inbound or bot-authored chat message.
// Only WasResponded and ThreadID change after creation, each at most once.
type Message struct {
    ID           int64         `json:"id"`
    ChatID       int64         `json:"chat_id"`
    ThreadID     uuid.NullUUID `json:"thread_id"`
    TransportID  int           `json:"transport_id"`
    SenderID     int64         `json:"sender_id"`
    Text         string        `json:"text"`
    FromBot      bool          `json:"from_bot"`
    WasResponded bool          `json:"was_responded"`
    CreatedAt    time.Time     `json:"created_at"`
}

// Tag is a globally unique label that can be attached to messages.
type Tag struct {
    ID          uuid.UUID `json:"id"`
    Name        string    `json:"name"`
    Description string    `json:"description,omitempty"`
    IsSystem    bool      `json:"is_system"`
    CreatedAt   time.Time `json:"created_at"`
}

// MessageTag links a tag to a message with its provenance.
type MessageTag struct {
    ID         uuid.UUID `json:"id"`
    MessageID  int64     `json:"message_id"`
    TagID      uuid.UUID `json:"tag_id"`
    IsAuto     bool      `json:"is_auto"`
    Confidence float64   `json:"confidence"`
    CreatedAt  time.Time `json:"created_at"`
}

// ThreadContext holds the rolling summary of a thread.
// MessageCount is the thread size when the summary was last written.
type ThreadContext struct {
    ID              uuid.UUID `json:"id"`
    ThreadID        uuid.UUID `json:"thread_id"`
    Summary         string    `json:"context_summary"`
    ImportanceScore float64   `json:"importance_score"`
    MessageCount    int       `json:"message_count"`
    CreatedAt       time.Time `json:"created_at"`
    UpdatedAt       time.Time `json:"updated_at"`
}
