package models

import "time"

type ChatType string

const (
	WorkChat     ChatType = "work"
	FriendlyChat ChatType = "friendly"
	MixedChat    ChatType = "mixed"
)

// ParseChatType returns the chat type named by s and whether it is known.
func ParseChatType(s string) (ChatType, bool) {
	switch t := ChatType(s); t {
	case WorkChat, FriendlyChat, MixedChat:
		return t, true
	}
	return MixedChat, false
}

// Chat is a transport-level conversation and its behavioral knobs.
type Chat struct {
	ID                  int64      `json:"id"`
	Title               string     `json:"title"`
	Type                ChatType   `json:"chat_type"`
	IsSilent            bool       `json:"is_silent"`
	IsDisabled          bool       `json:"is_disabled"`
	SmartMode           bool       `json:"smart_mode"`
	ResponseProbability float64    `json:"response_probability"`
	ImportanceThreshold float64    `json:"importance_threshold"`
	LastSummaryAt       *time.Time `json:"last_summary_timestamp,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Mode is the closed set of reply modes a chat can be in.
// Exactly one of SmartMode or ProbabilityMode implements it.
type Mode interface {
	mode()
}

// SmartMode replies when a message's importance reaches Threshold.
type SmartMode struct {
	Threshold float64
}

// ProbabilityMode replies to each eligible message with chance Probability.
type ProbabilityMode struct {
	Probability float64
}

func (SmartMode) mode()       {}
func (ProbabilityMode) mode() {}

// Mode returns the chat's reply mode.
func (c *Chat) Mode() Mode {
	if c.SmartMode {
		return SmartMode{Threshold: c.ImportanceThreshold}
	}
	return ProbabilityMode{Probability: c.ResponseProbability}
}
