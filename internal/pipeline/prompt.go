package pipeline

import (
	"fmt"
	"strings"

	"github.com/xaenox/vailentin/internal/models"
)

var styleHints = map[models.ChatType]string{
	models.WorkChat:     "Keep it professional and to the point. Emojis only when they add something.",
	models.FriendlyChat: "Be casual and warm. Short messages, informal language and emojis are fine.",
	models.MixedChat:    "Use a balanced, professional tone with occasional emojis.",
}

// StyleHint returns the tone guideline for a chat type.
func StyleHint(t models.ChatType) string {
	if hint, ok := styleHints[t]; ok {
		return hint
	}
	return styleHints[models.MixedChat]
}

// ReplyContext is everything the reply prompt is built from.
type ReplyContext struct {
	BotName  string
	ChatType models.ChatType
	Topic    string
	Summary  string
	Related  []string
	History  []*models.Message
	Inbound  string
}

func ReplyPrompt(rc ReplyContext) string {
	name := rc.BotName
	if name == "" {
		name = "Vailentin"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a regular member of this Telegram chat. ", name)
	b.WriteString("Reply the way a person in the chat would: briefly, in character, without explaining yourself.\n\n")
	fmt.Fprintf(&b, "Chat type: %s\n", rc.ChatType)
	fmt.Fprintf(&b, "Style: %s\n", StyleHint(rc.ChatType))
	if rc.Topic != "" {
		fmt.Fprintf(&b, "Thread topic: %s\n", rc.Topic)
	}
	if rc.Summary != "" {
		fmt.Fprintf(&b, "Thread summary: %s\n", rc.Summary)
	}
	if len(rc.Related) > 0 {
		fmt.Fprintf(&b, "Related earlier topics: %s\n", strings.Join(rc.Related, "; "))
	}
	if len(rc.History) > 0 {
		b.WriteString("\nPrevious conversation:\n")
		for _, msg := range rc.History {
			who := "User"
			if msg.FromBot {
				who = name
			}
			fmt.Fprintf(&b, "%s: %s\n", who, msg.Text)
		}
	}
	fmt.Fprintf(&b, "\nCurrent message: %s\n\nResponse:", rc.Inbound)
	return b.String()
}
