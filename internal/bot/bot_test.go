package bot

import (
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/vailentin/internal/models"
)

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"v1.2-beta!", `v1\.2\-beta\!`},
		{"#release_notes", `\#release\_notes`},
		{`a\b`, `a\\b`},
	}
	for _, tt := range tests {
		if got := escapeMarkdown(tt.in); got != tt.want {
			t.Errorf("escapeMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatStats(t *testing.T) {
	out := formatStats(&models.AggregateStats{
		MessageCount:   12,
		UserCount:      3,
		AvgLength:      14.5,
		EmojiCount:     2,
		TopEmojis:      []models.Count{{Key: "🚀", Count: 2}},
		TopWords:       []models.Count{{Key: "deploy", Count: 4}},
		MostActiveHour: 9,
		MostActiveDay:  "Monday",
		ActivityTrend:  []models.DayCount{{Date: "2024-05-01", Count: 12}},
	})
	for _, want := range []string{
		"Messages: 12",
		"Active users: 3",
		`Average length: 14\.5 characters`,
		"Busiest hour: 09:00",
		"deploy \\(4\\)",
		`2024\-05\-01: 12`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("stats text lacks %q:\n%s", want, out)
		}
	}
}

func TestChatTitle(t *testing.T) {
	if got := chatTitle(&tgbotapi.Chat{Title: "Team"}); got != "Team" {
		t.Errorf("group title = %q", got)
	}
	if got := chatTitle(&tgbotapi.Chat{FirstName: "Ada", LastName: "L"}); got != "Ada L" {
		t.Errorf("private title = %q", got)
	}
	if got := chatTitle(nil); got != "" {
		t.Errorf("nil chat title = %q", got)
	}
}

func TestParseTagArgs(t *testing.T) {
	tests := []struct {
		args    string
		replyTo int
		want    tagCommand
		ok      bool
	}{
		{"add 42 release blocker", 0, tagCommand{action: "add", messageID: 42, names: []string{"release", "blocker"}}, true},
		{"ADD release", 7, tagCommand{action: "add", messageID: 7, names: []string{"release"}}, true},
		{"list 42", 0, tagCommand{action: "list", messageID: 42, names: []string{}}, true},
		{"list", 7, tagCommand{action: "list", messageID: 7, names: []string{}}, true},
		{"remove 42 release", 0, tagCommand{action: "remove", messageID: 42, names: []string{"release"}}, true},
		{"remove 42 a b", 0, tagCommand{}, false},
		{"add 42", 0, tagCommand{}, false},
		{"add release", 0, tagCommand{}, false},
		{"list 42 extra", 0, tagCommand{}, false},
		{"rename 42 x", 0, tagCommand{}, false},
		{"", 7, tagCommand{}, false},
	}
	for _, tt := range tests {
		got, ok := parseTagArgs(tt.args, tt.replyTo)
		if ok != tt.ok {
			t.Errorf("parseTagArgs(%q, %d) ok = %v, want %v", tt.args, tt.replyTo, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if got.action != tt.want.action || got.messageID != tt.want.messageID || strings.Join(got.names, ",") != strings.Join(tt.want.names, ",") {
			t.Errorf("parseTagArgs(%q, %d) = %+v, want %+v", tt.args, tt.replyTo, got, tt.want)
		}
	}
}

func TestFormatThreadStats(t *testing.T) {
	out := formatThreadStats(&models.ThreadStats{
		Thread:       &models.Thread{Topic: "v1.2 release", IsActive: true},
		MessageCount: 9,
		UserCount:    3,
		Duration:     90 * time.Minute,
		TopTags:      []models.Count{{Key: "deploy", Count: 4}},
	})
	for _, want := range []string{
		`*Thread: v1\.2 release*`,
		"Messages: 9",
		"Participants: 3",
		"Duration: 1h30m0s",
		`\#deploy \(4\)`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("thread text lacks %q:\n%s", want, out)
		}
	}

	list := formatThreadList([]*models.ThreadStats{
		{Thread: &models.Thread{Topic: "release", IsActive: true}, MessageCount: 9, UserCount: 3},
		{Thread: &models.Thread{Topic: "planning"}, MessageCount: 2, UserCount: 1},
	})
	if !strings.Contains(list, "▶ release: 9 messages, 3 participants") || !strings.Contains(list, "• planning: 2 messages") {
		t.Errorf("thread list:\n%s", list)
	}
}
