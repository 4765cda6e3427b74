package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/vailentin/internal/models"
	"github.com/xaenox/vailentin/internal/storage"
	"go.uber.org/zap"
)

const helpText = `Available commands:
/help - Show this help message
/stats - Chat statistics for the last week
/related - Topics related to the current thread
/thread [info] - Stats of the current thread
/thread list - Recent threads
/tag list <message id> - Tags of a message (or reply to it)

Owner only:
/thread <topic> - Start a new thread
/thread close - Close the current thread
/tag add <message id> <tag>... - Tag a message (or reply to it)
/tag remove <message id> <tag> - Remove a tag
/threshold <0..1> - Set the importance threshold
/smart - Reply to important messages only
/probability <0..1> - Reply at random with the given chance
/chattype <work|friendly|mixed> - Set the chat style
/silent - Toggle read-only mode
/disable, /enable - Stop or start recording this chat
/shutdown, /resume - Pause or resume the bot everywhere`

var ownerCommands = map[string]bool{
	"threshold": true, "smart": true, "probability": true, "chattype": true,
	"silent": true, "disable": true, "enable": true, "shutdown": true, "resume": true,
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	cmd := message.Command()
	if ownerCommands[cmd] && !b.isOwner(message) {
		b.sendErrorMessage(message.Chat.ID, "Only the bot owner can do that.")
		return
	}

	chatID := message.Chat.ID
	args := strings.TrimSpace(message.CommandArguments())
	switch cmd {
	case "start", "help":
		b.sendMessage(chatID, helpText)
	case "stats":
		b.handleStats(ctx, message)
	case "related":
		b.handleRelated(ctx, message)
	case "thread":
		b.handleThread(ctx, message, args)
	case "tag":
		b.handleTag(ctx, message, args)
	case "threshold":
		b.handleThreshold(ctx, message, args)
	case "smart":
		b.updateChat(ctx, message, "Smart mode is on.", func(c *models.Chat) { c.SmartMode = true })
	case "probability":
		b.handleProbability(ctx, message, args)
	case "chattype":
		t, ok := models.ParseChatType(strings.ToLower(args))
		if !ok {
			b.sendErrorMessage(chatID, "Usage: /chattype work|friendly|mixed")
			return
		}
		if _, err := b.pipeline.SetChatType(ctx, chatID, t); err != nil {
			b.commandFailed(message, err)
			return
		}
		b.sendMessage(chatID, fmt.Sprintf("Chat type set to %s.", t))
	case "silent":
		chat, err := b.pipeline.UpdateChat(ctx, chatID, func(c *models.Chat) { c.IsSilent = !c.IsSilent })
		if err != nil {
			b.commandFailed(message, err)
			return
		}
		if chat.IsSilent {
			b.sendMessage(chatID, "🤐 Silent mode on. I'll keep reading but won't reply.")
		} else {
			b.sendMessage(chatID, "🗣 Silent mode off.")
		}
	case "disable":
		b.updateChat(ctx, message, "Disabled for this chat.", func(c *models.Chat) { c.IsDisabled = true })
	case "enable":
		b.updateChat(ctx, message, "Enabled for this chat.", func(c *models.Chat) { c.IsDisabled = false })
	case "shutdown":
		b.pipeline.Switch.Shutdown()
		b.sendMessage(chatID, "⏸ Paused in every chat. /resume to continue.")
	case "resume":
		b.pipeline.Switch.Resume()
		b.sendMessage(chatID, "▶️ Resumed.")
	default:
		b.sendMessage(chatID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) isOwner(message *tgbotapi.Message) bool {
	return b.ownerID != 0 && message.From != nil && message.From.ID == b.ownerID
}

func (b *Bot) commandFailed(message *tgbotapi.Message, err error) {
	b.logger.Error("Command failed",
		zap.Error(err),
		zap.String("command", message.Command()),
		zap.Int64("chat_id", message.Chat.ID))
	b.sendErrorMessage(message.Chat.ID, "Sorry, that didn't work. Please try again later.")
}

func (b *Bot) updateChat(ctx context.Context, message *tgbotapi.Message, reply string, change func(*models.Chat)) {
	if _, err := b.pipeline.UpdateChat(ctx, message.Chat.ID, change); err != nil {
		b.commandFailed(message, err)
		return
	}
	b.sendMessage(message.Chat.ID, reply)
}

const listedThreads = 5

func (b *Bot) handleThread(ctx context.Context, message *tgbotapi.Message, args string) {
	chatID := message.Chat.ID
	switch strings.ToLower(args) {
	case "", "info":
		info, err := b.pipeline.ThreadInfo(ctx, chatID)
		if err != nil {
			b.commandFailed(message, err)
			return
		}
		if info == nil {
			b.sendMessage(chatID, "There is no active thread yet.")
			return
		}
		b.sendMarkdown(chatID, formatThreadStats(info))
		return
	case "list":
		threads, err := b.pipeline.ListThreads(ctx, chatID, listedThreads)
		if err != nil {
			b.commandFailed(message, err)
			return
		}
		if len(threads) == 0 {
			b.sendMessage(chatID, "No threads yet.")
			return
		}
		b.sendMarkdown(chatID, formatThreadList(threads))
		return
	}

	if !b.isOwner(message) {
		b.sendErrorMessage(chatID, "Only the bot owner can do that.")
		return
	}
	if strings.EqualFold(args, "close") {
		closed, err := b.pipeline.CloseThread(ctx, chatID)
		if err != nil {
			b.commandFailed(message, err)
			return
		}
		if closed == nil {
			b.sendMessage(chatID, "There is no active thread to close.")
			return
		}
		b.sendMessage(chatID, "✅ Closed thread: "+closed.Topic)
		return
	}
	thread, err := b.pipeline.StartThread(ctx, chatID, args)
	if err != nil {
		b.commandFailed(message, err)
		return
	}
	b.sendMessage(chatID, "🧵 New thread: "+thread.Topic)
}

const tagUsage = "Usage: /tag add|remove|list <message id> [tags], or reply to a message"

type tagCommand struct {
	action    string
	messageID int
	names     []string
}

// parseTagArgs reads "/tag <action> [message id] [names...]". The message id
// may be left out when the command replies to the message being tagged.
func parseTagArgs(args string, replyTo int) (tagCommand, bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return tagCommand{}, false
	}
	cmd := tagCommand{action: strings.ToLower(fields[0]), messageID: replyTo}
	rest := fields[1:]
	if len(rest) > 0 {
		if id, err := strconv.Atoi(rest[0]); err == nil && id > 0 {
			cmd.messageID = id
			rest = rest[1:]
		}
	}
	if cmd.messageID <= 0 {
		return tagCommand{}, false
	}
	cmd.names = rest

	switch cmd.action {
	case "list":
		return cmd, len(cmd.names) == 0
	case "add":
		return cmd, len(cmd.names) > 0
	case "remove":
		return cmd, len(cmd.names) == 1
	}
	return tagCommand{}, false
}

func (b *Bot) handleTag(ctx context.Context, message *tgbotapi.Message, args string) {
	chatID := message.Chat.ID
	replyTo := 0
	if message.ReplyToMessage != nil {
		replyTo = message.ReplyToMessage.MessageID
	}
	cmd, ok := parseTagArgs(args, replyTo)
	if !ok {
		b.sendErrorMessage(chatID, tagUsage)
		return
	}
	if cmd.action != "list" && !b.isOwner(message) {
		b.sendErrorMessage(chatID, "Only the bot owner can do that.")
		return
	}

	var names []string
	var err error
	switch cmd.action {
	case "list":
		names, err = b.pipeline.MessageTags(ctx, chatID, cmd.messageID)
	case "add":
		names, err = b.pipeline.TagMessage(ctx, chatID, cmd.messageID, cmd.names...)
	case "remove":
		var removed bool
		removed, err = b.pipeline.UntagMessage(ctx, chatID, cmd.messageID, cmd.names[0])
		if err == nil && !removed {
			b.sendMessage(chatID, fmt.Sprintf("Message %d has no tag %q.", cmd.messageID, cmd.names[0]))
			return
		}
		if err == nil {
			b.sendMessage(chatID, fmt.Sprintf("Removed tag %q.", cmd.names[0]))
			return
		}
	}
	if errors.Is(err, storage.ErrNotFound) {
		b.sendErrorMessage(chatID, fmt.Sprintf("I don't know message %d.", cmd.messageID))
		return
	}
	if err != nil {
		b.commandFailed(message, err)
		return
	}
	if len(names) == 0 {
		b.sendMessage(chatID, fmt.Sprintf("Message %d has no tags.", cmd.messageID))
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("🏷 Message %d: #%s", cmd.messageID, strings.Join(names, " #")))
}

func (b *Bot) handleThreshold(ctx context.Context, message *tgbotapi.Message, args string) {
	v, err := strconv.ParseFloat(args, 64)
	if err != nil {
		b.sendErrorMessage(message.Chat.ID, "Usage: /threshold <0..1>")
		return
	}
	if err := b.pipeline.SetThreshold(ctx, message.Chat.ID, v); err != nil {
		b.commandFailed(message, err)
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Importance threshold set to %.2f.", v))
}

func (b *Bot) handleProbability(ctx context.Context, message *tgbotapi.Message, args string) {
	v, err := strconv.ParseFloat(args, 64)
	if err != nil || !(v >= 0 && v <= 1) {
		b.sendErrorMessage(message.Chat.ID, "Usage: /probability <0..1>")
		return
	}
	if _, err := b.pipeline.SetProbability(ctx, message.Chat.ID, v); err != nil {
		b.commandFailed(message, err)
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Replying with probability %.0f%%.", v*100))
}

func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) {
	stats, err := b.pipeline.ChatStats(ctx, message.Chat.ID)
	if err != nil {
		b.commandFailed(message, err)
		return
	}
	if stats.MessageCount == 0 {
		b.sendMessage(message.Chat.ID, "No messages this week yet.")
		return
	}
	b.sendMarkdown(message.Chat.ID, formatStats(stats))
}

func (b *Bot) handleRelated(ctx context.Context, message *tgbotapi.Message) {
	current, related, err := b.pipeline.RelatedTopics(ctx, message.Chat.ID)
	if err != nil {
		b.commandFailed(message, err)
		return
	}
	if current == nil {
		b.sendMessage(message.Chat.ID, "There is no active thread yet.")
		return
	}
	if len(related) == 0 {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Nothing related to %q yet.", current.Topic))
		return
	}

	response := fmt.Sprintf("*Related to %s:*\n", escapeMarkdown(current.Topic))
	for _, t := range related {
		response += "• " + escapeMarkdown(t.Topic) + "\n"
	}
	b.sendMarkdown(message.Chat.ID, response)
}

func formatThreadStats(s *models.ThreadStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Thread: %s*\n\n", escapeMarkdown(s.Thread.Topic))
	fmt.Fprintf(&sb, "Messages: %d\n", s.MessageCount)
	fmt.Fprintf(&sb, "Participants: %d\n", s.UserCount)
	fmt.Fprintf(&sb, "Duration: %s\n", escapeMarkdown(s.Duration.Round(time.Minute).String()))
	if len(s.TopTags) > 0 {
		tags := make([]string, len(s.TopTags))
		for i, t := range s.TopTags {
			tags[i] = fmt.Sprintf("#%s (%d)", t.Key, t.Count)
		}
		sb.WriteString("*Top tags:* " + escapeMarkdown(strings.Join(tags, ", ")) + "\n")
	}
	return sb.String()
}

func formatThreadList(threads []*models.ThreadStats) string {
	var sb strings.Builder
	sb.WriteString("*Recent threads:*\n")
	for _, s := range threads {
		marker := "•"
		if s.Thread.IsActive {
			marker = "▶"
		}
		line := fmt.Sprintf("%s %s: %d messages, %d participants", marker, s.Thread.Topic, s.MessageCount, s.UserCount)
		sb.WriteString(escapeMarkdown(line) + "\n")
	}
	return sb.String()
}

func formatStats(s *models.AggregateStats) string {
	var sb strings.Builder
	sb.WriteString("*Chat statistics for the last week*\n\n")
	fmt.Fprintf(&sb, "Messages: %d\n", s.MessageCount)
	fmt.Fprintf(&sb, "Active users: %d\n", s.UserCount)
	sb.WriteString(escapeMarkdown(fmt.Sprintf("Average length: %.1f characters", s.AvgLength)) + "\n")
	fmt.Fprintf(&sb, "Emojis: %d\n", s.EmojiCount)
	fmt.Fprintf(&sb, "Busiest hour: %02d:00\n", s.MostActiveHour)
	fmt.Fprintf(&sb, "Busiest day: %s\n", escapeMarkdown(s.MostActiveDay))

	if len(s.TopEmojis) > 0 {
		emojis := make([]string, len(s.TopEmojis))
		for i, e := range s.TopEmojis {
			emojis[i] = fmt.Sprintf("%s %d", e.Key, e.Count)
		}
		sb.WriteString("\n*Top emojis:* " + escapeMarkdown(strings.Join(emojis, ", ")) + "\n")
	}
	if len(s.TopWords) > 0 {
		words := make([]string, len(s.TopWords))
		for i, w := range s.TopWords {
			words[i] = fmt.Sprintf("%s (%d)", w.Key, w.Count)
		}
		sb.WriteString("*Top words:* " + escapeMarkdown(strings.Join(words, ", ")) + "\n")
	}
	if len(s.ActivityTrend) > 0 {
		sb.WriteString("\n*Activity:*\n")
		for _, d := range s.ActivityTrend {
			sb.WriteString(escapeMarkdown(fmt.Sprintf("%s: %d", d.Date, d.Count)) + "\n")
		}
	}
	return sb.String()
}
