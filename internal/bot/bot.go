package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/vailentin/internal/pipeline"
	"go.uber.org/zap"
)

type Bot struct {
	api      *tgbotapi.BotAPI
	ownerID  int64
	timeout  int
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
}

func New(token string, ownerID int64, timeout int, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	if timeout <= 0 {
		timeout = 60
	}

	return &Bot{
		api:     api,
		ownerID: ownerID,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// ID is the bot's own Telegram user id.
func (b *Bot) ID() int64 { return b.api.Self.ID }

func (b *Bot) Username() string { return b.api.Self.UserName }

// Run receives updates until ctx is cancelled and hands them to p.
// In-flight handlers are awaited before it returns.
func (b *Bot) Run(ctx context.Context, p *pipeline.Pipeline) error {
	b.pipeline = p

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.timeout
	u.AllowedUpdates = []string{"message", "my_chat_member"}

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Receiving updates", zap.String("username", b.Username()))

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.MyChatMember != nil:
		b.handleMembership(ctx, update.MyChatMember)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMembership(ctx context.Context, change *tgbotapi.ChatMemberUpdated) {
	if change.NewChatMember.User == nil || change.NewChatMember.User.ID != b.ID() {
		return
	}
	var joined bool
	switch change.NewChatMember.Status {
	case "member", "administrator", "creator":
		joined = true
	case "left", "kicked":
		joined = false
	default:
		return
	}
	if err := b.pipeline.HandleMembership(ctx, change.Chat.ID, chatTitle(&change.Chat), joined); err != nil {
		b.logger.Error("Failed to handle membership change",
			zap.Error(err),
			zap.Int64("chat_id", change.Chat.ID),
			zap.Bool("joined", joined))
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Handle commands
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}
	if message.From == nil || message.From.ID == b.ID() {
		return
	}

	// Get content from message
	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}

	in := pipeline.Inbound{
		ChatID:      message.Chat.ID,
		ChatTitle:   chatTitle(message.Chat),
		TransportID: message.MessageID,
		SenderID:    message.From.ID,
		Text:        content,
		At:          message.Time().UTC(),
	}
	if _, err := b.pipeline.HandleMessage(ctx, in); err != nil {
		b.logger.Error("Failed to handle message",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID),
			zap.Int("message_id", message.MessageID))
	}
}

// SendText implements notify.Sender.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := b.send(tgbotapi.NewMessage(chatID, text))
	return err
}

// SendReply implements pipeline.Sender.
func (b *Bot) SendReply(ctx context.Context, chatID int64, replyTo int, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	return b.send(msg)
}

func (b *Bot) send(msg tgbotapi.MessageConfig) (int, error) {
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send to chat %d: %w", msg.ChatID, err)
	}
	return sent.MessageID, nil
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "MarkdownV2"
	if _, err := b.send(msg); err != nil {
		b.logger.Error("Failed to send formatted message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	b.sendMessage(chatID, "⚠️ "+text)
}

func chatTitle(chat *tgbotapi.Chat) string {
	if chat == nil {
		return ""
	}
	if chat.Title != "" {
		return chat.Title
	}
	return strings.TrimSpace(chat.FirstName + " " + chat.LastName)
}

// escapeMarkdown escapes special characters for MarkdownV2
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}
