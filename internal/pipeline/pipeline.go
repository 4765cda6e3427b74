// Package pipeline runs each inbound message through threading, tagging,
// summarization and the response gate, and sends the reply when one is due.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/vailentin/internal/classifier"
	"github.com/xaenox/vailentin/internal/gate"
	"github.com/xaenox/vailentin/internal/llm"
	"github.com/xaenox/vailentin/internal/metrics"
	"github.com/xaenox/vailentin/internal/models"
	"github.com/xaenox/vailentin/internal/related"
	"github.com/xaenox/vailentin/internal/stats"
	"github.com/xaenox/vailentin/internal/storage"
	"github.com/xaenox/vailentin/internal/summarizer"
	"github.com/xaenox/vailentin/internal/tags"
	"github.com/xaenox/vailentin/internal/threads"
	"go.uber.org/zap"
)

// Sender delivers a reply and returns the transport's id for it.
type Sender interface {
	SendReply(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
}

// Alerter tells the operator about failures and notable setting changes.
type Alerter interface {
	NotifyError(ctx context.Context, subject string, err error)
	NotifyStyleChange(ctx context.Context, chatID int64, before, after models.ChatType) bool
}

// ChatDefaults seeds new chats.
type ChatDefaults struct {
	Type                models.ChatType
	SmartMode           bool
	ResponseProbability float64
	ImportanceThreshold float64
}

type Config struct {
	BotID           int64
	BotName         string
	ContextMessages int
	Defaults        ChatDefaults
}

type Deps struct {
	Store      storage.Storage
	Threads    *threads.Manager
	Classifier classifier.Classifier
	Tags       *tags.Store
	Summarizer *summarizer.Summarizer
	Related    *related.Finder
	Gate       *gate.Gate
	Stats      *stats.Cache
	Provider   llm.Provider
	Sender     Sender
	Alerts     Alerter
	Switch     *Switch
	Metrics    *metrics.Metrics
}

// Inbound is a message as delivered by the transport.
type Inbound struct {
	ChatID      int64
	ChatTitle   string
	TransportID int
	SenderID    int64
	Text        string
	At          time.Time
}

// Outcome describes what happened to one inbound message.
type Outcome struct {
	Message  *models.Message
	Thread   *models.Thread
	Tags     []string
	Decision gate.Decision
	Reply    string
}

type Pipeline struct {
	Deps
	cfg    Config
	logger *zap.Logger
}

func New(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.ContextMessages <= 0 {
		cfg.ContextMessages = 5
	}
	if deps.Switch == nil {
		deps.Switch = &Switch{}
	}
	return &Pipeline{Deps: deps, cfg: cfg, logger: logger}
}

// HandleMessage processes one inbound message. Provider failures degrade
// quietly; a persistence failure abandons the message and is returned.
func (p *Pipeline) HandleMessage(ctx context.Context, in Inbound) (*Outcome, error) {
	out := &Outcome{}
	if p.Switch.IsShutdown() {
		out.Decision = gate.Decision{Reason: gate.ReasonShutdown}
		p.Metrics.ObserveMessage("shutdown")
		return out, nil
	}
	if strings.TrimSpace(in.Text) == "" {
		p.Metrics.ObserveMessage("empty")
		return out, nil
	}

	chat, err := p.EnsureChat(ctx, in.ChatID, in.ChatTitle)
	if err != nil {
		return out, p.fail(ctx, "load chat", in.ChatID, err)
	}
	if chat.IsDisabled {
		out.Decision = gate.Decision{Reason: gate.ReasonDisabled}
		p.Metrics.ObserveMessage("disabled")
		return out, nil
	}

	msg := &models.Message{
		ChatID:      in.ChatID,
		TransportID: in.TransportID,
		SenderID:    in.SenderID,
		Text:        in.Text,
		CreatedAt:   in.At,
	}
	if err := p.Store.SaveMessage(ctx, msg); err != nil {
		return out, p.fail(ctx, "save message", in.ChatID, err)
	}
	out.Message = msg

	thread, err := p.Threads.Attach(ctx, msg)
	if err != nil {
		return out, p.fail(ctx, "attach message", in.ChatID, err)
	}
	out.Thread = thread

	out.Tags = p.tag(ctx, msg)
	p.refreshContext(ctx, thread)

	out.Decision = p.Gate.Decide(ctx, gate.Input{
		ShuttingDown: p.Switch.IsShutdown(),
		Chat:         chat,
		Text:         in.Text,
	})
	p.Metrics.ObserveDecision(string(out.Decision.Reason), out.Decision.Respond)
	if out.Decision.Scored {
		if err := p.Store.SetImportanceScore(ctx, thread.ID, out.Decision.Score); err != nil {
			p.logger.Warn("Failed to store importance score",
				zap.String("thread_id", thread.ID.String()),
				zap.Error(err))
		}
	}
	p.logger.Debug("Gate decision",
		zap.Int64("chat_id", chat.ID),
		zap.String("reason", string(out.Decision.Reason)),
		zap.Bool("respond", out.Decision.Respond),
		zap.Float64("score", out.Decision.Score))

	if !out.Decision.Respond {
		p.Metrics.ObserveMessage("recorded")
		return out, nil
	}

	reply, err := p.respond(ctx, chat, thread, msg)
	if err != nil {
		return out, err
	}
	out.Reply = reply
	p.Metrics.ObserveMessage("responded")
	return out, nil
}

// EnsureChat returns the stored chat, creating it with the configured
// defaults the first time it is seen.
func (p *Pipeline) EnsureChat(ctx context.Context, chatID int64, title string) (*models.Chat, error) {
	d := p.cfg.Defaults
	if d.Type == "" {
		d.Type = models.MixedChat
	}
	return p.Store.EnsureChat(ctx, &models.Chat{
		ID:                  chatID,
		Title:               title,
		Type:                d.Type,
		SmartMode:           d.SmartMode,
		ResponseProbability: d.ResponseProbability,
		ImportanceThreshold: d.ImportanceThreshold,
	})
}

// HandleMembership seeds the chat when the bot joins and deletes it when
// the bot leaves.
func (p *Pipeline) HandleMembership(ctx context.Context, chatID int64, title string, joined bool) error {
	if joined {
		chat, err := p.EnsureChat(ctx, chatID, title)
		if err != nil {
			return p.fail(ctx, "seed chat", chatID, err)
		}
		p.Metrics.SetThreshold(chat.ID, chat.ImportanceThreshold)
		p.logger.Info("Joined chat",
			zap.Int64("chat_id", chatID),
			zap.String("title", title))
		return nil
	}

	active, err := p.Store.ActiveThreads(ctx, chatID)
	if err != nil {
		return p.fail(ctx, "load threads", chatID, err)
	}
	if err := p.Store.DeleteChat(ctx, chatID); err != nil {
		return p.fail(ctx, "delete chat", chatID, err)
	}
	if p.Related != nil {
		for _, t := range active {
			p.Related.Forget(t.ID)
		}
	}
	if p.Stats != nil {
		p.Stats.Invalidate(chatID)
	}
	p.logger.Info("Left chat", zap.Int64("chat_id", chatID))
	return nil
}

func (p *Pipeline) tag(ctx context.Context, msg *models.Message) []string {
	if p.Classifier == nil || p.Tags == nil {
		return nil
	}
	suggestions := p.Classifier.Classify(ctx, msg.Text)
	applied, err := p.Tags.Apply(ctx, msg.ID, suggestions)
	if err != nil {
		p.logger.Warn("Failed to tag message",
			zap.Int64("chat_id", msg.ChatID),
			zap.Int64("message_id", msg.ID),
			zap.Error(err))
	}
	return applied
}

func (p *Pipeline) refreshContext(ctx context.Context, thread *models.Thread) {
	refreshed, err := p.Summarizer.Refresh(ctx, thread)
	if err != nil {
		level := p.logger.Warn
		if errors.Is(err, storage.ErrPersistence) {
			level = p.logger.Error
		}
		level("Thread summary not refreshed",
			zap.Int64("chat_id", thread.ChatID),
			zap.String("thread_id", thread.ID.String()),
			zap.Error(err))
		return
	}
	if !refreshed || p.Related == nil {
		return
	}
	linked, err := p.Related.Link(ctx, thread)
	if err != nil {
		p.logger.Warn("Failed to link related threads",
			zap.String("thread_id", thread.ID.String()),
			zap.Error(err))
		return
	}
	if len(linked) > 0 {
		p.logger.Debug("Linked related threads",
			zap.String("thread_id", thread.ID.String()),
			zap.Int("count", len(linked)))
	}
}

func (p *Pipeline) respond(ctx context.Context, chat *models.Chat, thread *models.Thread, msg *models.Message) (string, error) {
	prompt, err := p.replyPrompt(ctx, chat, thread, msg)
	if err != nil {
		return "", p.fail(ctx, "build reply context", chat.ID, err)
	}
	text, err := llm.Reply(ctx, p.Provider, prompt)
	if err != nil || strings.TrimSpace(text) == "" {
		p.logger.Warn("Reply generation failed, staying silent",
			zap.Int64("chat_id", chat.ID),
			zap.Error(err))
		p.Metrics.ObserveMessage("reply_failed")
		return "", nil
	}
	text = strings.TrimSpace(text)

	sentID, err := p.Sender.SendReply(ctx, chat.ID, msg.TransportID, text)
	if err != nil {
		p.logger.Error("Failed to send reply",
			zap.Int64("chat_id", chat.ID),
			zap.Error(err))
		if p.Alerts != nil {
			p.Alerts.NotifyError(ctx, "transport", err)
		}
		return "", nil
	}

	botMsg := &models.Message{
		ChatID:      chat.ID,
		ThreadID:    msg.ThreadID,
		TransportID: sentID,
		SenderID:    p.cfg.BotID,
		Text:        text,
		FromBot:     true,
	}
	if err := p.Store.SaveMessage(ctx, botMsg); err != nil {
		return text, p.fail(ctx, "save reply", chat.ID, err)
	}
	if err := p.Store.MarkResponded(ctx, msg.ID); err != nil {
		return text, p.fail(ctx, "mark responded", chat.ID, err)
	}
	msg.WasResponded = true
	return text, nil
}

func (p *Pipeline) replyPrompt(ctx context.Context, chat *models.Chat, thread *models.Thread, msg *models.Message) (string, error) {
	rc := ReplyContext{
		BotName:  p.cfg.BotName,
		ChatType: chat.Type,
		Topic:    thread.Topic,
		Inbound:  msg.Text,
	}

	tc, err := p.Store.GetThreadContext(ctx, thread.ID)
	switch {
	case err == nil:
		rc.Summary = tc.Summary
	case !errors.Is(err, storage.ErrNotFound):
		return "", err
	}

	linked, err := p.Store.RelatedThreads(ctx, thread.ID)
	if err != nil {
		return "", err
	}
	for _, t := range linked {
		rc.Related = append(rc.Related, t.Topic)
	}

	history, err := p.Threads.Recent(ctx, thread.ID, p.cfg.ContextMessages+1)
	if err != nil {
		return "", err
	}
	for _, h := range history {
		if h.ID != msg.ID {
			rc.History = append(rc.History, h)
		}
	}
	if len(rc.History) > p.cfg.ContextMessages {
		rc.History = rc.History[len(rc.History)-p.cfg.ContextMessages:]
	}
	return ReplyPrompt(rc), nil
}

// fail logs a persistence failure, alerts the operator and returns it wrapped.
func (p *Pipeline) fail(ctx context.Context, op string, chatID int64, err error) error {
	p.Metrics.ObserveMessage("failed")
	p.logger.Error("Message pipeline step failed",
		zap.String("op", op),
		zap.Int64("chat_id", chatID),
		zap.Error(err))
	if p.Alerts != nil && errors.Is(err, storage.ErrPersistence) {
		p.Alerts.NotifyError(ctx, "db", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
