package pipeline

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xaenox/vailentin/internal/classifier"
	"github.com/xaenox/vailentin/internal/gate"
	"github.com/xaenox/vailentin/internal/llm"
	"github.com/xaenox/vailentin/internal/models"
	"github.com/xaenox/vailentin/internal/related"
	"github.com/xaenox/vailentin/internal/stats"
	"github.com/xaenox/vailentin/internal/storage"
	"github.com/xaenox/vailentin/internal/summarizer"
	"github.com/xaenox/vailentin/internal/tags"
	"github.com/xaenox/vailentin/internal/threads"
	"go.uber.org/zap/zaptest"
)

type fakeProvider struct {
	mu       sync.Mutex
	score    float64
	replyErr error
	prompts  []string
}

func (p *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	switch {
	case strings.HasPrefix(prompt, "Summarize"):
		return "people talk about deploys", nil
	case strings.HasPrefix(prompt, "Analyze the following chat message"):
		return `{"tags":[{"name":"ops","confidence":0.9},{"name":"noise","confidence":0.1}]}`, nil
	}
	if p.replyErr != nil {
		return "", p.replyErr
	}
	return "sounds good", nil
}

func (p *fakeProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 0}, nil
}

func (p *fakeProvider) ScoreImportance(ctx context.Context, text string) (float64, error) {
	return p.score, nil
}

func (p *fakeProvider) replyPrompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, prompt := range p.prompts {
		if strings.HasPrefix(prompt, "You are ") {
			out = append(out, prompt)
		}
	}
	return out
}

type fakeSender struct {
	mu      sync.Mutex
	replies []string
	nextID  int
}

func (s *fakeSender) SendReply(ctx context.Context, chatID int64, replyTo int, text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, text)
	s.nextID++
	return 1000 + s.nextID, nil
}

func newPipeline(t *testing.T, provider *fakeProvider, defaults ChatDefaults) (*Pipeline, *storage.MemoryStorage, *fakeSender) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStorage()
	sender := &fakeSender{}
	p := New(Deps{
		Store:      store,
		Threads:    threads.NewManager(store, nil, logger),
		Classifier: classifier.NewGPTClassifier(provider, 0.5, 5, logger),
		Tags:       tags.NewStore(store, logger),
		Summarizer: summarizer.New(store, provider, 10, logger),
		Related:    related.NewFinder(store, provider, related.DefaultThreshold, logger),
		Gate:       gate.New(provider, []string{"vailentin"}, logger, gate.WithRandom(func() float64 { return 0.5 })),
		Stats:      stats.NewCache(store, time.Minute, nil, logger),
		Provider:   provider,
		Sender:     sender,
		Switch:     &Switch{},
	}, Config{BotID: 777, BotName: "Vailentin", ContextMessages: 3, Defaults: defaults}, logger)
	return p, store, sender
}

func alwaysAnswer() ChatDefaults {
	return ChatDefaults{Type: models.FriendlyChat, ResponseProbability: 1.0, ImportanceThreshold: 0.5}
}

func TestProbabilityOneAnswersEveryMessage(t *testing.T) {
	p, store, sender := newPipeline(t, &fakeProvider{}, alwaysAnswer())
	ctx := context.Background()

	for i, text := range []string{"morning all", "deploy is done", "lunch soon"} {
		out, err := p.HandleMessage(ctx, Inbound{ChatID: 10, SenderID: 1, TransportID: i + 1, Text: text})
		if err != nil {
			t.Fatal(err)
		}
		if !out.Decision.Respond || out.Reply != "sounds good" {
			t.Fatalf("message %q: outcome %+v", text, out)
		}
	}
	if len(sender.replies) != 3 {
		t.Fatalf("sent %d replies, want 3", len(sender.replies))
	}

	total, responded, err := store.ResponseWindow(ctx, 10, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || responded != 3 {
		t.Fatalf("window = %d/%d, want 3/3 without bot replies", responded, total)
	}

	active, _ := store.ActiveThreads(ctx, 10)
	if len(active) != 1 {
		t.Fatalf("%d active threads", len(active))
	}
	msgs, _ := store.RecentThreadMessages(ctx, active[0].ID, 0)
	if len(msgs) != 6 {
		t.Fatalf("thread holds %d messages, want 3 inbound and 3 replies", len(msgs))
	}
	last := msgs[len(msgs)-1]
	if !last.FromBot || last.SenderID != 777 || last.TransportID == 0 {
		t.Fatalf("bot reply stored as %+v", last)
	}
}

func TestReplyPromptCarriesContext(t *testing.T) {
	provider := &fakeProvider{}
	p, _, _ := newPipeline(t, provider, alwaysAnswer())
	ctx := context.Background()

	for _, text := range []string{"first note", "second note"} {
		if _, err := p.HandleMessage(ctx, Inbound{ChatID: 10, SenderID: 1, Text: text}); err != nil {
			t.Fatal(err)
		}
	}
	prompts := provider.replyPrompts()
	if len(prompts) != 2 {
		t.Fatalf("%d reply prompts", len(prompts))
	}
	last := prompts[1]
	for _, want := range []string{
		"Chat type: friendly",
		StyleHint(models.FriendlyChat),
		"Thread topic: " + models.DefaultTopic,
		"Thread summary: people talk about deploys",
		"User: first note",
		"Vailentin: sounds good",
		"Current message: second note",
	} {
		if !strings.Contains(last, want) {
			t.Errorf("prompt lacks %q:\n%s", want, last)
		}
	}
	if strings.Contains(last, "User: second note") {
		t.Error("current message repeated in history")
	}
}

func TestSilentChatRecordsWithoutReplying(t *testing.T) {
	p, store, sender := newPipeline(t, &fakeProvider{}, alwaysAnswer())
	ctx := context.Background()
	if _, err := p.UpdateChat(ctx, 10, func(c *models.Chat) { c.IsSilent = true }); err != nil {
		t.Fatal(err)
	}

	out, err := p.HandleMessage(ctx, Inbound{ChatID: 10, SenderID: 1, Text: "vailentin, urgent?"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Decision.Respond || out.Decision.Reason != gate.ReasonSilent {
		t.Fatalf("decision = %+v", out.Decision)
	}
	if len(sender.replies) != 0 {
		t.Fatal("silent chat answered")
	}
	if !out.Message.ThreadID.Valid {
		t.Fatal("message not threaded")
	}
	tc, err := store.GetThreadContext(ctx, out.Thread.ID)
	if err != nil || tc.Summary == "" {
		t.Fatalf("silent chat not summarized: %v %+v", err, tc)
	}
}

func TestDisabledChatIsNotRecorded(t *testing.T) {
	p, store, _ := newPipeline(t, &fakeProvider{}, alwaysAnswer())
	ctx := context.Background()
	if _, err := p.UpdateChat(ctx, 10, func(c *models.Chat) { c.IsDisabled = true }); err != nil {
		t.Fatal(err)
	}

	out, err := p.HandleMessage(ctx, Inbound{ChatID: 10, SenderID: 1, Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Message != nil || out.Decision.Reason != gate.ReasonDisabled {
		t.Fatalf("outcome = %+v", out)
	}
	msgs, _ := store.MessagesSince(ctx, 10, time.Time{})
	if len(msgs) != 0 {
		t.Fatalf("%d messages stored for a disabled chat", len(msgs))
	}
}

func TestShutdownSwitchStopsEverything(t *testing.T) {
	p, store, sender := newPipeline(t, &fakeProvider{}, alwaysAnswer())
	ctx := context.Background()
	p.Switch.Shutdown()

	if _, err := p.HandleMessage(ctx, Inbound{ChatID: 10, SenderID: 1, Text: "vailentin?"}); err != nil {
		t.Fatal(err)
	}
	if len(sender.replies) != 0 {
		t.Fatal("answered during shutdown")
	}
	if chats, _ := store.ListChats(ctx); len(chats) != 0 {
		t.Fatal("chat recorded during shutdown")
	}

	p.Switch.Resume()
	if _, err := p.HandleMessage(ctx, Inbound{ChatID: 10, SenderID: 1, Text: "back"}); err != nil {
		t.Fatal(err)
	}
	if len(sender.replies) != 1 {
		t.Fatal("not answering after resume")
	}
}

func TestQuotaErrorSendsPlaceholder(t *testing.T) {
	p, _, sender := newPipeline(t, &fakeProvider{replyErr: llm.ErrQuotaExceeded}, alwaysAnswer())

	out, err := p.HandleMessage(context.Background(), Inbound{ChatID: 10, SenderID: 1, Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Reply != llm.QuotaPlaceholder || len(sender.replies) != 1 {
		t.Fatalf("reply = %q, sent %v", out.Reply, sender.replies)
	}
}

func TestTagsKeepProvenance(t *testing.T) {
	p, store, _ := newPipeline(t, &fakeProvider{}, alwaysAnswer())
	ctx := context.Background()

	out, err := p.HandleMessage(ctx, Inbound{ChatID: 10, SenderID: 1, Text: "release notes #Deploy"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := store.MessageTags(ctx, out.Message.ID)
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, tag := range got {
		names[tag.Name] = true
	}
	if !names["deploy"] || !names["ops"] || names["noise"] {
		t.Fatalf("tags = %v", names)
	}
}

func TestSmartModeStoresScore(t *testing.T) {
	defaults := ChatDefaults{SmartMode: true, ImportanceThreshold: 0.8}
	p, store, sender := newPipeline(t, &fakeProvider{score: 0.79}, defaults)
	ctx := context.Background()

	out, err := p.HandleMessage(ctx, Inbound{ChatID: 10, SenderID: 1, Text: "fyi the build is green"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Decision.Respond || len(sender.replies) != 0 {
		t.Fatal("answered below threshold")
	}
	tc, err := store.GetThreadContext(ctx, out.Thread.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tc.ImportanceScore != 0.79 {
		t.Fatalf("importance score = %v", tc.ImportanceScore)
	}
}

func TestMembership(t *testing.T) {
	p, store, _ := newPipeline(t, &fakeProvider{}, alwaysAnswer())
	ctx := context.Background()

	if err := p.HandleMembership(ctx, 10, "team", true); err != nil {
		t.Fatal(err)
	}
	chat, err := store.GetChat(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if chat.Title != "team" || chat.Type != models.FriendlyChat || chat.ResponseProbability != 1.0 {
		t.Fatalf("seeded chat = %+v", chat)
	}

	if _, err := p.HandleMessage(ctx, Inbound{ChatID: 10, SenderID: 1, Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	if err := p.HandleMembership(ctx, 10, "team", false); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetChat(ctx, 10); err == nil {
		t.Fatal("chat survived removal")
	}
	if active, _ := store.ActiveThreads(ctx, 10); len(active) != 0 {
		t.Fatal("threads survived removal")
	}
}

func TestStartThreadRotates(t *testing.T) {
	p, store, _ := newPipeline(t, &fakeProvider{}, alwaysAnswer())
	ctx := context.Background()

	out, err := p.HandleMessage(ctx, Inbound{ChatID: 10, SenderID: 1, Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	next, err := p.StartThread(ctx, 10, "Release planning")
	if err != nil {
		t.Fatal(err)
	}
	if next.ID == out.Thread.ID || next.Topic != "Release planning" {
		t.Fatalf("thread = %+v", next)
	}
	active, _ := store.ActiveThreads(ctx, 10)
	if len(active) != 1 || active[0].ID != next.ID {
		t.Fatalf("active threads = %v", active)
	}
}

func TestOperatorValidation(t *testing.T) {
	p, store, _ := newPipeline(t, &fakeProvider{}, alwaysAnswer())
	ctx := context.Background()

	if err := p.SetThreshold(ctx, 10, 1.5); err == nil {
		t.Error("threshold 1.5 accepted")
	}
	if _, err := p.SetProbability(ctx, 10, -0.1); err == nil {
		t.Error("probability -0.1 accepted")
	}
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if err := p.SetThreshold(ctx, 10, v); err == nil {
			t.Errorf("threshold %v accepted", v)
		}
		if _, err := p.SetProbability(ctx, 10, v); err == nil {
			t.Errorf("probability %v accepted", v)
		}
	}
	if err := p.SetThreshold(ctx, 10, 0.65); err != nil {
		t.Fatal(err)
	}
	chat, _ := store.GetChat(ctx, 10)
	if chat.ImportanceThreshold != 0.65 {
		t.Fatalf("threshold = %v", chat.ImportanceThreshold)
	}
}
