package pipeline

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/xaenox/vailentin/internal/models"
	"github.com/xaenox/vailentin/internal/storage"
)

type styleChange struct {
	chatID        int64
	before, after models.ChatType
}

type recordingAlerts struct {
	mu      sync.Mutex
	errs    []string
	changes []styleChange
}

func (a *recordingAlerts) NotifyError(ctx context.Context, subject string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, subject)
}

func (a *recordingAlerts) NotifyStyleChange(ctx context.Context, chatID int64, before, after models.ChatType) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.changes = append(a.changes, styleChange{chatID: chatID, before: before, after: after})
	return before != after
}

// steppingClock hands out strictly increasing timestamps.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestCloseThreadInfoAndList(t *testing.T) {
	p, store, _ := newPipeline(t, &fakeProvider{}, alwaysAnswer())
	store.SetClock(steppingClock())
	ctx := context.Background()

	if info, err := p.ThreadInfo(ctx, 10); err != nil || info != nil {
		t.Fatalf("info before any thread = %+v, %v", info, err)
	}
	for i, sender := range []int64{1, 2} {
		if _, err := p.HandleMessage(ctx, Inbound{ChatID: 10, SenderID: sender, TransportID: i + 1, Text: "deploy today?"}); err != nil {
			t.Fatal(err)
		}
	}

	info, err := p.ThreadInfo(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if info == nil || info.MessageCount != 4 || info.UserCount != 2 {
		t.Fatalf("info = %+v, want 2 messages and 2 replies from 2 users", info)
	}
	if info.Duration <= 0 {
		t.Fatalf("duration = %v", info.Duration)
	}
	first := info.Thread

	closed, err := p.CloseThread(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if closed == nil || closed.ID != first.ID {
		t.Fatalf("closed = %+v, want %s", closed, first.ID)
	}
	if info, _ := p.ThreadInfo(ctx, 10); info != nil {
		t.Fatalf("active thread after close: %+v", info.Thread)
	}
	if again, err := p.CloseThread(ctx, 10); err != nil || again != nil {
		t.Fatalf("second close = %+v, %v", again, err)
	}

	if _, err := p.HandleMessage(ctx, Inbound{ChatID: 10, SenderID: 1, TransportID: 3, Text: "new day"}); err != nil {
		t.Fatal(err)
	}
	listed, err := p.ListThreads(ctx, 10, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 2 || listed[1].Thread.ID != first.ID {
		t.Fatalf("listed = %+v", listed)
	}
	if !listed[0].Thread.IsActive || listed[0].MessageCount != 2 {
		t.Fatalf("newest thread = %+v", listed[0])
	}
}

func TestTagCommands(t *testing.T) {
	p, _, _ := newPipeline(t, &fakeProvider{}, alwaysAnswer())
	ctx := context.Background()

	if _, err := p.HandleMessage(ctx, Inbound{ChatID: 10, SenderID: 1, TransportID: 5, Text: "release tomorrow"}); err != nil {
		t.Fatal(err)
	}

	names, err := p.TagMessage(ctx, 10, 5, "#Release", "blocker")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(names, "release") || !slices.Contains(names, "blocker") {
		t.Fatalf("tags after add = %q", names)
	}

	removed, err := p.UntagMessage(ctx, 10, 5, "release")
	if err != nil || !removed {
		t.Fatalf("untag = %v, %v", removed, err)
	}
	names, err = p.MessageTags(ctx, 10, 5)
	if err != nil {
		t.Fatal(err)
	}
	if slices.Contains(names, "release") || !slices.Contains(names, "blocker") {
		t.Fatalf("tags after remove = %q", names)
	}

	if _, err := p.TagMessage(ctx, 10, 99, "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("tagging an unknown message = %v", err)
	}
	if _, err := p.MessageTags(ctx, 11, 5); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("message found in another chat: %v", err)
	}
}

func TestConcurrentSilentTogglesAllApply(t *testing.T) {
	p, store, _ := newPipeline(t, &fakeProvider{}, alwaysAnswer())
	ctx := context.Background()

	const toggles = 51
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.UpdateChat(ctx, 10, func(c *models.Chat) { c.IsSilent = !c.IsSilent }); err != nil {
				t.Errorf("UpdateChat: %v", err)
			}
		}()
	}
	wg.Wait()

	chat, err := store.GetChat(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !chat.IsSilent {
		t.Fatal("an odd number of toggles left the chat talking; some toggles were lost")
	}
}

func TestSetChatTypeAlertsOnChange(t *testing.T) {
	p, _, _ := newPipeline(t, &fakeProvider{}, alwaysAnswer())
	alerts := &recordingAlerts{}
	p.Alerts = alerts
	ctx := context.Background()

	chat, err := p.SetChatType(ctx, 10, models.WorkChat)
	if err != nil {
		t.Fatal(err)
	}
	if chat.Type != models.WorkChat {
		t.Fatalf("type = %s", chat.Type)
	}
	if _, err := p.SetChatType(ctx, 10, models.WorkChat); err != nil {
		t.Fatal(err)
	}

	want := []styleChange{
		{chatID: 10, before: models.FriendlyChat, after: models.WorkChat},
		{chatID: 10, before: models.WorkChat, after: models.WorkChat},
	}
	if !slices.Equal(alerts.changes, want) {
		t.Fatalf("changes = %+v, want %+v", alerts.changes, want)
	}
}
