package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xaenox/vailentin/internal/models"
	"go.uber.org/zap/zaptest"
)

// openTestPostgres connects to TEST_DATABASE_URL or skips the test.
func openTestPostgres(t *testing.T) *PostgresStorage {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := OpenPostgres(dsn, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testChatID picks an ID unlikely to collide with other runs against the same database.
func testChatID(t *testing.T, s *PostgresStorage) int64 {
	t.Helper()
	id := -time.Now().UnixNano()
	t.Cleanup(func() { s.DeleteChat(context.Background(), id) })
	return id
}

func TestPostgresRotateThreadConcurrently(t *testing.T) {
	ctx := context.Background()
	s := openTestPostgres(t)
	chatID := testChatID(t, s)
	seedChat(t, s, chatID)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.RotateThread(ctx, &models.Thread{ID: uuid.New(), ChatID: chatID, Topic: models.DefaultTopic}); err != nil {
				t.Errorf("RotateThread: %v", err)
			}
		}()
	}
	wg.Wait()

	active, err := s.ActiveThreads(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Fatalf("%d active threads after concurrent rotation", len(active))
	}
}

func TestPostgresMessagesTagsAndWindow(t *testing.T) {
	ctx := context.Background()
	s := openTestPostgres(t)
	chatID := testChatID(t, s)
	seedChat(t, s, chatID)

	thread := &models.Thread{ID: uuid.New(), ChatID: chatID, Topic: "release"}
	if err := s.RotateThread(ctx, thread); err != nil {
		t.Fatal(err)
	}
	since := time.Now().UTC().Add(-time.Minute)

	human := &models.Message{ChatID: chatID, TransportID: 1, SenderID: 10, Text: "ship it?"}
	if err := s.SaveMessage(ctx, human); err != nil {
		t.Fatal(err)
	}
	if err := s.AssignThread(ctx, human.ID, thread.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkResponded(ctx, human.ID); err != nil {
		t.Fatal(err)
	}
	bot := &models.Message{ChatID: chatID, TransportID: 2, SenderID: 99, Text: "yes", FromBot: true,
		ThreadID: uuid.NullUUID{UUID: thread.ID, Valid: true}}
	if err := s.SaveMessage(ctx, bot); err != nil {
		t.Fatal(err)
	}

	total, responded, err := s.ResponseWindow(ctx, chatID, since)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || responded != 1 {
		t.Fatalf("window = %d/%d, want 1/1", responded, total)
	}

	recent, err := s.RecentThreadMessages(ctx, thread.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != human.ID {
		t.Fatalf("recent = %+v", recent)
	}

	tag, err := s.GetOrCreateTag(ctx, "Question")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.AttachTag(ctx, &models.MessageTag{MessageID: human.ID, TagID: tag.ID, IsAuto: true, Confidence: 1}); err != nil {
			t.Fatal(err)
		}
	}
	if tags, _ := s.MessageTags(ctx, human.ID); len(tags) != 1 {
		t.Fatalf("tags = %+v", tags)
	}

	if err := s.SetImportanceScore(ctx, thread.ID, 0.7); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertContextSummary(ctx, thread.ID, "shipping", 2); err != nil {
		t.Fatal(err)
	}
	tc, err := s.GetThreadContext(ctx, thread.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tc.Summary != "shipping" || tc.ImportanceScore != 0.7 {
		t.Fatalf("context = %+v", tc)
	}

	if err := s.DeleteChat(ctx, chatID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetThread(ctx, thread.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("thread survived chat delete: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(errors.New("duplicate")) {
		t.Fatal("plain error treated as unique violation")
	}
	wrapped := wrapErr("rotate thread", &pq.Error{Code: "23505"})
	if !IsUniqueViolation(wrapped) {
		t.Fatal("wrapped unique violation not recognized")
	}
}

func TestPostgresModifyChatSettingsConcurrently(t *testing.T) {
	ctx := context.Background()
	s := openTestPostgres(t)
	chatID := testChatID(t, s)
	seedChat(t, s, chatID)

	const toggles = 9
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.ModifyChatSettings(ctx, chatID, func(c *models.Chat) { c.IsSilent = !c.IsSilent }); err != nil {
				t.Errorf("ModifyChatSettings: %v", err)
			}
		}()
	}
	wg.Wait()

	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if !chat.IsSilent {
		t.Fatal("an odd number of toggles left the chat talking")
	}
}

func TestPostgresThreadListingAndTagDetach(t *testing.T) {
	ctx := context.Background()
	s := openTestPostgres(t)
	chatID := testChatID(t, s)
	seedChat(t, s, chatID)

	first := &models.Thread{ID: uuid.New(), ChatID: chatID, Topic: "a", CreatedAt: time.Now().UTC().Add(-time.Minute)}
	second := &models.Thread{ID: uuid.New(), ChatID: chatID, Topic: "b", CreatedAt: time.Now().UTC()}
	for _, th := range []*models.Thread{first, second} {
		if err := s.RotateThread(ctx, th); err != nil {
			t.Fatal(err)
		}
	}
	threads, err := s.ChatThreads(ctx, chatID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(threads) != 2 || threads[0].ID != second.ID {
		t.Fatalf("threads = %+v", threads)
	}

	msg := &models.Message{ChatID: chatID, TransportID: 31, SenderID: 1, Text: "tag me"}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	found, err := s.MessageByTransportID(ctx, chatID, 31)
	if err != nil || found.ID != msg.ID {
		t.Fatalf("lookup = %+v, %v", found, err)
	}
	tag, err := s.GetOrCreateTag(ctx, "release")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AttachTag(ctx, &models.MessageTag{MessageID: msg.ID, TagID: tag.ID, Confidence: 1}); err != nil {
		t.Fatal(err)
	}
	if removed, err := s.DetachTag(ctx, msg.ID, "RELEASE"); err != nil || !removed {
		t.Fatalf("detach = %v, %v", removed, err)
	}
	if removed, _ := s.DetachTag(ctx, msg.ID, "release"); removed {
		t.Fatal("second detach reported a removal")
	}
}
