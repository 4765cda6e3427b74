package storage

import (
    "context"
    "fmt"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/xaenox/vailentin/internal/models"
)

type tagKey struct {
    messageID int64
    tagID     uuid.UUID
}

// MemoryStorage keeps everything in process memory. A single mutex makes
// every method atomic, which is what RotateThread and the threshold
// adjustment rely on.
type MemoryStorage struct {
    mu          sync.RWMutex
    now         func() time.Time
    chats       map[int64]*models.Chat
    threads     map[uuid.UUID]*models.Thread
    relations   map[uuid.UUID]map[uuid.UUID]struct{}
    messages    map[int64]*models.Message
    nextMsgID   int64
    tags        map[string]*models.Tag
    messageTags map[tagKey]*models.MessageTag
    contexts    map[uuid.UUID]*models.ThreadContext
    stats       []*models.AggregateStats
}

// systemTags mirrors the reserved vocabulary seeded by migrations.sql.
var systemTags = []models.Tag{
    {ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Name: "question", Description: "Message asks something", IsSystem: true},
    {ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Name: "idea", Description: "Message proposes something", IsSystem: true},
    {ID: uuid.MustParse("00000000-0000-0000-0000-000000000003"), Name: "urgent", Description: "Message needs attention soon", IsSystem: true},
}

func NewMemoryStorage() *MemoryStorage {
    s := &MemoryStorage{
        now:         time.Now,
        chats:       make(map[int64]*models.Chat),
        threads:     make(map[uuid.UUID]*models.Thread),
        relations:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
        messages:    make(map[int64]*models.Message),
        tags:        make(map[string]*models.Tag),
        messageTags: make(map[tagKey]*models.MessageTag),
        contexts:    make(map[uuid.UUID]*models.ThreadContext),
    }
    for _, tag := range systemTags {
        t := tag
        t.CreatedAt = s.now()
        s.tags[strings.ToLower(t.Name)] = &t
    }
    return s
}

// SetClock replaces the time source used for generated timestamps.
func (s *MemoryStorage) SetClock(now func() time.Time) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.now = now
}

// Chat methods

func (s *MemoryStorage) GetChat(ctx context.Context, chatID int64) (*models.Chat, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()

    chat, exists := s.chats[chatID]
    if !exists {
        return nil, ErrNotFound
    }
    c := *chat
    return &c, nil
}

func (s *MemoryStorage) EnsureChat(ctx context.Context, chat *models.Chat) (*models.Chat, error) {
    s.mu.Lock()
    defer s.mu.Unlock()

    if existing, exists := s.chats[chat.ID]; exists {
        c := *existing
        return &c, nil
    }
    c := *chat
    now := s.now()
    c.CreatedAt = now
    c.UpdatedAt = now
    s.chats[c.ID] = &c
    out := c
    return &out, nil
}

func (s *MemoryStorage) ListChats(ctx context.Context) ([]*models.Chat, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()

    chats := make([]*models.Chat, 0, len(s.chats))
    for _, chat := range s.chats {
        c := *chat
        chats = append(chats, &c)
    }
    sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })
    return chats, nil
}

func (s *MemoryStorage) UpdateChatSettings(ctx context.Context, chat *models.Chat) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    existing, exists := s.chats[chat.ID]
    if !exists {
        return ErrNotFound
    }
    existing.Title = chat.Title
    existing.Type = chat.Type
    existing.IsSilent = chat.IsSilent
    existing.IsDisabled = chat.IsDisabled
    existing.SmartMode = chat.SmartMode
    existing.ResponseProbability = chat.ResponseProbability
    existing.UpdatedAt = s.now()
    return nil
}

func (s *MemoryStorage) ModifyChatSettings(ctx context.Context, chatID int64, change func(*models.Chat)) (*models.Chat, *models.Chat, error) {
    s.mu.Lock()
    defer s.mu.Unlock()

    existing, exists := s.chats[chatID]
    if !exists {
        return nil, nil, ErrNotFound
    }
    before := *existing
    after := *existing
    change(&after)

    existing.Title = after.Title
    existing.Type = after.Type
    existing.IsSilent = after.IsSilent
    existing.IsDisabled = after.IsDisabled
    existing.SmartMode = after.SmartMode
    existing.ResponseProbability = after.ResponseProbability
    existing.UpdatedAt = s.now()
    stored := *existing
    return &before, &stored, nil
}

func (s *MemoryStorage) SetImportanceThreshold(ctx context.Context, chatID int64, threshold float64) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    chat, exists := s.chats[chatID]
    if !exists {
        return ErrNotFound
    }
    chat.ImportanceThreshold = threshold
    chat.UpdatedAt = s.now()
    return nil
}

func (s *MemoryStorage) AdjustImportanceThreshold(ctx context.Context, chatID int64, adjust func(float64) float64) (float64, float64, error) {
    s.mu.Lock()
    defer s.mu.Unlock()

    chat, exists := s.chats[chatID]
    if !exists {
        return 0, 0, ErrNotFound
    }
    before := chat.ImportanceThreshold
    after := adjust(before)
    if after != before {
        chat.ImportanceThreshold = after
        chat.UpdatedAt = s.now()
    }
    return before, after, nil
}

func (s *MemoryStorage) TouchSummary(ctx context.Context, chatID int64, at time.Time) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    chat, exists := s.chats[chatID]
    if !exists {
        return ErrNotFound
    }
    chat.LastSummaryAt = &at
    return nil
}

func (s *MemoryStorage) DeleteChat(ctx context.Context, chatID int64) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    delete(s.chats, chatID)
    for id, thread := range s.threads {
        if thread.ChatID == chatID {
            delete(s.threads, id)
            delete(s.contexts, id)
            delete(s.relations, id)
        }
    }
    for id, msg := range s.messages {
        if msg.ChatID == chatID {
            delete(s.messages, id)
        }
    }
    for key := range s.messageTags {
        if _, exists := s.messages[key.messageID]; !exists {
            delete(s.messageTags, key)
        }
    }
    return nil
}

// Thread methods

func (s *MemoryStorage) GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()

    thread, exists := s.threads[id]
    if !exists {
        return nil, ErrNotFound
    }
    t := *thread
    return &t, nil
}

func (s *MemoryStorage) ActiveThreads(ctx context.Context, chatID int64) ([]*models.Thread, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()

    var active []*models.Thread
    for _, thread := range s.threads {
        if thread.ChatID == chatID && thread.IsActive {
            t := *thread
            active = append(active, &t)
        }
    }
    sortNewestFirst(active)
    return active, nil
}

func (s *MemoryStorage) ChatThreads(ctx context.Context, chatID int64, limit int) ([]*models.Thread, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()

    var threads []*models.Thread
    for _, thread := range s.threads {
        if thread.ChatID == chatID {
            t := *thread
            threads = append(threads, &t)
        }
    }
    sortNewestFirst(threads)
    if limit > 0 && len(threads) > limit {
        threads = threads[:limit]
    }
    return threads, nil
}

func (s *MemoryStorage) RotateThread(ctx context.Context, thread *models.Thread) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    if _, exists := s.chats[thread.ChatID]; !exists {
        return wrapErr("rotate thread", fmt.Errorf("chat %d: %w", thread.ChatID, ErrNotFound))
    }
    if _, exists := s.threads[thread.ID]; exists {
        return wrapErr("rotate thread", fmt.Errorf("thread %s already exists", thread.ID))
    }

    now := s.now()
    for _, other := range s.threads {
        if other.ChatID == thread.ChatID && other.IsActive {
            other.IsActive = false
            other.UpdatedAt = now
        }
    }
    if thread.CreatedAt.IsZero() {
        thread.CreatedAt = now
    }
    thread.UpdatedAt = now
    thread.IsActive = true
    t := *thread
    s.threads[t.ID] = &t
    return nil
}

func (s *MemoryStorage) DeactivateThread(ctx context.Context, id uuid.UUID) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    thread, exists := s.threads[id]
    if !exists {
        return ErrNotFound
    }
    if thread.IsActive {
        thread.IsActive = false
        thread.UpdatedAt = s.now()
    }
    return nil
}

func (s *MemoryStorage) LinkThreads(ctx context.Context, a, b uuid.UUID) error {
    if a == b {
        return nil
    }
    s.mu.Lock()
    defer s.mu.Unlock()

    for _, id := range []uuid.UUID{a, b} {
        if _, exists := s.threads[id]; !exists {
            return ErrNotFound
        }
    }
    s.link(a, b)
    s.link(b, a)
    return nil
}

func (s *MemoryStorage) link(from, to uuid.UUID) {
    set, exists := s.relations[from]
    if !exists {
        set = make(map[uuid.UUID]struct{})
        s.relations[from] = set
    }
    set[to] = struct{}{}
}

func (s *MemoryStorage) RelatedThreads(ctx context.Context, id uuid.UUID) ([]*models.Thread, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()

    var related []*models.Thread
    for otherID := range s.relations[id] {
        if thread, exists := s.threads[otherID]; exists {
            t := *thread
            related = append(related, &t)
        }
    }
    sortNewestFirst(related)
    return related, nil
}

func sortNewestFirst(threads []*models.Thread) {
    sort.Slice(threads, func(i, j int) bool {
        if threads[i].CreatedAt.Equal(threads[j].CreatedAt) {
            return threads[i].ID.String() > threads[j].ID.String()
        }
        return threads[i].CreatedAt.After(threads[j].CreatedAt)
    })
}

// Message methods

func (s *MemoryStorage) SaveMessage(ctx context.Context, msg *models.Message) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    if _, exists := s.chats[msg.ChatID]; !exists {
        return wrapErr("save message", fmt.Errorf("chat %d: %w", msg.ChatID, ErrNotFound))
    }
    s.nextMsgID++
    msg.ID = s.nextMsgID
    if msg.CreatedAt.IsZero() {
        msg.CreatedAt = s.now()
    }
    m := *msg
    s.messages[m.ID] = &m
    return nil
}

func (s *MemoryStorage) AssignThread(ctx context.Context, messageID int64, threadID uuid.UUID) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    msg, exists := s.messages[messageID]
    if !exists {
        return ErrNotFound
    }
    if !msg.ThreadID.Valid {
        msg.ThreadID = uuid.NullUUID{UUID: threadID, Valid: true}
    }
    return nil
}

func (s *MemoryStorage) MarkResponded(ctx context.Context, messageID int64) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    msg, exists := s.messages[messageID]
    if !exists {
        return ErrNotFound
    }
    msg.WasResponded = true
    return nil
}

func (s *MemoryStorage) MessageByTransportID(ctx context.Context, chatID int64, transportID int) (*models.Message, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()

    var found *models.Message
    for _, msg := range s.messages {
        if msg.ChatID != chatID || msg.TransportID != transportID {
            continue
        }
        if found == nil || msg.ID > found.ID {
            found = msg
        }
    }
    if found == nil {
        return nil, ErrNotFound
    }
    m := *found
    return &m, nil
}

func (s *MemoryStorage) RecentThreadMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]*models.Message, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()

    var msgs []*models.Message
    for _, msg := range s.messages {
        if msg.ThreadID.Valid && msg.ThreadID.UUID == threadID {
            m := *msg
            msgs = append(msgs, &m)
        }
    }
    sortChronological(msgs)
    if limit > 0 && len(msgs) > limit {
        msgs = msgs[len(msgs)-limit:]
    }
    return msgs, nil
}

func (s *MemoryStorage) CountThreadMessages(ctx context.Context, threadID uuid.UUID) (int, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()

    count := 0
    for _, msg := range s.messages {
        if msg.ThreadID.Valid && msg.ThreadID.UUID == threadID {
            count++
        }
    }
    return count, nil
}

func (s *MemoryStorage) MessagesSince(ctx context.Context, chatID int64, since time.Time) ([]*models.Message, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()

    var msgs []*models.Message
    for _, msg := range s.messages {
        if msg.ChatID == chatID && !msg.CreatedAt.Before(since) {
            m := *msg
            msgs = append(msgs, &m)
        }
    }
    sortChronological(msgs)
    return msgs, nil
}

func (s *MemoryStorage) ResponseWindow(ctx context.Context, chatID int64, since time.Time) (int, int, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()

    total, responded := 0, 0
    for _, msg := range s.messages {
        if msg.ChatID != chatID || msg.FromBot || msg.CreatedAt.Before(since) {
            continue
        }
        total++
        if msg.WasResponded {
            responded++
        }
    }
    return total, responded, nil
}

func sortChronological(msgs []*models.Message) {
    sort.Slice(msgs, func(i, j int) bool {
        if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
            return msgs[i].ID < msgs[j].ID
        }
        return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
    })
}

// Tag methods

func (s *MemoryStorage) GetOrCreateTag(ctx context.Context, name string) (*models.Tag, error) {
    s.mu.Lock()
    defer s.mu.Unlock()

    key := strings.ToLower(name)
    if tag, exists := s.tags[key]; exists {
        t := *tag
        return &t, nil
    }
    tag := &models.Tag{
        ID:        uuid.New(),
        Name:      name,
        CreatedAt: s.now(),
    }
    s.tags[key] = tag
    t := *tag
    return &t, nil
}

func (s *MemoryStorage) AttachTag(ctx context.Context, mt *models.MessageTag) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    if _, exists := s.messages[mt.MessageID]; !exists {
        return wrapErr("attach tag", fmt.Errorf("message %d: %w", mt.MessageID, ErrNotFound))
    }
    key := tagKey{messageID: mt.MessageID, tagID: mt.TagID}
    if _, exists := s.messageTags[key]; exists {
        return nil
    }
    if mt.ID == uuid.Nil {
        mt.ID = uuid.New()
    }
    if mt.CreatedAt.IsZero() {
        mt.CreatedAt = s.now()
    }
    m := *mt
    s.messageTags[key] = &m
    return nil
}

func (s *MemoryStorage) MessageTags(ctx context.Context, messageID int64) ([]*models.Tag, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()

    var tags []*models.Tag
    for _, tag := range s.tags {
        if _, exists := s.messageTags[tagKey{messageID: messageID, tagID: tag.ID}]; exists {
            t := *tag
            tags = append(tags, &t)
        }
    }
    sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
    return tags, nil
}

func (s *MemoryStorage) DetachTag(ctx context.Context, messageID int64, name string) (bool, error) {
    s.mu.Lock()
    defer s.mu.Unlock()

    tag, exists := s.tags[strings.ToLower(name)]
    if !exists {
        return false, nil
    }
    key := tagKey{messageID: messageID, tagID: tag.ID}
    if _, exists := s.messageTags[key]; !exists {
        return false, nil
    }
    delete(s.messageTags, key)
    return true, nil
}

// Context methods

func (s *MemoryStorage) GetThreadContext(ctx context.Context, threadID uuid.UUID) (*models.ThreadContext, error) {
    s.mu.RLock()
    defer s.mu.RUnlock()

    tc, exists := s.contexts[threadID]
    if !exists {
        return nil, ErrNotFound
    }
    c := *tc
    return &c, nil
}

func (s *MemoryStorage) contextFor(threadID uuid.UUID) *models.ThreadContext {
    tc, exists := s.contexts[threadID]
    if !exists {
        now := s.now()
        tc = &models.ThreadContext{
            ID:        uuid.New(),
            ThreadID:  threadID,
            CreatedAt: now,
        }
        s.contexts[threadID] = tc
    }
    return tc
}

func (s *MemoryStorage) UpsertContextSummary(ctx context.Context, threadID uuid.UUID, summary string, messageCount int) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    if _, exists := s.threads[threadID]; !exists {
        return ErrNotFound
    }
    tc := s.contextFor(threadID)
    tc.Summary = summary
    tc.MessageCount = messageCount
    tc.UpdatedAt = s.now()
    return nil
}

func (s *MemoryStorage) SetImportanceScore(ctx context.Context, threadID uuid.UUID, score float64) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    if _, exists := s.threads[threadID]; !exists {
        return ErrNotFound
    }
    tc := s.contextFor(threadID)
    tc.ImportanceScore = score
    tc.UpdatedAt = s.now()
    return nil
}

// Stats methods

func (s *MemoryStorage) SaveStats(ctx context.Context, stats *models.AggregateStats) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    st := *stats
    s.stats = append(s.stats, &st)
    return nil
}

// StatsSnapshots returns every snapshot saved for chatID, oldest first.
func (s *MemoryStorage) StatsSnapshots(chatID int64) []*models.AggregateStats {
    s.mu.RLock()
    defer s.mu.RUnlock()

    var out []*models.AggregateStats
    for _, st := range s.stats {
        if st.ChatID == chatID {
            out = append(out, st)
        }
    }
    return out
}

func (s *MemoryStorage) Close() error {
    // Nothing to close for in-memory storage
    return nil
}
