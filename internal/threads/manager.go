// Package threads owns the one-active-thread-per-chat invariant.
package threads

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/xaenox/vailentin/internal/metrics"
	"github.com/xaenox/vailentin/internal/models"
	"github.com/xaenox/vailentin/internal/storage"
	"go.uber.org/zap"
)

// Manager opens, closes and looks up threads. Mutations for one chat are
// serialized in-process; different chats proceed in parallel. Running more
// than one process against the same store needs a distributed lock instead.
type Manager struct {
	store   storage.Storage
	locks   *chatLocks
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewManager(store storage.Storage, m *metrics.Metrics, logger *zap.Logger) *Manager {
	return &Manager{
		store:   store,
		locks:   newChatLocks(),
		metrics: m,
		logger:  logger,
	}
}

// GetOrCreateActive returns the chat's active thread. A non-empty topic,
// or the absence of an active thread, opens a new thread and retires the
// previous one in the same transaction.
func (m *Manager) GetOrCreateActive(ctx context.Context, chatID int64, topic string) (*models.Thread, error) {
	unlock := m.locks.lock(chatID)
	defer unlock()
	return m.getOrCreateLocked(ctx, chatID, topic)
}

func (m *Manager) getOrCreateLocked(ctx context.Context, chatID int64, topic string) (*models.Thread, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		current, err := m.current(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if current != nil {
			return current, nil
		}
		topic = models.DefaultTopic
	}

	thread := &models.Thread{
		ID:     uuid.New(),
		ChatID: chatID,
		Topic:  topic,
	}
	if err := m.store.RotateThread(ctx, thread); err != nil {
		if storage.IsUniqueViolation(err) {
			m.logger.Warn("Concurrent thread rotation from another writer",
				zap.Int64("chat_id", chatID))
		}
		return nil, fmt.Errorf("open thread for chat %d: %w", chatID, err)
	}
	m.metrics.ObserveThreadRotation()
	m.logger.Info("Opened thread",
		zap.Int64("chat_id", chatID),
		zap.String("thread_id", thread.ID.String()),
		zap.String("topic", topic))
	return thread, nil
}

// current returns the newest active thread, deactivating any extra active
// threads it finds.
func (m *Manager) current(ctx context.Context, chatID int64) (*models.Thread, error) {
	active, err := m.store.ActiveThreads(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load active threads for chat %d: %w", chatID, err)
	}
	if len(active) == 0 {
		return nil, nil
	}
	for _, extra := range active[1:] {
		m.logger.Warn("Found several active threads, deactivating older one",
			zap.Int64("chat_id", chatID),
			zap.String("thread_id", extra.ID.String()),
			zap.String("kept_thread_id", active[0].ID.String()))
		if err := m.store.DeactivateThread(ctx, extra.ID); err != nil {
			return nil, fmt.Errorf("deactivate thread %s: %w", extra.ID, err)
		}
	}
	return active[0], nil
}

// Attach places a stored message into the chat's active thread, opening
// one if needed. A message that already has a thread keeps it.
func (m *Manager) Attach(ctx context.Context, msg *models.Message) (*models.Thread, error) {
	unlock := m.locks.lock(msg.ChatID)
	defer unlock()

	if msg.ThreadID.Valid {
		return m.store.GetThread(ctx, msg.ThreadID.UUID)
	}
	thread, err := m.getOrCreateLocked(ctx, msg.ChatID, "")
	if err != nil {
		return nil, err
	}
	if err := m.store.AssignThread(ctx, msg.ID, thread.ID); err != nil {
		return nil, fmt.Errorf("assign message %d to thread %s: %w", msg.ID, thread.ID, err)
	}
	msg.ThreadID = uuid.NullUUID{UUID: thread.ID, Valid: true}
	return thread, nil
}

// Close deactivates a thread. Closing an inactive thread is a no-op.
func (m *Manager) Close(ctx context.Context, thread *models.Thread) error {
	unlock := m.locks.lock(thread.ChatID)
	defer unlock()
	return m.closeLocked(ctx, thread)
}

// CloseActive closes every active thread of the chat and returns the newest
// of them, or nil when the chat had none. The next message opens a fresh
// default thread.
func (m *Manager) CloseActive(ctx context.Context, chatID int64) (*models.Thread, error) {
	unlock := m.locks.lock(chatID)
	defer unlock()

	active, err := m.store.ActiveThreads(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load active threads of chat %d: %w", chatID, err)
	}
	for _, thread := range active {
		if err := m.closeLocked(ctx, thread); err != nil {
			return nil, err
		}
	}
	if len(active) == 0 {
		return nil, nil
	}
	return active[0], nil
}

func (m *Manager) closeLocked(ctx context.Context, thread *models.Thread) error {
	if !thread.IsActive {
		return nil
	}
	if err := m.store.DeactivateThread(ctx, thread.ID); err != nil {
		return fmt.Errorf("close thread %s: %w", thread.ID, err)
	}
	thread.IsActive = false
	m.logger.Info("Closed thread",
		zap.Int64("chat_id", thread.ChatID),
		zap.String("thread_id", thread.ID.String()))
	return nil
}

// Recent returns up to limit latest messages of the thread, oldest first.
func (m *Manager) Recent(ctx context.Context, threadID uuid.UUID, limit int) ([]*models.Message, error) {
	msgs, err := m.store.RecentThreadMessages(ctx, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("load messages of thread %s: %w", threadID, err)
	}
	return msgs, nil
}

// chatLocks hands out one mutex per chat and drops it once nobody waits.
type chatLocks struct {
	mu    sync.Mutex
	locks map[int64]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[int64]*chatLock)}
}

func (c *chatLocks) lock(chatID int64) func() {
	c.mu.Lock()
	l, exists := c.locks[chatID]
	if !exists {
		l = &chatLock{}
		c.locks[chatID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, chatID)
		}
		c.mu.Unlock()
	}
}
