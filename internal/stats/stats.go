// Package stats computes per-chat message aggregates and caches them for a
// short time.
package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/xaenox/vailentin/internal/metrics"
	"github.com/xaenox/vailentin/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultTrendDays   = 7
	DefaultParallelism = 4

	topEmojis     = 5
	topWords      = 10
	minWordLength = 3
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "you": {}, "that": {}, "this": {}, "with": {},
	"are": {}, "was": {}, "but": {}, "not": {}, "have": {}, "what": {},
	"это": {}, "что": {}, "как": {}, "для": {}, "все": {}, "так": {}, "его": {},
}

type Store interface {
	ListChats(ctx context.Context) ([]*models.Chat, error)
	MessagesSince(ctx context.Context, chatID int64, since time.Time) ([]*models.Message, error)
	SaveStats(ctx context.Context, stats *models.AggregateStats) error
}

// ActivityAlerter is told how many messages a chat received in the last hour.
type ActivityAlerter interface {
	NotifyHighActivity(ctx context.Context, chatID int64, lastHour int) bool
}

type entry struct {
	stats     *models.AggregateStats
	expiresAt time.Time
}

// Cache serves AggregateStats, recomputing a chat's snapshot when it is
// missing or older than the TTL. Concurrent misses for the same chat may
// both recompute; the results are identical for the same window.
type Cache struct {
	store       Store
	ttl         time.Duration
	trendDays   int
	parallelism int
	now         func() time.Time
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu      sync.Mutex
	entries map[int64]entry
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithTrendDays(days int) Option {
	return func(c *Cache) {
		if days > 0 {
			c.trendDays = days
		}
	}
}

// WithParallelism bounds how many chats RefreshAll recomputes at once.
func WithParallelism(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

func NewCache(store Store, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		store:       store,
		ttl:         ttl,
		trendDays:   DefaultTrendDays,
		parallelism: DefaultParallelism,
		now:         time.Now,
		metrics:     m,
		logger:      logger,
		entries:     make(map[int64]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the chat's stats, recomputing and persisting a snapshot on a
// miss.
func (c *Cache) Get(ctx context.Context, chatID int64) (*models.AggregateStats, error) {
	now := c.now()
	c.mu.Lock()
	e, exists := c.entries[chatID]
	c.mu.Unlock()
	if exists && now.Before(e.expiresAt) {
		return e.stats, nil
	}

	stats, err := c.recompute(ctx, chatID, now)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[chatID] = entry{stats: stats, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return stats, nil
}

// Invalidate drops the cached stats of a chat.
func (c *Cache) Invalidate(chatID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, chatID)
}

func (c *Cache) recompute(ctx context.Context, chatID int64, now time.Time) (*models.AggregateStats, error) {
	since := startOfDay(now).AddDate(0, 0, -(c.trendDays - 1))
	msgs, err := c.store.MessagesSince(ctx, chatID, since)
	if err != nil {
		return nil, fmt.Errorf("load messages for stats of chat %d: %w", chatID, err)
	}

	stats := Compute(chatID, msgs, now, c.trendDays)
	if err := c.store.SaveStats(ctx, stats); err != nil {
		return nil, fmt.Errorf("save stats of chat %d: %w", chatID, err)
	}
	c.metrics.ObserveStatsRecompute()
	c.logger.Debug("Recomputed chat stats",
		zap.Int64("chat_id", chatID),
		zap.Int("messages", stats.MessageCount))
	return stats, nil
}

// RefreshAll recomputes stats for every enabled chat and reports chats with
// high activity in the last hour. Errors are logged per chat.
func (c *Cache) RefreshAll(ctx context.Context, alerter ActivityAlerter) error {
	chats, err := c.store.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for _, chat := range chats {
		if chat.IsDisabled {
			continue
		}
		chatID := chat.ID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c.Invalidate(chatID)
			if _, err := c.Get(gctx, chatID); err != nil {
				c.logger.Error("Stats refresh failed",
					zap.Int64("chat_id", chatID),
					zap.Error(err))
				return nil
			}
			if alerter == nil {
				return nil
			}
			lastHour, err := c.store.MessagesSince(gctx, chatID, c.now().Add(-time.Hour))
			if err != nil {
				c.logger.Warn("Failed to count last hour messages",
					zap.Int64("chat_id", chatID),
					zap.Error(err))
				return nil
			}
			alerter.NotifyHighActivity(gctx, chatID, countHuman(lastHour))
			return nil
		})
	}
	return g.Wait()
}

// Compute aggregates msgs, ignoring bot-authored ones. The trend covers
// trendDays calendar days ending with now's day, oldest first.
func Compute(chatID int64, msgs []*models.Message, now time.Time, trendDays int) *models.AggregateStats {
	stats := &models.AggregateStats{
		ChatID:     chatID,
		Period:     models.WeekPeriod,
		ComputedAt: now,
		TopEmojis:  []models.Count{},
		TopWords:   []models.Count{},
	}

	users := make(map[int64]struct{})
	emojis := make(map[string]int)
	words := make(map[string]int)
	var hours [24]int
	var weekdays [7]int
	perDay := make(map[string]int)
	totalLength := 0

	for _, msg := range msgs {
		if msg.FromBot {
			continue
		}
		stats.MessageCount++
		users[msg.SenderID] = struct{}{}
		totalLength += utf8.RuneCountInString(msg.Text)

		for _, r := range msg.Text {
			if IsEmoji(r) {
				emojis[string(r)]++
				stats.EmojiCount++
			}
		}
		for _, w := range tokenize(msg.Text) {
			words[w]++
		}

		at := msg.CreatedAt.In(now.Location())
		hours[at.Hour()]++
		weekdays[at.Weekday()]++
		perDay[at.Format(time.DateOnly)]++
	}

	stats.UserCount = len(users)
	if stats.MessageCount > 0 {
		stats.AvgLength = float64(totalLength) / float64(stats.MessageCount)
		stats.MostActiveHour = argmax(hours[:])
		stats.MostActiveDay = time.Weekday(argmax(weekdays[:])).String()
	}
	stats.TopEmojis = top(emojis, topEmojis)
	stats.TopWords = top(words, topWords)

	start := startOfDay(now).AddDate(0, 0, -(trendDays - 1))
	for d := 0; d < trendDays; d++ {
		day := start.AddDate(0, 0, d).Format(time.DateOnly)
		stats.ActivityTrend = append(stats.ActivityTrend, models.DayCount{Date: day, Count: perDay[day]})
	}
	return stats
}

// IsEmoji reports whether r falls in one of the common emoji blocks.
func IsEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1F5FF, // symbols and pictographs
		r >= 0x1F600 && r <= 0x1F64F, // emoticons
		r >= 0x1F680 && r <= 0x1F6FF, // transport and map
		r >= 0x1F900 && r <= 0x1F9FF, // supplemental symbols
		r >= 0x1FA70 && r <= 0x1FAFF,
		r >= 0x2600 && r <= 0x26FF, // misc symbols
		r >= 0x2700 && r <= 0x27BF: // dingbats
		return true
	}
	return false
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minWordLength {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		words = append(words, f)
	}
	return words
}

func top(counts map[string]int, n int) []models.Count {
	out := make([]models.Count, 0, len(counts))
	for k, v := range counts {
		out = append(out, models.Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func argmax(values []int) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func countHuman(msgs []*models.Message) int {
	n := 0
	for _, msg := range msgs {
		if !msg.FromBot {
			n++
		}
	}
	return n
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
