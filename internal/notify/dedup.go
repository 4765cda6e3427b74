package notify

import (
	"sync"
	"time"
)

const DefaultCooldown = 60 * time.Minute

type key struct {
	kind    string
	subject string
}

// Deduplicator remembers when each (kind, subject) pair was last let
// through. State lives only as long as the process.
type Deduplicator struct {
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[key]time.Time
}

func NewDeduplicator(cooldown time.Duration, now func() time.Time) *Deduplicator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Deduplicator{
		cooldown: cooldown,
		now:      now,
		lastSent: make(map[key]time.Time),
	}
}

// ShouldNotify reports whether a notification may go out and, if so,
// stamps the pair as sent now.
func (d *Deduplicator) ShouldNotify(kind, subject string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := key{kind: kind, subject: subject}
	now := d.now()
	if last, exists := d.lastSent[k]; exists && now.Sub(last) < d.cooldown {
		return false
	}
	d.lastSent[k] = now
	return true
}
