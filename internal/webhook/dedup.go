package webhook

import (
	"sync"
	"time"
)

const (
	// DedupWindow is how long a repeat of the same change is ignored.
	DedupWindow = 30 * time.Second
	// DedupRetention is the age past which an entry may be evicted.
	DedupRetention = 5 * time.Minute
	// DedupMaxEntries is the table size above which a write triggers eviction.
	DedupMaxEntries = 100
)

type dedupKey struct {
	subscriptionID string
	resource       string
	changeType     string
}

// Dedup remembers recently processed changes.
type Dedup struct {
	mu   sync.Mutex
	seen map[dedupKey]time.Time
	now  func() time.Time
}

// NewDedup creates an empty table.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[dedupKey]time.Time), now: time.Now}
}

// SetClock replaces the time source.
func (d *Dedup) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Duplicate reports whether n repeats a change processed within DedupWindow.
// A non-duplicate is recorded as processed now; a duplicate leaves the
// original timestamp alone.
func (d *Dedup) Duplicate(n Notification) bool {
	key := dedupKey{subscriptionID: n.SubscriptionID, resource: n.Resource, changeType: n.ChangeType}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < DedupWindow {
		return true
	}
	d.seen[key] = now

	if len(d.seen) > DedupMaxEntries {
		d.evictLocked(now)
	}
	return false
}

// Prune evicts entries older than DedupRetention and returns how many went.
func (d *Dedup) Prune() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.evictLocked(d.now())
}

// Len is the number of remembered changes.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Dedup) evictLocked(now time.Time) int {
	removed := 0
	for key, at := range d.seen {
		if now.Sub(at) > DedupRetention {
			delete(d.seen, key)
			removed++
		}
	}
	return removed
}
