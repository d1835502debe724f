package detect

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Deduplicator suppresses re-triggering for repeated identical events inside
// a cool-down window. It is purely a load-shedding mechanism: two distinct
// rapid attacks sharing a (name, command) key within the window are accepted
// as a missed trigger.
type Deduplicator struct {
	mu         sync.Mutex
	recent     *lru.Cache[string, time.Time]
	window     time.Duration
	suppressed uint64
	now        func() time.Time
}

// NewDeduplicator creates a deduplicator with the given cool-down window and
// a bounded key table.
func NewDeduplicator(window time.Duration, capacity int) *Deduplicator {
	cache, _ := lru.New[string, time.Time](capacity)
	return &Deduplicator{
		recent: cache,
		window: window,
		now:    time.Now,
	}
}

// ShouldTrigger reports whether this (name, command) pair should trigger a
// capture. Repeats within the window are counted and suppressed; a suppressed
// repeat does not extend the window.
func (d *Deduplicator) ShouldTrigger(processName, command string) bool {
	key := processName + "\x00" + command

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.recent.Get(key); ok && now.Sub(last) < d.window {
		d.suppressed++
		return false
	}

	d.recent.Add(key, now)
	return true
}

// Suppressed returns how many repeat detections were absorbed.
func (d *Deduplicator) Suppressed() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suppressed
}
