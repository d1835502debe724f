package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeduplicator_SuppressesWithinWindow(t *testing.T) {
	now := time.Now()
	d := NewDeduplicator(30*time.Second, 16)
	d.now = func() time.Time { return now }

	assert.True(t, d.ShouldTrigger("rm", "rm -rf /var/log"))

	// Repeats inside the window are suppressed.
	now = now.Add(10 * time.Second)
	assert.False(t, d.ShouldTrigger("rm", "rm -rf /var/log"))
	now = now.Add(15 * time.Second)
	assert.False(t, d.ShouldTrigger("rm", "rm -rf /var/log"))

	assert.Equal(t, uint64(2), d.Suppressed())
}

func TestDeduplicator_TriggersAfterWindow(t *testing.T) {
	now := time.Now()
	d := NewDeduplicator(30*time.Second, 16)
	d.now = func() time.Time { return now }

	assert.True(t, d.ShouldTrigger("rm", "rm -rf /var/log"))

	now = now.Add(31 * time.Second)
	assert.True(t, d.ShouldTrigger("rm", "rm -rf /var/log"))
}

func TestDeduplicator_SuppressedRepeatDoesNotExtendWindow(t *testing.T) {
	now := time.Now()
	d := NewDeduplicator(30*time.Second, 16)
	d.now = func() time.Time { return now }

	assert.True(t, d.ShouldTrigger("rm", "rm -rf /var/log"))

	// A suppressed repeat at t+29s must not push the window out: the next
	// attempt at t+31s is past the original window and triggers.
	now = now.Add(29 * time.Second)
	assert.False(t, d.ShouldTrigger("rm", "rm -rf /var/log"))

	now = now.Add(2 * time.Second)
	assert.True(t, d.ShouldTrigger("rm", "rm -rf /var/log"))
}

func TestDeduplicator_DistinctKeysIndependent(t *testing.T) {
	d := NewDeduplicator(30*time.Second, 16)

	assert.True(t, d.ShouldTrigger("rm", "rm -rf /var/log"))
	assert.True(t, d.ShouldTrigger("shred", "rm -rf /var/log"))
	assert.True(t, d.ShouldTrigger("rm", "rm -rf /var/log/nginx"))
}

func TestDeduplicator_BoundedTable(t *testing.T) {
	d := NewDeduplicator(time.Hour, 2)

	assert.True(t, d.ShouldTrigger("a", "1"))
	assert.True(t, d.ShouldTrigger("b", "2"))
	// Inserting a third key evicts the oldest, so "a" triggers again even
	// inside the window.
	assert.True(t, d.ShouldTrigger("c", "3"))
	assert.True(t, d.ShouldTrigger("a", "1"))
}
