// Package dedup suppresses repeated error records within a time window.
package dedup

import (
	"sync"
	"time"

	"github.com/NikhilSetiya/errwatch/internal/clock"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

// DefaultTTL is how long a key suppresses repeats
const DefaultTTL = 5 * time.Second

// keyMessageLen bounds the message prefix that participates in the key
const keyMessageLen = 100

// Key returns the content hash used for deduplication and queue identity
func Key(record *types.ErrorRecord) string {
	message := record.Message
	if r := []rune(message); len(r) > keyMessageLen {
		message = string(r[:keyMessageLen])
	}
	return record.Module + record.ErrorType + message
}

// Deduplicator remembers recently seen keys. The expiry registered on first
// sight is never extended by repeats.
type Deduplicator struct {
	mu     sync.Mutex
	ttl    time.Duration
	clock  clock.Clock
	expiry map[string]time.Time
}

// New creates a deduplicator. A non-positive ttl uses DefaultTTL.
func New(ttl time.Duration, clk clock.Clock) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Deduplicator{
		ttl:    ttl,
		clock:  clock.OrReal(clk),
		expiry: make(map[string]time.Time),
	}
}

// IsDuplicate reports whether an equivalent record was seen within the TTL.
// A record that is not a duplicate opens a new suppression window.
func (d *Deduplicator) IsDuplicate(record *types.ErrorRecord) bool {
	key := Key(record)
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if deadline, ok := d.expiry[key]; ok && now.Before(deadline) {
		return true
	}

	d.expiry[key] = now.Add(d.ttl)
	return false
}

// Sweep drops expired keys and returns how many were removed
func (d *Deduplicator) Sweep() int {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, deadline := range d.expiry {
		if !now.Before(deadline) {
			delete(d.expiry, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.expiry)
}

// Reset forgets every key
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expiry = make(map[string]time.Time)
}
