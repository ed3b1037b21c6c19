package dedup

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NikhilSetiya/errwatch/internal/clock"
	"github.com/NikhilSetiya/errwatch/pkg/types"
)

func record(module, errorType, message string) *types.ErrorRecord {
	return &types.ErrorRecord{Module: module, ErrorType: errorType, Message: message}
}

func TestKey_TruncatesMessage(t *testing.T) {
	long := strings.Repeat("a", 100)
	r1 := record("m", "uncaught_error", long+"tail-one")
	r2 := record("m", "uncaught_error", long+"tail-two")

	assert.Equal(t, Key(r1), Key(r2))
	assert.NotEqual(t, Key(r1), Key(record("other", "uncaught_error", long)))
}

func TestDeduplicator_SuppressesWithinTTL(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	d := New(5*time.Second, clk)
	r := record("frontend_global", "uncaught_error", "boom")

	assert.False(t, d.IsDuplicate(r))

	clk.Advance(4 * time.Second)
	assert.True(t, d.IsDuplicate(r))

	// repeats do not extend the window
	clk.Advance(1 * time.Second)
	assert.False(t, d.IsDuplicate(r))
	assert.True(t, d.IsDuplicate(r))
}

func TestDeduplicator_DistinctKeys(t *testing.T) {
	d := New(time.Minute, clock.NewFake(time.Unix(0, 0)))

	assert.False(t, d.IsDuplicate(record("a", "uncaught_error", "boom")))
	assert.False(t, d.IsDuplicate(record("b", "uncaught_error", "boom")))
	assert.False(t, d.IsDuplicate(record("a", "resource_error", "boom")))
	assert.Equal(t, 3, d.Len())
}

func TestDeduplicator_Sweep(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	d := New(5*time.Second, clk)

	d.IsDuplicate(record("a", "t", "first"))
	clk.Advance(3 * time.Second)
	d.IsDuplicate(record("a", "t", "second"))

	clk.Advance(2 * time.Second)
	assert.Equal(t, 1, d.Sweep())
	assert.Equal(t, 1, d.Len())

	d.Reset()
	assert.Equal(t, 0, d.Len())
}

func TestDeduplicator_ConcurrentFirstSight(t *testing.T) {
	d := New(time.Minute, clock.NewFake(time.Unix(0, 0)))
	r := record("m", "t", "same")

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !d.IsDuplicate(r) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
}

func TestNew_DefaultTTL(t *testing.T) {
	d := New(0, nil)
	assert.Equal(t, DefaultTTL, d.ttl)
}
