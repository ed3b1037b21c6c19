// Package cache holds the client-state and resource caches that module
// remediation purges.
package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/NikhilSetiya/errwatch/pkg/errors"
)

// Key prefixes
const (
	PrefixClientState = "client_state"
	PrefixUIState     = "ui_state"
	PrefixResource    = "resource_cache"
	KeyCacheVersion   = "app_cache_version"
)

// Key builds a namespaced cache key
func Key(prefix, id string) string {
	return prefix + ":" + id
}

// Store is a key/value cache that supports prefix purges
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	// DeletePrefix removes every key starting with prefix
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
	// Incr atomically increments a counter and returns its new value
	Incr(ctx context.Context, key string) (int64, error)
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// Memory is an in-process Store
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-process store
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// live returns the entry for key, dropping it if expired. Caller holds mu.
func (m *Memory) live(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return e, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return e, false
	}
	return e, true
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", errors.NewNotFoundError("cache key")
	}
	return e.value, nil
}

func (m *Memory) Delete(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.live(k); ok {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			if _, ok := m.live(k); ok {
				n++
			}
			delete(m.entries, k)
		}
	}
	return n, nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if e, ok := m.live(key); ok {
		v, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, errors.NewValidationError("value is not an integer").WithCause(err)
		}
		n = v
	}
	n++
	m.entries[key] = memoryEntry{value: strconv.FormatInt(n, 10)}
	return n, nil
}

var _ Store = (*Memory)(nil)
