package storage

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryBackend is an in-memory Backend implementation used in tests and in
// deployments without a redis instance. TTLs are honored lazily on read.
type MemoryBackend struct {
	mu      sync.RWMutex
	strings map[string]entry
	hashes  map[string]hashEntry
	lists   map[string]listEntry
	zsets   map[string]zsetEntry
}

type entry struct {
	value     string
	expiresAt time.Time
}

type hashEntry struct {
	fields    map[string]int64
	expiresAt time.Time
}

type listEntry struct {
	values    []string
	expiresAt time.Time
}

type zsetEntry struct {
	scores    map[string]float64
	expiresAt time.Time
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		strings: make(map[string]entry),
		hashes:  make(map[string]hashEntry),
		lists:   make(map[string]listEntry),
		zsets:   make(map[string]zsetEntry),
	}
}

func expired(at time.Time) bool {
	return !at.IsZero() && time.Now().After(at)
}

func deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.strings[key]
	if !ok || expired(e.expiresAt) {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *MemoryBackend) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = entry{value: value, expiresAt: deadline(ttl)}
	return nil
}

func (m *MemoryBackend) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[key]
	var n int64
	if ok && !expired(e.expiresAt) {
		n, _ = strconv.ParseInt(e.value, 10, 64)
	}
	n++
	m.strings[key] = entry{value: strconv.FormatInt(n, 10), expiresAt: deadline(ttl)}
	return n, nil
}

func (m *MemoryBackend) HIncrBy(_ context.Context, key, field string, n int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok || expired(h.expiresAt) {
		h = hashEntry{fields: make(map[string]int64)}
	}
	h.fields[field] += n
	h.expiresAt = deadline(ttl)
	m.hashes[key] = h
	return nil
}

func (m *MemoryBackend) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hashes[key]
	out := make(map[string]string)
	if !ok || expired(h.expiresAt) {
		return out, nil
	}
	for f, v := range h.fields {
		out[f] = strconv.FormatInt(v, 10)
	}
	return out, nil
}

func (m *MemoryBackend) RPush(_ context.Context, key string, ttl time.Duration, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[key]
	if !ok || expired(l.expiresAt) {
		l = listEntry{}
	}
	l.values = append(l.values, values...)
	l.expiresAt = deadline(ttl)
	m.lists[key] = l
	return nil
}

func (m *MemoryBackend) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lists[key]
	if !ok || expired(l.expiresAt) {
		return nil, nil
	}
	n := int64(len(l.values))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, 0, stop-start+1)
	out = append(out, l.values[start:stop+1]...)
	return out, nil
}

func (m *MemoryBackend) ZAdd(_ context.Context, key, member string, score float64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok || expired(z.expiresAt) {
		z = zsetEntry{scores: make(map[string]float64)}
	}
	z.scores[member] = score
	z.expiresAt = deadline(ttl)
	m.zsets[key] = z
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
