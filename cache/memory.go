package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Cache used by tests and single-node setups.
// It honors TTLs lazily on access.
type Memory struct {
	mu      sync.Mutex
	vals    map[string]memEntry
	lists   map[string][]string
	listExp map[string]time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		vals:    make(map[string]memEntry),
		lists:   make(map[string][]string),
		listExp: make(map[string]time.Time),
	}
}

func (m *Memory) live(key string) (memEntry, bool) {
	e, ok := m.vals[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.vals, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *Memory) liveList(key string) []string {
	if exp, ok := m.listExp[key]; ok && time.Now().After(exp) {
		delete(m.lists, key)
		delete(m.listExp, key)
		return nil
	}
	return m.lists[key]
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration, onlyIfAbsent bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if onlyIfAbsent {
		if _, ok := m.live(key); ok {
			return false, nil
		}
	}
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.vals[key] = e
	return true, nil
}

func (m *Memory) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	delete(m.lists, key)
	delete(m.listExp, key)
	return nil
}

func (m *Memory) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if e, ok := m.live(key); ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n += delta
	m.vals[key] = memEntry{value: strconv.FormatInt(n, 10)}
	return n, nil
}

func (m *Memory) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return m.IncrBy(ctx, key, -delta)
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return true, nil
	}
	return len(m.liveList(key)) > 0, nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.live(key); ok {
		e.expiresAt = time.Now().Add(ttl)
		m.vals[key] = e
	}
	if len(m.liveList(key)) > 0 {
		m.listExp[key] = time.Now().Add(ttl)
	}
	return nil
}

func (m *Memory) LPush(ctx context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.liveList(key)
	for _, v := range values {
		list = append([]string{v}, list...)
	}
	m.lists[key] = list
	return nil
}

func (m *Memory) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.liveList(key)
	n := int64(len(list))
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
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (m *Memory) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.liveList(key)
	var kept []string
	var removed int64
	for _, v := range list {
		if v == value && (count == 0 || removed < count) {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) == 0 {
		delete(m.lists, key)
		delete(m.listExp, key)
	} else {
		m.lists[key] = kept
	}
	return removed, nil
}

func (m *Memory) LPos(ctx context.Context, key, value string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range m.liveList(key) {
		if v == value {
			return int64(i), true, nil
		}
	}
	return 0, false, nil
}

func (m *Memory) LLen(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.liveList(key))), nil
}

var _ Cache = (*Memory)(nil)
