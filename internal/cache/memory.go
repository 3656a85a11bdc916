package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"stacking-explainer/internal/common"
)

type memEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// Memory is an in-process cache bounded by entry count. When full, the oldest entry is
// evicted. Expired entries are dropped lazily on access.
type Memory struct {
	mu      sync.Mutex
	size    int
	ttl     time.Duration
	entries map[string]*list.Element
	order   *list.List // front = oldest
	now     func() time.Time
}

// NewMemory returns a cache holding at most size entries for ttl each. A ttl of zero
// never expires entries.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size < 1 {
		size = common.DefaultCacheSize
	}
	return &Memory{
		size:    size,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

func (m *Memory) Name() string { return common.CacheBackendMemory }

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	e := el.Value.(*memEntry)
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.remove(el)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		m.remove(el)
	}
	e := &memEntry{key: key, value: value}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.entries[key] = m.order.PushBack(e)

	for m.order.Len() > m.size {
		m.remove(m.order.Front())
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*list.Element)
	m.order.Init()
	return nil
}

func (m *Memory) remove(el *list.Element) {
	m.order.Remove(el)
	delete(m.entries, el.Value.(*memEntry).key)
}
