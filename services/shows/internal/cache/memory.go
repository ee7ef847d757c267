package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memItem struct {
	val       []byte
	expiresAt time.Time
}

// Memory is an in-process Pages with per-entry expiry. It also satisfies
// Invalidator by dropping every key under Prefixes.
type Memory struct {
	Prefixes []string

	mu    sync.RWMutex
	items map[string]memItem
	now   func() time.Time
}

func NewMemory(prefixes []string) *Memory {
	return &Memory{Prefixes: prefixes, items: make(map[string]memItem), now: time.Now}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(it.expiresAt) {
		c.mu.Lock()
		if cur, ok2 := c.items[key]; ok2 && c.now().After(cur.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return it.val, true
}

func (c *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[key] = memItem{val: val, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

func (c *Memory) Invalidate(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for key := range c.items {
		for _, prefix := range c.Prefixes {
			if strings.HasPrefix(key, prefix) {
				delete(c.items, key)
				n++
				break
			}
		}
	}
	return n, nil
}
