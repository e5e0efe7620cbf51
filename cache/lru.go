package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is an in-process label cache bounded by entry count.
type LRU struct {
	entries *lru.Cache[string, string]
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		size = 1024
	}
	entries, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &LRU{entries: entries}, nil
}

func (c *LRU) Get(_ context.Context, key string) (string, bool) {
	return c.entries.Get(key)
}

func (c *LRU) Set(_ context.Context, key string, label string) {
	c.entries.Add(key, label)
}

func (c *LRU) Len() int {
	return c.entries.Len()
}
