// Package cache holds captured traffic events in memory.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/usestring/trafficlab/pkg/types"
)

// CaptureCache provides thread-safe LRU caching for captured events.
type CaptureCache struct {
	cache    *lru.Cache[string, *types.TrafficEvent]
	maxItems int
}

// NewCaptureCache creates a new LRU cache with the specified maximum number of items.
func NewCaptureCache(maxItems int) (*CaptureCache, error) {
	c, err := lru.New[string, *types.TrafficEvent](maxItems)
	if err != nil {
		return nil, err
	}
	return &CaptureCache{cache: c, maxItems: maxItems}, nil
}

// Get retrieves an event by its ID.
func (c *CaptureCache) Get(eventID string) (*types.TrafficEvent, bool) {
	return c.cache.Get(eventID)
}

// Peek retrieves an event without updating its recency.
func (c *CaptureCache) Peek(eventID string) (*types.TrafficEvent, bool) {
	return c.cache.Peek(eventID)
}

// Put adds or updates an event.
func (c *CaptureCache) Put(ev *types.TrafficEvent) {
	c.cache.Add(ev.ID, ev)
}

// Len returns the current number of items in the cache.
func (c *CaptureCache) Len() int {
	return c.cache.Len()
}

// Capacity returns the maximum number of items held.
func (c *CaptureCache) Capacity() int {
	return c.maxItems
}

// Session returns the cached events of one session, oldest first. An empty
// sessionID returns every cached event.
func (c *CaptureCache) Session(sessionID string) []*types.TrafficEvent {
	keys := c.cache.Keys()
	out := make([]*types.TrafficEvent, 0, len(keys))
	for _, k := range keys {
		ev, ok := c.cache.Peek(k)
		if !ok {
			continue
		}
		if sessionID == "" || ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out
}
