package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"tinyagent/internal/model"
)

// MemoryHistoryCache is the in-process HistoryCache used when Redis is not
// configured. It follows the same dirty-marker rules as the Redis cache.
type MemoryHistoryCache struct {
	// mu makes the dirty check and the store in SetHistory one step with
	// respect to Invalidate.
	mu sync.Mutex

	cache          *gocache.Cache
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewMemoryHistoryCache(historyTTL, dirtyMarkerTTL time.Duration) *MemoryHistoryCache {
	if historyTTL <= 0 {
		historyTTL = defaultHistoryTTL
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = defaultDirtyMarkerTTL
	}
	return &MemoryHistoryCache{
		cache:          gocache.New(historyTTL, 2*historyTTL),
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

func (c *MemoryHistoryCache) GetHistory(_ context.Context, sessionID uint) ([]model.Message, bool, error) {
	x, found := c.cache.Get(historyKey(sessionID))
	if !found {
		return nil, false, nil
	}
	cached := x.([]model.Message)
	out := make([]model.Message, len(cached))
	copy(out, cached)
	return out, true, nil
}

func (c *MemoryHistoryCache) SetHistory(_ context.Context, sessionID uint, messages []model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dirty := c.cache.Get(dirtyKey(sessionID)); dirty {
		return nil
	}
	stored := make([]model.Message, len(messages))
	copy(stored, messages)
	c.cache.Set(historyKey(sessionID), stored, c.historyTTL)
	return nil
}

func (c *MemoryHistoryCache) Invalidate(_ context.Context, sessionID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Set(dirtyKey(sessionID), true, c.dirtyMarkerTTL)
	c.cache.Delete(historyKey(sessionID))
	return nil
}
