// Package cache keeps recently read run details and incidents in memory so
// repeated dashboard reads skip the database. Runs are immutable once
// saved; entries are only invalidated when a run is deleted.
package cache

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Gautam2086/SignalTrace/internal/model"
)

// DefaultTTL bounds how long an entry may be served without a store read.
const DefaultTTL = 10 * time.Minute

const (
	runPrefix      = "run:"
	incidentPrefix = "incident:"
)

// DetailCache is an LRU of run details and incidents. A nil *DetailCache
// is a valid, always-missing cache.
type DetailCache struct {
	lru    *expirable.LRU[string, any]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a cache holding at most size entries. It returns nil when
// size is not positive, which disables caching.
func New(size int, ttl time.Duration) *DetailCache {
	if size <= 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DetailCache{lru: expirable.NewLRU[string, any](size, nil, ttl)}
}

func runKey(runID string) string {
	return runPrefix + runID
}

func incidentKey(runID, incidentID string) string {
	return incidentPrefix + runID + "/" + incidentID
}

// GetRun returns a cached run detail.
func (c *DetailCache) GetRun(runID string) (*model.RunDetail, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.get(runKey(runID))
	if !ok {
		return nil, false
	}
	detail, ok := v.(*model.RunDetail)
	return detail, ok
}

// PutRun caches a run detail.
func (c *DetailCache) PutRun(detail *model.RunDetail) {
	if c == nil || detail == nil {
		return
	}
	c.lru.Add(runKey(detail.ID), detail)
}

// GetIncident returns a cached incident.
func (c *DetailCache) GetIncident(runID, incidentID string) (*model.Incident, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.get(incidentKey(runID, incidentID))
	if !ok {
		return nil, false
	}
	inc, ok := v.(*model.Incident)
	return inc, ok
}

// PutIncident caches an incident.
func (c *DetailCache) PutIncident(inc *model.Incident) {
	if c == nil || inc == nil {
		return
	}
	c.lru.Add(incidentKey(inc.RunID, inc.ID), inc)
}

// InvalidateRun drops the run and all of its incidents. It returns the
// number of entries removed.
func (c *DetailCache) InvalidateRun(runID string) int {
	if c == nil {
		return 0
	}
	count := 0
	if c.lru.Remove(runKey(runID)) {
		count++
	}
	prefix := incidentPrefix + runID + "/"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) && c.lru.Remove(key) {
			count++
		}
	}
	return count
}

// Size returns the number of entries in the cache
func (c *DetailCache) Size() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Stats returns cache statistics
func (c *DetailCache) Stats() map[string]interface{} {
	if c == nil {
		return map[string]interface{}{"enabled": false}
	}
	hits, misses := c.hits.Load(), c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return map[string]interface{}{
		"enabled":  true,
		"entries":  c.Size(),
		"hits":     hits,
		"misses":   misses,
		"hit_rate": hitRate,
	}
}

func (c *DetailCache) get(key string) (any, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}
