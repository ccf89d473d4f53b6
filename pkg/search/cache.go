package search

import (
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Match is one semantic hit: a book and its similarity to the query.
type Match struct {
	BookID string
	Score  float64
}

// resultCache holds semantic matches per (library, query, threshold). Items
// expire a fixed TTL after insertion; reads do not extend them. Expired
// entries are purged on insert once the cache holds more than bound items,
// and capacity caps it at four times bound.
type resultCache struct {
	items *ttlcache.Cache[string, []Match]
	bound int
}

func newResultCache(ttl time.Duration, bound int) *resultCache {
	return &resultCache{
		items: ttlcache.New[string, []Match](
			ttlcache.WithTTL[string, []Match](ttl),
			ttlcache.WithCapacity[string, []Match](uint64(bound*4)),
			ttlcache.WithDisableTouchOnHit[string, []Match](),
		),
		bound: bound,
	}
}

func cacheKey(libraryID, query string, threshold float64) string {
	return libraryID + "\x00" + strconv.FormatFloat(threshold, 'g', -1, 64) + "\x00" + normalizeQuery(query)
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func (c *resultCache) get(key string) ([]Match, bool) {
	item := c.items.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false
	}
	return item.Value(), true
}

func (c *resultCache) set(key string, matches []Match) {
	if c.items.Len() > c.bound {
		c.items.DeleteExpired()
	}
	c.items.Set(key, matches, ttlcache.DefaultTTL)
}

// invalidateLibrary drops every entry for libraryID.
func (c *resultCache) invalidateLibrary(libraryID string) {
	prefix := libraryID + "\x00"
	for _, key := range c.items.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.items.Delete(key)
		}
	}
}

func (c *resultCache) len() int {
	return c.items.Len()
}
