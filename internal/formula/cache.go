package formula

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Cache memoizes compiled expressions by formula text. Formulas are
// immutable strings, so a cached tree can never go stale; the TTL only
// bounds memory held by formulas that are no longer used.
type Cache struct {
	items *cache.Cache
}

// NewCache creates a cache whose entries expire ttl after their last
// compilation. A ttl <= 0 keeps entries forever.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		return &Cache{items: cache.New(cache.NoExpiration, 0)}
	}
	return &Cache{items: cache.New(ttl, 2*ttl)}
}

// Compile returns the cached expression for src, parsing it on a miss.
// Syntax errors are not cached.
func (c *Cache) Compile(src string) (*Expression, error) {
	if v, ok := c.items.Get(src); ok {
		return v.(*Expression), nil
	}
	expr, err := Parse(src)
	if err != nil {
		return nil, err
	}
	c.items.Set(src, expr, cache.DefaultExpiration)
	return expr, nil
}

// Len returns the number of cached expressions.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

// Flush drops every cached expression.
func (c *Cache) Flush() {
	c.items.Flush()
}
