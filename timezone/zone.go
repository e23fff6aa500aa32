package timezone

import (
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const DefaultTimeZone = "UTC"

var errEmptyZone = errors.New("empty time zone identifier")

// Cache keeps loaded locations, time.LoadLocation reads the zone database on
// every call.
type Cache struct {
	mu       sync.RWMutex
	zones    map[string]*time.Location
	fallback *time.Location
}

// NewCache creates a cache which resolves empty identifiers to fallback.
func NewCache(fallback string) (*Cache, error) {
	c := &Cache{zones: make(map[string]*time.Location), fallback: time.UTC}
	if strings.TrimSpace(fallback) == "" {
		return c, nil
	}
	loc, err := c.Load(fallback)
	if err != nil {
		return nil, err
	}
	c.fallback = loc
	return c, nil
}

// Load returns the location for the IANA identifier.
func (c *Cache) Load(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errEmptyZone
	}

	c.mu.RLock()
	loc, ok := c.zones[name]
	c.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed loading location %q", name)
	}

	c.mu.Lock()
	c.zones[name] = loc
	c.mu.Unlock()
	return loc, nil
}

// Resolve never fails: unknown or empty identifiers give the fallback location.
func (c *Cache) Resolve(name string) *time.Location {
	loc, err := c.Load(name)
	if err != nil {
		return c.fallback
	}
	return loc
}

// Fallback is the zone used for policies without an explicit zone.
func (c *Cache) Fallback() *time.Location {
	return c.fallback
}
