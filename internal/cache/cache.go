// Package cache provides a process-wide TTL cache with LRU eviction.
// It sits in front of the market data provider so repeated lookups
// within a scan do not burn external API budget.
package cache

import (
	"container/list"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrInvalidTTL is returned by Set when ttl is not positive.
var ErrInvalidTTL = errors.New("cache ttl must be positive")

// Default TTLs per endpoint category.
const (
	TTLCurrentPrice = 60 * time.Second
	TTLOptionsChain = 300 * time.Second
	TTLPriceHistory = 3600 * time.Second
	TTLTickerInfo   = 86400 * time.Second
	TTLExpirations  = 1800 * time.Second
)

// DefaultMaxBytes bounds total estimated cache memory.
const DefaultMaxBytes = 64 << 20

type entry struct {
	key       string
	value     any
	expiresAt time.Time
	size      int64
}

// EntryStat describes one live entry in Stats output.
type EntryStat struct {
	Key          string        `json:"key"`
	RemainingTTL time.Duration `json:"remaining_ttl"`
	SizeBytes    int64         `json:"size_bytes"`
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits            int64       `json:"hits"`
	Misses          int64       `json:"misses"`
	HitRate         float64     `json:"hit_rate"`
	EntryCount      int         `json:"entry_count"`
	SizeBytes       int64       `json:"size_bytes"`
	MaxBytes        int64       `json:"max_bytes"`
	SizeUtilization float64     `json:"size_utilization"`
	Entries         []EntryStat `json:"entries"`
}

// Cache is a thread-safe key/value store with per-entry TTL and a byte
// budget enforced by least-recently-used eviction. All operations are
// short and serialize under one mutex.
type Cache struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	lru      *list.List // front = most recently used
	size     int64
	maxBytes int64
	hits     int64
	misses   int64
	log      zerolog.Logger
	now      func() time.Time
}

// New creates a cache with the given byte budget. maxBytes <= 0 uses
// DefaultMaxBytes.
func New(maxBytes int64, log zerolog.Logger) *Cache {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Cache{
		items:    make(map[string]*list.Element),
		lru:      list.New(),
		maxBytes: maxBytes,
		log:      log.With().Str("component", "cache").Logger(),
		now:      time.Now,
	}
}

// SetClock overrides the cache clock, for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the value for key if a non-expired entry exists. Expired
// entries are removed lazily here. Every call records a hit or a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.removeElement(el)
		c.misses++
		return nil, false
	}

	c.lru.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Set stores value under key with the given TTL. The key becomes the
// most recently used entry; inserting past the byte budget evicts LRU
// entries until the cache fits again.
func (c *Cache) Set(key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	size := estimateSize(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}

	e := &entry{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(ttl),
		size:      size,
	}
	c.items[key] = c.lru.PushFront(e)
	c.size += size

	for c.size > c.maxBytes && c.lru.Len() > 0 {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*entry)
		c.removeElement(oldest)
		c.log.Debug().Str("key", evicted.Key()).Int64("size", evicted.size).Msg("evicted LRU entry")
	}

	return nil
}

// Delete removes key, reporting whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// Clear drops every entry. Hit/miss counters are preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.size = 0
}

// Stats returns a snapshot with entries sorted by ascending remaining TTL.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entries := make([]EntryStat, 0, len(c.items))
	for _, el := range c.items {
		e := el.Value.(*entry)
		remaining := e.expiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		entries = append(entries, EntryStat{
			Key:          e.key,
			RemainingTTL: remaining,
			SizeBytes:    e.size,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RemainingTTL < entries[j].RemainingTTL
	})

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Hits:            c.hits,
		Misses:          c.misses,
		HitRate:         hitRate,
		EntryCount:      len(c.items),
		SizeBytes:       c.size,
		MaxBytes:        c.maxBytes,
		SizeUtilization: float64(c.size) / float64(c.maxBytes),
		Entries:         entries,
	}
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.items, e.key)
	c.size -= e.size
}

func (e *entry) Key() string { return e.key }

// estimateSize approximates an entry's memory footprint by its msgpack
// encoding length plus fixed overhead. Not exact, but monotonic in
// payload size, which is all eviction needs.
func estimateSize(value any) int64 {
	const overhead = 64
	data, err := msgpack.Marshal(value)
	if err != nil {
		return overhead
	}
	return int64(len(data)) + overhead
}
