package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
)

var DefaultLyricsTTL = 1 * time.Hour

// Cache holds in-process memoization caches shared across collections within
// a single run. Nothing here is persisted.
type Cache struct {
	Lyrics LyricsCache
}

func New() *Cache {
	lyricsCache := ccache.New(
		ccache.Configure[string]().
			MaxSize(10_000).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	return &Cache{
		Lyrics: LyricsCache{
			c:   lyricsCache,
			mux: sync.Mutex{},
		},
	}
}

// LyricsCache memoizes resolved lyrics text by track ID so a track shared by
// several collections is looked up at most once per run. Failed lookups are
// not cached.
type LyricsCache struct {
	c   *ccache.Cache[string]
	mux sync.Mutex
}

func (c *LyricsCache) Fetch(
	k string,
	ttl time.Duration,
	fetch func() (string, error),
) (*ccache.Item[string], error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	v, err := c.c.Fetch(k, ttl, fetch)
	if nil != err {
		return nil, fmt.Errorf("fetch lyrics: %w", err)
	}

	return v, nil
}
