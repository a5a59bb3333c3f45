package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryCache keeps the most recently used tiles in process memory.
type MemoryCache struct {
	tiles *lru.Cache[TileKey, []byte]
}

// NewMemoryCache creates an in-memory LRU cache holding up to maxTiles tiles.
func NewMemoryCache(maxTiles int) (*MemoryCache, error) {
	tiles, err := lru.New[TileKey, []byte](maxTiles)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{tiles: tiles}, nil
}

func (c *MemoryCache) Get(key TileKey) ([]byte, bool) {
	return c.tiles.Get(key)
}

func (c *MemoryCache) Set(key TileKey, value []byte) {
	c.tiles.Add(key, value)
}

func (c *MemoryCache) Clear() {
	c.tiles.Purge()
}

func (c *MemoryCache) Len() int {
	return c.tiles.Len()
}
