// Package cache stores rendered tiles so repeat requests skip the render
// pool entirely.
package cache

// TileKey addresses one rendered tile. At carries the resolved time-travel
// value for templated maps and stays empty for plain ones.
type TileKey struct {
	Map    string
	At     string
	Z      uint32
	X      uint32
	Y      uint32
	Format string
}

type Cache interface {
	Get(key TileKey) ([]byte, bool)
	Set(key TileKey, value []byte)
	Clear()
}
