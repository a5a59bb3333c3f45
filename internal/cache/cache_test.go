package cache

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func tileKey(z, x, y uint32) TileKey {
	return TileKey{Map: "naip", Z: z, X: x, Y: y, Format: "png"}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c, err := NewMemoryCache(10)
	require.NoError(t, err)

	key := tileKey(7, 26, 48)
	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, []byte("tile"))
	data, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "tile", string(data))

	c.Clear()
	_, ok = c.Get(key)
	assert.False(t, ok)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewMemoryCache(2)
	require.NoError(t, err)

	c.Set(tileKey(1, 0, 0), []byte("a"))
	c.Set(tileKey(1, 1, 0), []byte("b"))

	// Touch the first so the second becomes the eviction candidate.
	_, ok := c.Get(tileKey(1, 0, 0))
	require.True(t, ok)

	c.Set(tileKey(1, 1, 1), []byte("c"))

	_, ok = c.Get(tileKey(1, 0, 0))
	assert.True(t, ok, "recently used tile must survive")
	_, ok = c.Get(tileKey(1, 1, 0))
	assert.False(t, ok, "least recently used tile must be evicted")
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCacheRejectsZeroSize(t *testing.T) {
	_, err := NewMemoryCache(0)
	require.Error(t, err)
}

func TestFileCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir)
	require.NoError(t, err)

	key := TileKey{Map: "naip", At: "1600000000", Z: 7, X: 26, Y: 48, Format: "png"}
	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, []byte("tile"))
	data, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "tile", string(data))

	// The tree layout is part of the contract: operators point web servers
	// and sync jobs at it.
	onDisk := filepath.Join(dir, "naip@1600000000", "7", "26_48.png")
	_, err = os.Stat(onDisk)
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(onDisk))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no .tmp files may be left behind")

	c.Clear()
	_, ok = c.Get(key)
	assert.False(t, ok)
}

func TestFileCacheSanitizesAt(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir)
	require.NoError(t, err)

	key := TileKey{Map: "naip", At: "../../etc/passwd", Z: 0, X: 0, Y: 0, Format: "png"}
	c.Set(key, []byte("tile"))

	_, ok := c.Get(key)
	assert.True(t, ok)

	// Everything must still live under the cache dir.
	var files []string
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0], dir)
}

func TestFileCacheNoAtOmitsSeparator(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir)
	require.NoError(t, err)

	c.Set(tileKey(3, 1, 2), []byte("tile"))
	_, err = os.Stat(filepath.Join(dir, "naip", "3", "1_2.png"))
	require.NoError(t, err)
}

func TestMBTilesCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := NewMBTilesCache(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(c.Clear)

	key := tileKey(7, 26, 48)
	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, []byte("tile"))
	data, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "tile", string(data))

	// Overwrites replace, they do not duplicate.
	c.Set(key, []byte("tile2"))
	data, ok = c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "tile2", string(data))
}

func TestMBTilesCacheStoresTMSRows(t *testing.T) {
	dir := t.TempDir()
	c, err := NewMBTilesCache(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(c.Clear)

	// XY (7, 26, 48) is TMS row 2^7 - 1 - 48 = 79.
	c.Set(tileKey(7, 26, 48), []byte("tile"))

	// Autocommit writes are visible to an independent connection right away.
	db, err := sql.Open("sqlite3", filepath.Join(dir, "naip.mbtiles"))
	require.NoError(t, err)
	defer db.Close()

	var row uint32
	require.NoError(t, db.QueryRow(
		"SELECT tile_row FROM tiles WHERE zoom_level = 7 AND tile_column = 26").Scan(&row))
	assert.Equal(t, uint32(79), row)

	var format string
	require.NoError(t, db.QueryRow(
		"SELECT value FROM metadata WHERE name = 'format'").Scan(&format))
	assert.Equal(t, "png", format)
}

func TestMBTilesCacheOneFilePerMapAndAt(t *testing.T) {
	dir := t.TempDir()
	c, err := NewMBTilesCache(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(c.Clear)

	c.Set(TileKey{Map: "naip", Z: 0, X: 0, Y: 0, Format: "png"}, []byte("a"))
	c.Set(TileKey{Map: "naip", At: "1600000000", Z: 0, X: 0, Y: 0, Format: "png"}, []byte("b"))
	c.Set(TileKey{Map: "grid", Z: 0, X: 0, Y: 0, Format: "png"}, []byte("c"))

	for _, name := range []string{"naip.mbtiles", "naip@1600000000.mbtiles", "grid.mbtiles"} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}

	// Same coordinates, different files: values must not bleed across.
	data, ok := c.Get(TileKey{Map: "naip", At: "1600000000", Z: 0, X: 0, Y: 0, Format: "png"})
	require.True(t, ok)
	assert.Equal(t, "b", string(data))
}

func TestFlipYRoundTrip(t *testing.T) {
	assert.Equal(t, uint32(0), flipY(0, 0))
	assert.Equal(t, uint32(79), flipY(7, 48))
	assert.Equal(t, uint32(48), flipY(7, flipY(7, 48)))
}

func TestNewCacheFactory(t *testing.T) {
	log := zaptest.NewLogger(t)
	dir := t.TempDir()

	c, err := NewCache("memory", dir, 10, log)
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	c, err = NewCache("file", dir, 10, log)
	require.NoError(t, err)
	assert.IsType(t, &FileCache{}, c)

	c, err = NewCache("mbtiles", dir, 10, log)
	require.NoError(t, err)
	assert.IsType(t, &MBTilesCache{}, c)

	c, err = NewCache("disabled", dir, 10, log)
	require.NoError(t, err)
	assert.IsType(t, &NoopCache{}, c)

	_, err = NewCache("redis", dir, 10, log)
	require.Error(t, err)
}
