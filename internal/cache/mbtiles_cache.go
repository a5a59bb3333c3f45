package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// MBTilesCache persists tiles as MBTiles databases, one file per map and
// "at" value, openable directly by QGIS and friends. Files are created lazily
// on first write to a map.
type MBTilesCache struct {
	cacheDir string
	logger   *zap.Logger

	mu  sync.Mutex
	dbs map[string]*mbtilesDB
}

type mbtilesDB struct {
	db  *sql.DB
	get *sql.Stmt
	set *sql.Stmt
}

func NewMBTilesCache(cacheDir string, logger *zap.Logger) (*MBTilesCache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &MBTilesCache{
		cacheDir: cacheDir,
		logger:   logger,
		dbs:      map[string]*mbtilesDB{},
	}, nil
}

func (c *MBTilesCache) Get(key TileKey) ([]byte, bool) {
	db, err := c.open(key)
	if err != nil {
		c.logger.Warn("MBTiles open failed", zap.Error(err))
		return nil, false
	}

	var data []byte
	err = db.get.QueryRow(key.Z, key.X, flipY(key.Z, key.Y)).Scan(&data)
	if err != nil {
		if err != sql.ErrNoRows {
			c.logger.Warn("MBTiles read failed", zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

func (c *MBTilesCache) Set(key TileKey, value []byte) {
	db, err := c.open(key)
	if err != nil {
		c.logger.Warn("MBTiles open failed", zap.Error(err))
		return
	}

	if _, err := db.set.Exec(key.Z, key.X, flipY(key.Z, key.Y), value); err != nil {
		c.logger.Warn("MBTiles write failed", zap.Error(err))
	}
}

// Clear closes every open database and deletes the .mbtiles files.
func (c *MBTilesCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, db := range c.dbs {
		db.get.Close()
		db.set.Close()
		db.db.Close()
		delete(c.dbs, name)
	}

	files, err := filepath.Glob(filepath.Join(c.cacheDir, "*.mbtiles"))
	if err != nil {
		return
	}
	for _, f := range files {
		os.Remove(f)
	}
}

// open returns the database for the key's map, creating file and schema on
// first use.
func (c *MBTilesCache) open(key TileKey) (*mbtilesDB, error) {
	name := key.Map
	if key.At != "" {
		name += "@" + unsafePathChars.ReplaceAllString(key.At, "_")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.dbs[name]; ok {
		return db, nil
	}

	path := filepath.Join(c.cacheDir, name+".mbtiles")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	if err := initMBTiles(db, key.Map, key.Format); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize %s: %w", path, err)
	}

	get, err := db.Prepare(
		"SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?")
	if err != nil {
		db.Close()
		return nil, err
	}
	set, err := db.Prepare(
		"INSERT OR REPLACE INTO tiles(zoom_level, tile_column, tile_row, tile_data) VALUES(?, ?, ?, ?)")
	if err != nil {
		get.Close()
		db.Close()
		return nil, err
	}

	entry := &mbtilesDB{db: db, get: get, set: set}
	c.dbs[name] = entry
	c.logger.Info("MBTiles cache opened", zap.String("path", path))
	return entry, nil
}

func initMBTiles(db *sql.DB, mapName, format string) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS metadata (name text, value text)",
		"CREATE TABLE IF NOT EXISTS tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob)",
		"CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row)",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM metadata").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for _, kv := range [][2]string{{"name", mapName}, {"format", format}} {
		if _, err := db.Exec("INSERT INTO metadata(name, value) VALUES(?, ?)", kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// flipY converts between the XY scheme used everywhere else and the TMS rows
// MBTiles mandates, where row 0 is the southern edge.
func flipY(z, y uint32) uint32 {
	return uint32(1)<<z - 1 - y
}
