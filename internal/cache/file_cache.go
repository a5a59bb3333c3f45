package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// "at" values come straight from request query strings; anything that could
// escape the cache tree is flattened before it becomes a directory name.
var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// FileCache persists tiles under the cache directory.
// Structure: {cacheDir}/{map}@{at}/{z}/{x}_{y}.{format}
type FileCache struct {
	mu       sync.RWMutex
	cacheDir string
}

func NewFileCache(cacheDir string) (*FileCache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileCache{
		cacheDir: cacheDir,
	}, nil
}

func (c *FileCache) buildFilePath(key TileKey) string {
	dirName := key.Map
	if key.At != "" {
		dirName += "@" + unsafePathChars.ReplaceAllString(key.At, "_")
	}
	dir := filepath.Join(c.cacheDir, dirName, fmt.Sprintf("%d", key.Z))
	fileName := fmt.Sprintf("%d_%d.%s", key.X, key.Y, key.Format)
	return filepath.Join(dir, fileName)
}

func (c *FileCache) Get(key TileKey) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.buildFilePath(key))
	if err != nil {
		return nil, false
	}

	return data, true
}

func (c *FileCache) Set(key TileKey, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	filePath := c.buildFilePath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return
	}

	// Write atomically
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, value, 0644); err != nil {
		return
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return
	}
}

func (c *FileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.cacheDir); err != nil {
		return
	}

	os.MkdirAll(c.cacheDir, 0755)
}
