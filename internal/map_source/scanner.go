package map_source

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Scanner loads map descriptors from the data directory. Scan replaces the
// whole set atomically, so readers always see a consistent catalog.
type Scanner struct {
	dataDir string
	logger  *zap.Logger

	mu   sync.RWMutex
	maps map[string]*Descriptor
}

func New(dataDir string, logger *zap.Logger) *Scanner {
	return &Scanner{
		dataDir: dataDir,
		logger:  logger,
		maps:    map[string]*Descriptor{},
	}
}

// Scan reads every *.json descriptor in the data directory. Files that fail
// to parse or validate are skipped with a warning so one broken descriptor
// cannot take the rest of the catalog down.
func (s *Scanner) Scan() error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	maps := map[string]*Descriptor{}

	for _, entry := range entries {
		if entry.IsDir() || strings.ToLower(filepath.Ext(entry.Name())) != ".json" {
			continue
		}

		path := filepath.Join(s.dataDir, entry.Name())
		desc, err := s.loadDescriptor(path)
		if err != nil {
			s.logger.Warn("Skipping map descriptor", zap.String("path", path), zap.Error(err))
			continue
		}

		if prev, ok := maps[desc.Name]; ok {
			s.logger.Warn("Duplicate map name, keeping first",
				zap.String("name", desc.Name),
				zap.String("kept_source", prev.Source),
				zap.String("skipped_path", path))
			continue
		}

		maps[desc.Name] = desc
	}

	s.mu.Lock()
	s.maps = maps
	s.mu.Unlock()

	s.logger.Info("Scanned map descriptors", zap.Int("maps", len(maps)))
	return nil
}

func (s *Scanner) loadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor: %w", err)
	}

	// An unnamed map takes its file name.
	if desc.Name == "" {
		desc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if err := desc.Validate(); err != nil {
		return nil, err
	}

	return &desc, nil
}

// List returns the descriptors sorted by name.
func (s *Scanner) List() []Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Descriptor, 0, len(s.maps))
	for _, desc := range s.maps {
		out = append(out, *desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a copy of the named descriptor.
func (s *Scanner) Get(name string) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	desc, ok := s.maps[name]
	if !ok {
		return Descriptor{}, false
	}
	return *desc, true
}

func (s *Scanner) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.maps)
}
