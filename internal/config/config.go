package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Port             int
	DataDir          string
	PoolWorkers      int
	IdleTimeout      time.Duration
	CacheType        string
	CacheMemoryTiles int
	CacheFileDir     string
	VipsDisabled     bool
	VipsMaxCacheMB   int
	VipsConcurrency  int
	WarmupLevels     int
	WarmupWorkers    int
	MapsWatch        bool
	LogLevel         string
	LogFormat        string
	AllowedOrigin    string
	PublicBaseURL    string
}

func Load() *Config {
	dataDir := getEnv("DATA_DIR", "/data")

	cfg := &Config{
		Port:             getEnvInt("PORT", 8080),
		DataDir:          dataDir,
		PoolWorkers:      getEnvInt("POOL_WORKERS", 24),
		IdleTimeout:      getEnvDuration("IDLE_TIMEOUT", time.Hour),
		CacheType:        getEnv("CACHE", "memory"),
		CacheMemoryTiles: getEnvInt("CACHE_MEMORY_TILES", 2000),
		CacheFileDir:     getEnv("CACHE_FILE_DIR", filepath.Join(dataDir, "cache")),
		VipsDisabled:     getEnvBool("VIPS_DISABLED", false),
		VipsMaxCacheMB:   getEnvInt("VIPS_MAX_CACHE_MB", 256),
		VipsConcurrency:  getEnvInt("VIPS_CONCURRENCY", 1),
		WarmupLevels:     getEnvInt("WARMUP_LEVELS", 0),
		WarmupWorkers:    getEnvInt("WARMUP_WORKERS", 1),
		MapsWatch:        getEnvBool("MAPS_WATCH", false),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		AllowedOrigin:    getEnv("ALLOWED_ORIGIN", ""),
		PublicBaseURL:    getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90m", "1h30m") and, for
// deployments that configure plain seconds, bare integers.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
