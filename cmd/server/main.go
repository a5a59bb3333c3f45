package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mapforge/internal/cache"
	"mapforge/internal/config"
	httphandlers "mapforge/internal/http"
	"mapforge/internal/logger"
	"mapforge/internal/map_pool"
	"mapforge/internal/map_source"
	"mapforge/internal/render"
	"mapforge/internal/tile"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting mapforge server",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
	)

	registry := render.NewRegistry(log)
	if !cfg.VipsDisabled {
		registry.Register(map_source.EngineRaster, render.NewRasterEngine(render.RasterConfig{
			MaxCacheMB:  cfg.VipsMaxCacheMB,
			Concurrency: cfg.VipsConcurrency,
		}, log))
	}
	registry.Register(map_source.EngineDebug, render.NewDebugEngine(log))

	pool, err := map_pool.New(map_pool.Config{
		Engine:      registry,
		Workers:     cfg.PoolWorkers,
		IdleTimeout: cfg.IdleTimeout,
		Logger:      log,
	})
	if err != nil {
		log.Fatal("Failed to start map pool", zap.Error(err))
	}

	if err := map_pool.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatal("Failed to register pool metrics", zap.Error(err))
	}

	scanner := map_source.New(cfg.DataDir, log)
	if err := scanner.Scan(); err != nil {
		log.Warn("Initial scan failed", zap.Error(err))
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if cfg.MapsWatch {
		if err := scanner.Watch(watchCtx); err != nil {
			log.Warn("Descriptor watch unavailable", zap.Error(err))
		}
	}

	tileCache, err := cache.NewCache(cfg.CacheType, cfg.CacheFileDir, cfg.CacheMemoryTiles, log)
	if err != nil {
		log.Fatal("Failed to initialize cache", zap.Error(err))
	}

	handlers := httphandlers.New(cfg, log, scanner, pool, tileCache)

	mux := http.NewServeMux()

	mux.HandleFunc("/maps", handlers.HandleMaps)
	mux.HandleFunc("/maps/", handlers.HandleMapRoutes)
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", handlers.HandleStatic)

	handler := handlers.CORSMiddleware(handlers.RequestLoggingMiddleware(mux))

	if cfg.WarmupLevels > 0 {
		go seedTiles(cfg.WarmupLevels, cfg.WarmupWorkers, scanner, pool, tileCache, log)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stopWatch()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// In-flight renders have returned; drain the pool and tear the engines
	// down.
	pool.Close()

	log.Info("Server stopped")
}

// seedTiles pre-renders every map from its covering tile down a fixed number
// of zoom levels, deepest tiles first, so first viewers hit a warm cache.
func seedTiles(levels, workerLimit int, scanner *map_source.Scanner, pool *map_pool.Pool, tiles cache.Cache, log *zap.Logger) {
	descs := scanner.List()
	if len(descs) == 0 {
		return
	}

	if workerLimit <= 0 {
		workerLimit = 1
	}

	log.Info("Starting tile seeding",
		zap.Int("levels", levels),
		zap.Int("maps", len(descs)),
		zap.Int("workers", workerLimit))

	start := time.Now()
	var rendered, failed atomic.Int64

	var group errgroup.Group
	group.SetLimit(workerLimit)

	for _, desc := range descs {
		def, err := desc.Resolve("")
		if err != nil {
			// Templated map without a default: nothing sensible to seed.
			log.Debug("Skipping seed", zap.String("map", desc.Name), zap.Error(err))
			continue
		}
		key := def.Key()

		cover := coveringTile(desc.Extent)
		if desc.MaxZoom > 0 && cover.Zoom > desc.MaxZoom {
			// The whole extent sits inside one tile deeper than the map
			// serves; nothing cacheable to seed.
			log.Debug("Skipping seed", zap.String("map", desc.Name), zap.Uint32("cover_zoom", cover.Zoom))
			continue
		}
		target := cover.Zoom + uint32(levels)
		if desc.MaxZoom > 0 && target > desc.MaxZoom {
			target = desc.MaxZoom
		}

		for _, t := range cover.Children(target) {
			if !t.Bounds().Intersects(desc.Extent) {
				continue
			}

			group.Go(func() error {
				data, err := pool.Render(context.Background(), key, t.Bounds())
				if err != nil {
					failed.Add(1)
					log.Debug("Seed tile failed",
						zap.String("map", desc.Name),
						zap.Uint32("z", t.Zoom), zap.Uint32("x", t.X), zap.Uint32("y", t.Y),
						zap.Error(err))
					return nil
				}

				tiles.Set(cache.TileKey{
					Map:    desc.Name,
					At:     desc.EffectiveAt(""),
					Z:      t.Zoom,
					X:      t.X,
					Y:      t.Y,
					Format: desc.Format,
				}, data)
				rendered.Add(1)
				return nil
			})
		}
	}

	group.Wait()
	log.Info("Tile seeding completed",
		zap.Int64("rendered", rendered.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", time.Since(start)))
}

// coveringTile returns the deepest tile whose bounds contain the whole
// extent. Small extents seed from a deep, tight tile instead of fanning out
// from the world root.
func coveringTile(ext tile.Extent) tile.Tile {
	cx := (ext.MinX + ext.MaxX) / 2
	cy := (ext.MinY + ext.MaxY) / 2

	for z := uint32(30); z > 0; z-- {
		t := tile.AtPoint(cx, cy, z)
		if covers(t.Bounds(), ext) {
			return t
		}
	}
	return tile.Tile{X: 0, Y: 0, Zoom: 0}
}

func covers(outer, inner tile.Extent) bool {
	return outer.MinX <= inner.MinX && inner.MaxX <= outer.MaxX &&
		outer.MinY <= inner.MinY && inner.MaxY <= outer.MaxY
}
