package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mapforge/internal/cache"
	"mapforge/internal/config"
	"mapforge/internal/map_pool"
	"mapforge/internal/map_source"
	"mapforge/internal/tile"
)

// TileRenderer produces one tile worth of imagery for a resolved definition
// key. *map_pool.Pool is the production implementation.
type TileRenderer interface {
	Render(ctx context.Context, key string, ext tile.Extent) ([]byte, error)
}

type Handlers struct {
	config   *config.Config
	logger   *zap.Logger
	scanner  *map_source.Scanner
	renderer TileRenderer
	tiles    cache.Cache
}

func New(config *config.Config, logger *zap.Logger, scanner *map_source.Scanner, renderer TileRenderer, tiles cache.Cache) *Handlers {
	return &Handlers{
		config:   config,
		logger:   logger,
		scanner:  scanner,
		renderer: renderer,
		tiles:    tiles,
	}
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		bytes := wrapped.bytesWritten

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", bytes),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// mapSummary is one entry of the GET /maps listing.
type mapSummary struct {
	Name      string `json:"name"`
	Engine    string `json:"engine"`
	Format    string `json:"format"`
	MaxZoom   uint32 `json:"max_zoom,omitempty"`
	Templated bool   `json:"templated"`
	DefaultAt string `json:"default_at,omitempty"`
	TileURL   string `json:"tile_url"`
}

// mapMeta is the GET /maps/{name}/meta document.
type mapMeta struct {
	Name      string      `json:"name"`
	Engine    string      `json:"engine"`
	Format    string      `json:"format"`
	Extent    tile.Extent `json:"extent"`
	MinZoom   uint32      `json:"min_zoom"`
	MaxZoom   uint32      `json:"max_zoom,omitempty"`
	Templated bool        `json:"templated"`
	DefaultAt string      `json:"default_at,omitempty"`
	TileURL   string      `json:"tile_url"`
}

func (h *Handlers) HandleMaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	descs := h.scanner.List()
	maps := make([]mapSummary, 0, len(descs))
	for _, d := range descs {
		maps = append(maps, mapSummary{
			Name:      d.Name,
			Engine:    d.Engine,
			Format:    d.Format,
			MaxZoom:   d.MaxZoom,
			Templated: d.Templated(),
			DefaultAt: d.DefaultAt,
			TileURL:   h.tileURL(d),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(maps)
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) HandleMapRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/maps/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	name := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "meta":
		h.handleMapMeta(w, r, name)
	case len(parts) == 4:
		h.handleTile(w, r, name, parts[1:])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) HandleStatic(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	filePath := filepath.Join("public", path)

	if !strings.HasPrefix(filepath.Clean(filePath), "public") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	// If serving index.html, replace the placeholder with the actual base URL
	if path == "/index.html" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		content := strings.ReplaceAll(string(data), "__PUBLIC_BASE_URL__", h.config.PublicBaseURL)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(content))
		return
	}

	http.ServeFile(w, r, filePath)
}

func (h *Handlers) handleMapMeta(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	desc, ok := h.scanner.Get(name)
	if !ok {
		http.Error(w, "Unknown map", http.StatusNotFound)
		return
	}

	meta := mapMeta{
		Name:      desc.Name,
		Engine:    desc.Engine,
		Format:    desc.Format,
		Extent:    desc.Extent,
		MinZoom:   0,
		MaxZoom:   desc.MaxZoom,
		Templated: desc.Templated(),
		DefaultAt: desc.DefaultAt,
		TileURL:   h.tileURL(desc),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meta)
}

func (h *Handlers) handleTile(w http.ResponseWriter, r *http.Request, name string, tileParts []string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	desc, ok := h.scanner.Get(name)
	if !ok {
		http.Error(w, "Unknown map", http.StatusNotFound)
		return
	}

	var z, x, y int
	if _, err := fmt.Sscanf(tileParts[0], "%d", &z); err != nil {
		http.Error(w, "Invalid zoom level", http.StatusBadRequest)
		return
	}
	if _, err := fmt.Sscanf(tileParts[1], "%d", &x); err != nil {
		http.Error(w, "Invalid x coordinate", http.StatusBadRequest)
		return
	}

	tileFile := tileParts[2]
	ext := filepath.Ext(tileFile)
	if _, err := fmt.Sscanf(strings.TrimSuffix(tileFile, ext), "%d", &y); err != nil {
		http.Error(w, "Invalid y coordinate", http.StatusBadRequest)
		return
	}

	if z < 0 || x < 0 || y < 0 {
		http.Error(w, "Coordinates must be non-negative", http.StatusBadRequest)
		return
	}
	if z >= 32 || uint64(x) >= 1<<uint(z) || uint64(y) >= 1<<uint(z) {
		http.Error(w, "Tile coordinates out of range for zoom", http.StatusBadRequest)
		return
	}

	format := strings.TrimPrefix(ext, ".")
	switch format {
	case "png":
	case "jpg", "jpeg":
		format = "jpeg"
	default:
		http.Error(w, "Invalid format", http.StatusBadRequest)
		return
	}
	if format != desc.Format {
		http.Error(w, fmt.Sprintf("Map %s serves %s tiles", name, desc.Format), http.StatusBadRequest)
		return
	}

	if desc.MaxZoom > 0 && uint32(z) > desc.MaxZoom {
		http.Error(w, "Zoom level beyond map maximum", http.StatusNotFound)
		return
	}

	at := r.URL.Query().Get("at")
	def, err := desc.Resolve(at)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := def.Key()

	tileKey := cache.TileKey{
		Map:    desc.Name,
		At:     desc.EffectiveAt(at),
		Z:      uint32(z),
		X:      uint32(x),
		Y:      uint32(y),
		Format: format,
	}

	data, hit := h.tiles.Get(tileKey)
	if !hit {
		data, err = h.renderer.Render(r.Context(), key, tile.FromZXY(uint32(z), uint32(x), uint32(y)).Bounds())
		if err != nil {
			h.writeRenderError(w, err)
			return
		}
		h.tiles.Set(tileKey, data)
	}

	etag := map_source.KeyDigest(fmt.Sprintf("%s/%d/%d/%d.%s", key, z, x, y, format))

	w.Header().Set("ETag", `"`+etag+`"`)
	cacheControl := "public, max-age=3600"
	if tileKey.At != "" {
		// A pinned "at" value names a fixed snapshot of the source.
		cacheControl = "public, max-age=31536000, immutable"
	}
	w.Header().Set("Cache-Control", cacheControl)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))

	contentType := "image/png"
	if format == "jpeg" {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(data)
}

func (h *Handlers) writeRenderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, map_pool.ErrPoolExhausted), errors.Is(err, map_pool.ErrPoolClosed):
		h.logger.Warn("Render pool unavailable", zap.Error(err))
		http.Error(w, "Render pool unavailable, retry shortly", http.StatusServiceUnavailable)
	default:
		h.logger.Error("Failed to render tile", zap.Error(err))
		http.Error(w, "Failed to render tile", http.StatusInternalServerError)
	}
}

func (h *Handlers) tileURL(d map_source.Descriptor) string {
	ext := "png"
	if d.Format == "jpeg" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s/maps/%s/{z}/{x}/{y}.%s", h.config.PublicBaseURL, d.Name, ext)
}

// Not for real production use due to potential spoofing
// but it's fine for a demo
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
