package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"mapforge/internal/map_pool"
	"mapforge/internal/map_source"
	"mapforge/internal/tile"
)

const jpegQuality = 82

type RasterConfig struct {
	MaxCacheMB  int
	Concurrency int
}

// RasterEngine renders tiles from georeferenced raster files through libvips.
// Constructing it initializes the vips global state; Shutdown tears that
// state down, so the pool only calls it once every renderer is gone.
type RasterEngine struct {
	logger *zap.Logger
}

func NewRasterEngine(cfg RasterConfig, logger *zap.Logger) *RasterEngine {
	// Bridge native library logs into zap, errors and warnings only.
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			logger.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			logger.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: cfg.Concurrency,
		MaxCacheMem:      cfg.MaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	})

	logger.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.MaxCacheMB),
		zap.Int("concurrency", cfg.Concurrency),
	)

	return &RasterEngine{logger: logger}
}

// NewRenderer opens the definition's source once to probe its pixel
// dimensions, pre-encodes the out-of-coverage tile, and hands back a
// renderer bound to that geometry. The probe doubles as validation: a
// missing or unreadable source fails the construction, not the first render.
func (e *RasterEngine) NewRenderer(key string) (map_pool.Renderer, error) {
	def, err := map_source.ParseDefinition(key)
	if err != nil {
		return nil, err
	}

	src, err := loadSource(def.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	width, height := src.Width(), src.Height()
	src.Close()

	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("source %s has no pixels", def.Source)
	}

	background := parseBackground(def.Background)
	blank, err := encodeFlatTile(background, def.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to encode background tile: %w", err)
	}

	return &rasterRenderer{
		def:        def,
		width:      width,
		height:     height,
		background: background,
		blank:      blank,
	}, nil
}

// CleanupIdle returns freed native buffer pages to the OS. Runs only while
// the pool is empty, when no renderer can touch vips memory concurrently.
func (e *RasterEngine) CleanupIdle() {
	debug.FreeOSMemory()
	e.logger.Debug("Raster engine idle cleanup")
}

func (e *RasterEngine) Shutdown() {
	vips.Shutdown()
	e.logger.Info("VIPS shut down")
}

// rasterRenderer serves tiles for one resolved definition. The owning pool
// worker is the only goroutine that ever touches it.
type rasterRenderer struct {
	def           map_source.Definition
	width, height int
	background    []float64
	blank         []byte
}

func (r *rasterRenderer) Render(ext tile.Extent) ([]byte, error) {
	win, ok := computeWindow(r.width, r.height, r.def.Extent, ext)
	if !ok {
		// Nothing of the source is visible here.
		return r.blank, nil
	}

	img, err := loadSource(r.def.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer img.Close()

	if err := img.ExtractArea(win.CropX, win.CropY, win.CropW, win.CropH); err != nil {
		return nil, fmt.Errorf("failed to extract area: %w", err)
	}

	resizeOpts := vips.DefaultResizeOptions()
	resizeOpts.Kernel = vips.KernelLanczos3
	resizeOpts.Vscale = win.ScaleY
	if err := img.Resize(win.ScaleX, resizeOpts); err != nil {
		return nil, fmt.Errorf("failed to resize: %w", err)
	}

	// Rounding can overshoot the tile by a pixel; trim before padding.
	if img.Width() > TileSize || img.Height() > TileSize {
		w := min(img.Width(), TileSize)
		h := min(img.Height(), TileSize)
		if err := img.ExtractArea(0, 0, w, h); err != nil {
			return nil, fmt.Errorf("failed to trim: %w", err)
		}
	}

	if img.Width() < TileSize || img.Height() < TileSize || win.Padded() {
		embedOpts := vips.DefaultEmbedOptions()
		embedOpts.Extend = vips.ExtendBackground
		embedOpts.Background = r.background
		if err := img.Embed(win.OffsetX, win.OffsetY, TileSize, TileSize, embedOpts); err != nil {
			return nil, fmt.Errorf("failed to pad: %w", err)
		}
	}

	switch r.def.Format {
	case "jpeg":
		jpegOpts := vips.DefaultJpegsaveBufferOptions()
		jpegOpts.Q = jpegQuality
		jpegOpts.Interlace = false
		data, err := img.JpegsaveBuffer(jpegOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to export: %w", err)
		}
		return data, nil
	default:
		data, err := img.PngsaveBuffer(vips.DefaultPngsaveBufferOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to export: %w", err)
		}
		return data, nil
	}
}

func (r *rasterRenderer) Close() {
	// Per-render images are closed as they go; nothing native outlives them.
	r.blank = nil
}

// loadSource opens a raster for tile extraction based on file extension.
// AccessRandom keeps large files on disk instead of decoding them whole.
func loadSource(path string) (*vips.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	access := vips.AccessRandom

	switch ext {
	case ".tif", ".tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Access = access
		return vips.NewTiffload(path, opts)
	case ".jpg", ".jpeg":
		opts := vips.DefaultJpegloadOptions()
		opts.Access = access
		return vips.NewJpegload(path, opts)
	case ".png":
		opts := vips.DefaultPngloadOptions()
		opts.Access = access
		return vips.NewPngload(path, opts)
	case ".webp":
		opts := vips.DefaultWebploadOptions()
		opts.Access = access
		return vips.NewWebpload(path, opts)
	default:
		return nil, fmt.Errorf("unsupported raster format: %s", ext)
	}
}

// parseBackground converts a #rgb or #rrggbb color into the 0-255 channel
// triple vips takes for padding. Descriptor validation has already vetted
// the shape.
func parseBackground(hex string) []float64 {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}

	channels := make([]float64, 3)
	for i := range channels {
		v, _ := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
		channels[i] = float64(v)
	}
	return channels
}

// encodeFlatTile pre-renders the tile returned for extents entirely outside
// the source's coverage. vips never sees these, so one buffer serves them
// all.
func encodeFlatTile(background []float64, format string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	fill := color.RGBA{
		R: uint8(background[0]),
		G: uint8(background[1]),
		B: uint8(background[2]),
		A: 255,
	}
	draw.Draw(img, img.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)

	var buf bytes.Buffer
	var err error
	if format == "jpeg" {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
