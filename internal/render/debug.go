package render

import (
	"bytes"
	"fmt"
	"math"

	"github.com/gogpu/gg"
	"go.uber.org/zap"

	"mapforge/internal/map_pool"
	"mapforge/internal/map_source"
	"mapforge/internal/tile"
)

// DebugEngine renders synthetic tiles without any raster data or native
// library: parity-checkered squares with a grid, enough to see tile
// boundaries and zoom behavior in a viewer. It doubles as the pool's test
// double with real rendering cost.
type DebugEngine struct {
	logger *zap.Logger
}

func NewDebugEngine(logger *zap.Logger) *DebugEngine {
	return &DebugEngine{logger: logger}
}

func (e *DebugEngine) NewRenderer(key string) (map_pool.Renderer, error) {
	def, err := map_source.ParseDefinition(key)
	if err != nil {
		return nil, err
	}

	base := gg.Hex(def.Background)
	return &debugRenderer{
		def:  def,
		dc:   gg.NewContext(TileSize, TileSize),
		base: base,
		alt:  shade(base, 0.82),
		line: shade(base, 0.55),
	}, nil
}

// CleanupIdle has nothing to release: the canvases die with their renderers
// and no state is shared between them.
func (e *DebugEngine) CleanupIdle() {}

func (e *DebugEngine) Shutdown() {}

// debugRenderer owns one long-lived canvas, redrawn for every tile. The
// canvas is not safe to share, which is exactly the property the pool is
// built around.
type debugRenderer struct {
	def  map_source.Definition
	dc   *gg.Context
	base gg.RGBA
	alt  gg.RGBA
	line gg.RGBA
}

func (r *debugRenderer) Render(ext tile.Extent) ([]byte, error) {
	if ext.Width() <= 0 || ext.Height() <= 0 {
		return nil, fmt.Errorf("empty extent %s", ext)
	}
	tl := tileAt(ext)

	// Checkerboard: neighbors at one zoom level never share a color.
	if (tl.X+tl.Y)%2 == 0 {
		r.dc.ClearWithColor(r.base)
	} else {
		r.dc.ClearWithColor(r.alt)
	}

	r.dc.SetRGB(r.line.R, r.line.G, r.line.B)

	// Quarter-point crosses.
	const arm = 4.0
	for _, cx := range []float64{64, 128, 192} {
		for _, cy := range []float64{64, 128, 192} {
			r.dc.SetLineWidth(1)
			r.dc.DrawLine(cx-arm, cy, cx+arm, cy)
			r.dc.Stroke()
			r.dc.DrawLine(cx, cy-arm, cx, cy+arm)
			r.dc.Stroke()
		}
	}

	// Border along the tile edge.
	r.dc.SetLineWidth(2)
	r.dc.DrawRectangle(1, 1, TileSize-2, TileSize-2)
	r.dc.Stroke()

	var buf bytes.Buffer
	var err error
	if r.def.Format == "jpeg" {
		err = r.dc.EncodeJPEG(&buf, jpegQuality)
	} else {
		err = r.dc.EncodePNG(&buf)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode tile: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *debugRenderer) Close() {
	r.dc.Close()
}

// tileAt recovers the tile address from its mercator extent: the zoom from
// the edge length, the indices from the center point.
func tileAt(ext tile.Extent) tile.Tile {
	zoom := math.Round(math.Log2(tile.EarthCircumference / ext.Width()))
	zoom = math.Max(0, math.Min(30, zoom))

	cx := ext.MinX + ext.Width()/2
	cy := ext.MinY + ext.Height()/2
	return tile.AtPoint(cx, cy, uint32(zoom))
}

func shade(c gg.RGBA, factor float64) gg.RGBA {
	return gg.RGBA{R: c.R * factor, G: c.G * factor, B: c.B * factor, A: c.A}
}
