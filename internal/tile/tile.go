// Package tile converts between geographic points, web mercator extents and
// ZXY tile addresses.
package tile

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

const (
	EarthRadius        = 6378137.0
	EarthCircumference = 2 * math.Pi * EarthRadius
)

// Tile is a web mercator ZXY tile. X and Y grow east and south from the
// top-left corner of the world, so 0 <= X,Y < 2^Zoom.
type Tile struct {
	X    uint32 `json:"x"`
	Y    uint32 `json:"y"`
	Zoom uint32 `json:"zoom"`
}

func FromZXY(z, x, y uint32) Tile {
	return Tile{X: x, Y: y, Zoom: z}
}

// FromCoords returns the tile containing a longitude/latitude point at the
// given zoom level. Points on or beyond the projection edge clamp to the
// first or last tile row/column instead of overflowing the grid.
func FromCoords(lon, lat float64, zoom uint32) Tile {
	latsin := math.Sin(lat * math.Pi / 180)
	x := 0.5 + lon/360
	y := 0.5 - 0.25*math.Log((1+latsin)/(1-latsin))/math.Pi

	return Tile{
		X:    tileIndex(x, zoom),
		Y:    tileIndex(y, zoom),
		Zoom: zoom,
	}
}

// AtPoint returns the tile containing a web mercator point at the given zoom
// level, with the same edge clamping as FromCoords.
func AtPoint(x, y float64, zoom uint32) Tile {
	return Tile{
		X:    tileIndex(0.5+x/EarthCircumference, zoom),
		Y:    tileIndex(0.5-y/EarthCircumference, zoom),
		Zoom: zoom,
	}
}

// tileIndex maps a normalized world coordinate in [0,1) to a tile index,
// clamping out-of-range values to the grid.
func tileIndex(norm float64, zoom uint32) uint32 {
	n := math.Exp2(float64(zoom))
	switch {
	case norm <= 0:
		return 0
	case norm >= 1:
		return uint32(n) - 1
	default:
		return uint32(math.Floor(norm * n))
	}
}

// Project converts a longitude/latitude point to web mercator meters.
func Project(lon, lat float64) (x, y float64) {
	x = lon / 360 * EarthCircumference
	y = math.Log(math.Tan((90+lat)*math.Pi/360)) * EarthRadius
	return x, y
}

// Bounds returns the tile's extent in web mercator meters. Y is inverted:
// tile row 0 is the northern edge of the projection.
func (t Tile) Bounds() Extent {
	size := EarthCircumference / math.Exp2(float64(t.Zoom))

	minX := float64(t.X)*size - EarthCircumference/2
	maxY := EarthCircumference/2 - float64(t.Y)*size

	return Extent{
		MinX: minX,
		MinY: maxY - size,
		MaxX: minX + size,
		MaxY: maxY,
	}
}

// Children returns the tile itself plus every descendant down to targetZoom,
// ordered deepest zoom first and ending with the tile itself. A targetZoom at
// or above the tile's own zoom yields just the tile.
func (t Tile) Children(targetZoom uint32) []Tile {
	tiles := []Tile{t}

	for z := t.Zoom; z < targetZoom; z++ {
		// Range holds the slice header from before the appends, so each
		// pass splits exactly the tiles present at the previous level.
		for _, p := range tiles {
			if p.Zoom != z {
				continue
			}
			tiles = append(tiles,
				Tile{X: p.X * 2, Y: p.Y * 2, Zoom: z + 1},
				Tile{X: p.X*2 + 1, Y: p.Y * 2, Zoom: z + 1},
				Tile{X: p.X*2 + 1, Y: p.Y*2 + 1, Zoom: z + 1},
				Tile{X: p.X * 2, Y: p.Y*2 + 1, Zoom: z + 1},
			)
		}
	}

	slices.Reverse(tiles)
	return tiles
}

// ZXYURL fills the {z}, {x} and {y} placeholders of a slippy-map URL template.
func (t Tile) ZXYURL(template string) string {
	return strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(t.Zoom), 10),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
	).Replace(template)
}

// WMSURL fills the {bbox} and {srs} placeholders of a WMS GetMap URL template
// with the tile's mercator extent.
func (t Tile) WMSURL(template string) string {
	b := t.Bounds()
	bbox := strings.Join([]string{
		formatCoord(b.MinX),
		formatCoord(b.MinY),
		formatCoord(b.MaxX),
		formatCoord(b.MaxY),
	}, ",")

	return strings.NewReplacer(
		"{bbox}", bbox,
		"{srs}", "EPSG:3857",
	).Replace(template)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
