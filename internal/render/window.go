package render

import (
	"math"

	"mapforge/internal/tile"
)

// TileSize is the edge length of every rendered tile in pixels.
const TileSize = 256

// Window maps a requested mercator extent onto a source's pixel grid: which
// source pixels to crop, how to scale the crop to tile resolution, and where
// the scaled crop lands on the tile when the request reaches past the
// source's coverage.
type Window struct {
	CropX, CropY int
	CropW, CropH int

	ScaleX, ScaleY float64

	OffsetX, OffsetY int
}

// Padded reports whether the crop fails to cover the whole tile, requiring a
// background fill around it.
func (w Window) Padded() bool {
	return w.OffsetX > 0 || w.OffsetY > 0 ||
		int(math.Round(float64(w.CropW)*w.ScaleX))+w.OffsetX < TileSize ||
		int(math.Round(float64(w.CropH)*w.ScaleY))+w.OffsetY < TileSize
}

// computeWindow projects the requested extent onto a source of srcW x srcH
// pixels georeferenced to srcExt. Rows grow south: pixel row 0 sits at the
// source's MaxY edge. It reports false when the request lies entirely
// outside the source.
func computeWindow(srcW, srcH int, srcExt, req tile.Extent) (Window, bool) {
	mppX := srcExt.Width() / float64(srcW)
	mppY := srcExt.Height() / float64(srcH)

	// The request's footprint in fractional source pixels.
	left := (req.MinX - srcExt.MinX) / mppX
	right := (req.MaxX - srcExt.MinX) / mppX
	top := (srcExt.MaxY - req.MaxY) / mppY
	bottom := (srcExt.MaxY - req.MinY) / mppY

	clampedLeft := math.Max(left, 0)
	clampedRight := math.Min(right, float64(srcW))
	clampedTop := math.Max(top, 0)
	clampedBottom := math.Min(bottom, float64(srcH))
	if clampedLeft >= clampedRight || clampedTop >= clampedBottom {
		return Window{}, false
	}

	// Output pixels per source pixel at this zoom, from the unclamped span
	// so every tile of the zoom level shares one scale.
	scaleX := TileSize / (right - left)
	scaleY := TileSize / (bottom - top)

	cropX := int(math.Floor(clampedLeft))
	cropY := int(math.Floor(clampedTop))
	cropW := min(int(math.Ceil(clampedRight)), srcW) - cropX
	cropH := min(int(math.Ceil(clampedBottom)), srcH) - cropY

	offsetX := int(math.Round((float64(cropX) - left) * scaleX))
	offsetY := int(math.Round((float64(cropY) - top) * scaleY))

	return Window{
		CropX:   cropX,
		CropY:   cropY,
		CropW:   cropW,
		CropH:   cropH,
		ScaleX:  scaleX,
		ScaleY:  scaleY,
		OffsetX: max(offsetX, 0),
		OffsetY: max(offsetY, 0),
	}, true
}
