package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapforge/internal/tile"
)

// A 1024x1024 source at one meter per pixel.
var srcExtent = tile.Extent{MinX: 0, MinY: 0, MaxX: 1024, MaxY: 1024}

func TestComputeWindowInterior(t *testing.T) {
	win, ok := computeWindow(1024, 1024, srcExtent, tile.Extent{MinX: 256, MinY: 256, MaxX: 512, MaxY: 512})
	require.True(t, ok)

	// Pixel rows grow south, so MaxY 512 is row (1024-512)/1 = 512.
	assert.Equal(t, 256, win.CropX)
	assert.Equal(t, 512, win.CropY)
	assert.Equal(t, 256, win.CropW)
	assert.Equal(t, 256, win.CropH)
	assert.InDelta(t, 1.0, win.ScaleX, 1e-9)
	assert.InDelta(t, 1.0, win.ScaleY, 1e-9)
	assert.Equal(t, 0, win.OffsetX)
	assert.Equal(t, 0, win.OffsetY)
	assert.False(t, win.Padded())
}

func TestComputeWindowClampsEastOverhang(t *testing.T) {
	win, ok := computeWindow(1024, 1024, srcExtent, tile.Extent{MinX: 768, MinY: 256, MaxX: 1280, MaxY: 768})
	require.True(t, ok)

	assert.Equal(t, 768, win.CropX)
	assert.Equal(t, 256, win.CropW, "crop stops at the source edge")
	assert.Equal(t, 512, win.CropH)
	assert.InDelta(t, 0.5, win.ScaleX, 1e-9, "scale comes from the full request span, not the clamped crop")
	assert.Equal(t, 0, win.OffsetX)
	assert.True(t, win.Padded(), "half the tile is outside the source")
}

func TestComputeWindowWestOverhangOffsets(t *testing.T) {
	win, ok := computeWindow(1024, 1024, srcExtent, tile.Extent{MinX: -256, MinY: 0, MaxX: 256, MaxY: 512})
	require.True(t, ok)

	assert.Equal(t, 0, win.CropX)
	assert.Equal(t, 256, win.CropW)
	assert.Equal(t, 128, win.OffsetX, "the source starts halfway across the tile")
	assert.Equal(t, 0, win.OffsetY)
	assert.True(t, win.Padded())
}

func TestComputeWindowZoomedOut(t *testing.T) {
	// The request is twice the source in every direction.
	win, ok := computeWindow(1024, 1024, srcExtent, tile.Extent{MinX: -512, MinY: -512, MaxX: 1536, MaxY: 1536})
	require.True(t, ok)

	assert.Equal(t, 0, win.CropX)
	assert.Equal(t, 1024, win.CropW)
	assert.InDelta(t, 0.125, win.ScaleX, 1e-9)
	assert.Equal(t, 64, win.OffsetX)
	assert.Equal(t, 64, win.OffsetY)
	assert.True(t, win.Padded())
}

func TestComputeWindowNonSquarePixels(t *testing.T) {
	// 1024x512 pixels over a square kilometer: Y has twice the meters per pixel.
	win, ok := computeWindow(1024, 512, srcExtent, srcExtent)
	require.True(t, ok)

	assert.Equal(t, 1024, win.CropW)
	assert.Equal(t, 512, win.CropH)
	assert.InDelta(t, 0.25, win.ScaleX, 1e-9)
	assert.InDelta(t, 0.5, win.ScaleY, 1e-9)
	assert.False(t, win.Padded())
}

func TestComputeWindowOutOfCoverage(t *testing.T) {
	requests := []tile.Extent{
		{MinX: -1024, MinY: 0, MaxX: -512, MaxY: 512},  // west of the source
		{MinX: 2048, MinY: 0, MaxX: 2560, MaxY: 512},   // east
		{MinX: 0, MinY: 2048, MaxX: 512, MaxY: 2560},   // north
		{MinX: 0, MinY: -2560, MaxX: 512, MaxY: -2048}, // south
	}

	for _, req := range requests {
		_, ok := computeWindow(1024, 1024, srcExtent, req)
		assert.False(t, ok, "request %s lies outside the source", req)
	}
}

func TestComputeWindowEdgeTouchIsOutside(t *testing.T) {
	// Sharing only a border with the source renders nothing.
	_, ok := computeWindow(1024, 1024, srcExtent, tile.Extent{MinX: 1024, MinY: 0, MaxX: 1536, MaxY: 512})
	assert.False(t, ok)
}

func TestParseBackground(t *testing.T) {
	assert.Equal(t, []float64{221, 221, 221}, parseBackground("#ddd"))
	assert.Equal(t, []float64{255, 0, 128}, parseBackground("#ff0080"))
	assert.Equal(t, []float64{0, 0, 0}, parseBackground("#000000"))
}

func TestEncodeFlatTile(t *testing.T) {
	for _, format := range []string{"png", "jpeg"} {
		data, err := encodeFlatTile([]float64{221, 221, 221}, format)
		require.NoError(t, err, format)
		assert.NotEmpty(t, data)
	}
}
