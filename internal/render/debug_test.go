package render

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mapforge/internal/map_source"
	"mapforge/internal/tile"
)

func debugKey(t *testing.T, format string) string {
	t.Helper()
	desc := map_source.Descriptor{Name: "grid", Engine: map_source.EngineDebug, Format: format}
	require.NoError(t, desc.Validate())
	def, err := desc.Resolve("")
	require.NoError(t, err)
	return def.Key()
}

func TestDebugRendererProducesTiles(t *testing.T) {
	eng := NewDebugEngine(zaptest.NewLogger(t))

	for _, format := range []string{"png", "jpeg"} {
		t.Run(format, func(t *testing.T) {
			r, err := eng.NewRenderer(debugKey(t, format))
			require.NoError(t, err)
			defer r.Close()

			data, err := r.Render(tile.FromZXY(7, 26, 48).Bounds())
			require.NoError(t, err)

			img, decoded, err := image.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, format, decoded)
			assert.Equal(t, TileSize, img.Bounds().Dx())
			assert.Equal(t, TileSize, img.Bounds().Dy())
		})
	}
}

func TestDebugRendererCheckerboardParity(t *testing.T) {
	eng := NewDebugEngine(zaptest.NewLogger(t))
	r, err := eng.NewRenderer(debugKey(t, "png"))
	require.NoError(t, err)
	defer r.Close()

	even, err := r.Render(tile.FromZXY(3, 2, 2).Bounds())
	require.NoError(t, err)
	odd, err := r.Render(tile.FromZXY(3, 3, 2).Bounds())
	require.NoError(t, err)
	evenAgain, err := r.Render(tile.FromZXY(3, 4, 4).Bounds())
	require.NoError(t, err)

	assert.NotEqual(t, even, odd, "neighboring tiles must differ")
	assert.Equal(t, even, evenAgain, "tiles of one parity are identical")
}

func TestDebugRendererRejectsEmptyExtent(t *testing.T) {
	eng := NewDebugEngine(zaptest.NewLogger(t))
	r, err := eng.NewRenderer(debugKey(t, "png"))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Render(tile.Extent{})
	require.Error(t, err)
}

func TestDebugRendererRejectsMalformedKey(t *testing.T) {
	eng := NewDebugEngine(zaptest.NewLogger(t))
	_, err := eng.NewRenderer("MAP END")
	require.Error(t, err)
}

func TestTileAtRecoversAddress(t *testing.T) {
	tiles := []tile.Tile{
		{X: 0, Y: 0, Zoom: 0},
		{X: 26, Y: 48, Zoom: 7},
		{X: 1023, Y: 512, Zoom: 10},
	}

	for _, tl := range tiles {
		assert.Equal(t, tl, tileAt(tl.Bounds()))
	}
}
