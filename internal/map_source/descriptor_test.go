package map_source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapforge/internal/tile"
)

func validRaster() Descriptor {
	return Descriptor{
		Name:   "naip",
		Engine: EngineRaster,
		Source: "/data/naip.tif",
		Extent: tile.Extent{MinX: -11711375.7, MinY: 4940736.6, MaxX: -11711222.8, MaxY: 4940889.5},
	}
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Descriptor)
		wantErr string
	}{
		{"valid", func(d *Descriptor) {}, ""},
		{"empty name", func(d *Descriptor) { d.Name = "" }, "invalid map name"},
		{"name with slash", func(d *Descriptor) { d.Name = "a/b" }, "invalid map name"},
		{"unknown engine", func(d *Descriptor) { d.Engine = "vector" }, "unknown engine"},
		{"raster without source", func(d *Descriptor) { d.Source = "" }, "need a source"},
		{"empty extent", func(d *Descriptor) { d.Extent = tile.Extent{} }, "is empty"},
		{"inverted extent", func(d *Descriptor) { d.Extent.MinX, d.Extent.MaxX = d.Extent.MaxX, d.Extent.MinX }, "is empty"},
		{"bad background", func(d *Descriptor) { d.Background = "red" }, "invalid background"},
		{"bad format", func(d *Descriptor) { d.Format = "webp" }, "unknown format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := validRaster()
			tt.mutate(&desc)

			err := desc.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDescriptorValidateFillsDefaults(t *testing.T) {
	desc := validRaster()
	require.NoError(t, desc.Validate())

	assert.Equal(t, "#ddd", desc.Background)
	assert.Equal(t, "png", desc.Format)
}

func TestDescriptorValidateDebugDefaultsToWorld(t *testing.T) {
	desc := Descriptor{Name: "grid", Engine: EngineDebug}
	require.NoError(t, desc.Validate())

	assert.Equal(t, tile.Tile{X: 0, Y: 0, Zoom: 0}.Bounds(), desc.Extent)
}

func TestResolveSubstitutesAt(t *testing.T) {
	desc := validRaster()
	desc.Source = "/arrays/naip?timestamp={at}"
	desc.DefaultAt = "1600000000"
	require.NoError(t, desc.Validate())

	def, err := desc.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "/arrays/naip?timestamp=1600000000", def.Source)

	// A request value wins over the default.
	def, err = desc.Resolve("1700000000")
	require.NoError(t, err)
	assert.Equal(t, "/arrays/naip?timestamp=1700000000", def.Source)
}

func TestResolveWithoutPlaceholderIgnoresAt(t *testing.T) {
	desc := validRaster()
	require.NoError(t, desc.Validate())

	plain, err := desc.Resolve("")
	require.NoError(t, err)
	noisy, err := desc.Resolve("1700000000")
	require.NoError(t, err)

	assert.Equal(t, plain.Key(), noisy.Key(), "maps without the placeholder must not mint keys per 'at' value")
}

func TestEffectiveAt(t *testing.T) {
	templated := validRaster()
	templated.Source = "/arrays/naip?timestamp={at}"
	templated.DefaultAt = "1600000000"
	require.NoError(t, templated.Validate())

	assert.Equal(t, "1600000000", templated.EffectiveAt(""))
	assert.Equal(t, "1700000000", templated.EffectiveAt("1700000000"))

	plain := validRaster()
	require.NoError(t, plain.Validate())
	assert.Equal(t, "", plain.EffectiveAt("1700000000"))
}

func TestResolveRequiresAtForTemplatedSource(t *testing.T) {
	desc := validRaster()
	desc.Source = "/arrays/naip?timestamp={at}"
	require.NoError(t, desc.Validate())

	_, err := desc.Resolve("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no default")
}

func TestDefinitionKeyIsContentAddressed(t *testing.T) {
	a := validRaster()
	a.Name = "one"
	b := validRaster()
	b.Name = "two"
	require.NoError(t, a.Validate())
	require.NoError(t, b.Validate())

	defA, err := a.Resolve("")
	require.NoError(t, err)
	defB, err := b.Resolve("")
	require.NoError(t, err)

	// The display name is not part of the identity.
	assert.Equal(t, defA.Key(), defB.Key())

	c := validRaster()
	c.Source = "/data/other.tif"
	require.NoError(t, c.Validate())
	defC, err := c.Resolve("")
	require.NoError(t, err)
	assert.NotEqual(t, defA.Key(), defC.Key())
}

func TestParseDefinitionRoundTrip(t *testing.T) {
	desc := validRaster()
	require.NoError(t, desc.Validate())

	def, err := desc.Resolve("")
	require.NoError(t, err)

	parsed, err := ParseDefinition(def.Key())
	require.NoError(t, err)
	assert.Equal(t, def, parsed)

	_, err = ParseDefinition("MAP END")
	require.Error(t, err)
}

func TestKeyDigest(t *testing.T) {
	a := KeyDigest("one")
	b := KeyDigest("two")

	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, KeyDigest("one"))
}
