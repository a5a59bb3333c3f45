// Package map_source loads map descriptors from the data directory and
// resolves them into the canonical definitions that identify renderers.
package map_source

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"mapforge/internal/tile"
)

// AtPlaceholder marks the spot in a descriptor source where the per-request
// "at" value is substituted, typically a timestamp for time-enabled sources.
const AtPlaceholder = "{at}"

const (
	EngineRaster = "raster"
	EngineDebug  = "debug"

	defaultBackground = "#ddd"
	defaultFormat     = "png"
)

var (
	namePattern  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)
	colorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
)

// Descriptor is one operator-managed map, declared as a JSON file in the data
// directory.
type Descriptor struct {
	Name       string      `json:"name"`
	Engine     string      `json:"engine"`
	Source     string      `json:"source,omitempty"`
	Extent     tile.Extent `json:"extent,omitempty"`
	Background string      `json:"background,omitempty"`
	Format     string      `json:"format,omitempty"`
	MaxZoom    uint32      `json:"max_zoom,omitempty"`
	DefaultAt  string      `json:"default_at,omitempty"`
}

// Validate checks the descriptor and fills defaulted fields. A debug map
// without an extent covers the whole projection.
func (d *Descriptor) Validate() error {
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("invalid map name %q", d.Name)
	}

	switch d.Engine {
	case EngineRaster:
		if d.Source == "" {
			return fmt.Errorf("map %q: raster maps need a source", d.Name)
		}
		if d.Extent.Width() <= 0 || d.Extent.Height() <= 0 {
			return fmt.Errorf("map %q: extent %s is empty", d.Name, d.Extent)
		}
	case EngineDebug:
		if d.Extent == (tile.Extent{}) {
			d.Extent = tile.Tile{X: 0, Y: 0, Zoom: 0}.Bounds()
		}
		if d.Extent.Width() <= 0 || d.Extent.Height() <= 0 {
			return fmt.Errorf("map %q: extent %s is empty", d.Name, d.Extent)
		}
	default:
		return fmt.Errorf("map %q: unknown engine %q (supported: raster, debug)", d.Name, d.Engine)
	}

	if d.Background == "" {
		d.Background = defaultBackground
	}
	if !colorPattern.MatchString(d.Background) {
		return fmt.Errorf("map %q: invalid background color %q", d.Name, d.Background)
	}

	if d.Format == "" {
		d.Format = defaultFormat
	}
	if d.Format != "png" && d.Format != "jpeg" {
		return fmt.Errorf("map %q: unknown format %q (supported: png, jpeg)", d.Name, d.Format)
	}

	return nil
}

// Templated reports whether the source carries the {at} placeholder.
func (d *Descriptor) Templated() bool {
	return strings.Contains(d.Source, AtPlaceholder)
}

// EffectiveAt is the "at" value a request actually resolves to: the request
// value, else the descriptor default. Maps without the placeholder always
// resolve to the empty value, so stray request parameters cannot mint extra
// renderers or cache entries for them.
func (d *Descriptor) EffectiveAt(at string) string {
	if !d.Templated() {
		return ""
	}
	if at == "" {
		return d.DefaultAt
	}
	return at
}

// Resolve substitutes the "at" value into the source and returns the
// canonical definition.
func (d *Descriptor) Resolve(at string) (Definition, error) {
	def := Definition{
		Engine:     d.Engine,
		Source:     d.Source,
		Extent:     d.Extent,
		Background: d.Background,
		Format:     d.Format,
	}

	if d.Templated() {
		at = d.EffectiveAt(at)
		if at == "" {
			return Definition{}, fmt.Errorf("map %q takes an 'at' value and has no default", d.Name)
		}
		def.Source = strings.ReplaceAll(d.Source, AtPlaceholder, at)
	}

	return def, nil
}

// Definition is a fully resolved map configuration. Its canonical JSON form
// is the renderer identity: equal definitions render through the same pooled
// renderer no matter which descriptor produced them.
type Definition struct {
	Engine     string      `json:"engine"`
	Source     string      `json:"source"`
	Extent     tile.Extent `json:"extent"`
	Background string      `json:"background"`
	Format     string      `json:"format"`
}

// Key renders the canonical form. Field order is fixed by the struct, so
// equal definitions produce byte-identical keys.
func (d Definition) Key() string {
	data, err := json.Marshal(d)
	if err != nil {
		panic(err) // a Definition always marshals
	}
	return string(data)
}

// ParseDefinition is the inverse of Key, used by engines to read the
// configuration back out of a pool key.
func ParseDefinition(key string) (Definition, error) {
	var def Definition
	if err := json.Unmarshal([]byte(key), &def); err != nil {
		return Definition{}, fmt.Errorf("malformed map definition: %w", err)
	}
	return def, nil
}
