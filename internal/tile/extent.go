package tile

import (
	"encoding/json"
	"fmt"
)

// Extent is a web mercator bounding box in meters. Its JSON form is the
// 4-element array [minx, miny, maxx, maxy].
type Extent struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

func (e Extent) Width() float64 {
	return e.MaxX - e.MinX
}

func (e Extent) Height() float64 {
	return e.MaxY - e.MinY
}

// Contains reports whether the point lies inside the extent. Points on the
// minimum edges are inside, points on the maximum edges are not, so adjacent
// tiles never both claim a shared border point.
func (e Extent) Contains(x, y float64) bool {
	return x >= e.MinX && x < e.MaxX && y >= e.MinY && y < e.MaxY
}

// Intersects reports whether the two extents share any area.
func (e Extent) Intersects(other Extent) bool {
	return e.MinX < other.MaxX && other.MinX < e.MaxX &&
		e.MinY < other.MaxY && other.MinY < e.MaxY
}

func (e Extent) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{e.MinX, e.MinY, e.MaxX, e.MaxY})
}

func (e *Extent) UnmarshalJSON(data []byte) error {
	var coords []float64
	if err := json.Unmarshal(data, &coords); err != nil {
		return fmt.Errorf("extent must be an array of numbers: %w", err)
	}
	if len(coords) != 4 {
		return fmt.Errorf("extent must have exactly 4 elements, got %d", len(coords))
	}

	*e = Extent{MinX: coords[0], MinY: coords[1], MaxX: coords[2], MaxY: coords[3]}
	return nil
}

func (e Extent) String() string {
	return fmt.Sprintf("[%s %s %s %s]",
		formatCoord(e.MinX), formatCoord(e.MinY), formatCoord(e.MaxX), formatCoord(e.MaxY))
}
