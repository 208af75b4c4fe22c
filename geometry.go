package rastersource

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/tingold/rastersource/decoder"
)

// Geometry is the size and placement of a raster grid. XllCenter/YllCenter
// is the center of the lower-left cell, not its corner.
type Geometry struct {
	Width     int
	Height    int
	Dx        float64
	Dy        float64
	XllCenter float64
	YllCenter float64
}

func geometryFrom(g decoder.Geometry) Geometry {
	return Geometry{
		Width:     g.Width,
		Height:    g.Height,
		Dx:        g.DX,
		Dy:        g.DY,
		XllCenter: g.XllCenter,
		YllCenter: g.YllCenter,
	}
}

// CellCenter returns the projected center of cell (col, row). Row 0 is the
// top row.
func (g Geometry) CellCenter(col, row int) (x, y float64) {
	x = g.XllCenter + float64(col)*g.Dx
	y = g.YllCenter + float64(g.Height-1-row)*g.Dy
	return x, y
}

// CellAt is the inverse of CellCenter, rounded to the nearest cell.
// Positions off the grid give out-of-range indices.
func (g Geometry) CellAt(x, y float64) (col, row int) {
	col = int(math.Round((x - g.XllCenter) / g.Dx))
	row = g.Height - 1 - int(math.Round((y-g.YllCenter)/g.Dy))
	return col, row
}

// Extent returns the outer edges of the grid.
func (g Geometry) Extent() orb.Bound {
	left := g.XllCenter - g.Dx/2
	bottom := g.YllCenter - g.Dy/2
	return orb.Bound{
		Min: orb.Point{left, bottom},
		Max: orb.Point{left + float64(g.Width)*g.Dx, bottom + float64(g.Height)*g.Dy},
	}
}

// Polygon returns the extent as a closed polygon.
func (g Geometry) Polygon() orb.Polygon {
	return PolygonFromBounds(g.Extent())
}

// Corners returns the outer corners: top-left, top-right, bottom-right,
// bottom-left.
func (g Geometry) Corners() [4]orb.Point {
	b := g.Extent()
	return [4]orb.Point{
		{b.Min[0], b.Max[1]},
		{b.Max[0], b.Max[1]},
		{b.Max[0], b.Min[1]},
		{b.Min[0], b.Min[1]},
	}
}

// PolygonFromBounds creates a polygon from a bounding box
func PolygonFromBounds(bound orb.Bound) orb.Polygon {
	if bound.IsEmpty() {
		return orb.Polygon{}
	}

	ring := orb.Ring{
		{bound.Min[0], bound.Min[1]}, // Bottom-left
		{bound.Max[0], bound.Min[1]}, // Bottom-right
		{bound.Max[0], bound.Max[1]}, // Top-right
		{bound.Min[0], bound.Max[1]}, // Top-left
		{bound.Min[0], bound.Min[1]}, // Close ring
	}

	return orb.Polygon{ring}
}
