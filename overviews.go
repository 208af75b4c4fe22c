package rastersource

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
	"github.com/tingold/rastersource/decoder"
)

// Default tile size used by LoadTile when none is given.
const defaultTileSize = 256

// NumOverviews returns the number of reduced-resolution levels.
func (s *Source) NumOverviews() (int, error) {
	var n int
	err := s.read(func(h decoder.Handle) error {
		n = h.NumOverviews()
		return nil
	})
	return n, err
}

// Overviews describes the reduced-resolution levels from finest to coarsest.
// Level i of LoadBuffer is Overviews()[i-1].
func (s *Source) Overviews() ([]decoder.OverviewInfo, error) {
	var ovs []decoder.OverviewInfo
	err := s.read(func(h decoder.Handle) error {
		ovs = h.Overviews()
		return nil
	})
	return ovs, err
}

// BuildOverviews builds overview levels for the given decimation factors,
// passed to the engine as given. A failure is logged and reported as false;
// the source stays usable without overviews.
func (s *Source) BuildOverviews(method decoder.Resampling, scales []int) bool {
	if err := s.BuildOverviewsContext(context.Background(), method, scales); err != nil {
		Logger.Printf("overviews: %s: %v", s.path, err)
		return false
	}
	return true
}

// BuildOverviewsContext is BuildOverviews with cancellation, checked between
// levels, and the failure returned wrapped in ErrOverviewBuildFailed.
func (s *Source) BuildOverviewsContext(ctx context.Context, method decoder.Resampling, scales []int) error {
	return s.write(func(h decoder.Handle) error {
		if err := h.BuildOverviews(ctx, method, len(scales), scales); err != nil {
			return fmt.Errorf("%w: %w", ErrOverviewBuildFailed, err)
		}
		return nil
	})
}

// levelGeometries returns the geometry of every level, full resolution first.
// Overview cells stretch so that each level covers the original extent.
func levelGeometries(h decoder.Handle) []Geometry {
	orig := geometryFrom(h.Original())
	levels := []Geometry{orig}
	left := orig.XllCenter - orig.Dx/2
	bottom := orig.YllCenter - orig.Dy/2
	for _, ov := range h.Overviews() {
		dx := orig.Dx * float64(orig.Width) / float64(ov.Width)
		dy := orig.Dy * float64(orig.Height) / float64(ov.Height)
		levels = append(levels, Geometry{
			Width:     ov.Width,
			Height:    ov.Height,
			Dx:        dx,
			Dy:        dy,
			XllCenter: left + dx/2,
			YllCenter: bottom + dy/2,
		})
	}
	return levels
}

// selectLevel picks the coarsest level whose cells are no larger than the
// output cells of a width x height rendering of bound.
func selectLevel(levels []Geometry, bound orb.Bound, width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	wantDx := (bound.Max[0] - bound.Min[0]) / float64(width)
	wantDy := (bound.Max[1] - bound.Min[1]) / float64(height)

	best := 0
	for i, g := range levels {
		if g.Dx <= wantDx && g.Dy <= wantDy {
			best = i
		}
	}
	return best
}

// SelectOverview returns the level LoadExtent would read for bound at the
// given output size: 0 for full resolution, i for Overviews()[i-1].
func (s *Source) SelectOverview(bound orb.Bound, width, height int) (int, error) {
	var lvl int
	err := s.read(func(h decoder.Handle) error {
		lvl = selectLevel(levelGeometries(h), bound, width, height)
		return nil
	})
	return lvl, err
}

// LoadBuffer loads win of the given level into the buffer. Buffer geometry
// follows the window.
func (s *Source) LoadBuffer(level int, win decoder.Window) error {
	return s.write(func(h decoder.Handle) error {
		return h.LoadBuffer(level, win)
	})
}

// LoadExtent loads the part of the dataset covering bound, from the coarsest
// level that still resolves a maxWidth x maxHeight rendering.
func (s *Source) LoadExtent(bound orb.Bound, maxWidth, maxHeight int) error {
	return s.write(func(h decoder.Handle) error {
		levels := levelGeometries(h)
		lvl := selectLevel(levels, bound, maxWidth, maxHeight)
		win, ok := windowFor(levels[lvl], bound)
		if !ok {
			return fmt.Errorf("extent %v does not intersect the dataset", bound)
		}
		return h.LoadBuffer(lvl, win)
	})
}

// windowFor returns the cells of g touched by bound, clipped to the grid.
func windowFor(g Geometry, bound orb.Bound) (decoder.Window, bool) {
	ext := g.Extent()
	x0 := int(math.Floor((bound.Min[0] - ext.Min[0]) / g.Dx))
	x1 := int(math.Ceil((bound.Max[0] - ext.Min[0]) / g.Dx))
	y0 := int(math.Floor((ext.Max[1] - bound.Max[1]) / g.Dy))
	y1 := int(math.Ceil((ext.Max[1] - bound.Min[1]) / g.Dy))

	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, g.Width), min(y1, g.Height)
	if x1 <= x0 || y1 <= y0 {
		return decoder.Window{}, false
	}
	return decoder.Window{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, true
}

// TileExtent returns the bounds of a web map tile in the dataset's CRS.
// Only EPSG:4326 and EPSG:3857 datasets are supported.
func (s *Source) TileExtent(tile maptile.Tile) (orb.Bound, error) {
	crs, err := s.CRS()
	if err != nil {
		return orb.Bound{}, err
	}
	switch crs {
	case "EPSG:4326":
		return tile.Bound(), nil
	case "EPSG:3857":
		return project.Bound(tile.Bound(), project.WGS84.ToMercator), nil
	}
	return orb.Bound{}, fmt.Errorf("%w: tiles need EPSG:4326 or EPSG:3857, dataset is %q", ErrUnsupportedOperation, crs)
}

// LoadTile loads the data under a web map tile, picking the overview for a
// size x size rendering. size defaults to 256.
func (s *Source) LoadTile(tile maptile.Tile, size ...int) error {
	n := defaultTileSize
	if len(size) > 0 && size[0] > 0 {
		n = size[0]
	}
	bound, err := s.TileExtent(tile)
	if err != nil {
		return err
	}
	return s.LoadExtent(bound, n, n)
}
