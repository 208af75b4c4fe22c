// Package rastersource exposes raster datasets to mapping code: original and
// buffer geometry, bands and their statistics, overview pyramids and the
// color schemes used to render cell values.
//
// A Source wraps one decoder.Handle. Reads may run concurrently; mutations
// (active band, color scheme, rendering flags, buffer loads, overview builds,
// Close) are serialized by a per-source lock.
package rastersource

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/paulmach/orb"
	"github.com/tingold/rastersource/decoder"
)

// Logger receives messages about tolerated failures, such as overview builds.
var Logger = log.New(os.Stderr, "rastersource: ", log.LstdFlags)

// DefaultEngine is used by Open.
var DefaultEngine decoder.Engine = decoder.NewDriver(decoder.Options{})

// Source is an opened raster dataset.
type Source struct {
	mu     sync.RWMutex
	h      decoder.Handle
	path   string
	closed bool

	activeBand   int
	useHistogram bool
	forceGrid    bool
	scheme       SchemeSelection
}

// Open opens path with DefaultEngine. Paths starting with http:// or
// https:// are read with range requests.
func Open(path string) (*Source, error) {
	return OpenWith(DefaultEngine, path)
}

// OpenWith opens path with engine. Only datasets produced by the uniform
// decode path are accepted; anything else is closed and rejected with
// ErrUnsupportedFormat.
func OpenWith(engine decoder.Engine, path string) (*Source, error) {
	dec, err := engine.Open(path)
	if err != nil {
		return nil, &OpenError{Path: path, Message: err.Error(), Err: err}
	}

	switch d := dec.(type) {
	case decoder.UniformDecode:
		if d.H == nil {
			return nil, &OpenError{Path: path, Message: "engine returned no handle"}
		}
		return &Source{h: d.H, path: path, activeBand: 1, scheme: DefaultScheme{}}, nil
	case decoder.OtherDecode:
		if d.H != nil {
			d.H.Close()
		}
		return nil, fmt.Errorf("%w: %s was decoded as %s", ErrUnsupportedFormat, path, d.Format)
	}
	return nil, &OpenError{Path: path, Message: "engine returned no dataset"}
}

// Close releases the decode handle. Every later call fails with
// ErrSourceClosed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSourceClosed
	}
	s.closed = true
	if err := s.h.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.path, err)
	}
	return nil
}

// Path returns the path the source was opened from. It stays valid after
// Close.
func (s *Source) Path() string {
	return s.path
}

// read runs fn under the read lock on an open source.
func (s *Source) read(fn func(h decoder.Handle) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSourceClosed
	}
	return fn(s.h)
}

// write runs fn under the write lock on an open source.
func (s *Source) write(fn func(h decoder.Handle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSourceClosed
	}
	return fn(s.h)
}

// CRS returns the dataset's coordinate reference system, e.g. "EPSG:4326",
// or "" when unknown.
func (s *Source) CRS() (string, error) {
	var crs string
	err := s.read(func(h decoder.Handle) error {
		crs = h.CRS()
		return nil
	})
	return crs, err
}

// OriginalGeometry returns the geometry of the dataset as stored.
func (s *Source) OriginalGeometry() (Geometry, error) {
	var g Geometry
	err := s.read(func(h decoder.Handle) error {
		g = geometryFrom(h.Original())
		return nil
	})
	return g, err
}

// BufferGeometry returns the geometry of the currently loaded window.
func (s *Source) BufferGeometry() (Geometry, error) {
	var g Geometry
	err := s.read(func(h decoder.Handle) error {
		g = geometryFrom(h.Buffer())
		return nil
	})
	return g, err
}

func (s *Source) Width() (int, error) {
	g, err := s.OriginalGeometry()
	return g.Width, err
}

func (s *Source) Height() (int, error) {
	g, err := s.OriginalGeometry()
	return g.Height, err
}

func (s *Source) Dx() (float64, error) {
	g, err := s.OriginalGeometry()
	return g.Dx, err
}

func (s *Source) Dy() (float64, error) {
	g, err := s.OriginalGeometry()
	return g.Dy, err
}

func (s *Source) XllCenter() (float64, error) {
	g, err := s.OriginalGeometry()
	return g.XllCenter, err
}

func (s *Source) YllCenter() (float64, error) {
	g, err := s.OriginalGeometry()
	return g.YllCenter, err
}

func (s *Source) BufferWidth() (int, error) {
	g, err := s.BufferGeometry()
	return g.Width, err
}

func (s *Source) BufferHeight() (int, error) {
	g, err := s.BufferGeometry()
	return g.Height, err
}

func (s *Source) BufferDx() (float64, error) {
	g, err := s.BufferGeometry()
	return g.Dx, err
}

func (s *Source) BufferDy() (float64, error) {
	g, err := s.BufferGeometry()
	return g.Dy, err
}

func (s *Source) BufferXllCenter() (float64, error) {
	g, err := s.BufferGeometry()
	return g.XllCenter, err
}

func (s *Source) BufferYllCenter() (float64, error) {
	g, err := s.BufferGeometry()
	return g.YllCenter, err
}

// Original geometry is a property of the stored file.
func (s *Source) rejectGeometryWrite(field string) error {
	return s.read(func(decoder.Handle) error {
		return fmt.Errorf("%w: %s is read-only", ErrUnsupportedOperation, field)
	})
}

// SetDx always fails with ErrUnsupportedOperation.
func (s *Source) SetDx(float64) error { return s.rejectGeometryWrite("Dx") }

// SetDy always fails with ErrUnsupportedOperation.
func (s *Source) SetDy(float64) error { return s.rejectGeometryWrite("Dy") }

// SetXllCenter always fails with ErrUnsupportedOperation.
func (s *Source) SetXllCenter(float64) error { return s.rejectGeometryWrite("XllCenter") }

// SetYllCenter always fails with ErrUnsupportedOperation.
func (s *Source) SetYllCenter(float64) error { return s.rejectGeometryWrite("YllCenter") }

// BufferToProjection returns the projected center of buffer cell (col, row).
// Row 0 is the top of the buffer.
func (s *Source) BufferToProjection(col, row int) (x, y float64, err error) {
	g, err := s.BufferGeometry()
	if err != nil {
		return 0, 0, err
	}
	x, y = g.CellCenter(col, row)
	return x, y, nil
}

// ProjectionToBuffer returns the buffer cell nearest to (x, y). The result
// is not clamped, so off-raster positions give out-of-range indices.
func (s *Source) ProjectionToBuffer(x, y float64) (col, row int, err error) {
	g, err := s.BufferGeometry()
	if err != nil {
		return 0, 0, err
	}
	col, row = g.CellAt(x, y)
	return col, row, nil
}

// OriginalToProjection is BufferToProjection against the original geometry.
func (s *Source) OriginalToProjection(col, row int) (x, y float64, err error) {
	g, err := s.OriginalGeometry()
	if err != nil {
		return 0, 0, err
	}
	x, y = g.CellCenter(col, row)
	return x, y, nil
}

// ProjectionToOriginal is ProjectionToBuffer against the original geometry.
func (s *Source) ProjectionToOriginal(x, y float64) (col, row int, err error) {
	g, err := s.OriginalGeometry()
	if err != nil {
		return 0, 0, err
	}
	col, row = g.CellAt(x, y)
	return col, row, nil
}

// Extent returns the outer bounds of the original grid.
func (s *Source) Extent() (orb.Bound, error) {
	g, err := s.OriginalGeometry()
	if err != nil {
		return orb.Bound{}, err
	}
	return g.Extent(), nil
}

// BufferExtent returns the outer bounds of the loaded window.
func (s *Source) BufferExtent() (orb.Bound, error) {
	g, err := s.BufferGeometry()
	if err != nil {
		return orb.Bound{}, err
	}
	return g.Extent(), nil
}

// Polygon returns the original extent as a polygon.
func (s *Source) Polygon() (orb.Polygon, error) {
	g, err := s.OriginalGeometry()
	if err != nil {
		return nil, err
	}
	return g.Polygon(), nil
}
