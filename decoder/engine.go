// Package decoder reads raster datasets from disk or over HTTP and exposes them
// through a Handle: original and buffer geometry, per-band types and
// statistics, and reduced-resolution overview levels.
//
// GeoTIFF (including Cloud Optimized GeoTIFF) and ESRI ASCII grids are decoded
// through the uniform path, which guarantees cell-center anchored geometry
// for both the stored image and whatever window is currently buffered. Plain
// images (PNG, JPEG, GIF, BMP) are decoded through a separate path and
// reported as OtherDecode.
package decoder

import (
	"context"
	"errors"
	"image/color"
)

var (
	// ErrUnknownFormat is returned when no reader recognizes the file.
	ErrUnknownFormat = errors.New("unknown raster format")
	// ErrReadOnly is returned when a write is attempted on a dataset that
	// cannot be modified, such as one read over HTTP.
	ErrReadOnly = errors.New("dataset is read-only")
	// ErrInvalidScale is returned for a non-positive overview decimation factor.
	ErrInvalidScale = errors.New("invalid overview scale")
	// ErrUnsupportedResampling is returned when a resampling method cannot be
	// applied to the dataset's data type.
	ErrUnsupportedResampling = errors.New("unsupported resampling method")
	// ErrBandIndex is returned for a band index outside [1, NoBands].
	ErrBandIndex = errors.New("band index out of range")
	// ErrClosed is returned by handles that have been closed.
	ErrClosed = errors.New("handle closed")
	// ErrUnsupportedLayout is returned for georeferenced images whose rows
	// run south to north or whose columns run east to west.
	ErrUnsupportedLayout = errors.New("unsupported raster layout")
)

// Engine opens raster datasets.
type Engine interface {
	// Open decodes the dataset at path, which may be a local file or an
	// http(s) URL.
	Open(path string) (Decoded, error)
}

// Decoded is the result of opening a dataset: either UniformDecode or
// OtherDecode, depending on which decode path produced the handle.
type Decoded interface {
	Handle() Handle
	isDecoded()
}

// UniformDecode wraps a handle produced by the uniform decode path.
type UniformDecode struct {
	H Handle
}

// Handle returns the wrapped handle.
func (d UniformDecode) Handle() Handle { return d.H }
func (UniformDecode) isDecoded()       {}

// OtherDecode wraps a handle produced by a format-specific path that does not
// carry the original/buffer geometry guarantees.
type OtherDecode struct {
	H      Handle
	Format string
}

// Handle returns the wrapped handle.
func (d OtherDecode) Handle() Handle { return d.H }
func (OtherDecode) isDecoded()       {}

// Geometry is the size and cell-center anchored placement of a raster grid.
// XllCenter/YllCenter locate the center of the lower-left cell.
type Geometry struct {
	Width     int
	Height    int
	DX        float64
	DY        float64
	XllCenter float64
	YllCenter float64
}

// Window is a rectangle in the pixel space of one resolution level.
// X, Y address the top-left pixel.
type Window struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Empty reports whether the window covers no pixels.
func (w Window) Empty() bool {
	return w.Width <= 0 || w.Height <= 0
}

// OverviewInfo describes one reduced-resolution level.
type OverviewInfo struct {
	Width    int
	Height   int
	Factor   int
	External bool
}

// Handle is an opened dataset. Handles are not safe for concurrent mutation;
// callers serialize LoadBuffer, BuildOverviews and Close against everything else.
type Handle interface {
	// Path returns the path or URL the handle was opened from.
	Path() string
	// Format returns a short name of the decoded format, e.g. "GTiff".
	Format() string
	CRS() string

	// Original returns the geometry of the full-resolution dataset.
	Original() Geometry
	// Buffer returns the geometry of the currently buffered window.
	Buffer() Geometry

	NoBands() int
	BandDataType(band int) DataType
	BandNoData(band int) (float64, bool)
	BandColorInterp(band int) ColorInterp

	ColorModel() ColorModel
	// ColorTable returns the embedded color table, or nil.
	ColorTable() []color.RGBA
	// IsGrid reports whether the format is a native grid format whose
	// values are measurements rather than image intensities.
	IsGrid() bool

	Statistics(band int, approx bool) (Statistics, error)
	Histogram(band int, buckets int) (Histogram, error)

	NumOverviews() int
	Overviews() []OverviewInfo
	// BuildOverviews builds one overview level per distinct factor in
	// scales. count must equal len(scales). The context is checked between
	// levels.
	BuildOverviews(ctx context.Context, method Resampling, count int, scales []int) error

	// LoadBuffer materializes win of the given level (0 is full resolution,
	// 1..NumOverviews are the overviews).
	LoadBuffer(level int, win Window) error
	// BufferValue returns the value of band at (col, row) in buffer space.
	BufferValue(band, col, row int) (float64, error)

	Close() error
}
