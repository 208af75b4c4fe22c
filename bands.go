package rastersource

import (
	"fmt"

	"github.com/tingold/rastersource/decoder"
)

// RasterBand is a lightweight view of one band of a Source. It holds no
// resources of its own; reads go through the source and fail once it is
// closed.
type RasterBand struct {
	src       *Source
	index     int
	dataType  decoder.DataType
	noData    float64
	hasNoData bool
	interp    decoder.ColorInterp
}

// Index returns the 1-based band index.
func (b *RasterBand) Index() int { return b.index }

// DataType returns the element type of the band.
func (b *RasterBand) DataType() decoder.DataType { return b.dataType }

// NoData returns the nodata value, if the band has one.
func (b *RasterBand) NoData() (float64, bool) { return b.noData, b.hasNoData }

// ColorInterpretation returns how the band's values map to color channels.
func (b *RasterBand) ColorInterpretation() decoder.ColorInterp { return b.interp }

// Statistics returns min, max, mean and standard deviation over valid cells.
// With approx set, the coarsest overview may be used.
func (b *RasterBand) Statistics(approx bool) (decoder.Statistics, error) {
	var st decoder.Statistics
	err := b.src.read(func(h decoder.Handle) error {
		var err error
		st, err = h.Statistics(b.index, approx)
		return err
	})
	return st, err
}

// Histogram counts the band's valid values in equal-width buckets.
func (b *RasterBand) Histogram(buckets int) (decoder.Histogram, error) {
	var hist decoder.Histogram
	err := b.src.read(func(h decoder.Handle) error {
		var err error
		hist, err = h.Histogram(b.index, buckets)
		return err
	})
	return hist, err
}

// Value returns the band value of buffer cell (col, row).
func (b *RasterBand) Value(col, row int) (float64, error) {
	var v float64
	err := b.src.read(func(h decoder.Handle) error {
		var err error
		v, err = h.BufferValue(b.index, col, row)
		return err
	})
	return v, err
}

// BandCollection is an ordered, 1-indexed view of a source's bands. A new
// collection is built on every call to Source.Bands; callers must not rely
// on band identity across calls.
type BandCollection struct {
	bands []*RasterBand
}

// Len returns the number of bands.
func (c BandCollection) Len() int { return len(c.bands) }

// At returns band i, 1-based.
func (c BandCollection) At(i int) (*RasterBand, error) {
	if i < 1 || i > len(c.bands) {
		return nil, fmt.Errorf("%w: band %d of %d", ErrIndexOutOfRange, i, len(c.bands))
	}
	return c.bands[i-1], nil
}

// All returns the bands in order.
func (c BandCollection) All() []*RasterBand {
	return append([]*RasterBand(nil), c.bands...)
}

func (s *Source) bandsLocked() BandCollection {
	n := s.h.NoBands()
	c := BandCollection{bands: make([]*RasterBand, n)}
	for i := 1; i <= n; i++ {
		nd, ok := s.h.BandNoData(i)
		c.bands[i-1] = &RasterBand{
			src:       s,
			index:     i,
			dataType:  s.h.BandDataType(i),
			noData:    nd,
			hasNoData: ok,
			interp:    s.h.BandColorInterp(i),
		}
	}
	return c
}

// NumBands returns the number of bands.
func (s *Source) NumBands() (int, error) {
	var n int
	err := s.read(func(h decoder.Handle) error {
		n = h.NoBands()
		return nil
	})
	return n, err
}

// Bands returns a fresh view of the source's bands.
func (s *Source) Bands() (BandCollection, error) {
	var c BandCollection
	err := s.read(func(decoder.Handle) error {
		c = s.bandsLocked()
		return nil
	})
	return c, err
}

// DataType returns the type of band 1, or decoder.Unknown for a dataset
// without bands. Mixed-type datasets report only their first band here.
func (s *Source) DataType() (decoder.DataType, error) {
	dt := decoder.Unknown
	err := s.read(func(h decoder.Handle) error {
		if h.NoBands() > 0 {
			dt = h.BandDataType(1)
		}
		return nil
	})
	return dt, err
}

// ActiveBandIndex returns the 1-based index of the band used for
// single-band rendering.
func (s *Source) ActiveBandIndex() (int, error) {
	var i int
	err := s.read(func(decoder.Handle) error {
		i = s.activeBand
		return nil
	})
	return i, err
}

// SetActiveBandIndex selects the active band. Indices outside
// [1, NumBands] fail with ErrIndexOutOfRange and leave the selection as is.
func (s *Source) SetActiveBandIndex(i int) error {
	return s.write(func(h decoder.Handle) error {
		if n := h.NoBands(); i < 1 || i > n {
			return fmt.Errorf("%w: band %d of %d", ErrIndexOutOfRange, i, n)
		}
		s.activeBand = i
		return nil
	})
}

// ActiveBand returns the band at ActiveBandIndex.
func (s *Source) ActiveBand() (*RasterBand, error) {
	var b *RasterBand
	err := s.read(func(decoder.Handle) error {
		var err error
		b, err = s.bandsLocked().At(s.activeBand)
		return err
	})
	return b, err
}
