package decoder

import (
	"context"
	"fmt"
	"image/color"
	"sort"
)

// BuildOverviews computes one reduced-resolution level per distinct level
// size in scales and stores the external levels in a "<path>.ovr" TIFF
// sidecar. Sizes that an internal level already provides are left alone;
// existing external levels of a requested size are regenerated.
func (d *dataset) BuildOverviews(ctx context.Context, method Resampling, count int, scales []int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.readOnly {
		return ErrReadOnly
	}
	if count != len(scales) {
		return fmt.Errorf("overview count %d does not match %d scales", count, len(scales))
	}

	// Factors that round to the same level size share one level.
	var sizes []levelSize
	seen := make(map[levelSize]bool)
	for _, s := range scales {
		if s < 1 {
			return fmt.Errorf("%w: %d", ErrInvalidScale, s)
		}
		sz := d.sizeFor(s)
		if !seen[sz] {
			seen[sz] = true
			sizes = append(sizes, sz)
		}
	}
	if len(sizes) == 0 {
		return nil
	}

	internal := make(map[levelSize]bool)
	external := make(map[levelSize]*level)
	for _, lv := range d.levels[1:] {
		sz := levelSize{lv.width, lv.height}
		if lv.external {
			external[sz] = lv
		} else {
			internal[sz] = true
		}
	}

	full, err := d.levels[0].src.readWindow(Window{Width: d.orig.Width, Height: d.orig.Height})
	if err != nil {
		return fmt.Errorf("failed to read full resolution: %w", err)
	}
	src := grid{width: d.orig.Width, height: d.orig.Height, bands: d.bands, data: full}

	built := make(map[levelSize]grid)
	for _, sz := range sizes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if internal[sz] {
			continue
		}
		g, err := resample(src, sz.width, sz.height, method, d.dtype, d.noData)
		if err != nil {
			return fmt.Errorf("overview %dx%d: %w", sz.width, sz.height, err)
		}
		built[sz] = g
	}
	if len(built) == 0 {
		return nil
	}

	// Keep the external levels that were not rebuilt.
	for sz, lv := range external {
		if _, ok := built[sz]; ok {
			continue
		}
		data, err := lv.src.readWindow(Window{Width: lv.width, Height: lv.height})
		if err != nil {
			return fmt.Errorf("failed to read existing overview %dx%d: %w", sz.width, sz.height, err)
		}
		built[sz] = grid{width: lv.width, height: lv.height, bands: d.bands, data: data}
	}

	keys := make([]levelSize, 0, len(built))
	for sz := range built {
		keys = append(keys, sz)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].width > keys[j].width })

	var colorMap []color.RGBA
	if d.dtype.Bits() <= 16 {
		colorMap = d.colorTable
	}
	rasters := make([]Raster, 0, len(keys))
	for _, sz := range keys {
		g := built[sz]
		rasters = append(rasters, Raster{
			Width:    g.width,
			Height:   g.height,
			Bands:    g.bands,
			DataType: d.dtype,
			Data:     g.data,
			ColorMap: colorMap,
			NoData:   d.noData,
			Overview: true,
		})
	}

	// The old sidecar stays attached until the new one is renamed into place.
	if err := WriteGeoTIFF(overviewPath(d.path), WriteOptions{Compression: CompressionDeflate}, rasters...); err != nil {
		return fmt.Errorf("failed to write overviews: %w", err)
	}

	d.buf = bufferState{win: Window{Width: d.orig.Width, Height: d.orig.Height}}
	for k := range d.stats {
		if k.approx {
			delete(d.stats, k)
		}
	}
	return d.attachExternalOverviews()
}
