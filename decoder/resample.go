package decoder

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// grid is a band-interleaved raster held in memory.
type grid struct {
	width  int
	height int
	bands  int
	data   []float64
}

// resample reduces src to width x height. Byte rasters of 1, 3 or 4 bands
// go through imaging for the interpolating filters; every type supports
// Nearest, Average and Mode.
func resample(src grid, width, height int, method Resampling, dt DataType, noData *float64) (grid, error) {
	switch method {
	case Nearest:
		return reduce(src, width, height, pickNearest, noData), nil
	case Average:
		return reduce(src, width, height, pickAverage(dt), noData), nil
	case Mode:
		return reduce(src, width, height, pickMode, noData), nil
	case Bilinear, Cubic, Lanczos:
		if dt != Byte || (src.bands != 1 && src.bands != 3 && src.bands != 4) {
			return grid{}, fmt.Errorf("%w: %s on %d-band %s data", ErrUnsupportedResampling, method, src.bands, dt)
		}
		return resizeImage(src, width, height, imagingFilter(method)), nil
	}
	return grid{}, fmt.Errorf("%w: %s", ErrUnsupportedResampling, method)
}

func imagingFilter(method Resampling) imaging.ResampleFilter {
	switch method {
	case Bilinear:
		return imaging.Linear
	case Cubic:
		return imaging.CatmullRom
	case Lanczos:
		return imaging.Lanczos
	}
	return imaging.NearestNeighbor
}

// picker combines the valid source samples of one output cell.
type picker func(values []float64) float64

// reduce maps every output cell to the block of source cells it covers and
// combines the valid samples of each band.
func reduce(src grid, width, height int, pick picker, noData *float64) grid {
	out := grid{width: width, height: height, bands: src.bands, data: make([]float64, width*height*src.bands)}
	fill := math.NaN()
	if noData != nil {
		fill = *noData
	}

	sx := float64(src.width) / float64(width)
	sy := float64(src.height) / float64(height)
	values := make([]float64, 0, int(math.Ceil(sx)+1)*int(math.Ceil(sy)+1))

	for y := 0; y < height; y++ {
		y0 := int(float64(y) * sy)
		y1 := max(y0+1, min(src.height, int(math.Ceil(float64(y+1)*sy))))
		for x := 0; x < width; x++ {
			x0 := int(float64(x) * sx)
			x1 := max(x0+1, min(src.width, int(math.Ceil(float64(x+1)*sx))))
			for b := 0; b < src.bands; b++ {
				values = values[:0]
				for yy := y0; yy < y1; yy++ {
					for xx := x0; xx < x1; xx++ {
						v := src.data[(yy*src.width+xx)*src.bands+b]
						if math.IsNaN(v) || (noData != nil && v == *noData) {
							continue
						}
						values = append(values, v)
					}
				}
				v := fill
				if len(values) > 0 {
					v = pick(values)
				}
				out.data[(y*width+x)*src.bands+b] = v
			}
		}
	}
	return out
}

// pickNearest takes the sample closest to the center of the block. values
// is in row-major block order, so the middle element is the center.
func pickNearest(values []float64) float64 {
	return values[len(values)/2]
}

func pickAverage(dt DataType) picker {
	return func(values []float64) float64 {
		var sum float64
		for _, v := range values {
			sum += v
		}
		mean := sum / float64(len(values))
		if !dt.IsFloat() {
			mean = math.Round(mean)
		}
		return mean
	}
}

// pickMode takes the most frequent value, the smallest one on ties.
func pickMode(values []float64) float64 {
	counts := make(map[float64]int, len(values))
	best, bestCount := values[0], 0
	for _, v := range values {
		counts[v]++
		c := counts[v]
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best
}

// resizeImage runs a byte raster through imaging.Resize.
func resizeImage(src grid, width, height int, filter imaging.ResampleFilter) grid {
	img := image.NewNRGBA(image.Rect(0, 0, src.width, src.height))
	for i := 0; i < src.width*src.height; i++ {
		px := src.data[i*src.bands : (i+1)*src.bands]
		p := img.Pix[i*4 : i*4+4]
		switch src.bands {
		case 1:
			p[0], p[1], p[2], p[3] = uint8(px[0]), uint8(px[0]), uint8(px[0]), 255
		case 3:
			p[0], p[1], p[2], p[3] = uint8(px[0]), uint8(px[1]), uint8(px[2]), 255
		case 4:
			p[0], p[1], p[2], p[3] = uint8(px[0]), uint8(px[1]), uint8(px[2]), uint8(px[3])
		}
	}

	resized := imaging.Resize(img, width, height, filter)

	out := grid{width: width, height: height, bands: src.bands, data: make([]float64, width*height*src.bands)}
	for i := 0; i < width*height; i++ {
		p := resized.Pix[i*4 : i*4+4]
		for b := 0; b < src.bands; b++ {
			out.data[i*src.bands+b] = float64(p[b])
		}
	}
	return out
}
