package decoder

import (
	"fmt"
	"strings"
)

// DataType is the element type of a band.
type DataType int

const (
	Unknown DataType = iota
	Byte             // 8-bit unsigned integer
	Int8             // 8-bit signed integer
	UInt16           // 16-bit unsigned integer
	Int16            // 16-bit signed integer
	UInt32           // 32-bit unsigned integer
	Int32            // 32-bit signed integer
	Float32          // 32-bit IEEE floating point
	Float64          // 64-bit IEEE floating point
)

var dataTypeNames = []string{"Unknown", "Byte", "Int8", "UInt16", "Int16", "UInt32", "Int32", "Float32", "Float64"}

func (dt DataType) String() string {
	if dt < 0 || int(dt) >= len(dataTypeNames) {
		return fmt.Sprintf("DataType(%d)", int(dt))
	}
	return dataTypeNames[dt]
}

// Size returns the number of bytes per sample.
func (dt DataType) Size() int {
	switch dt {
	case Byte, Int8:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// Bits returns the number of bits per sample.
func (dt DataType) Bits() int {
	return dt.Size() * 8
}

// IsFloat reports whether the type is a floating point type.
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float64
}

// IsSigned reports whether the type holds signed values.
func (dt DataType) IsSigned() bool {
	switch dt {
	case Int8, Int16, Int32, Float32, Float64:
		return true
	}
	return false
}

// ColorInterp is the color interpretation of a single band.
type ColorInterp int

const (
	CIUndefined ColorInterp = iota
	CIGray
	CIPalette
	CIRed
	CIGreen
	CIBlue
	CIAlpha
)

func (ci ColorInterp) String() string {
	switch ci {
	case CIGray:
		return "Gray"
	case CIPalette:
		return "Palette"
	case CIRed:
		return "Red"
	case CIGreen:
		return "Green"
	case CIBlue:
		return "Blue"
	case CIAlpha:
		return "Alpha"
	default:
		return "Undefined"
	}
}

// ColorModel is the dataset-wide color model, derived from the TIFF
// PhotometricInterpretation or the decoded image type.
type ColorModel int

const (
	ModelGray ColorModel = iota
	ModelRGB
	ModelPalette
	ModelCMYK
	ModelYCbCr
)

func (m ColorModel) String() string {
	switch m {
	case ModelRGB:
		return "RGB"
	case ModelPalette:
		return "Palette"
	case ModelCMYK:
		return "CMYK"
	case ModelYCbCr:
		return "YCbCr"
	default:
		return "Gray"
	}
}

// Resampling is the method used to compute overview pixels.
type Resampling int

const (
	Nearest Resampling = iota
	Bilinear
	Cubic
	Lanczos
	Average
	Mode
)

func (r Resampling) String() string {
	switch r {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	case Cubic:
		return "cubic"
	case Lanczos:
		return "lanczos"
	case Average:
		return "average"
	case Mode:
		return "mode"
	default:
		return fmt.Sprintf("resampling(%d)", int(r))
	}
}

// ParseResampling parses a resampling method name as printed by String.
func ParseResampling(s string) (Resampling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nearest", "near":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	case "cubic":
		return Cubic, nil
	case "lanczos":
		return Lanczos, nil
	case "average", "avg":
		return Average, nil
	case "mode":
		return Mode, nil
	}
	return Nearest, fmt.Errorf("%w: %q", ErrUnsupportedResampling, s)
}

// Statistics on a given band, computed over valid (non-nodata, non-NaN) cells.
type Statistics struct {
	Min, Max, Mean, StdDev float64
	ValidCount             int
}

// Histogram counts band values in equal-width buckets spanning [Min, Max].
type Histogram struct {
	Min, Max float64
	Counts   []uint64
}

// BucketWidth returns the width of one bucket.
func (h Histogram) BucketWidth() float64 {
	if len(h.Counts) == 0 {
		return 0
	}
	return (h.Max - h.Min) / float64(len(h.Counts))
}

// Total returns the number of counted values.
func (h Histogram) Total() uint64 {
	var n uint64
	for _, c := range h.Counts {
		n += c
	}
	return n
}
