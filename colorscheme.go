package rastersource

import (
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/colornames"
)

// Interval maps the values in [LowValue, HighValue] to a color. When
// HighColor is set the color runs as a gradient from LowColor at LowValue
// to HighColor at HighValue; otherwise the whole interval is LowColor.
type Interval struct {
	LowValue  float64
	HighValue float64
	LowColor  color.RGBA
	HighColor *color.RGBA
	Caption   string
}

// Contains reports whether v lies within the interval, bounds included.
func (iv Interval) Contains(v float64) bool {
	return v >= iv.LowValue && v <= iv.HighValue
}

// ColorAt returns the color for v, which is assumed to lie in the interval.
func (iv Interval) ColorAt(v float64) color.RGBA {
	if iv.HighColor == nil || iv.HighValue <= iv.LowValue {
		return iv.LowColor
	}
	t := (v - iv.LowValue) / (iv.HighValue - iv.LowValue)
	t = min(max(t, 0), 1)

	lo, _ := colorful.MakeColor(opaque(iv.LowColor))
	hi, _ := colorful.MakeColor(opaque(*iv.HighColor))
	r, g, b := lo.BlendRgb(hi, t).RGB255()
	a := float64(iv.LowColor.A) + t*(float64(iv.HighColor.A)-float64(iv.LowColor.A))
	return color.RGBA{R: r, G: g, B: b, A: uint8(a + 0.5)}
}

// MakeColor refuses zero alpha, so blending happens on the opaque color.
func opaque(c color.RGBA) color.RGBA {
	c.A = 0xff
	return c
}

// ColorScheme is an ordered list of intervals. Order is also draw order:
// where intervals overlap, the later one wins.
type ColorScheme struct {
	intervals []Interval
}

// NewColorScheme returns a scheme holding the given intervals in order.
func NewColorScheme(intervals ...Interval) *ColorScheme {
	return &ColorScheme{intervals: append([]Interval(nil), intervals...)}
}

// Add appends an interval.
func (cs *ColorScheme) Add(iv Interval) {
	cs.intervals = append(cs.intervals, iv)
}

// AddInterval appends a solid-color interval.
func (cs *ColorScheme) AddInterval(low, high float64, c color.RGBA, caption string) {
	cs.Add(Interval{LowValue: low, HighValue: high, LowColor: c, Caption: caption})
}

func (cs *ColorScheme) Len() int { return len(cs.intervals) }

// At returns interval i, 0-based.
func (cs *ColorScheme) At(i int) (Interval, error) {
	if i < 0 || i >= len(cs.intervals) {
		return Interval{}, fmt.Errorf("%w: interval %d of %d", ErrIndexOutOfRange, i, len(cs.intervals))
	}
	return cs.intervals[i], nil
}

// Intervals returns a copy of the intervals in order.
func (cs *ColorScheme) Intervals() []Interval {
	return append([]Interval(nil), cs.intervals...)
}

// Clone returns a deep copy of cs.
func (cs *ColorScheme) Clone() *ColorScheme {
	out := NewColorScheme(cs.intervals...)
	for i, iv := range out.intervals {
		if iv.HighColor != nil {
			c := *iv.HighColor
			out.intervals[i].HighColor = &c
		}
	}
	return out
}

// ColorAt returns the color of the last interval containing v. The second
// result is false when no interval matches or v is NaN.
func (cs *ColorScheme) ColorAt(v float64) (color.RGBA, bool) {
	for i := len(cs.intervals) - 1; i >= 0; i-- {
		if cs.intervals[i].Contains(v) {
			return cs.intervals[i].ColorAt(v), true
		}
	}
	return color.RGBA{}, false
}

// SchemeSelection is either DefaultScheme or CustomScheme.
type SchemeSelection interface {
	schemeSelection()
}

// DefaultScheme selects the scheme derived from the dataset.
type DefaultScheme struct{}

// CustomScheme selects a caller-supplied scheme.
type CustomScheme struct {
	Scheme *ColorScheme
}

func (DefaultScheme) schemeSelection() {}
func (CustomScheme) schemeSelection()  {}

// Band captions of the RGB mapping.
const (
	captionRed   = "Red: Band 1"
	captionGreen = "Green: Band 2"
	captionBlue  = "Blue: Band 3"
)

func rgbBandMapping() *ColorScheme {
	cs := NewColorScheme()
	cs.AddInterval(0, 255, colornames.Red, captionRed)
	cs.AddInterval(0, 255, colornames.Green, captionGreen)
	cs.AddInterval(0, 255, colornames.Blue, captionBlue)
	return cs
}

func grayScale(low, high float64) *ColorScheme {
	black := colornames.Black
	return NewColorScheme(Interval{
		LowValue:  low,
		HighValue: high,
		LowColor:  colornames.White,
		HighColor: &black,
		Caption:   fmt.Sprintf("%g - %g", low, high),
	})
}

// paletteScheme turns a color table into one interval per index.
func paletteScheme(table []color.RGBA) *ColorScheme {
	cs := NewColorScheme()
	for i, c := range table {
		cs.AddInterval(float64(i), float64(i), c, fmt.Sprintf("%d", i))
	}
	return cs
}
