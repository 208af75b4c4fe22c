package rastersource

import (
	"fmt"
	"path/filepath"

	"github.com/tingold/rastersource/decoder"
)

// RenderingType is how a source is drawn.
type RenderingType int

const (
	// RenderingGrid draws discrete cell values.
	RenderingGrid RenderingType = iota
	RenderingGrayscale
	RenderingRgb
)

func (t RenderingType) String() string {
	switch t {
	case RenderingGrid:
		return "Grid"
	case RenderingGrayscale:
		return "Grayscale"
	case RenderingRgb:
		return "Rgb"
	}
	return fmt.Sprintf("RenderingType(%d)", int(t))
}

// PaletteInterpretation classifies how band values map to color.
type PaletteInterpretation int

const (
	PaletteGray PaletteInterpretation = iota
	PaletteRGB
	PaletteCMYK
	PaletteHLS
	// PaletteIndexed means values index an embedded color table.
	PaletteIndexed
)

func (p PaletteInterpretation) String() string {
	switch p {
	case PaletteGray:
		return "Gray"
	case PaletteRGB:
		return "RGB"
	case PaletteCMYK:
		return "CMYK"
	case PaletteHLS:
		return "HLS"
	case PaletteIndexed:
		return "Palette"
	}
	return fmt.Sprintf("PaletteInterpretation(%d)", int(p))
}

func paletteFromModel(m decoder.ColorModel) PaletteInterpretation {
	switch m {
	case decoder.ModelRGB, decoder.ModelYCbCr:
		return PaletteRGB
	case decoder.ModelCMYK:
		return PaletteCMYK
	case decoder.ModelPalette:
		return PaletteIndexed
	}
	return PaletteGray
}

func (s *Source) renderingTypeLocked() RenderingType {
	switch {
	case s.forceGrid || s.h.IsGrid():
		return RenderingGrid
	case s.h.NoBands() == 1:
		return RenderingGrayscale
	}
	return RenderingRgb
}

// RenderingType returns Grid when grid rendering is forced or the format is
// a native grid, Grayscale for single-band data and Rgb otherwise.
func (s *Source) RenderingType() (RenderingType, error) {
	var t RenderingType
	err := s.read(func(decoder.Handle) error {
		t = s.renderingTypeLocked()
		return nil
	})
	return t, err
}

// PaletteInterpretation returns the dataset's color model.
func (s *Source) PaletteInterpretation() (PaletteInterpretation, error) {
	var p PaletteInterpretation
	err := s.read(func(h decoder.Handle) error {
		p = paletteFromModel(h.ColorModel())
		return nil
	})
	return p, err
}

func (s *Source) ForceGridRendering() (bool, error) {
	var v bool
	err := s.read(func(decoder.Handle) error {
		v = s.forceGrid
		return nil
	})
	return v, err
}

// SetForceGridRendering draws the source as a grid regardless of format.
func (s *Source) SetForceGridRendering(v bool) error {
	return s.write(func(decoder.Handle) error {
		s.forceGrid = v
		return nil
	})
}

func (s *Source) UseHistogram() (bool, error) {
	var v bool
	err := s.read(func(decoder.Handle) error {
		v = s.useHistogram
		return nil
	})
	return v, err
}

// SetUseHistogram makes the grayscale scheme span the active band's
// statistics instead of 0-255.
func (s *Source) SetUseHistogram(v bool) error {
	return s.write(func(decoder.Handle) error {
		s.useHistogram = v
		return nil
	})
}

func (s *Source) isRgbLocked() bool {
	m := s.h.ColorModel()
	return (m == decoder.ModelRGB || m == decoder.ModelYCbCr) && s.h.NoBands() >= 3
}

// IsRgb reports whether the dataset stores at least three RGB channels.
func (s *Source) IsRgb() (bool, error) {
	var v bool
	err := s.read(func(decoder.Handle) error {
		v = s.isRgbLocked()
		return nil
	})
	return v, err
}

// Warped is always false: datasets are read in their stored projection.
func (s *Source) Warped() (bool, error) {
	return false, s.read(func(decoder.Handle) error { return nil })
}

func (s *Source) HasBuiltInColorTable() (bool, error) {
	var v bool
	err := s.read(func(h decoder.Handle) error {
		v = len(h.ColorTable()) > 0
		return nil
	})
	return v, err
}

// ToolTipText summarizes the source for display.
func (s *Source) ToolTipText() (string, error) {
	var text string
	err := s.read(func(h decoder.Handle) error {
		g := h.Original()
		text = fmt.Sprintf("%s\nFormat: %s\nSize: %d x %d\nBands: %d",
			filepath.Base(s.path), h.Format(), g.Width, g.Height, h.NoBands())
		if crs := h.CRS(); crs != "" {
			text += "\nCRS: " + crs
		}
		return nil
	})
	return text, err
}

// RgbBandMapping returns the fixed scheme mapping bands 1, 2 and 3 to red,
// green and blue.
func (s *Source) RgbBandMapping() (*ColorScheme, error) {
	var cs *ColorScheme
	err := s.read(func(decoder.Handle) error {
		cs = rgbBandMapping()
		return nil
	})
	return cs, err
}

// GrayScaleColorScheme returns a white to black ramp. With UseHistogram set
// it spans the active band's min and max; otherwise, or when statistics
// cannot be computed, it spans 0-255.
func (s *Source) GrayScaleColorScheme() (*ColorScheme, error) {
	var cs *ColorScheme
	err := s.read(func(h decoder.Handle) error {
		cs = s.grayScaleLocked(h)
		return nil
	})
	return cs, err
}

func (s *Source) grayScaleLocked(h decoder.Handle) *ColorScheme {
	if s.useHistogram {
		st, err := h.Statistics(s.activeBand, true)
		if err == nil && st.ValidCount > 0 {
			return grayScale(st.Min, st.Max)
		}
		if err != nil {
			Logger.Printf("grayscale: %s: band %d statistics: %v", s.path, s.activeBand, err)
		}
	}
	return grayScale(0, 255)
}

// SetCustomColorScheme replaces the scheme selection. A custom scheme is
// copied, so later changes to it do not reach the source. A nil custom
// scheme selects the default.
func (s *Source) SetCustomColorScheme(sel SchemeSelection) error {
	switch cs := sel.(type) {
	case CustomScheme:
		if cs.Scheme == nil {
			sel = DefaultScheme{}
		} else {
			sel = CustomScheme{Scheme: cs.Scheme.Clone()}
		}
	case nil:
		sel = DefaultScheme{}
	}
	return s.write(func(decoder.Handle) error {
		s.scheme = sel
		return nil
	})
}

// CustomColorScheme returns the current selection. A CustomScheme holds a
// copy of the scheme as it was set.
func (s *Source) CustomColorScheme() (SchemeSelection, error) {
	var sel SchemeSelection
	err := s.read(func(decoder.Handle) error {
		sel = s.scheme
		if c, ok := sel.(CustomScheme); ok {
			sel = CustomScheme{Scheme: c.Scheme.Clone()}
		}
		return nil
	})
	return sel, err
}

// ActiveColorScheme resolves the scheme used for drawing: a custom scheme,
// then the embedded color table, then the RGB mapping for RGB rendering of
// three or more bands, then the grayscale ramp.
func (s *Source) ActiveColorScheme() (*ColorScheme, error) {
	var cs *ColorScheme
	err := s.read(func(h decoder.Handle) error {
		if c, ok := s.scheme.(CustomScheme); ok {
			cs = c.Scheme.Clone()
			return nil
		}
		if table := h.ColorTable(); len(table) > 0 {
			cs = paletteScheme(table)
			return nil
		}
		if h.NoBands() >= 3 && s.renderingTypeLocked() == RenderingRgb {
			cs = rgbBandMapping()
			return nil
		}
		cs = s.grayScaleLocked(h)
		return nil
	})
	return cs, err
}
