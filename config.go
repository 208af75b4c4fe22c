package rastersource

import (
	"fmt"
	"image/color"
	"os"
	"strconv"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/tingold/rastersource/decoder"
	"gopkg.in/yaml.v2"
)

// Config is the per-source rendering state, kept outside the dataset file.
type Config struct {
	ActiveBand         int              `yaml:"active_band,omitempty"`
	UseHistogram       bool             `yaml:"use_histogram"`
	ForceGridRendering bool             `yaml:"force_grid_rendering"`
	ColorScheme        []IntervalConfig `yaml:"color_scheme,omitempty"`
	Overviews          OverviewConfig   `yaml:"overviews,omitempty"`
}

// IntervalConfig is an Interval with colors written as #rrggbb, or
// #rrggbbaa when not opaque.
type IntervalConfig struct {
	Low       float64 `yaml:"low"`
	High      float64 `yaml:"high"`
	LowColor  string  `yaml:"low_color"`
	HighColor string  `yaml:"high_color,omitempty"`
	Caption   string  `yaml:"caption,omitempty"`
}

// OverviewConfig names the overview levels a caller wants built.
type OverviewConfig struct {
	Resampling string `yaml:"resampling,omitempty"`
	Scales     []int  `yaml:"scales,omitempty,flow"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML and checks that colors and the resampling
// method parse.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if _, err := cfg.Scheme(); err != nil {
		return nil, err
	}
	if _, err := cfg.OverviewResampling(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Scheme returns the configured scheme selection: DefaultScheme when no
// intervals are listed.
func (c *Config) Scheme() (SchemeSelection, error) {
	if len(c.ColorScheme) == 0 {
		return DefaultScheme{}, nil
	}
	cs := NewColorScheme()
	for i, ic := range c.ColorScheme {
		lo, err := parseHexColor(ic.LowColor)
		if err != nil {
			return nil, fmt.Errorf("color_scheme[%d].low_color: %w", i, err)
		}
		iv := Interval{LowValue: ic.Low, HighValue: ic.High, LowColor: lo, Caption: ic.Caption}
		if ic.HighColor != "" {
			hi, err := parseHexColor(ic.HighColor)
			if err != nil {
				return nil, fmt.Errorf("color_scheme[%d].high_color: %w", i, err)
			}
			iv.HighColor = &hi
		}
		cs.Add(iv)
	}
	return CustomScheme{Scheme: cs}, nil
}

// OverviewResampling parses Overviews.Resampling, defaulting to Nearest.
func (c *Config) OverviewResampling() (decoder.Resampling, error) {
	if c.Overviews.Resampling == "" {
		return decoder.Nearest, nil
	}
	return decoder.ParseResampling(c.Overviews.Resampling)
}

// parseHexColor reads "#rrggbb", "#rgb" or "#rrggbbaa".
func parseHexColor(s string) (color.RGBA, error) {
	alpha := uint64(0xff)
	if len(s) == 9 && s[0] == '#' {
		a, err := strconv.ParseUint(s[7:], 16, 8)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("color %q: bad alpha: %w", s, err)
		}
		s, alpha = s[:7], a
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return color.RGBA{}, err
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: uint8(alpha)}, nil
}

// hexColor writes "#rrggbb", adding the alpha byte when c is not opaque.
func hexColor(c color.RGBA) string {
	cc, _ := colorful.MakeColor(opaque(c))
	if c.A == 0xff {
		return cc.Hex()
	}
	return fmt.Sprintf("%s%02x", cc.Hex(), c.A)
}

// ApplyConfig sets the active band, rendering flags and color scheme from
// cfg. Nothing changes if any part is invalid. Overviews are not built here.
func (s *Source) ApplyConfig(cfg *Config) error {
	sel, err := cfg.Scheme()
	if err != nil {
		return err
	}
	return s.write(func(h decoder.Handle) error {
		band := s.activeBand
		if cfg.ActiveBand != 0 {
			if n := h.NoBands(); cfg.ActiveBand < 1 || cfg.ActiveBand > n {
				return fmt.Errorf("%w: band %d of %d", ErrIndexOutOfRange, cfg.ActiveBand, n)
			}
			band = cfg.ActiveBand
		}
		s.activeBand = band
		s.useHistogram = cfg.UseHistogram
		s.forceGrid = cfg.ForceGridRendering
		s.scheme = sel
		return nil
	})
}

// Config captures the source's current state. Overview scales list the
// factors of the levels already present.
func (s *Source) Config() (*Config, error) {
	var cfg *Config
	err := s.read(func(h decoder.Handle) error {
		cfg = &Config{
			ActiveBand:         s.activeBand,
			UseHistogram:       s.useHistogram,
			ForceGridRendering: s.forceGrid,
		}
		if c, ok := s.scheme.(CustomScheme); ok {
			for _, iv := range c.Scheme.Intervals() {
				ic := IntervalConfig{
					Low:      iv.LowValue,
					High:     iv.HighValue,
					LowColor: hexColor(iv.LowColor),
					Caption:  iv.Caption,
				}
				if iv.HighColor != nil {
					ic.HighColor = hexColor(*iv.HighColor)
				}
				cfg.ColorScheme = append(cfg.ColorScheme, ic)
			}
		}
		for _, ov := range h.Overviews() {
			cfg.Overviews.Scales = append(cfg.Overviews.Scales, ov.Factor)
		}
		return nil
	})
	return cfg, err
}
