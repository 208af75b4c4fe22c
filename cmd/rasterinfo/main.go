package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/tingold/rastersource"
	"github.com/tingold/rastersource/decoder"
)

// Version is set by ldflags during build.
var Version = "dev"

func ensure(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func parseScales(s string) ([]int, error) {
	var scales []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad overview scale %q", part)
		}
		scales = append(scales, n)
	}
	return scales, nil
}

func main() {
	var (
		overviews  = flag.String("overviews", "", "comma-separated decimation factors to build, e.g. 2,4,8")
		resampling = flag.String("resampling", "", "overview resampling: nearest, average, mode, bilinear, cubic, lanczos")
		configPath = flag.String("config", "", "YAML source configuration to apply")
		saveConfig = flag.String("save-config", "", "write the resulting source configuration to this path")
		stats      = flag.Bool("stats", true, "print band statistics")
		approx     = flag.Bool("approx", false, "allow statistics from the coarsest overview")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rasterinfo [options] <path or url>\n\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Printf("rasterinfo %s\n", Version)
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	rastersource.Logger.SetFlags(log.Ldate | log.Ltime)

	src, err := rastersource.Open(flag.Arg(0))
	ensure(err)
	defer src.Close()

	var cfg *rastersource.Config
	if *configPath != "" {
		cfg, err = rastersource.LoadConfig(*configPath)
		ensure(err)
		ensure(src.ApplyConfig(cfg))
	}

	scales, err := parseScales(*overviews)
	ensure(err)
	method := decoder.Nearest
	if cfg != nil {
		if len(scales) == 0 {
			scales = cfg.Overviews.Scales
		}
		method, err = cfg.OverviewResampling()
		ensure(err)
	}
	if *resampling != "" {
		method, err = decoder.ParseResampling(*resampling)
		ensure(err)
	}
	if len(scales) > 0 {
		if !src.BuildOverviews(method, scales) {
			log.Printf("overviews were not built for %s", src.Path())
		}
	}

	ensure(printInfo(src, *stats, *approx))

	if *saveConfig != "" {
		out, err := src.Config()
		ensure(err)
		if len(out.Overviews.Scales) > 0 {
			out.Overviews.Resampling = method.String()
		}
		ensure(out.Save(*saveConfig))
	}
}

func printInfo(src *rastersource.Source, withStats, approx bool) error {
	tip, err := src.ToolTipText()
	if err != nil {
		return err
	}
	fmt.Println(tip)

	g, err := src.OriginalGeometry()
	if err != nil {
		return err
	}
	ext, err := src.Extent()
	if err != nil {
		return err
	}
	fmt.Printf("Cell size: %g x %g\n", g.Dx, g.Dy)
	fmt.Printf("Lower-left cell center: (%g, %g)\n", g.XllCenter, g.YllCenter)
	fmt.Printf("Extent: [%g, %g] - [%g, %g]\n", ext.Min[0], ext.Min[1], ext.Max[0], ext.Max[1])

	rt, err := src.RenderingType()
	if err != nil {
		return err
	}
	pi, err := src.PaletteInterpretation()
	if err != nil {
		return err
	}
	fmt.Printf("Rendering: %s (%s)\n", rt, pi)

	bands, err := src.Bands()
	if err != nil {
		return err
	}
	for _, b := range bands.All() {
		fmt.Printf("Band %d: %s, %s", b.Index(), b.DataType(), b.ColorInterpretation())
		if nd, ok := b.NoData(); ok {
			fmt.Printf(", nodata %g", nd)
		}
		fmt.Println()
		if !withStats {
			continue
		}
		st, err := b.Statistics(approx)
		if err != nil {
			log.Printf("band %d statistics: %v", b.Index(), err)
			continue
		}
		fmt.Printf("  min=%g max=%g mean=%g stddev=%g valid=%d\n", st.Min, st.Max, st.Mean, st.StdDev, st.ValidCount)
	}

	ovs, err := src.Overviews()
	if err != nil {
		return err
	}
	for i, ov := range ovs {
		kind := "internal"
		if ov.External {
			kind = "external"
		}
		fmt.Printf("Overview %d: %dx%d (1/%d, %s)\n", i+1, ov.Width, ov.Height, ov.Factor, kind)
	}

	cs, err := src.ActiveColorScheme()
	if err != nil {
		return err
	}
	fmt.Println("Color scheme:")
	for _, iv := range cs.Intervals() {
		fmt.Printf("  [%g, %g] %s\n", iv.LowValue, iv.HighValue, iv.Caption)
	}
	return nil
}
