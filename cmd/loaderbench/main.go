// Command loaderbench pulls batches from a caption loader and reports how
// fast they arrive.
//
// Usage:
//
//	loaderbench --config opts.json --split train --batches 200 --out output
//
// Flags override the values read from --config. A PNG with the latency of
// every batch is written to the output directory.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/Noofbiz/captionLoader/datasets"
	"github.com/Noofbiz/captionLoader/loader"
	arg "github.com/alexflint/go-arg"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

type args struct {
	Config string `arg:"--config" help:"JSON file with loader options"`

	InputJSON    string `arg:"--input-json" help:"preprocessing JSON with ix_to_word and images"`
	InputLabelH5 string `arg:"--input-label-h5" help:"label store (.h5, .hdf5 or .npz)"`
	InputFCDir   string `arg:"--input-fc-dir" help:"directory of <id>.npy dense features"`
	InputAttDir  string `arg:"--input-att-dir" help:"directory of <id>.npz spatial features"`
	UseAtt       bool   `arg:"--use-att" help:"load spatial features"`
	TrainOnly    bool   `arg:"--train-only" help:"drop images outside train/val/test"`

	BatchSize int   `arg:"--batch-size" help:"images per batch"`
	SeqPerImg int   `arg:"--seq-per-img" help:"captions per image"`
	Workers   int   `arg:"--workers" help:"load goroutines per split"`
	CacheSize int   `arg:"--cache-size" help:"decoded images kept in memory"`
	Seed      int64 `arg:"--seed" help:"random seed, 0 uses the time"`

	Split     string `arg:"--split" default:"train" help:"split to read: train, val or test"`
	Batches   int    `arg:"--batches" default:"100" help:"number of batches to pull"`
	Out       string `arg:"--out" default:"output" help:"directory for the latency plot"`
	Verbosity int    `arg:"-v,--verbosity" help:"klog verbosity"`
}

// options merges the config file with the flags set on the command line.
func (a args) options() (loader.Options, error) {
	var opts loader.Options
	if a.Config != "" {
		var err error
		if opts, err = loader.LoadOptions(a.Config); err != nil {
			return opts, err
		}
	}
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setString(&opts.InputJSON, a.InputJSON)
	setString(&opts.InputLabelH5, a.InputLabelH5)
	setString(&opts.InputFCDir, a.InputFCDir)
	setString(&opts.InputAttDir, a.InputAttDir)
	opts.UseAtt = opts.UseAtt || a.UseAtt
	opts.TrainOnly = opts.TrainOnly || a.TrainOnly
	setInt(&opts.BatchSize, a.BatchSize)
	setInt(&opts.SeqPerImg, a.SeqPerImg)
	setInt(&opts.Workers, a.Workers)
	setInt(&opts.FeatureCacheSize, a.CacheSize)
	if a.Seed != 0 {
		opts.Seed = a.Seed
	}
	return opts, nil
}

type stats struct {
	latencies []time.Duration
	bytes     uint64
	rows      int
	wraps     int
}

func (s *stats) percentile(p float64) time.Duration {
	if len(s.latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(s.latencies)
	slices.Sort(sorted)
	return sorted[int(p*float64(len(sorted)-1))]
}

func main() {
	var a args
	arg.MustParse(&a)
	klog.InitFlags(nil)
	_ = flag.Set("v", strconv.Itoa(a.Verbosity))

	if err := bench(a, os.Stdout); err != nil {
		klog.Fatalf("%+v", err)
	}
	klog.Flush()
}

// bench opens the loader, pulls the batches and writes the report to w. The
// loader is closed before bench returns.
func bench(a args, w io.Writer) error {
	split, err := datasets.ParseSplit(a.Split)
	if err != nil {
		return err
	}
	opts, err := a.options()
	if err != nil {
		return errors.WithMessage(err, "failed to read options")
	}
	l, err := loader.New(opts)
	if err != nil {
		return errors.WithMessage(err, "failed to create loader")
	}
	defer func() {
		if err := l.Close(); err != nil {
			klog.Errorf("failed to close loader: %+v", err)
		}
	}()

	s, err := run(l, split, a.Batches)
	if err != nil {
		return errors.WithMessagef(err, "reading split %s", split)
	}
	elapsed := time.Duration(0)
	for _, d := range s.latencies {
		elapsed += d
	}
	fmt.Fprintf(w, "split %s: %d images, %d batches, %d caption rows, %d wraparounds\n",
		split, l.SplitSize(split), len(s.latencies), s.rows, s.wraps)
	fmt.Fprintf(w, "  features moved: %s (%s/s)\n", humanize.Bytes(s.bytes),
		humanize.Bytes(uint64(float64(s.bytes)/max(elapsed.Seconds(), 1e-9))))
	fmt.Fprintf(w, "  latency p50=%s p90=%s p99=%s max=%s\n",
		s.percentile(0.5), s.percentile(0.9), s.percentile(0.99), s.percentile(1))

	outPath, err := plotLatencies(a.Out, split, s.latencies)
	if err != nil {
		return errors.WithMessage(err, "failed to plot latencies")
	}
	fmt.Fprintf(w, "  latency plot: %s\n", outPath)
	return nil
}

// run pulls n batches from split. A failed batch ends the run: the loader
// can't recover from feature or label errors.
func run(l *loader.Loader, split datasets.Split, n int) (*stats, error) {
	s := &stats{latencies: make([]time.Duration, 0, n)}
	bar := progressbar.NewOptions(n,
		progressbar.OptionSetDescription(fmt.Sprintf("reading %s", split)),
		progressbar.OptionShowIts(),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
	)
	for i := range n {
		start := time.Now()
		b, err := l.GetBatch(split, 0, 0)
		if err != nil {
			return nil, errors.WithMessagef(err, "batch %d", i)
		}
		s.latencies = append(s.latencies, time.Since(start))
		s.bytes += uint64(4 * (len(b.FC) + len(b.Att)))
		s.rows += b.Rows
		if b.Bounds.Wrapped {
			s.wraps++
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	return s, nil
}

// plotLatencies writes the per-batch latency line plot to outDir.
func plotLatencies(outDir string, split datasets.Split, latencies []time.Duration) (string, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("GetBatch latency, split %s", split)
	p.X.Label.Text = "batch"
	p.Y.Label.Text = "ms"

	xys := make(plotter.XYs, len(latencies))
	for i, d := range latencies {
		xys[i] = plotter.XY{X: float64(i), Y: float64(d.Microseconds()) / 1000}
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return "", errors.Wrap(err, "building latency line")
	}
	line.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())
	p.Legend.Add("latency", line)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating %s", outDir)
	}
	outPath := filepath.Join(outDir, fmt.Sprintf("latency_%s.png", split))
	if err := p.Save(8*vg.Inch, 6*vg.Inch, outPath); err != nil {
		return "", errors.Wrapf(err, "saving %s", outPath)
	}
	return outPath, nil
}
