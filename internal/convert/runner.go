package convert

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kiesman99/merc2eqr/internal/converter"
	"github.com/kiesman99/merc2eqr/pkg/raster"
)

// Options contains the command line configuration of a conversion
type Options struct {
	Input          string // file path, "-" for stdin, or an http(s) URL
	Output         string // file path, empty for stdout
	Width, Height  int
	Format         raster.Format
	WriteWorldFile bool
	Workers        int
	UserAgent      string
	Headers        map[string]string
	Timeout        time.Duration
}

// Runner handles a single file conversion
type Runner struct {
	options *Options
	conv    *converter.Converter

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	// isTerminal reports whether stdout is a terminal
	isTerminal func() bool
}

// NewRunner creates a runner writing to the process streams
func NewRunner(opts *Options) *Runner {
	return &Runner{
		options:    opts,
		conv:       converter.New(raster.NewFetcher(opts.UserAgent, opts.Timeout)),
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		isTerminal: stdoutIsTerminal,
	}
}

func stdoutIsTerminal() bool {
	stat, err := os.Stdout.Stat()
	return err == nil && (stat.Mode()&os.ModeCharDevice) != 0
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Run reads the input, converts it and writes the output files
func (r *Runner) Run(ctx context.Context) error {
	opts := r.options

	if opts.Input == "" {
		return fmt.Errorf("no input image given")
	}

	// Check if output is to terminal
	if opts.Output == "" {
		if opts.WriteWorldFile {
			return fmt.Errorf("can't write a worldfile when writing to stdout")
		}
		if r.isTerminal() {
			return fmt.Errorf("didn't specify output file and standard output is a terminal")
		}
	}

	convOpts := &converter.Options{
		Width:             opts.Width,
		Height:            opts.Height,
		OutputFormat:      opts.Format,
		GenerateWorldFile: opts.WriteWorldFile,
		Workers:           opts.Workers,
	}

	var result *converter.Result
	var err error

	if isURL(opts.Input) {
		fmt.Fprintf(r.stderr, "==Source: %s\n", opts.Input)
		result, err = r.conv.ConvertURL(ctx, opts.Input, opts.Headers, convOpts)
	} else {
		var data []byte
		data, err = r.readInput()
		if err != nil {
			return err
		}
		result, err = r.conv.Convert(ctx, data, convOpts)
	}
	if err != nil {
		return err
	}

	r.report(result)

	if err := r.writeOutput(result.ImageData); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.Format, err)
	}

	// Write world file if requested
	if opts.WriteWorldFile {
		worldFilename := raster.WorldFileName(opts.Output, opts.Format)
		if err := os.WriteFile(worldFilename, result.WorldFileData, 0o644); err != nil {
			return fmt.Errorf("failed to write world file: %w", err)
		}
		fmt.Fprintf(r.stderr, "World file written to '%s'.\n", worldFilename)
	}

	return nil
}

func (r *Runner) readInput() ([]byte, error) {
	if r.options.Input == "-" {
		return io.ReadAll(r.stdin)
	}

	data, err := os.ReadFile(r.options.Input)
	if err != nil {
		return nil, fmt.Errorf("can't read input: %w", err)
	}
	return data, nil
}

func (r *Runner) writeOutput(data []byte) error {
	if r.options.Output == "" {
		fmt.Fprintf(r.stderr, "Output %s: stdout\n", strings.ToUpper(r.options.Format.String()))
		_, err := r.stdout.Write(data)
		return err
	}

	fmt.Fprintf(r.stderr, "Output %s: %s\n", strings.ToUpper(r.options.Format.String()), r.options.Output)
	return os.WriteFile(r.options.Output, data, 0o644)
}

func (r *Runner) report(res *converter.Result) {
	sb, b := res.SourceBound, res.Bound

	fmt.Fprintf(r.stderr, "==Source Size: %dx%d\n", res.SourceWidth, res.SourceHeight)
	fmt.Fprintf(r.stderr, "==Source Bounds (EPSG:3857): %.17g,%.17g to %.17g,%.17g\n", sb.Bottom(), sb.Left(), sb.Top(), sb.Right())
	fmt.Fprintf(r.stderr, "==Output Bounds (EPSG:4326): %.17g,%.17g to %.17g,%.17g\n", b.Bottom(), b.Left(), b.Top(), b.Right())
	fmt.Fprintf(r.stderr, "==Raster Size: %dx%d\n", res.Width, res.Height)
	fmt.Fprintf(r.stderr, "==Pixel Size: x:%.17g y:%.17g\n", res.PixelSizeX, res.PixelSizeY)
}
