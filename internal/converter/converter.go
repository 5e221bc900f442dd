package converter

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/kiesman99/merc2eqr/pkg/raster"
	"github.com/kiesman99/merc2eqr/pkg/reproject"
)

// MaxPixels is the largest source or output raster Convert will allocate
const MaxPixels = 10000 * 10000

// ErrTooLarge is returned when the source image or the requested output
// exceeds MaxPixels
var ErrTooLarge = errors.New("image size too large")

// Options contains all conversion parameters
type Options struct {
	// Output size; zero width defaults to the source width and zero height
	// to half the output width
	Width, Height int

	OutputFormat      raster.Format
	GenerateWorldFile bool

	// Workers bounds the goroutines used for reprojection, zero means GOMAXPROCS
	Workers int
}

// Validate checks the options before any source is read
func (o *Options) Validate() error {
	if o.Width < 0 || o.Height < 0 {
		return fmt.Errorf("width and height must not be negative")
	}
	if o.OutputFormat != raster.FormatPNG && o.OutputFormat != raster.FormatTIFF {
		return fmt.Errorf("unknown output format %d", o.OutputFormat)
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	return nil
}

// Result contains the conversion result
type Result struct {
	ImageData     []byte
	WorldFileData []byte
	Width         int
	Height        int
	SourceWidth   int
	SourceHeight  int

	// Degrees per output pixel
	PixelSizeX float64
	PixelSizeY float64

	// Bound is the output extent in EPSG:4326, SourceBound the input
	// extent in EPSG:3857 meters
	Bound       orb.Bound
	SourceBound orb.Bound
}

// SourceError represents a source image that could not be read or decoded
type SourceError struct {
	Message    string
	URL        string
	StatusCode *int
	Err        error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Converter performs Mercator to equirectangular conversions
type Converter struct {
	fetcher *raster.Fetcher
}

// New creates a converter. fetcher is only needed for ConvertURL.
func New(fetcher *raster.Fetcher) *Converter {
	return &Converter{fetcher: fetcher}
}

// ConvertURL downloads the source image and converts it. A nil opts uses
// the defaults.
func (c *Converter) ConvertURL(ctx context.Context, url string, headers map[string]string, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if c.fetcher == nil {
		return nil, fmt.Errorf("converter has no fetcher")
	}

	data, err := c.fetcher.Fetch(ctx, url, headers)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		srcErr := &SourceError{Message: "failed to download source image", URL: url, Err: err}
		var httpErr *raster.HTTPError
		if errors.As(err, &httpErr) {
			srcErr.StatusCode = &httpErr.StatusCode
		}
		return nil, srcErr
	}

	res, err := c.Convert(ctx, data, opts)
	var srcErr *SourceError
	if errors.As(err, &srcErr) {
		srcErr.URL = url
	}
	return res, err
}

// Convert decodes a Mercator image, reprojects it and encodes the result.
// A nil opts uses the defaults.
func (c *Converter) Convert(ctx context.Context, data []byte, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	// Compressed sources can be tiny on the wire, so check the header before
	// the pixels are allocated
	cfg, err := raster.DecodeConfig(data)
	if err != nil {
		return nil, &SourceError{Message: "failed to decode source image", Err: err}
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, &SourceError{
			Message: "source image too large",
			Err:     fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height),
		}
	}

	src, err := raster.Decode(data)
	if err != nil {
		return nil, &SourceError{Message: "failed to decode source image", Err: err}
	}
	if src.Width == 0 || src.Height == 0 {
		return nil, &SourceError{Message: "source image is empty"}
	}

	width, height := opts.Width, opts.Height
	if width == 0 {
		width = src.Width
	}
	if height == 0 {
		height = max(width/2, 1)
	}

	// Check size limits
	if int64(width)*int64(height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, width, height)
	}

	buf, err := reproject.ReprojectContext(ctx, src.Buf, src.Width, src.Height, width, height,
		&reproject.Options{Workers: opts.Workers})
	if err != nil {
		return nil, err
	}

	out := &raster.Image{Buf: buf, Width: width, Height: height}
	imageData, err := raster.EncodeBytes(out, opts.OutputFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode output image: %w", err)
	}

	bound := reproject.OutputBound()
	result := &Result{
		ImageData:    imageData,
		Width:        width,
		Height:       height,
		SourceWidth:  src.Width,
		SourceHeight: src.Height,
		PixelSizeX:   (bound.Right() - bound.Left()) / float64(width),
		PixelSizeY:   (bound.Top() - bound.Bottom()) / float64(height),
		Bound:        bound,
		SourceBound:  reproject.MercatorBound(),
	}

	if opts.GenerateWorldFile {
		topLeft := reproject.PixelLonLat(0, 0, width, height)
		result.WorldFileData = raster.WorldFile(result.PixelSizeX, result.PixelSizeY, topLeft.Lon(), topLeft.Lat())
	}

	return result, nil
}
