package reproject

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// MaxLatitude is the Web Mercator latitude clamp in degrees
const MaxLatitude = 85.05112878

// DefaultBatchRows is the number of output rows handed to a worker at a time
const DefaultBatchRows = 64

var (
	phiMax = MaxLatitude * math.Pi / 180
	yMax   = math.Log(math.Tan(math.Pi/4 + phiMax/2))
)

// ErrInvalidDimensions is returned for non-positive dimensions or a source
// buffer whose length does not match width*height*4.
var ErrInvalidDimensions = errors.New("invalid dimensions")

// DimensionError describes which input failed validation
type DimensionError struct {
	WidthIn, HeightIn   int
	WidthOut, HeightOut int
	BufLen              int
	Reason              string
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%v: %s (in %dx%d, out %dx%d, buffer %d bytes)",
		ErrInvalidDimensions, e.Reason, e.WidthIn, e.HeightIn, e.WidthOut, e.HeightOut, e.BufLen)
}

func (e *DimensionError) Unwrap() error {
	return ErrInvalidDimensions
}

// Options controls how ReprojectContext splits the work
type Options struct {
	Workers   int // defaults to GOMAXPROCS
	BatchRows int // defaults to DefaultBatchRows
}

// Reproject resamples an RGBA Web Mercator buffer of widthIn x heightIn pixels
// into a new equirectangular buffer of widthOut x heightOut pixels using
// nearest-neighbor sampling. Output pixels without a source (the polar caps
// beyond MaxLatitude) are left fully transparent.
func Reproject(src []byte, widthIn, heightIn, widthOut, heightOut int) ([]byte, error) {
	if err := validate(src, widthIn, heightIn, widthOut, heightOut); err != nil {
		return nil, err
	}

	dst := make([]byte, widthOut*heightOut*4)
	reprojectRows(dst, src, widthIn, heightIn, widthOut, heightOut, 0, heightOut)
	return dst, nil
}

// ReprojectContext is Reproject spread over several goroutines by row
// batches. The context is checked between batches; on cancellation no buffer
// is returned.
func ReprojectContext(ctx context.Context, src []byte, widthIn, heightIn, widthOut, heightOut int, opts *Options) ([]byte, error) {
	if err := validate(src, widthIn, heightIn, widthOut, heightOut); err != nil {
		return nil, err
	}

	workers := runtime.GOMAXPROCS(0)
	batch := DefaultBatchRows
	if opts != nil {
		if opts.Workers > 0 {
			workers = opts.Workers
		}
		if opts.BatchRows > 0 {
			batch = opts.BatchRows
		}
	}

	dst := make([]byte, widthOut*heightOut*4)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for y0 := 0; y0 < heightOut; y0 += batch {
		if gctx.Err() != nil {
			break
		}

		y1 := min(y0+batch, heightOut)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reprojectRows(dst, src, widthIn, heightIn, widthOut, heightOut, y0, y1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// the loop may stop early without any batch observing the cancellation
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return dst, nil
}

// reprojectRows fills output rows [y0, y1). Rows are disjoint between
// callers, so concurrent calls never touch the same bytes of dst.
func reprojectRows(dst, src []byte, widthIn, heightIn, widthOut, heightOut, y0, y1 int) {
	for yOut := y0; yOut < y1; yOut++ {
		yNorm := northing(latitude(yOut, heightOut))
		ySrc := math.Floor(yNorm * float64(heightIn))
		// NaN and ±Inf fail this comparison
		if !(ySrc >= 0 && ySrc < float64(heightIn)) {
			continue
		}
		row := int(ySrc) * widthIn

		for xOut := 0; xOut < widthOut; xOut++ {
			xSrc := math.Floor(easting(longitude(xOut, widthOut)) * float64(widthIn))
			if !(xSrc >= 0 && xSrc < float64(widthIn)) {
				continue
			}

			inIdx := (row + int(xSrc)) * 4
			outIdx := (yOut*widthOut + xOut) * 4
			copy(dst[outIdx:outIdx+4], src[inIdx:inIdx+4])
		}
	}
}

func validate(src []byte, widthIn, heightIn, widthOut, heightOut int) error {
	e := &DimensionError{
		WidthIn:   widthIn,
		HeightIn:  heightIn,
		WidthOut:  widthOut,
		HeightOut: heightOut,
		BufLen:    len(src),
	}

	switch {
	case widthIn <= 0 || heightIn <= 0:
		e.Reason = "source dimensions must be positive"
	case widthOut <= 0 || heightOut <= 0:
		e.Reason = "output dimensions must be positive"
	case widthIn > math.MaxInt/4/heightIn || widthOut > math.MaxInt/4/heightOut:
		e.Reason = "dimensions overflow"
	case len(src) != widthIn*heightIn*4:
		e.Reason = "source buffer length does not match width*height*4"
	default:
		return nil
	}

	return e
}
