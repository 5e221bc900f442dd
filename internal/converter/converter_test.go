package converter

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiesman99/merc2eqr/pkg/raster"
)

// mercatorPNG returns a PNG of a solid color Mercator world
func mercatorPNG(t *testing.T, width, height int, c color.NRGBA) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode fixture: %v", err)
	}
	return buf.Bytes()
}

// oversizedPNG returns a valid one pixel PNG whose header claims width x height
func oversizedPNG(t *testing.T, width, height uint32) []byte {
	t.Helper()

	data := mercatorPNG(t, 1, 1, color.NRGBA{})
	// IHDR data follows the signature, chunk length and chunk type
	binary.BigEndian.PutUint32(data[16:20], width)
	binary.BigEndian.PutUint32(data[20:24], height)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestConvert_Success(t *testing.T) {
	src := mercatorPNG(t, 16, 16, color.NRGBA{255, 0, 0, 255})

	res, err := New(nil).Convert(context.Background(), src, &Options{Width: 8, Height: 4})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if res.Width != 8 || res.Height != 4 {
		t.Errorf("Expected 8x4, got %dx%d", res.Width, res.Height)
	}
	if res.SourceWidth != 16 || res.SourceHeight != 16 {
		t.Errorf("Expected 16x16 source, got %dx%d", res.SourceWidth, res.SourceHeight)
	}
	if res.WorldFileData != nil {
		t.Error("Expected no world file unless requested")
	}

	img, err := raster.Decode(res.ImageData)
	if err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}

	// row 0 is the pole, row 2 the equator
	if a := img.Buf[3]; a != 0 {
		t.Errorf("Expected transparent north pole row, got alpha %d", a)
	}
	equator := img.Buf[2*8*4 : 2*8*4+4]
	if !bytes.Equal(equator, []byte{255, 0, 0, 255}) {
		t.Errorf("Expected red at the equator, got %v", equator)
	}
}

func TestConvert_DefaultDimensions(t *testing.T) {
	src := mercatorPNG(t, 32, 32, color.NRGBA{0, 0, 255, 255})

	res, err := New(nil).Convert(context.Background(), src, &Options{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Width != 32 || res.Height != 16 {
		t.Errorf("Expected default 32x16, got %dx%d", res.Width, res.Height)
	}

	res, err = New(nil).Convert(context.Background(), mercatorPNG(t, 1, 1, color.NRGBA{}), &Options{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Width != 1 || res.Height != 1 {
		t.Errorf("Expected default 1x1 for a single pixel source, got %dx%d", res.Width, res.Height)
	}
}

func TestConvert_NilOptions(t *testing.T) {
	src := mercatorPNG(t, 8, 8, color.NRGBA{0, 0, 255, 255})

	res, err := New(nil).Convert(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Width != 8 || res.Height != 4 {
		t.Errorf("Expected default 8x4, got %dx%d", res.Width, res.Height)
	}
	if !bytes.HasPrefix(res.ImageData, []byte("\x89PNG")) {
		t.Error("Expected PNG output by default")
	}
}

func TestConvert_WorldFileAndBounds(t *testing.T) {
	src := mercatorPNG(t, 4, 4, color.NRGBA{0, 255, 0, 255})

	res, err := New(nil).Convert(context.Background(), src, &Options{
		Width:             720,
		Height:            360,
		OutputFormat:      raster.FormatTIFF,
		GenerateWorldFile: true,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if res.PixelSizeX != 0.5 || res.PixelSizeY != 0.5 {
		t.Errorf("Expected 0.5 degree pixels, got %v x %v", res.PixelSizeX, res.PixelSizeY)
	}
	if !bytes.HasPrefix(res.ImageData, []byte("II*\x00")) && !bytes.HasPrefix(res.ImageData, []byte("MM\x00*")) {
		t.Error("Expected TIFF output")
	}

	want := string(raster.WorldFile(0.5, 0.5, -180, 90))
	if string(res.WorldFileData) != want {
		t.Errorf("Unexpected world file:\n%s\nwant:\n%s", res.WorldFileData, want)
	}

	if res.SourceBound.Right() <= 2e7 || res.Bound.Top() != 90 {
		t.Errorf("Unexpected bounds: source %v output %v", res.SourceBound, res.Bound)
	}
}

func TestConvert_Errors(t *testing.T) {
	valid := mercatorPNG(t, 2, 2, color.NRGBA{255, 255, 255, 255})

	testCases := []struct {
		name      string
		data      []byte
		opts      *Options
		checkType func(error) bool
	}{
		{
			name:      "Not an image",
			data:      []byte("hello"),
			opts:      &Options{},
			checkType: func(err error) bool { var e *SourceError; return errors.As(err, &e) && errors.Is(err, raster.ErrUnknownFormat) },
		},
		{
			name:      "Corrupt PNG",
			data:      valid[:30],
			opts:      &Options{},
			checkType: func(err error) bool { var e *SourceError; return errors.As(err, &e) },
		},
		{
			name:      "Too large",
			data:      valid,
			opts:      &Options{Width: 20000, Height: 10000},
			checkType: func(err error) bool { return errors.Is(err, ErrTooLarge) },
		},
		{
			name: "Source too large",
			data: oversizedPNG(t, 12000, 12000),
			opts: &Options{Width: 4, Height: 2},
			checkType: func(err error) bool {
				var e *SourceError
				return errors.As(err, &e) && errors.Is(err, ErrTooLarge)
			},
		},
		{
			name:      "Negative width",
			data:      valid,
			opts:      &Options{Width: -1},
			checkType: func(err error) bool { return err != nil },
		},
		{
			name:      "Unknown format",
			data:      valid,
			opts:      &Options{OutputFormat: raster.Format(42)},
			checkType: func(err error) bool { return err != nil },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := New(nil).Convert(context.Background(), tc.data, tc.opts)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if res != nil {
				t.Error("Expected no result on error")
			}
			if !tc.checkType(err) {
				t.Errorf("Unexpected error type: %v", err)
			}
		})
	}
}

func TestConvert_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(nil).Convert(ctx, mercatorPNG(t, 4, 4, color.NRGBA{}), &Options{Width: 64, Height: 64})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestConvertURL(t *testing.T) {
	src := mercatorPNG(t, 8, 8, color.NRGBA{10, 20, 30, 255})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/world.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(src)
		case "/garbage":
			w.Write([]byte("<html>not found</html>"))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			w.Write(src)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer ts.Close()

	c := New(raster.NewFetcher("merc2eqr-test", 0))

	t.Run("Success", func(t *testing.T) {
		res, err := c.ConvertURL(context.Background(), ts.URL+"/world.png", nil, &Options{Width: 16, Height: 8})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if res.Width != 16 || res.Height != 8 {
			t.Errorf("Expected 16x8, got %dx%d", res.Width, res.Height)
		}
	})

	t.Run("HTTP error", func(t *testing.T) {
		_, err := c.ConvertURL(context.Background(), ts.URL+"/forbidden", nil, &Options{})
		var srcErr *SourceError
		if !errors.As(err, &srcErr) {
			t.Fatalf("Expected *SourceError, got %v", err)
		}
		if srcErr.StatusCode == nil || *srcErr.StatusCode != http.StatusForbidden {
			t.Errorf("Expected status 403, got %v", srcErr.StatusCode)
		}
		if !strings.HasSuffix(srcErr.URL, "/forbidden") {
			t.Errorf("Expected URL to be recorded, got %s", srcErr.URL)
		}
	})

	t.Run("Undecodable body", func(t *testing.T) {
		_, err := c.ConvertURL(context.Background(), ts.URL+"/garbage", nil, &Options{})
		var srcErr *SourceError
		if !errors.As(err, &srcErr) {
			t.Fatalf("Expected *SourceError, got %v", err)
		}
		if srcErr.StatusCode != nil {
			t.Errorf("Expected no status code for a decode failure, got %d", *srcErr.StatusCode)
		}
		if !strings.HasSuffix(srcErr.URL, "/garbage") {
			t.Errorf("Expected URL to be recorded, got %s", srcErr.URL)
		}
	})

	t.Run("Deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := c.ConvertURL(ctx, ts.URL+"/slow", nil, &Options{})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected context.DeadlineExceeded, got %v", err)
		}
	})

	t.Run("No fetcher", func(t *testing.T) {
		if _, err := New(nil).ConvertURL(context.Background(), ts.URL+"/world.png", nil, &Options{}); err == nil {
			t.Error("Expected an error without a fetcher")
		}
	})
}
