package raster

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.SetNRGBA(0, 0, color.NRGBA{255, 0, 0, 255})
	img.SetNRGBA(1, 0, color.NRGBA{0, 255, 0, 128})
	img.SetNRGBA(2, 1, color.NRGBA{0, 0, 255, 255})
	return img
}

func TestDecode_PNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage()); err != nil {
		t.Fatalf("Failed to encode fixture: %v", err)
	}

	img, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if img.Width != 3 || img.Height != 2 {
		t.Fatalf("Expected 3x2, got %dx%d", img.Width, img.Height)
	}
	if len(img.Buf) != 3*2*4 {
		t.Fatalf("Expected %d bytes, got %d", 3*2*4, len(img.Buf))
	}

	// non-premultiplied values survive unchanged
	if got := img.Buf[4:8]; !bytes.Equal(got, []byte{0, 255, 0, 128}) {
		t.Errorf("Expected semi-transparent green, got %v", got)
	}
	if got := img.Buf[20:24]; !bytes.Equal(got, []byte{0, 0, 255, 255}) {
		t.Errorf("Expected blue, got %v", got)
	}
}

func TestDecode_JPEGIsOpaque(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range src.Pix {
		src.Pix[i] = 200
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, nil); err != nil {
		t.Fatalf("Failed to encode fixture: %v", err)
	}

	img, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for i := 3; i < len(img.Buf); i += 4 {
		if img.Buf[i] != 255 {
			t.Fatalf("Expected opaque alpha at byte %d, got %d", i, img.Buf[i])
		}
	}
}

func TestDecodeConfig(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage()); err != nil {
		t.Fatalf("Failed to encode fixture: %v", err)
	}

	cfg, err := DecodeConfig(buf.Bytes())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Width != 3 || cfg.Height != 2 {
		t.Errorf("Expected 3x2, got %dx%d", cfg.Width, cfg.Height)
	}

	if _, err := DecodeConfig([]byte("plain text")); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Expected ErrUnknownFormat, got %v", err)
	}
	if _, err := DecodeConfig(buf.Bytes()[:20]); err == nil {
		t.Error("Expected an error for a truncated header")
	}
}

func TestDecode_UnknownFormat(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("x"), []byte("not an image at all")} {
		if _, err := Decode(data); !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("Expected ErrUnknownFormat for %q, got %v", data, err)
		}
	}
}

func TestDecode_Truncated(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage()); err != nil {
		t.Fatalf("Failed to encode fixture: %v", err)
	}

	_, err := Decode(buf.Bytes()[:20])
	if err == nil || errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Expected a decode error, got %v", err)
	}
}

func TestEncode_TIFF(t *testing.T) {
	orig := FromImage(testImage())

	data, err := EncodeBytes(orig, FormatTIFF)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("II*\x00")) && !bytes.HasPrefix(data, []byte("MM\x00*")) {
		t.Fatal("Output does not start with a TIFF header")
	}

	img, err := Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode TIFF output: %v", err)
	}
	if !bytes.Equal(img.Buf, orig.Buf) {
		t.Errorf("TIFF output changed pixel values: %v vs %v", img.Buf, orig.Buf)
	}
}

func TestEncode_PNGSignature(t *testing.T) {
	data, err := EncodeBytes(FromImage(testImage()), FormatPNG)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		t.Error("Output does not appear to be a valid PNG file")
	}
}

func TestParseFormat(t *testing.T) {
	testCases := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatPNG, false},
		{"png", FormatPNG, false},
		{"PNG", FormatPNG, false},
		{"tiff", FormatTIFF, false},
		{"tif", FormatTIFF, false},
		{"geotiff", FormatTIFF, false},
		{"jpeg", 0, true},
	}

	for _, tc := range testCases {
		got, err := ParseFormat(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseFormat(%q): unexpected error state %v", tc.in, err)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseFormat(%q): expected %v, got %v", tc.in, tc.want, got)
		}
	}
}

func TestWorldFile(t *testing.T) {
	lines := strings.Split(strings.TrimRight(string(WorldFile(0.5, 0.25, -180, 90)), "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("Expected 6 lines, got %d", len(lines))
	}

	want := []string{"0.5000000000", "0.0000000000", "0.0000000000", "-0.2500000000", "-180.0000000000", "90.0000000000"}
	for i, line := range lines {
		if len(line) != 24 {
			t.Errorf("Line %d: expected width 24, got %d", i, len(line))
		}
		if strings.TrimSpace(line) != want[i] {
			t.Errorf("Line %d: expected %s, got %s", i, want[i], strings.TrimSpace(line))
		}
	}
}

func TestWorldFileName(t *testing.T) {
	testCases := []struct {
		name   string
		format Format
		want   string
	}{
		{"world.png", FormatPNG, "world.pnw"},
		{"out/world.tif", FormatTIFF, "out/world.tfw"},
		{"noext", FormatPNG, "noext.pnw"},
		{"dir.d/noext", FormatTIFF, "dir.d/noext.tfw"},
	}

	for _, tc := range testCases {
		if got := WorldFileName(tc.name, tc.format); got != tc.want {
			t.Errorf("WorldFileName(%q): expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestFetcher(t *testing.T) {
	var gotAgent, gotReferer string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		gotAgent = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Write([]byte("payload"))
	}))
	defer ts.Close()

	f := NewFetcher("merc2eqr-test", 0)

	data, err := f.Fetch(context.Background(), ts.URL+"/map.png", map[string]string{"Referer": "https://example.com"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Expected payload, got %q", data)
	}
	if gotAgent != "merc2eqr-test" {
		t.Errorf("Expected User-Agent merc2eqr-test, got %s", gotAgent)
	}
	if gotReferer != "https://example.com" {
		t.Errorf("Expected Referer header to be forwarded, got %s", gotReferer)
	}

	_, err = f.Fetch(context.Background(), ts.URL+"/missing", nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Expected *HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", httpErr.StatusCode)
	}
}
