package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// ErrUnknownFormat is returned by Decode when no magic number matches
var ErrUnknownFormat = errors.New("unrecognized image format")

type codec struct {
	name         string
	decode       func(io.Reader) (image.Image, error)
	decodeConfig func(io.Reader) (image.Config, error)
}

var (
	pngCodec  = codec{"png", png.Decode, png.DecodeConfig}
	jpegCodec = codec{"jpeg", jpeg.Decode, jpeg.DecodeConfig}
	gifCodec  = codec{"gif", gif.Decode, gif.DecodeConfig}
	tiffCodec = codec{"tiff", tiff.Decode, tiff.DecodeConfig}
	webpCodec = codec{"webp", webp.Decode, webp.DecodeConfig}
	bmpCodec  = codec{"bmp", bmp.Decode, bmp.DecodeConfig}
)

// sniff picks a codec from the leading bytes of data
func sniff(data []byte) (codec, bool) {
	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], []byte{0x89, 0x50, 0x4E, 0x47}):
		return pngCodec, true
	case len(data) >= 2 && bytes.Equal(data[:2], []byte{0xFF, 0xD8}):
		return jpegCodec, true
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("GIF8")):
		return gifCodec, true
	case len(data) >= 4 && (bytes.Equal(data[:4], []byte("II*\x00")) || bytes.Equal(data[:4], []byte("MM\x00*"))):
		return tiffCodec, true
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return webpCodec, true
	case len(data) >= 2 && bytes.Equal(data[:2], []byte("BM")):
		return bmpCodec, true
	}
	return codec{}, false
}

// DecodeConfig reads the dimensions from the image header without decoding
// the pixel data.
func DecodeConfig(data []byte) (image.Config, error) {
	c, ok := sniff(data)
	if !ok {
		return image.Config{}, ErrUnknownFormat
	}

	cfg, err := c.decodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, fmt.Errorf("decode %s header: %w", c.name, err)
	}
	return cfg, nil
}

// Decode detects the image format and decodes it into an RGBA buffer
func Decode(data []byte) (*Image, error) {
	c, ok := sniff(data)
	if !ok {
		return nil, ErrUnknownFormat
	}

	img, err := c.decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.name, err)
	}

	return FromImage(img), nil
}

// FromImage converts any image to a non-premultiplied RGBA buffer anchored at 0,0
func FromImage(img image.Image) *Image {
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)

	return &Image{
		Buf:    dst.Pix,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}
}

// NRGBA wraps the buffer without copying
func (img *Image) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    img.Buf,
		Stride: img.Width * 4,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}
}

// Encode writes img to w in the given format
func Encode(w io.Writer, img *Image, f Format) error {
	switch f {
	case FormatPNG:
		return png.Encode(w, img.NRGBA())
	case FormatTIFF:
		return tiff.Encode(w, img.NRGBA(), &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		return fmt.Errorf("unsupported output format %d", f)
	}
}

// EncodeBytes is Encode into a fresh byte slice
func EncodeBytes(img *Image, f Format) ([]byte, error) {
	var output bytes.Buffer
	if err := Encode(&output, img, f); err != nil {
		return nil, err
	}

	return output.Bytes(), nil
}
