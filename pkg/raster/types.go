package raster

import (
	"fmt"
	"strings"
)

// Format is an output image encoding
type Format int

// Output formats
const (
	FormatPNG Format = iota
	FormatTIFF
)

// ParseFormat accepts the names used on the command line and in the API
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "png":
		return FormatPNG, nil
	case "tiff", "tif", "geotiff":
		return FormatTIFF, nil
	default:
		return 0, fmt.Errorf("unknown format: %s", s)
	}
}

func (f Format) String() string {
	if f == FormatTIFF {
		return "tiff"
	}
	return "png"
}

// ContentType returns the MIME type of the encoding
func (f Format) ContentType() string {
	if f == FormatTIFF {
		return "image/tiff"
	}
	return "image/png"
}

// Extension returns the usual file extension, including the dot
func (f Format) Extension() string {
	if f == FormatTIFF {
		return ".tif"
	}
	return ".png"
}

// WorldFileExtension returns the extension of the sidecar world file
func (f Format) WorldFileExtension() string {
	if f == FormatTIFF {
		return ".tfw"
	}
	return ".pnw"
}

// Image is a non-premultiplied RGBA pixel buffer, row-major, 4 bytes per pixel
type Image struct {
	Buf    []byte
	Width  int
	Height int
}
