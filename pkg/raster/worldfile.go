package raster

import (
	"bytes"
	"fmt"
	"strings"
)

// WorldFile renders the six lines of an ESRI world file: pixel size x,
// rotation, rotation, negative pixel size y, top left x, top left y.
func WorldFile(px, py, minx, maxy float64) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%24.10f\n", px)
	fmt.Fprintf(&buf, "%24.10f\n", 0.0)
	fmt.Fprintf(&buf, "%24.10f\n", 0.0)
	fmt.Fprintf(&buf, "%24.10f\n", -py)
	fmt.Fprintf(&buf, "%24.10f\n", minx)
	fmt.Fprintf(&buf, "%24.10f\n", maxy)
	return buf.Bytes()
}

// WorldFileName replaces the extension of an image file name with the world
// file extension for f.
func WorldFileName(filename string, f Format) string {
	ext := f.WorldFileExtension()
	if idx := strings.LastIndex(filename, "."); idx != -1 && !strings.ContainsAny(filename[idx:], `/\`) {
		return filename[:idx] + ext
	}
	return filename + ext
}
