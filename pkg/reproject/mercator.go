package reproject

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// latitude maps an output row to radians, row 0 being the north pole
func latitude(yOut, heightOut int) float64 {
	return math.Pi/2 - (float64(yOut)/float64(heightOut))*math.Pi
}

// longitude maps an output column to radians in [-π, π)
func longitude(xOut, widthOut int) float64 {
	return (float64(xOut)/float64(widthOut))*2*math.Pi - math.Pi
}

// easting normalizes a longitude to the [0, 1) Mercator x range
func easting(lambda float64) float64 {
	return (lambda + math.Pi) / (2 * math.Pi)
}

// northing normalizes a latitude against the clamped Mercator y range, 0 at
// the top edge of the source and 1 at the bottom. It is not clamped: the
// polar caps land outside [0, 1] and at the exact pole the result may be
// infinite or NaN.
func northing(phi float64) float64 {
	return (yMax - math.Log(math.Tan(math.Pi/4+phi/2))) / (2 * yMax)
}

// SourceCoord returns the normalized Mercator source coordinate sampled by
// the output pixel (xOut, yOut). Values outside [0, 1) have no source.
func SourceCoord(xOut, yOut, widthOut, heightOut int) (float64, float64) {
	return easting(longitude(xOut, widthOut)), northing(latitude(yOut, heightOut))
}

// SourcePixel returns the source pixel sampled by the output pixel (xOut, yOut).
// ok is false when the output pixel has no source and stays transparent.
func SourcePixel(xOut, yOut, widthIn, heightIn, widthOut, heightOut int) (x, y int, ok bool) {
	xNorm, yNorm := SourceCoord(xOut, yOut, widthOut, heightOut)

	xSrc := math.Floor(xNorm * float64(widthIn))
	ySrc := math.Floor(yNorm * float64(heightIn))
	if !(xSrc >= 0 && xSrc < float64(widthIn)) || !(ySrc >= 0 && ySrc < float64(heightIn)) {
		return 0, 0, false
	}

	return int(xSrc), int(ySrc), true
}

// PixelLonLat returns the geographic coordinate, in degrees, of the top-left
// corner of an output pixel.
func PixelLonLat(xOut, yOut, widthOut, heightOut int) orb.Point {
	return orb.Point{
		longitude(xOut, widthOut) * 180 / math.Pi,
		latitude(yOut, heightOut) * 180 / math.Pi,
	}
}

// OutputBound is the geographic extent (EPSG:4326) covered by every output
func OutputBound() orb.Bound {
	return orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
}

// MercatorBound is the extent of a full-world Web Mercator source in
// EPSG:3857 meters.
func MercatorBound() orb.Bound {
	return orb.Bound{
		Min: project.WGS84.ToMercator(orb.Point{-180, -MaxLatitude}),
		Max: project.WGS84.ToMercator(orb.Point{180, MaxLatitude}),
	}
}
