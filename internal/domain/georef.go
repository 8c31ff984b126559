package domain

import "fmt"

// GeoreferenceInfo describes how a raster maps pixel space to world space.
// It is derived once from a world-file blob and a projection-file blob and
// never mutated afterwards.
//
// OriginX/OriginY are the world coordinates of the center of the top-left
// pixel, following the world-file convention. PixelSizeY is conventionally
// negative for north-up rasters.
type GeoreferenceInfo struct {
	PixelSizeX float64 // x-component of pixel size
	RotationY  float64 // rotation about the y-axis (typically 0)
	RotationX  float64 // rotation about the x-axis (typically 0)
	PixelSizeY float64 // y-component of pixel size (negative = north-up)
	OriginX    float64 // x of the top-left pixel center
	OriginY    float64 // y of the top-left pixel center

	CRSIdentifier  string // resolved CRS identifier, e.g. "EPSG:32638"; empty if unknown
	ProjectionName string // human-readable projection name, "Unknown" if unresolved
	IsUTMZone38N   bool   // true when the source CRS resolved to UTM zone 38N
}

// HasRotation reports whether the raster carries rotation/shear terms.
// Bounds computed for rotated rasters are approximate.
func (g GeoreferenceInfo) HasRotation() bool {
	return g.RotationX != 0 || g.RotationY != 0
}

// SRID returns the numeric SRID for the resolved CRS, or the given default
// when the projection could not be identified. The default stands in for
// unrecognized sources; it is a documented fallback, not a detection.
func (g GeoreferenceInfo) SRID(defaultSRID int) int {
	var srid int
	if _, err := fmt.Sscanf(g.CRSIdentifier, "EPSG:%d", &srid); err == nil && srid > 0 {
		return srid
	}
	return defaultSRID
}
