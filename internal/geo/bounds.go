package geo

import (
	"fmt"
	"math"

	"github.com/terralab/strata/internal/domain"
)

// Regional reference point used for the deterministic fallback when a
// transform fails: the center of the deployment's survey coverage inside
// UTM zone 38N. Results built from it are always flagged approximate.
const (
	fallbackCenterLat = 36.19
	fallbackCenterLng = 44.01

	// Meters per degree of latitude, and of longitude at the reference
	// latitude. Good enough for a flagged approximation.
	metersPerDegLat = 111320.0
)

// ComputeBounds combines world-file parameters with raster pixel
// dimensions to produce an axis-aligned bounding box in the source CRS.
//
// The lower-right corner is origin + (width*pixelSizeX, height*pixelSizeY);
// element-wise min/max against the origin absorbs the sign convention of
// pixelSizeY, so callers never see an inverted box. Rotation terms are not
// applied; rotated rasters yield an approximate axis-aligned box.
func ComputeBounds(g domain.GeoreferenceInfo, width, height, srid int) domain.Extent {
	lowerRightX := g.OriginX + float64(width)*g.PixelSizeX
	lowerRightY := g.OriginY + float64(height)*g.PixelSizeY
	return domain.NewExtent(g.OriginX, g.OriginY, lowerRightX, lowerRightY, srid)
}

// TransformResult carries transformed bounds together with the
// approximation flag. Approximate is true when any corner fell outside
// the projection domain and the regional fallback was substituted; callers
// decide whether to reject or accept with a warning.
type TransformResult struct {
	Bounds      domain.LatLngBounds
	Approximate bool
}

// BoundsToWGS84 converts a source-CRS extent to WGS84 display bounds.
//
// All four corners are transformed individually and reduced by min/max:
// a projected rectangle is not rectangle-preserving under UTM-to-geographic
// conversion, and a two-corner shortcut under-covers the true extent
// whenever there is zone curvature.
func BoundsToWGS84(e domain.Extent) (TransformResult, error) {
	proj := ForSRID(e.SRID)
	if proj == nil {
		return TransformResult{}, fmt.Errorf("SRID %d: %w", e.SRID, domain.ErrUnsupportedCRS)
	}

	minLat, minLng := math.Inf(1), math.Inf(1)
	maxLat, maxLng := math.Inf(-1), math.Inf(-1)

	for _, corner := range e.Corners() {
		lng, lat, err := proj.ToWGS84(corner.X, corner.Y)
		if err != nil {
			return fallbackBounds(e), nil
		}
		minLat = math.Min(minLat, lat)
		maxLat = math.Max(maxLat, lat)
		minLng = math.Min(minLng, lng)
		maxLng = math.Max(maxLng, lng)
	}

	return TransformResult{
		Bounds: domain.LatLngBounds{
			MinLat: minLat,
			MinLng: minLng,
			MaxLat: maxLat,
			MaxLng: maxLng,
		},
	}, nil
}

// BoundsFromWGS84 converts WGS84 display bounds back to the target source
// CRS, using the same four-corner reduction as the forward direction.
func BoundsFromWGS84(b domain.LatLngBounds, targetSRID int) (domain.Extent, error) {
	proj := ForSRID(targetSRID)
	if proj == nil {
		return domain.Extent{}, fmt.Errorf("SRID %d: %w", targetSRID, domain.ErrUnsupportedCRS)
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)

	for _, corner := range b.ToExtent().Corners() {
		x, y, err := proj.FromWGS84(corner.X, corner.Y)
		if err != nil {
			return domain.Extent{}, &domain.TransformError{
				SourceSRID: domain.SRIDWGS84,
				TargetSRID: targetSRID,
				X:          corner.X,
				Y:          corner.Y,
				Err:        err,
			}
		}
		minX = math.Min(minX, x)
		maxX = math.Max(maxX, x)
		minY = math.Min(minY, y)
		maxY = math.Max(maxY, y)
	}

	return domain.Extent{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY, SRID: targetSRID}, nil
}

// fallbackBounds builds a deterministic approximation centered on the
// regional reference point, sized from the source extent so the overlay
// at least renders at a plausible scale. Always flagged approximate.
func fallbackBounds(e domain.Extent) TransformResult {
	halfHeightDeg := (e.Height() / 2) / metersPerDegLat
	metersPerDegLng := metersPerDegLat * math.Cos(fallbackCenterLat*math.Pi/180)
	halfWidthDeg := (e.Width() / 2) / metersPerDegLng

	// Degenerate or absurd extents collapse to a minimal visible box.
	if !isReasonableSpanDeg(halfHeightDeg) || !isReasonableSpanDeg(halfWidthDeg) {
		halfHeightDeg = 0.005
		halfWidthDeg = 0.005
	}

	return TransformResult{
		Bounds: domain.LatLngBounds{
			MinLat: fallbackCenterLat - halfHeightDeg,
			MinLng: fallbackCenterLng - halfWidthDeg,
			MaxLat: fallbackCenterLat + halfHeightDeg,
			MaxLng: fallbackCenterLng + halfWidthDeg,
		},
		Approximate: true,
	}
}

func isReasonableSpanDeg(v float64) bool {
	return v > 0 && v < 5 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
