// Package geo implements the georeferencing core: world file and
// projection file parsing, raster bounds computation, and coordinate
// transformation between the deployment's source CRS (UTM zone 38N)
// and WGS84 geographic coordinates.
package geo

import (
	"github.com/terralab/strata/internal/domain"
)

// Projection converts between a source CRS and WGS84 geographic coordinates.
type Projection interface {
	// ToWGS84 converts source CRS coordinates to WGS84 longitude/latitude (degrees).
	ToWGS84(x, y float64) (lon, lat float64, err error)

	// FromWGS84 converts WGS84 longitude/latitude (degrees) to source CRS coordinates.
	FromWGS84(lon, lat float64) (x, y float64, err error)

	// SRID returns the EPSG code for this projection.
	SRID() int
}

// ForSRID returns a Projection for the given EPSG code, or nil when the
// code is not one of the two systems this deployment supports.
func ForSRID(srid int) Projection {
	switch srid {
	case domain.SRIDUTMZone38N:
		return UTMZone38N()
	case domain.SRIDWGS84:
		return &WGS84Identity{}
	default:
		return nil
	}
}

// WGS84Identity is a no-op projection for data already in EPSG:4326.
type WGS84Identity struct{}

// ToWGS84 returns the input unchanged.
func (w *WGS84Identity) ToWGS84(x, y float64) (lon, lat float64, err error) {
	return x, y, nil
}

// FromWGS84 returns the input unchanged.
func (w *WGS84Identity) FromWGS84(lon, lat float64) (x, y float64, err error) {
	return lon, lat, nil
}

// SRID returns 4326.
func (w *WGS84Identity) SRID() int { return domain.SRIDWGS84 }
