// Package domain contains the core business entities and value objects.
package domain

import (
	"fmt"
	"math"
)

// Coordinate represents a point in a planar or geographic reference system.
type Coordinate struct {
	X    float64 // Longitude or Easting
	Y    float64 // Latitude or Northing
	SRID int     // Spatial Reference ID
}

// NewWGS84Coordinate creates a WGS84 (EPSG:4326) coordinate.
func NewWGS84Coordinate(lon, lat float64) Coordinate {
	return Coordinate{X: lon, Y: lat, SRID: SRIDWGS84}
}

// NewCoordinate creates a coordinate with the specified SRID.
func NewCoordinate(x, y float64, srid int) Coordinate {
	return Coordinate{X: x, Y: y, SRID: srid}
}

// Validate checks if the coordinate is valid for its SRID.
func (c Coordinate) Validate() error {
	if c.SRID == SRIDWGS84 {
		if c.X < -180 || c.X > 180 {
			return &ValidationError{
				Field:      "longitude",
				Value:      c.X,
				Constraint: "[-180, 180]",
				Message:    "longitude must be between -180 and 180",
			}
		}
		if c.Y < -90 || c.Y > 90 {
			return &ValidationError{
				Field:      "latitude",
				Value:      c.Y,
				Constraint: "[-90, 90]",
				Message:    "latitude must be between -90 and 90",
			}
		}
	}
	return nil
}

// IsZero returns true if the coordinate is unset.
func (c Coordinate) IsZero() bool {
	return c.X == 0 && c.Y == 0 && c.SRID == 0
}

// String returns a string representation of the coordinate.
func (c Coordinate) String() string {
	return fmt.Sprintf("POINT(%f %f) SRID=%d", c.X, c.Y, c.SRID)
}

// Projection represents a coordinate reference system.
type Projection struct {
	SRID int    // EPSG Code
	Name string // Human-readable name
}

// Common SRID constants.
const (
	SRIDWGS84      = 4326  // WGS 84 geographic
	SRIDUTMZone38N = 32638 // WGS 84 / UTM zone 38N
)

// CommonProjections contains the projections this deployment handles.
var CommonProjections = map[int]Projection{
	SRIDWGS84:      {SRID: SRIDWGS84, Name: "WGS 84"},
	SRIDUTMZone38N: {SRID: SRIDUTMZone38N, Name: "WGS 84 / UTM zone 38N"},
}

// IsKnownSRID returns true if the SRID is in the common projections list.
func IsKnownSRID(srid int) bool {
	_, ok := CommonProjections[srid]
	return ok
}

// Extent represents a spatial bounding box in the coordinates of its SRID.
type Extent struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
	SRID int     `json:"srid"`
}

// NewExtent builds an extent from two opposite corners, normalizing the
// min/max ordering so callers need not know the corner orientation.
func NewExtent(x1, y1, x2, y2 float64, srid int) Extent {
	return Extent{
		MinX: math.Min(x1, x2),
		MinY: math.Min(y1, y2),
		MaxX: math.Max(x1, x2),
		MaxY: math.Max(y1, y2),
		SRID: srid,
	}
}

// Contains checks if a coordinate is within the extent.
func (e Extent) Contains(c Coordinate) bool {
	return c.X >= e.MinX && c.X <= e.MaxX && c.Y >= e.MinY && c.Y <= e.MaxY
}

// ContainsExtent checks if the extent fully contains another extent.
func (e Extent) ContainsExtent(other Extent) bool {
	return other.MinX >= e.MinX && other.MaxX <= e.MaxX &&
		other.MinY >= e.MinY && other.MaxY <= e.MaxY
}

// IsValid checks if the extent has valid dimensions.
func (e Extent) IsValid() bool {
	return e.MinX <= e.MaxX && e.MinY <= e.MaxY
}

// Width returns the width of the extent.
func (e Extent) Width() float64 {
	return math.Abs(e.MaxX - e.MinX)
}

// Height returns the height of the extent.
func (e Extent) Height() float64 {
	return math.Abs(e.MaxY - e.MinY)
}

// Center returns the center coordinate of the extent.
func (e Extent) Center() Coordinate {
	return Coordinate{
		X:    (e.MinX + e.MaxX) / 2,
		Y:    (e.MinY + e.MaxY) / 2,
		SRID: e.SRID,
	}
}

// Corners returns the four corners of the extent in order
// lower-left, lower-right, upper-right, upper-left.
func (e Extent) Corners() [4]Coordinate {
	return [4]Coordinate{
		{X: e.MinX, Y: e.MinY, SRID: e.SRID},
		{X: e.MaxX, Y: e.MinY, SRID: e.SRID},
		{X: e.MaxX, Y: e.MaxY, SRID: e.SRID},
		{X: e.MinX, Y: e.MaxY, SRID: e.SRID},
	}
}

// LatLngBounds is a two-corner WGS84 bounding box in the
// [[minLat,minLng],[maxLat,maxLng]] layout map clients expect.
type LatLngBounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// ToExtent converts the bounds to an Extent in EPSG:4326 (x=lng, y=lat).
func (b LatLngBounds) ToExtent() Extent {
	return Extent{
		MinX: b.MinLng,
		MinY: b.MinLat,
		MaxX: b.MaxLng,
		MaxY: b.MaxLat,
		SRID: SRIDWGS84,
	}
}

// BoundsFromExtent converts a WGS84 extent into LatLngBounds.
func BoundsFromExtent(e Extent) LatLngBounds {
	return LatLngBounds{
		MinLat: e.MinY,
		MinLng: e.MinX,
		MaxLat: e.MaxY,
		MaxLng: e.MaxX,
	}
}

// Pairs returns the bounds as [[minLat,minLng],[maxLat,maxLng]].
func (b LatLngBounds) Pairs() [2][2]float64 {
	return [2][2]float64{{b.MinLat, b.MinLng}, {b.MaxLat, b.MaxLng}}
}
