package geo

import (
	"math"

	"github.com/terralab/strata/internal/domain"
)

// WGS84 ellipsoid parameters.
const (
	semiMajorAxis = 6378137.0         // a
	flattening    = 1 / 298.257223563 // f
	scaleFactor   = 0.9996            // k0, UTM central meridian scale
	falseEasting  = 500000.0          // UTM false easting, meters
)

// Northern-hemisphere UTM domain limits used for input validation.
// The zone proper is 6 degrees wide; a half-degree margin is allowed
// because data near zone edges routinely spills over. The meridian
// delta is capped so every accepted forward input produces an easting
// inside [minEasting, maxEasting] even at the equator, keeping the
// forward and inverse domains closed under round trips.
const (
	maxLatitudeDeg   = 84.0
	maxMeridianDelta = 3.5 // degrees from the central meridian
	minEasting       = 100000.0
	maxEasting       = 900000.0
	maxNorthing      = 9600000.0
)

// TransverseMercator implements Projection for a single northern UTM zone
// on the WGS84 datum, using the standard series expansion (Snyder,
// "Map Projections: A Working Manual", USGS PP 1395). Accuracy is at the
// millimeter level inside the zone, far below the 1 cm round-trip budget.
type TransverseMercator struct {
	srid          int
	centralMerRad float64 // central meridian, radians

	e2  float64 // first eccentricity squared
	ep2 float64 // second eccentricity squared
	e1  float64 // series constant for the inverse footpoint latitude
}

// UTMZone38N returns the projection for EPSG:32638 (central meridian 45°E).
func UTMZone38N() *TransverseMercator {
	return newUTMNorth(domain.SRIDUTMZone38N, 45.0)
}

func newUTMNorth(srid int, centralMeridianDeg float64) *TransverseMercator {
	e2 := flattening * (2 - flattening)
	sqrtOneMinusE2 := math.Sqrt(1 - e2)
	return &TransverseMercator{
		srid:          srid,
		centralMerRad: centralMeridianDeg * math.Pi / 180,
		e2:            e2,
		ep2:           e2 / (1 - e2),
		e1:            (1 - sqrtOneMinusE2) / (1 + sqrtOneMinusE2),
	}
}

// SRID returns the EPSG code of the zone.
func (t *TransverseMercator) SRID() int { return t.srid }

// FromWGS84 converts longitude/latitude (degrees) to easting/northing.
func (t *TransverseMercator) FromWGS84(lon, lat float64) (x, y float64, err error) {
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return 0, 0, domain.ErrTransformOutOfDomain
	}
	if math.Abs(lat) > maxLatitudeDeg {
		return 0, 0, domain.ErrTransformOutOfDomain
	}

	phi := lat * math.Pi / 180
	lambda := lon * math.Pi / 180

	dLambda := lambda - t.centralMerRad
	if math.Abs(dLambda) > maxMeridianDelta*math.Pi/180 {
		return 0, 0, domain.ErrTransformOutOfDomain
	}

	sinPhi := math.Sin(phi)
	cosPhi := math.Cos(phi)
	tanPhi := math.Tan(phi)

	n := semiMajorAxis / math.Sqrt(1-t.e2*sinPhi*sinPhi)
	tt := tanPhi * tanPhi
	c := t.ep2 * cosPhi * cosPhi
	a := dLambda * cosPhi

	m := t.meridianArc(phi)

	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	a6 := a5 * a

	x = scaleFactor*n*(a+
		(1-tt+c)*a3/6+
		(5-18*tt+tt*tt+72*c-58*t.ep2)*a5/120) + falseEasting

	y = scaleFactor * (m + n*tanPhi*(a2/2+
		(5-tt+9*c+4*c*c)*a4/24+
		(61-58*tt+tt*tt+600*c-330*t.ep2)*a6/720))

	return x, y, nil
}

// ToWGS84 converts easting/northing to longitude/latitude (degrees).
func (t *TransverseMercator) ToWGS84(x, y float64) (lon, lat float64, err error) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return 0, 0, domain.ErrTransformOutOfDomain
	}
	if x < minEasting || x > maxEasting || y < 0 || y > maxNorthing {
		return 0, 0, domain.ErrTransformOutOfDomain
	}

	dx := x - falseEasting
	m := y / scaleFactor

	// Footpoint latitude.
	mu := m / (semiMajorAxis * (1 - t.e2/4 - 3*t.e2*t.e2/64 - 5*t.e2*t.e2*t.e2/256))
	e1 := t.e1
	phi1 := mu +
		(3*e1/2-27*e1*e1*e1/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*e1*e1*e1*e1/32)*math.Sin(4*mu) +
		(151*e1*e1*e1/96)*math.Sin(6*mu) +
		(1097*e1*e1*e1*e1/512)*math.Sin(8*mu)

	sinPhi1 := math.Sin(phi1)
	cosPhi1 := math.Cos(phi1)
	tanPhi1 := math.Tan(phi1)

	c1 := t.ep2 * cosPhi1 * cosPhi1
	t1 := tanPhi1 * tanPhi1
	oneMinusE2Sin2 := 1 - t.e2*sinPhi1*sinPhi1
	n1 := semiMajorAxis / math.Sqrt(oneMinusE2Sin2)
	r1 := semiMajorAxis * (1 - t.e2) / (oneMinusE2Sin2 * math.Sqrt(oneMinusE2Sin2))
	d := dx / (n1 * scaleFactor)

	d2 := d * d
	d3 := d2 * d
	d4 := d3 * d
	d5 := d4 * d
	d6 := d5 * d

	phi := phi1 - (n1*tanPhi1/r1)*(d2/2-
		(5+3*t1+10*c1-4*c1*c1-9*t.ep2)*d4/24+
		(61+90*t1+298*c1+45*t1*t1-252*t.ep2-3*c1*c1)*d6/720)

	lambda := t.centralMerRad + (d-
		(1+2*t1+c1)*d3/6+
		(5-2*c1+28*t1-3*c1*c1+8*t.ep2+24*t1*t1)*d5/120)/cosPhi1

	lon = lambda * 180 / math.Pi
	lat = phi * 180 / math.Pi

	if math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return 0, 0, domain.ErrTransformOutOfDomain
	}
	return lon, lat, nil
}

// meridianArc returns the meridian distance from the equator to latitude phi.
func (t *TransverseMercator) meridianArc(phi float64) float64 {
	e2 := t.e2
	e4 := e2 * e2
	e6 := e4 * e2
	return semiMajorAxis * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}
