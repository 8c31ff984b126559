package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/terralab/strata/internal/domain"
)

func TestComputeBounds(t *testing.T) {
	g := domain.GeoreferenceInfo{
		PixelSizeX: 0.5,
		PixelSizeY: -0.5, // north-up convention
		OriginX:    400000,
		OriginY:    4000000,
	}

	e := ComputeBounds(g, 1000, 800, domain.SRIDUTMZone38N)

	if e.MinX != 400000 || e.MaxX != 400500 {
		t.Errorf("x range = [%f, %f], want [400000, 400500]", e.MinX, e.MaxX)
	}
	if e.MinY != 3999600 || e.MaxY != 4000000 {
		t.Errorf("y range = [%f, %f], want [3999600, 4000000]", e.MinY, e.MaxY)
	}
	if e.SRID != domain.SRIDUTMZone38N {
		t.Errorf("SRID = %d, want %d", e.SRID, domain.SRIDUTMZone38N)
	}
}

func TestComputeBoundsMonotonic(t *testing.T) {
	// min <= max must hold regardless of the pixelSizeY sign convention.
	tests := []struct {
		name       string
		pixelSizeY float64
	}{
		{"north-up negative", -2.0},
		{"south-up positive", 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := domain.GeoreferenceInfo{
				PixelSizeX: 1.0,
				PixelSizeY: tt.pixelSizeY,
				OriginX:    450000,
				OriginY:    4000000,
			}
			e := ComputeBounds(g, 100, 100, domain.SRIDUTMZone38N)
			if !e.IsValid() {
				t.Errorf("bounds not monotonic: %+v", e)
			}
			if e.Height() != 200 {
				t.Errorf("height = %f, want 200", e.Height())
			}
		})
	}
}

func TestBoundsToWGS84(t *testing.T) {
	e := domain.Extent{
		MinX: 400000, MinY: 3950000,
		MaxX: 450000, MaxY: 4010000,
		SRID: domain.SRIDUTMZone38N,
	}

	res, err := BoundsToWGS84(e)
	if err != nil {
		t.Fatalf("BoundsToWGS84 failed: %v", err)
	}
	if res.Approximate {
		t.Error("in-domain extent should not be approximate")
	}

	b := res.Bounds
	if b.MinLat >= b.MaxLat || b.MinLng >= b.MaxLng {
		t.Errorf("degenerate bounds: %+v", b)
	}
	// Zone 38N around 36N sits near 44-45E.
	if b.MinLng < 43 || b.MaxLng > 45.1 || b.MinLat < 35 || b.MaxLat > 36.5 {
		t.Errorf("bounds %+v outside the expected region", b)
	}
}

func TestBoundsToWGS84Identity(t *testing.T) {
	e := domain.Extent{MinX: 44, MinY: 36, MaxX: 45, MaxY: 37, SRID: domain.SRIDWGS84}

	res, err := BoundsToWGS84(e)
	if err != nil {
		t.Fatalf("BoundsToWGS84 failed: %v", err)
	}
	want := domain.LatLngBounds{MinLat: 36, MinLng: 44, MaxLat: 37, MaxLng: 45}
	if res.Bounds != want {
		t.Errorf("bounds = %+v, want %+v", res.Bounds, want)
	}
}

func TestBoundsToWGS84UnsupportedCRS(t *testing.T) {
	_, err := BoundsToWGS84(domain.Extent{SRID: 3857})
	if !errors.Is(err, domain.ErrUnsupportedCRS) {
		t.Errorf("err = %v, want ErrUnsupportedCRS", err)
	}
}

func TestFourCornerContainsTwoCornerApproximation(t *testing.T) {
	// A rectangle spanning a large UTM range: convergence bends the edges,
	// so reducing over all four corners must strictly contain the naive
	// two-diagonal-corner box. Guards against the degenerate shortcut.
	e := domain.Extent{
		MinX: 200000, MinY: 3400000,
		MaxX: 800000, MaxY: 6000000,
		SRID: domain.SRIDUTMZone38N,
	}

	res, err := BoundsToWGS84(e)
	if err != nil {
		t.Fatalf("BoundsToWGS84 failed: %v", err)
	}

	proj := UTMZone38N()
	llLng, llLat, err := proj.ToWGS84(e.MinX, e.MinY)
	if err != nil {
		t.Fatalf("corner transform failed: %v", err)
	}
	urLng, urLat, err := proj.ToWGS84(e.MaxX, e.MaxY)
	if err != nil {
		t.Fatalf("corner transform failed: %v", err)
	}

	twoCorner := domain.LatLngBounds{
		MinLat: math.Min(llLat, urLat),
		MinLng: math.Min(llLng, urLng),
		MaxLat: math.Max(llLat, urLat),
		MaxLng: math.Max(llLng, urLng),
	}

	four := res.Bounds
	if !(four.MinLng <= twoCorner.MinLng && four.MaxLng >= twoCorner.MaxLng &&
		four.MinLat <= twoCorner.MinLat && four.MaxLat >= twoCorner.MaxLat) {
		t.Fatalf("four-corner %+v does not contain two-corner %+v", four, twoCorner)
	}

	// Strict containment on at least one edge: west of the central
	// meridian the lower-left corner bulges outward.
	if four.MinLng == twoCorner.MinLng && four.MaxLng == twoCorner.MaxLng &&
		four.MinLat == twoCorner.MinLat && four.MaxLat == twoCorner.MaxLat {
		t.Error("four-corner reduction equals two-corner shortcut; expected strict containment")
	}
}

func TestBoundsToWGS84FallbackFlagged(t *testing.T) {
	// Corners far outside the projection domain: the deterministic
	// regional fallback must be returned and flagged approximate,
	// never silently passed off as a real transform.
	e := domain.Extent{
		MinX: -5000000, MinY: -5000000,
		MaxX: -4990000, MaxY: -4990000,
		SRID: domain.SRIDUTMZone38N,
	}

	res, err := BoundsToWGS84(e)
	if err != nil {
		t.Fatalf("BoundsToWGS84 failed: %v", err)
	}
	if !res.Approximate {
		t.Fatal("out-of-domain transform must be flagged approximate")
	}

	b := res.Bounds
	if b.MinLat >= b.MaxLat || b.MinLng >= b.MaxLng {
		t.Errorf("fallback bounds degenerate: %+v", b)
	}
	midLat := (b.MinLat + b.MaxLat) / 2
	midLng := (b.MinLng + b.MaxLng) / 2
	if math.Abs(midLat-fallbackCenterLat) > 1e-9 || math.Abs(midLng-fallbackCenterLng) > 1e-9 {
		t.Errorf("fallback center = (%f, %f), want (%f, %f)",
			midLat, midLng, fallbackCenterLat, fallbackCenterLng)
	}

	// Deterministic: same input, same output.
	res2, _ := BoundsToWGS84(e)
	if res2.Bounds != res.Bounds {
		t.Error("fallback bounds must be deterministic")
	}
}

func TestBoundsRoundTrip(t *testing.T) {
	src := domain.Extent{
		MinX: 420000, MinY: 3980000,
		MaxX: 430000, MaxY: 3990000,
		SRID: domain.SRIDUTMZone38N,
	}

	res, err := BoundsToWGS84(src)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	back, err := BoundsFromWGS84(res.Bounds, domain.SRIDUTMZone38N)
	if err != nil {
		t.Fatalf("inverse failed: %v", err)
	}

	// The round trip may only grow the box (each four-corner reduction
	// covers at least the original area); growth from meridian
	// convergence stays in the low hundreds of meters at this scale.
	const tol = 1.0
	if back.MinX > src.MinX+tol || back.MaxX < src.MaxX-tol ||
		back.MinY > src.MinY+tol || back.MaxY < src.MaxY-tol {
		t.Errorf("round trip lost coverage: src %+v, back %+v", src, back)
	}
	if back.Width() > src.Width()+500 || back.Height() > src.Height()+500 {
		t.Errorf("round trip grew too much: src %+v, back %+v", src, back)
	}
}

func TestBoundsFromWGS84OutOfDomain(t *testing.T) {
	b := domain.LatLngBounds{MinLat: 85, MinLng: 44, MaxLat: 89, MaxLng: 45}

	var terr *domain.TransformError
	_, err := BoundsFromWGS84(b, domain.SRIDUTMZone38N)
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransformError", err)
	}
	if !errors.Is(err, domain.ErrTransformOutOfDomain) {
		t.Errorf("err = %v, want to wrap ErrTransformOutOfDomain", err)
	}
}
