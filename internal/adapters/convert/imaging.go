// Package convert provides RasterConverter adapters: a built-in pure-Go
// pipeline and a wrapper around an external conversion tool.
package convert

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"

	"github.com/terralab/strata/internal/domain"
	"github.com/terralab/strata/internal/ports/output"
)

// Artifact file names inside the layer working directory.
const (
	OverlayName    = "overlay.png"
	WorldFileName  = "overlay.pgw"
	ProjectionName = "overlay.prj"
)

// DefaultMaxDimension caps overlay width/height; larger rasters are
// downscaled to keep browser overlays manageable.
const DefaultMaxDimension = 4096

// ImagingConverter implements RasterConverter with an in-process
// pipeline: decode, optional downscale, PNG overlay plus regenerated
// side files.
type ImagingConverter struct {
	maxDimension int
	logger       *slog.Logger
}

// NewImagingConverter creates the built-in converter.
func NewImagingConverter(maxDimension int, logger *slog.Logger) *ImagingConverter {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return &ImagingConverter{maxDimension: maxDimension, logger: logger}
}

// Convert implements output.RasterConverter.
func (c *ImagingConverter) Convert(ctx context.Context, in output.ConvertInput) (output.ConvertResult, error) {
	img, err := c.decode(in.InputPath)
	if err != nil {
		return output.ConvertResult{}, fmt.Errorf("decoding raster: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return output.ConvertResult{}, err
	}

	origBounds := img.Bounds()
	origWidth := origBounds.Dx()
	origHeight := origBounds.Dy()

	scale := 1.0
	if origWidth > c.maxDimension || origHeight > c.maxDimension {
		img = imaging.Fit(img, c.maxDimension, c.maxDimension, imaging.Lanczos)
		scale = float64(origWidth) / float64(img.Bounds().Dx())
		c.logger.Debug("raster downscaled",
			"layer", in.LayerID,
			"from", fmt.Sprintf("%dx%d", origWidth, origHeight),
			"to", fmt.Sprintf("%dx%d", img.Bounds().Dx(), img.Bounds().Dy()),
		)
	}
	if err := ctx.Err(); err != nil {
		return output.ConvertResult{}, err
	}

	overlayPath := filepath.Join(in.OutputDir, OverlayName)
	if err := imaging.Save(img, overlayPath); err != nil {
		return output.ConvertResult{}, fmt.Errorf("writing overlay: %w", err)
	}

	artifacts := domain.ArtifactSet{Overlay: OverlayName}

	// The world file is regenerated for the overlay: downscaling grows
	// the effective pixel size by the same factor.
	if in.Georef.PixelSizeX != 0 || in.Georef.PixelSizeY != 0 {
		if err := c.writeWorldFile(in.OutputDir, in.Georef, scale); err != nil {
			return output.ConvertResult{}, fmt.Errorf("writing world file: %w", err)
		}
		artifacts.WorldFile = WorldFileName
	}

	if wkt := projectionWKT(in.SourceSRID); wkt != "" {
		if err := os.WriteFile(filepath.Join(in.OutputDir, ProjectionName), []byte(wkt), 0o640); err != nil {
			return output.ConvertResult{}, fmt.Errorf("writing projection file: %w", err)
		}
		artifacts.Projection = ProjectionName
	}

	return output.ConvertResult{
		Artifacts:  artifacts,
		Dimensions: domain.Dimensions{Width: origWidth, Height: origHeight},
	}, nil
}

// decode opens the raster. TIFF goes through x/image/tiff directly;
// everything else through imaging's format registry.
func (c *ImagingConverter) decode(path string) (image.Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return tiff.Decode(f)
	default:
		return imaging.Open(path)
	}
}

func (c *ImagingConverter) writeWorldFile(dir string, g domain.GeoreferenceInfo, scale float64) error {
	lines := []float64{
		g.PixelSizeX * scale,
		g.RotationY * scale,
		g.RotationX * scale,
		g.PixelSizeY * scale,
		g.OriginX,
		g.OriginY,
	}

	var b strings.Builder
	for _, v := range lines {
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		b.WriteByte('\n')
	}
	return os.WriteFile(filepath.Join(dir, WorldFileName), []byte(b.String()), 0o640)
}

// projectionWKT returns the projection file content for the SRIDs the
// pipeline understands.
func projectionWKT(srid int) string {
	switch srid {
	case domain.SRIDUTMZone38N:
		return `PROJCS["WGS 84 / UTM zone 38N",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",45],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",500000],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","32638"]]`
	case domain.SRIDWGS84:
		return `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433],AUTHORITY["EPSG","4326"]]`
	default:
		return ""
	}
}
