package output

import (
	"context"

	"github.com/terralab/strata/internal/domain"
)

// ConvertInput describes one raster conversion request. The input path
// is inside the layer's working directory; outputs are written next to it.
type ConvertInput struct {
	LayerID    string
	InputPath  string // source raster on disk
	OutputDir  string // layer working directory
	Georef     domain.GeoreferenceInfo
	SourceSRID int
}

// ConvertResult describes the artifacts produced by a conversion.
type ConvertResult struct {
	Artifacts  domain.ArtifactSet
	Dimensions domain.Dimensions
}

// RasterConverter is the boundary to the pixel-level raster processing
// routine. The ingestion pipeline decides what to feed it and how to
// interpret its output; the converter owns the pixel math.
//
// Implementations must observe ctx cancellation: a cancelled job stops
// at the converter boundary rather than being killed mid-write.
type RasterConverter interface {
	Convert(ctx context.Context, in ConvertInput) (ConvertResult, error)
}
