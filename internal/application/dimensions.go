package application

import (
	"fmt"
	"image"
	"os"

	// Raster formats accepted by the ingest pipeline.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"github.com/terralab/strata/internal/domain"
)

// readImageDimensions reads pixel dimensions from the raster header
// without decoding the pixel data.
func readImageDimensions(path string) (domain.Dimensions, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Dimensions{}, fmt.Errorf("opening raster: %w", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return domain.Dimensions{}, fmt.Errorf("reading raster header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return domain.Dimensions{}, fmt.Errorf("raster %s has empty dimensions", format)
	}

	return domain.Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}
