// Package archive opens uploaded raster archives, classifies their
// entries, and pairs each image with its georeferencing side-files.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/terralab/strata/internal/domain"
)

// Entry classification by lower-cased extension.
var (
	imageExtensions = map[string]bool{
		".tif": true, ".tiff": true, ".png": true, ".jpg": true, ".jpeg": true,
	}
	projectionExtensions = map[string]bool{
		".prj": true,
	}
	worldFileExtensions = map[string]bool{
		".tfw": true, ".twf": true, ".pgw": true, ".pgwx": true,
		".pnw": true, ".jpgw": true, ".jpegw": true,
	}
)

// zipMagic is the local-file-header signature of a ZIP archive.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// RasterBundle is one image entry paired with its matched side-files.
// Side-file text is empty when the archive carried no match for the
// image's base name; the ingest pipeline then assumes the deployment
// default coordinate system.
type RasterBundle struct {
	ImageName      string // entry file name, directory components stripped
	ImageData      []byte
	WorldFileName  string
	WorldFileText  string
	ProjectionName string
	ProjectionText string
}

// HasWorldFile reports whether a world file was matched.
func (b *RasterBundle) HasWorldFile() bool { return b.WorldFileName != "" }

// HasProjection reports whether a projection file was matched.
func (b *RasterBundle) HasProjection() bool { return b.ProjectionName != "" }

// BaseName returns the image name with its extension stripped; this is
// the matching key shared with the side-files.
func (b *RasterBundle) BaseName() string {
	return strings.TrimSuffix(b.ImageName, filepath.Ext(b.ImageName))
}

// WriteTo writes the bundle's image and side-files into dir, which
// becomes the layer's working directory. Returns the image path.
func (b *RasterBundle) WriteTo(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}

	imagePath := filepath.Join(dir, b.ImageName)
	if err := os.WriteFile(imagePath, b.ImageData, 0o640); err != nil {
		return "", err
	}
	if b.HasWorldFile() {
		if err := os.WriteFile(filepath.Join(dir, b.WorldFileName), []byte(b.WorldFileText), 0o640); err != nil {
			return "", err
		}
	}
	if b.HasProjection() {
		if err := os.WriteFile(filepath.Join(dir, b.ProjectionName), []byte(b.ProjectionText), 0o640); err != nil {
			return "", err
		}
	}
	return imagePath, nil
}

// Extract opens an uploaded archive and returns one bundle per image
// entry. A bare raster file (not a ZIP) yields a single bundle with no
// side-files. Fails with ErrNoRasterFound when the upload contains no
// image entry at all.
func Extract(fileName string, data []byte) ([]RasterBundle, error) {
	if bytes.HasPrefix(data, zipMagic) || strings.EqualFold(filepath.Ext(fileName), ".zip") {
		return extractZip(data)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if !imageExtensions[ext] {
		return nil, fmt.Errorf("%s: %w", fileName, domain.ErrNoRasterFound)
	}

	return []RasterBundle{{
		ImageName: filepath.Base(fileName),
		ImageData: data,
	}}, nil
}

// extractZip enumerates archive entries, classifies them, and pairs
// images with side-files sharing the same base name.
func extractZip(data []byte) ([]RasterBundle, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	type sideFile struct {
		name string
		text string
	}
	images := make(map[string]*RasterBundle) // base name -> bundle
	projections := make(map[string]sideFile) // base name -> .prj
	worldFiles := make(map[string]sideFile)  // base name -> world file
	var order []string

	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}

		name := filepath.Base(f.Name)
		ext := strings.ToLower(filepath.Ext(name))
		base := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))

		switch {
		case imageExtensions[ext]:
			content, err := readZipEntry(f)
			if err != nil {
				return nil, fmt.Errorf("reading entry %s: %w", f.Name, err)
			}
			if _, seen := images[base]; !seen {
				order = append(order, base)
			}
			images[base] = &RasterBundle{ImageName: name, ImageData: content}

		case projectionExtensions[ext]:
			content, err := readZipEntry(f)
			if err != nil {
				return nil, fmt.Errorf("reading entry %s: %w", f.Name, err)
			}
			projections[base] = sideFile{name: name, text: string(content)}

		case worldFileExtensions[ext]:
			content, err := readZipEntry(f)
			if err != nil {
				return nil, fmt.Errorf("reading entry %s: %w", f.Name, err)
			}
			worldFiles[base] = sideFile{name: name, text: string(content)}
		}
		// Anything else in the archive is ignored.
	}

	if len(images) == 0 {
		return nil, domain.ErrNoRasterFound
	}

	sort.Strings(order)
	bundles := make([]RasterBundle, 0, len(images))
	for _, base := range order {
		bundle := images[base]
		if sf, ok := projections[base]; ok {
			bundle.ProjectionName = sf.name
			bundle.ProjectionText = sf.text
		}
		if sf, ok := worldFiles[base]; ok {
			bundle.WorldFileName = sf.name
			bundle.WorldFileText = sf.text
		}
		bundles = append(bundles, *bundle)
	}

	return bundles, nil
}

// readZipEntry reads a single archive entry into memory.
func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}
