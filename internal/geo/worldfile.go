package geo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/terralab/strata/internal/domain"
)

// WorldFileLines is the required line count of a world file:
// pixel size x, rotation y, rotation x, pixel size y, origin x, origin y.
const WorldFileLines = 6

// ParseWorldFile parses a six-line world-file blob into the affine
// parameters of a GeoreferenceInfo. Any other line count, or a
// non-numeric line, fails with ErrInvalidWorldFile and produces no
// partial result.
func ParseWorldFile(text string) (domain.GeoreferenceInfo, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if trimmed == "" {
		return domain.GeoreferenceInfo{}, fmt.Errorf("empty input: %w", domain.ErrInvalidWorldFile)
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) != WorldFileLines {
		return domain.GeoreferenceInfo{}, fmt.Errorf("expected %d lines, got %d: %w",
			WorldFileLines, len(lines), domain.ErrInvalidWorldFile)
	}

	vals := make([]float64, WorldFileLines)
	for i, line := range lines {
		v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if err != nil {
			return domain.GeoreferenceInfo{}, fmt.Errorf("line %d %q: %w", i+1, strings.TrimSpace(line), domain.ErrInvalidWorldFile)
		}
		vals[i] = v
	}

	return domain.GeoreferenceInfo{
		PixelSizeX: vals[0],
		RotationY:  vals[1],
		RotationX:  vals[2],
		PixelSizeY: vals[3],
		OriginX:    vals[4],
		OriginY:    vals[5],
	}, nil
}

// ProjectionInfo is the result of parsing a projection-definition blob.
type ProjectionInfo struct {
	CRSIdentifier  string // e.g. "EPSG:32638"; empty when unresolved
	ProjectionName string // human-readable name; "Unknown" when unresolved
	IsUTMZone38N   bool
}

// authorityPattern matches WKT authority clauses such as
// AUTHORITY["EPSG","32638"]. WKT nests authority clauses per node; the
// last one in the text identifies the whole CRS.
var authorityPattern = regexp.MustCompile(`AUTHORITY\s*\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)

// ParseProjectionFile resolves a WKT-like projection text to a CRS
// identifier. Unrecognized text is not an error: callers receive an empty
// identifier and must treat the source as "unknown, assume default".
func ParseProjectionFile(text string) ProjectionInfo {
	normalized := strings.ToUpper(strings.TrimSpace(text))
	if normalized == "" {
		return ProjectionInfo{ProjectionName: "Unknown"}
	}

	if matches := authorityPattern.FindAllStringSubmatch(normalized, -1); len(matches) > 0 {
		code := matches[len(matches)-1][1]
		info := ProjectionInfo{
			CRSIdentifier:  "EPSG:" + code,
			ProjectionName: projectionNameFor(code, normalized),
		}
		info.IsUTMZone38N = code == strconv.Itoa(domain.SRIDUTMZone38N)
		return info
	}

	// No authority clause; fall back to known projection name substrings.
	switch {
	case strings.Contains(normalized, "UTM ZONE 38N"),
		strings.Contains(normalized, "UTM_ZONE_38N"):
		return ProjectionInfo{
			CRSIdentifier:  fmt.Sprintf("EPSG:%d", domain.SRIDUTMZone38N),
			ProjectionName: "WGS 84 / UTM zone 38N",
			IsUTMZone38N:   true,
		}
	case strings.Contains(normalized, "WGS_1984"),
		strings.Contains(normalized, "WGS 1984"),
		strings.Contains(normalized, "GCS_WGS"):
		return ProjectionInfo{
			CRSIdentifier:  fmt.Sprintf("EPSG:%d", domain.SRIDWGS84),
			ProjectionName: "WGS 84",
		}
	}

	return ProjectionInfo{ProjectionName: "Unknown"}
}

// projectionNameFor returns a display name for a resolved EPSG code,
// preferring the WKT's own leading name when present.
func projectionNameFor(code, normalized string) string {
	switch code {
	case strconv.Itoa(domain.SRIDUTMZone38N):
		return "WGS 84 / UTM zone 38N"
	case strconv.Itoa(domain.SRIDWGS84):
		return "WGS 84"
	}
	if name := wktLeadingName(normalized); name != "" {
		return name
	}
	return "EPSG:" + code
}

// wktLeadingName extracts the quoted name of the outermost WKT node,
// e.g. PROJCS["WGS 84 / UTM zone 38N", ...] -> WGS 84 / UTM zone 38N.
func wktLeadingName(text string) string {
	start := strings.Index(text, `["`)
	if start < 0 {
		return ""
	}
	rest := text[start+2:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// NewGeoreference combines a world-file blob and a projection-file blob
// into a complete GeoreferenceInfo. The projection text may be empty;
// the CRS identifier is then left unresolved for the caller to default.
func NewGeoreference(worldFileText, projectionText string) (domain.GeoreferenceInfo, error) {
	georef, err := ParseWorldFile(worldFileText)
	if err != nil {
		return domain.GeoreferenceInfo{}, err
	}

	proj := ParseProjectionFile(projectionText)
	georef.CRSIdentifier = proj.CRSIdentifier
	georef.ProjectionName = proj.ProjectionName
	georef.IsUTMZone38N = proj.IsUTMZone38N
	return georef, nil
}
