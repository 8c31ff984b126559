package domain

import "time"

// LayerStatus represents the processing state of a layer.
type LayerStatus string

// Layer states. A layer moves from processing to exactly one of
// processed or error, and is never mutated again afterwards.
const (
	LayerProcessing LayerStatus = "processing"
	LayerProcessed  LayerStatus = "processed"
	LayerError      LayerStatus = "error"
)

// Dimensions holds raster pixel dimensions.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ArtifactSet references the rendered output files of a processed layer.
// Paths are relative to the layer working directory.
type ArtifactSet struct {
	Overlay    string `json:"overlay"`              // rendered overlay image (PNG)
	WorldFile  string `json:"world_file,omitempty"` // companion world file
	Projection string `json:"projection,omitempty"` // companion projection file
}

// IsEmpty reports whether no artifacts were produced.
func (a ArtifactSet) IsEmpty() bool {
	return a.Overlay == "" && a.WorldFile == "" && a.Projection == ""
}

// Layer is a processed geospatial raster available for display.
type Layer struct {
	ID             string      `json:"id"`
	Status         LayerStatus `json:"status"`
	SourceFileName string      `json:"source_file_name"`
	FileSizeBytes  int64       `json:"file_size_bytes"`
	UploadedAt     time.Time   `json:"uploaded_at"`

	// CoordinateSystem identifies the source CRS, e.g. "EPSG:32638".
	CoordinateSystem string `json:"coordinate_system,omitempty"`

	// Bounds are the WGS84 display bounds; SourceBounds retains the
	// untransformed extent in the source CRS. Both are present only
	// when Status is processed.
	Bounds       *LatLngBounds `json:"bounds,omitempty"`
	SourceBounds *Extent       `json:"source_bounds,omitempty"`

	// Approximate is true when the WGS84 bounds came from the fallback
	// transform path rather than a successful projection.
	Approximate bool `json:"approximate,omitempty"`

	Dimensions *Dimensions  `json:"dimensions,omitempty"`
	Artifacts  *ArtifactSet `json:"artifacts,omitempty"`

	// Error holds the failure cause; present only when Status is error.
	Error string `json:"error,omitempty"`
}

// IsTerminal reports whether the layer reached its final processing state.
func (l *Layer) IsTerminal() bool {
	return l.Status == LayerProcessed || l.Status == LayerError
}

// Visibility defaults applied the first time a layer is referenced.
const (
	DefaultOpacity = 1.0
	DefaultZIndex  = 1000
)

// VisibilityState holds per-layer display preferences. It is lifecycled
// independently of layer processing and survives restarts.
type VisibilityState struct {
	Visible     bool      `json:"visible"`
	Opacity     float64   `json:"opacity"`
	ZIndex      int       `json:"z_index"`
	LastUpdated time.Time `json:"last_updated"`
}

// DefaultVisibility returns the state used when a layer has no stored
// display preferences.
func DefaultVisibility() VisibilityState {
	return VisibilityState{
		Visible: true,
		Opacity: DefaultOpacity,
		ZIndex:  DefaultZIndex,
	}
}

// VisibilityUpdate is a partial update; nil fields are left unchanged.
type VisibilityUpdate struct {
	Visible *bool    `json:"visible,omitempty"`
	Opacity *float64 `json:"opacity,omitempty" validate:"omitempty,gte=0,lte=1"`
	ZIndex  *int     `json:"z_index,omitempty"`
}

// Apply merges the update into the state and stamps LastUpdated.
func (u VisibilityUpdate) Apply(s VisibilityState, now time.Time) VisibilityState {
	if u.Visible != nil {
		s.Visible = *u.Visible
	}
	if u.Opacity != nil {
		s.Opacity = *u.Opacity
	}
	if u.ZIndex != nil {
		s.ZIndex = *u.ZIndex
	}
	s.LastUpdated = now
	return s
}

// VisibilityDocument is the persisted form of all visibility state: a
// single JSON document rewritten whole on every save.
type VisibilityDocument struct {
	Layers       map[string]VisibilityState `json:"layers"`
	LastModified time.Time                  `json:"last_modified"`
	Version      int                        `json:"version"`
}

// VisibilityDocumentVersion is the current document schema version.
const VisibilityDocumentVersion = 1

// NewVisibilityDocument creates an empty document.
func NewVisibilityDocument() VisibilityDocument {
	return VisibilityDocument{
		Layers:  make(map[string]VisibilityState),
		Version: VisibilityDocumentVersion,
	}
}
