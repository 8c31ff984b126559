package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/terralab/strata/internal/domain"
)

// JSONVisibilityStore persists the visibility document in a single JSON
// file. Saves write the whole document through a temp file plus rename
// so a crash mid-write leaves the previous version intact.
type JSONVisibilityStore struct {
	path string
}

// NewJSONVisibilityStore creates a JSON-backed visibility store.
func NewJSONVisibilityStore(path string) *JSONVisibilityStore {
	return &JSONVisibilityStore{path: path}
}

// Load reads the document from disk or returns an empty document when
// the file does not exist yet.
func (s *JSONVisibilityStore) Load() (domain.VisibilityDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.NewVisibilityDocument(), nil
		}
		return domain.VisibilityDocument{}, err
	}

	var doc domain.VisibilityDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.VisibilityDocument{}, fmt.Errorf("decoding visibility document: %w", err)
	}
	if doc.Layers == nil {
		doc.Layers = make(map[string]domain.VisibilityState)
	}
	if doc.Version == 0 {
		doc.Version = domain.VisibilityDocumentVersion
	}

	return doc, nil
}

// Save writes the document as indented JSON and creates parent
// directories.
func (s *JSONVisibilityStore) Save(doc domain.VisibilityDocument) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
