package metadata

import (
	"encoding/json"
	"fmt"

	"github.com/hse-launcher/instance-builder/internal/utils/file"
)

// ParentVersion points at a metadata document a version inherits from.
type ParentVersion struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	SHA1 string `json:"sha1"`
}

// VersionInfo is one manifest entry. Upstream manifests fill the first
// group of fields; produced manifests also carry the extra metadata
// location and the inheritance chain.
type VersionInfo struct {
	ID              string `json:"id"`
	Type            string `json:"type,omitempty"`
	URL             string `json:"url"`
	SHA1            string `json:"sha1"`
	Time            string `json:"time,omitempty"`
	ReleaseTime     string `json:"releaseTime,omitempty"`
	ComplianceLevel int    `json:"complianceLevel,omitempty"`

	ExtraMetadataURL  string          `json:"extra_metadata_url,omitempty"`
	ExtraMetadataSHA1 string          `json:"extra_metadata_sha1,omitempty"`
	InheritsFrom      []ParentVersion `json:"inherits_from,omitempty"`
}

type Latest struct {
	Release  string `json:"release"`
	Snapshot string `json:"snapshot"`
}

type VersionManifest struct {
	Latest   *Latest       `json:"latest,omitempty"`
	Versions []VersionInfo `json:"versions"`
}

// Find returns the entry with the given id.
func (m *VersionManifest) Find(id string) (*VersionInfo, bool) {
	for i := range m.Versions {
		if m.Versions[i].ID == id {
			return &m.Versions[i], true
		}
	}
	return nil, false
}

// SaveToFile writes the manifest as indented JSON.
func (m *VersionManifest) SaveToFile(path string) error {
	if m.Versions == nil {
		m.Versions = []VersionInfo{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode version manifest: %w", err)
	}
	if err := file.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to save version manifest: %w", err)
	}
	return nil
}
