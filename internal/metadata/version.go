// Package metadata holds the JSON documents the pipeline reads and writes:
// version metadata, asset indexes, version manifests and extra metadata.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hse-launcher/instance-builder/internal/paths"
	"github.com/hse-launcher/instance-builder/internal/utils/file"
)

// ErrInvalidMavenName is returned for library names that are not group:artifact:version coordinates.
var ErrInvalidMavenName = errors.New("invalid maven coordinate")

// Download describes one downloadable file. An empty URL marks a file with
// no upstream source, which must never be rewritten.
type Download struct {
	URL  string `json:"url"`
	SHA1 string `json:"sha1,omitempty"`
	Size int64  `json:"size,omitempty"`
	Path string `json:"path,omitempty"` // relative to the libraries dir
}

type Downloads struct {
	Client *Download                  `json:"client,omitempty"`
	Extra  map[string]json.RawMessage `json:"-"` // server, mappings, ...
}

func (d *Downloads) UnmarshalJSON(data []byte) error {
	type plain Downloads
	extra, err := decodeWithExtra(data, (*plain)(d), "client")
	d.Extra = extra
	return err
}

func (d Downloads) MarshalJSON() ([]byte, error) {
	type plain Downloads
	return encodeWithExtra(plain(d), d.Extra)
}

type AssetIndex struct {
	ID        string `json:"id"`
	SHA1      string `json:"sha1,omitempty"`
	Size      int64  `json:"size,omitempty"`
	TotalSize int64  `json:"totalSize,omitempty"`
	URL       string `json:"url"`
}

type LibraryDownloads struct {
	Artifact    *Download           `json:"artifact,omitempty"`
	Classifiers map[string]Download `json:"classifiers,omitempty"`
}

// Library is either structured (Downloads set) or legacy: a maven repository
// URL plus an optional SHA-1, with the file path derived from Name.
type Library struct {
	Name      string            `json:"name"`
	Downloads *LibraryDownloads `json:"downloads,omitempty"`
	Natives   map[string]string `json:"natives,omitempty"`
	URL       *string           `json:"url,omitempty"`
	SHA1      *string           `json:"sha1,omitempty"`

	Extra map[string]json.RawMessage `json:"-"` // rules, extract, ...
}

func (l *Library) UnmarshalJSON(data []byte) error {
	type plain Library
	extra, err := decodeWithExtra(data, (*plain)(l), "name", "downloads", "natives", "url", "sha1")
	l.Extra = extra
	return err
}

func (l Library) MarshalJSON() ([]byte, error) {
	type plain Library
	return encodeWithExtra(plain(l), l.Extra)
}

// IsLegacy reports whether the library only carries a bare URL.
func (l *Library) IsLegacy() bool {
	return l.Downloads == nil && l.URL != nil
}

// Path returns where the library artifact lives under librariesDir.
func (l *Library) Path(librariesDir string) (string, error) {
	if l.Downloads != nil && l.Downloads.Artifact != nil && l.Downloads.Artifact.Path != "" {
		return filepath.Join(librariesDir, filepath.FromSlash(l.Downloads.Artifact.Path)), nil
	}
	rel, err := MavenPath(l.Name, "")
	if err != nil {
		return "", err
	}
	return filepath.Join(librariesDir, filepath.FromSlash(rel)), nil
}

// NativesPath returns where the native artifact for classifier lives under librariesDir.
func (l *Library) NativesPath(classifier string, d Download, librariesDir string) (string, error) {
	if d.Path != "" {
		return filepath.Join(librariesDir, filepath.FromSlash(d.Path)), nil
	}
	rel, err := MavenPath(l.Name, classifier)
	if err != nil {
		return "", err
	}
	return filepath.Join(librariesDir, filepath.FromSlash(rel)), nil
}

// MavenPath converts group:artifact:version[:classifier][@ext] into the
// slash-separated repository path. A non-empty classifier overrides the one in name.
func MavenPath(name, classifier string) (string, error) {
	ext := "jar"
	if at := strings.LastIndex(name, "@"); at >= 0 {
		ext = name[at+1:]
		name = name[:at]
	}
	parts := strings.Split(name, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidMavenName)
	}
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("%q: %w", name, ErrInvalidMavenName)
		}
	}
	group, artifact, version := parts[0], parts[1], parts[2]
	if classifier == "" && len(parts) == 4 {
		classifier = parts[3]
	}

	fileName := artifact + "-" + version
	if classifier != "" {
		fileName += "-" + classifier
	}
	fileName += "." + ext

	return strings.Join([]string{strings.ReplaceAll(group, ".", "/"), artifact, version, fileName}, "/"), nil
}

// VersionMetadata is a version JSON document. Fields the pipeline does not
// touch are kept in Extra and written back as they were read.
type VersionMetadata struct {
	ID           string      `json:"id"`
	InheritsFrom string      `json:"inheritsFrom,omitempty"`
	Downloads    *Downloads  `json:"downloads,omitempty"`
	AssetIndex   *AssetIndex `json:"assetIndex,omitempty"`
	Libraries    []Library   `json:"libraries,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (m *VersionMetadata) UnmarshalJSON(data []byte) error {
	type plain VersionMetadata
	extra, err := decodeWithExtra(data, (*plain)(m), "id", "inheritsFrom", "downloads", "assetIndex", "libraries")
	m.Extra = extra
	return err
}

func (m VersionMetadata) MarshalJSON() ([]byte, error) {
	type plain VersionMetadata
	return encodeWithExtra(plain(m), m.Extra)
}

// Parse decodes a version metadata document.
func Parse(data []byte) (*VersionMetadata, error) {
	var m VersionMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse version metadata: %w", err)
	}
	if m.ID == "" {
		return nil, errors.New("version metadata has no id")
	}
	return &m, nil
}

// Load reads the version metadata document at path.
func Load(path string) (*VersionMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read version metadata: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Encode returns the indented JSON written by Save.
func (m *VersionMetadata) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Save writes the document to <versionsDir>/<id>/<id>.json and returns that path.
func (m *VersionMetadata) Save(versionsDir string) (string, error) {
	data, err := m.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", m.ID, err)
	}
	path := paths.MetadataPath(versionsDir, m.ID)
	if err := file.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", m.ID, err)
	}
	return path, nil
}
