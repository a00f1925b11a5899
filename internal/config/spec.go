// Package config loads and checks the build spec: the list of instances to
// generate and how their files are published.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	"github.com/hse-launcher/instance-builder/internal/config/validate"
	"github.com/hse-launcher/instance-builder/internal/metadata"
)

// DefaultLoader is the loader used when a version does not name one.
const DefaultLoader = "vanilla"

// ErrInvalidSpec wraps every problem found in a build spec.
var ErrInvalidSpec = errors.New("invalid build spec")

// Version is one instance to generate.
type Version struct {
	Name               string                `json:"name"`
	MinecraftVersion   string                `json:"minecraft_version"`
	LoaderName         string                `json:"loader_name,omitempty"`
	LoaderVersion      string                `json:"loader_version,omitempty"`
	Include            []string              `json:"include,omitempty"`
	IncludeNoOverwrite []string              `json:"include_no_overwrite,omitempty"`
	IncludeFrom        string                `json:"include_from,omitempty"`
	AuthBackend        *metadata.AuthBackend `json:"auth_backend,omitempty"`
	RecommendedXmx     string                `json:"recommended_xmx,omitempty"`
	ExecBefore         string                `json:"exec_before,omitempty"`
	ExecAfter          string                `json:"exec_after,omitempty"`
}

// Loader returns the loader name, defaulting to vanilla.
func (v Version) Loader() string {
	if v.LoaderName == "" {
		return DefaultLoader
	}
	return v.LoaderName
}

// Spec is a parsed build spec. It is not modified after loading.
type Spec struct {
	DownloadServerBase  string    `json:"download_server_base"`
	ResourcesURLBase    string    `json:"resources_url_base,omitempty"`
	ReplaceDownloadURLs bool      `json:"replace_download_urls,omitempty"`
	Versions            []Version `json:"versions"`
	ExecBeforeAll       string    `json:"exec_before_all,omitempty"`
	ExecAfterAll        string    `json:"exec_after_all,omitempty"`
}

// LoadSpec reads a build spec in JSON or YAML. Relative include_from paths
// are resolved against the directory of the build spec file.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read build spec: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	spec, err := parseSpec(data, filepath.Dir(absPath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

func parseSpec(data []byte, baseDir string) (*Spec, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if err := validate.ValidateSpecJSON(jsonData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}

	var spec Spec
	if err := json.Unmarshal(jsonData, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	seen := make(map[string]bool, len(spec.Versions))
	for i := range spec.Versions {
		v := &spec.Versions[i]
		if seen[v.Name] {
			return nil, fmt.Errorf("%w: duplicate version name %q", ErrInvalidSpec, v.Name)
		}
		seen[v.Name] = true

		if v.AuthBackend != nil {
			if err := v.AuthBackend.Validate(); err != nil {
				return nil, fmt.Errorf("%w: version %s: %v", ErrInvalidSpec, v.Name, err)
			}
		}
		if v.IncludeFrom != "" && !filepath.IsAbs(v.IncludeFrom) && baseDir != "" {
			v.IncludeFrom = filepath.Join(baseDir, v.IncludeFrom)
		}
	}
	return &spec, nil
}
