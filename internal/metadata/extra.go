package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hse-launcher/instance-builder/internal/paths"
	"github.com/hse-launcher/instance-builder/internal/utils/file"
)

type AuthType string

const (
	AuthMicrosoft AuthType = "microsoft"
	AuthElyBy     AuthType = "ely.by"
	AuthTelegram  AuthType = "telegram"
)

// AuthBackend selects how the launcher authenticates players of an instance.
type AuthBackend struct {
	Type         AuthType `json:"type"`
	ClientID     string   `json:"client_id,omitempty"`     // ely.by
	ClientSecret string   `json:"client_secret,omitempty"` // ely.by
	AuthBaseURL  string   `json:"auth_base_url,omitempty"` // telegram
}

// DefaultAuthBackend is used when a version does not choose one.
func DefaultAuthBackend() AuthBackend {
	return AuthBackend{Type: AuthMicrosoft}
}

// Validate checks that the fields required by the backend type are set.
func (a AuthBackend) Validate() error {
	switch a.Type {
	case AuthMicrosoft:
		return nil
	case AuthElyBy:
		if a.ClientID == "" || a.ClientSecret == "" {
			return errors.New("ely.by auth backend requires client_id and client_secret")
		}
		return nil
	case AuthTelegram:
		if a.AuthBaseURL == "" {
			return errors.New("telegram auth backend requires auth_base_url")
		}
		return nil
	default:
		return fmt.Errorf("unknown auth backend type %q", a.Type)
	}
}

// Object is a file the launcher must place in the instance directory.
type Object struct {
	Path string `json:"path"`
	SHA1 string `json:"sha1"`
	URL  string `json:"url"`
}

// ExtraVersionMetadata is the per-version document that sits next to the
// version metadata and describes everything launcher-specific.
type ExtraVersionMetadata struct {
	Include            []string    `json:"include"`
	IncludeNoOverwrite []string    `json:"include_no_overwrite"`
	Objects            []Object    `json:"objects"`
	ResourcesURLBase   string      `json:"resources_url_base,omitempty"`
	AuthBackend        AuthBackend `json:"auth_backend"`
	ExtraForgeLibs     []Object    `json:"extra_forge_libs"`
	RecommendedXmx     string      `json:"recommended_xmx,omitempty"`
}

// Save writes the document to <versionsExtraDir>/<name>.json and returns that path.
func (e *ExtraVersionMetadata) Save(versionsExtraDir, name string) (string, error) {
	for _, list := range []*[]string{&e.Include, &e.IncludeNoOverwrite} {
		if *list == nil {
			*list = []string{}
		}
	}
	for _, list := range []*[]Object{&e.Objects, &e.ExtraForgeLibs} {
		if *list == nil {
			*list = []Object{}
		}
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode extra metadata for %s: %w", name, err)
	}
	path := paths.ExtraMetadataPath(versionsExtraDir, name)
	if err := file.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to save extra metadata for %s: %w", name, err)
	}
	return path, nil
}

// LoadExtra reads an extra metadata document.
func LoadExtra(path string) (*ExtraVersionMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read extra metadata: %w", err)
	}
	var e ExtraVersionMetadata
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse extra metadata %s: %w", path, err)
	}
	return &e, nil
}
