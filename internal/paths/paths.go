// Package paths maps a root directory and artifact identifiers to the
// canonical on-disk layout shared by the work tree and the published output.
package paths

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned by URLFromPath for paths that do not live under root.
var ErrOutsideRoot = errors.New("path is outside root")

// ManifestName is the file name of the produced version manifest.
const ManifestName = "version_manifest.json"

func VersionsDir(root string) string {
	return filepath.Join(root, "versions")
}

// MetadataPath returns versions/<id>/<id>.json under versionsDir.
func MetadataPath(versionsDir, id string) string {
	return filepath.Join(versionsDir, id, id+".json")
}

// ClientJarPath returns the client jar of version id under root.
func ClientJarPath(root, id string) string {
	return filepath.Join(VersionsDir(root), id, id+".jar")
}

func LibrariesDir(root string) string {
	return filepath.Join(root, "libraries")
}

func AssetsDir(root string) string {
	return filepath.Join(root, "assets")
}

// AssetIndexPath returns indexes/<id>.json under assetsDir.
func AssetIndexPath(assetsDir, id string) string {
	return filepath.Join(assetsDir, "indexes", id+".json")
}

// AssetObjectPath returns the content-addressed location of an asset object:
// objects/<first two hex chars>/<hash>.
func AssetObjectPath(assetsDir, hash string) string {
	prefix := hash
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(assetsDir, "objects", prefix, hash)
}

func VersionsExtraDir(root string) string {
	return filepath.Join(root, "versions_extra")
}

// ExtraMetadataPath returns <name>.json under versionsExtraDir.
func ExtraMetadataPath(versionsExtraDir, name string) string {
	return filepath.Join(versionsExtraDir, name+".json")
}

// ReplacedMetadataDir holds patched metadata copies inside the work tree.
func ReplacedMetadataDir(workDir string) string {
	return filepath.Join(workDir, "replaced_metadata")
}

// InstanceDir is the per-version tree that include files are copied into.
func InstanceDir(root, name string) string {
	return filepath.Join(root, "instances", name)
}

func ManifestPath(root string) string {
	return filepath.Join(root, ManifestName)
}

// InstallerPath returns the cached installer jar for a forge-like loader.
func InstallerPath(root, loader, version string) string {
	return filepath.Join(root, "installers", fmt.Sprintf("%s-%s-installer.jar", loader, version))
}

// RelativeTo returns path relative to root, failing when path escapes root.
func RelativeTo(path, root string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("%s relative to %s: %w", path, root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s not under %s: %w", path, root, ErrOutsideRoot)
	}
	return rel, nil
}

// URLFromPath returns the mirror URL of a file: base joined with the
// slash-separated path of the file relative to root.
func URLFromPath(path, root, base string) (string, error) {
	rel, err := RelativeTo(path, root)
	if err != nil {
		return "", err
	}
	u, err := url.JoinPath(base, strings.Split(filepath.ToSlash(rel), "/")...)
	if err != nil {
		return "", fmt.Errorf("joining %s onto %s: %w", rel, base, err)
	}
	return u, nil
}
