// Package patch rewrites the download URLs of version metadata so that they
// point at the mirror that will serve the work tree.
package patch

import (
	"encoding/json"
	"fmt"

	"github.com/hse-launcher/instance-builder/internal/metadata"
	"github.com/hse-launcher/instance-builder/internal/paths"
	"github.com/hse-launcher/instance-builder/internal/utils/file"
)

// hashFile is swapped in tests.
var hashFile = file.HashFile

// ReplaceDownloadURLs points every download in md at the file staged under
// workDir, as served from downloadServerBase. Legacy libraries are converted
// to the structured shape. URLs are derived from the local layout only.
//
// md is left untouched when any URL cannot be derived.
func ReplaceDownloadURLs(md *metadata.VersionMetadata, downloadServerBase, workDir string) error {
	p := patcher{base: downloadServerBase, workDir: workDir, libsDir: paths.LibrariesDir(workDir)}

	// md is only replaced once every rule succeeded.
	patched, err := cloneMetadata(md)
	if err != nil {
		return err
	}

	if err := p.client(patched); err != nil {
		return err
	}
	if err := p.assetIndex(patched); err != nil {
		return err
	}
	for i := range patched.Libraries {
		if err := p.library(&patched.Libraries[i]); err != nil {
			return fmt.Errorf("library %s: %w", patched.Libraries[i].Name, err)
		}
	}
	for i := range patched.Libraries {
		if err := p.natives(&patched.Libraries[i]); err != nil {
			return fmt.Errorf("natives of %s: %w", patched.Libraries[i].Name, err)
		}
	}

	*md = *patched
	return nil
}

type patcher struct {
	base    string
	workDir string
	libsDir string
}

func (p patcher) url(path string) (string, error) {
	return paths.URLFromPath(path, p.workDir, p.base)
}

func (p patcher) client(md *metadata.VersionMetadata) error {
	if md.Downloads == nil || md.Downloads.Client == nil {
		return nil
	}
	u, err := p.url(paths.ClientJarPath(p.workDir, md.ID))
	if err != nil {
		return fmt.Errorf("client jar of %s: %w", md.ID, err)
	}
	md.Downloads.Client.URL = u
	return nil
}

func (p patcher) assetIndex(md *metadata.VersionMetadata) error {
	if md.AssetIndex == nil {
		return nil
	}
	u, err := p.url(paths.AssetIndexPath(paths.AssetsDir(p.workDir), md.AssetIndex.ID))
	if err != nil {
		return fmt.Errorf("asset index %s: %w", md.AssetIndex.ID, err)
	}
	md.AssetIndex.URL = u
	return nil
}

func (p patcher) library(lib *metadata.Library) error {
	switch {
	case lib.Downloads != nil:
		artifact := lib.Downloads.Artifact
		// An empty URL has no upstream to mirror; the launcher gets the file another way.
		if artifact == nil || artifact.URL == "" {
			return nil
		}
		path, err := lib.Path(p.libsDir)
		if err != nil {
			return err
		}
		if artifact.URL, err = p.url(path); err != nil {
			return err
		}
		return nil

	case lib.URL != nil:
		path, err := lib.Path(p.libsDir)
		if err != nil {
			return err
		}
		var sha1 string
		if lib.SHA1 != nil && *lib.SHA1 != "" {
			sha1 = *lib.SHA1
		} else if sha1, err = hashFile(path); err != nil {
			return fmt.Errorf("hashing %s: %w", path, err)
		}
		u, err := p.url(path)
		if err != nil {
			return err
		}
		lib.URL = nil
		lib.SHA1 = nil
		lib.Downloads = &metadata.LibraryDownloads{
			Artifact: &metadata.Download{URL: u, SHA1: sha1},
		}
		return nil
	}
	return nil
}

// natives computes every classifier URL from the unmodified map before
// assigning any of them.
func (p patcher) natives(lib *metadata.Library) error {
	if lib.Downloads == nil || len(lib.Downloads.Classifiers) == 0 {
		return nil
	}

	snapshot := make(map[string]metadata.Download, len(lib.Downloads.Classifiers))
	for name, d := range lib.Downloads.Classifiers {
		snapshot[name] = d
	}

	urls := make(map[string]string, len(snapshot))
	for name, d := range snapshot {
		path, err := lib.NativesPath(name, d, p.libsDir)
		if err != nil {
			return err
		}
		if urls[name], err = p.url(path); err != nil {
			return err
		}
	}

	for name, u := range urls {
		d := lib.Downloads.Classifiers[name]
		d.URL = u
		lib.Downloads.Classifiers[name] = d
	}
	return nil
}

func cloneMetadata(md *metadata.VersionMetadata) (*metadata.VersionMetadata, error) {
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("copying %s: %w", md.ID, err)
	}
	var out metadata.VersionMetadata
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("copying %s: %w", md.ID, err)
	}
	return &out, nil
}
