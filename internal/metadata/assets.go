package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/hse-launcher/instance-builder/internal/paths"
)

type AssetObject struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// AssetsIndex is the asset index file referenced by VersionMetadata.AssetIndex.
type AssetsIndex struct {
	Objects        map[string]AssetObject `json:"objects"`
	MapToResources bool                   `json:"map_to_resources,omitempty"`
	Virtual        bool                   `json:"virtual,omitempty"`
}

// LoadAssetsIndex reads the asset index stored at path.
func LoadAssetsIndex(path string) (*AssetsIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset index: %w", err)
	}
	var idx AssetsIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse asset index %s: %w", path, err)
	}
	return &idx, nil
}

// UniqueObjects returns the index objects deduplicated by hash, ordered by hash.
func (a *AssetsIndex) UniqueObjects() []AssetObject {
	seen := make(map[string]bool, len(a.Objects))
	objects := make([]AssetObject, 0, len(a.Objects))
	for _, obj := range a.Objects {
		if seen[obj.Hash] {
			continue
		}
		seen[obj.Hash] = true
		objects = append(objects, obj)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Hash < objects[j].Hash })
	return objects
}

// ObjectPaths lists the on-disk path of every unique object under assetsDir.
func (a *AssetsIndex) ObjectPaths(assetsDir string) []string {
	objects := a.UniqueObjects()
	out := make([]string, len(objects))
	for i, obj := range objects {
		out[i] = paths.AssetObjectPath(assetsDir, obj.Hash)
	}
	return out
}
