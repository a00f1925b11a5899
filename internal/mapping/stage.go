package mapping

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/hse-launcher/instance-builder/internal/metadata"
	"github.com/hse-launcher/instance-builder/internal/paths"
	"github.com/hse-launcher/instance-builder/internal/progress"
	"github.com/hse-launcher/instance-builder/internal/runner"
	"github.com/hse-launcher/instance-builder/internal/utils/file"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
)

// ErrIntegrity is returned when a staged file does not match the hash in its metadata.
var ErrIntegrity = errors.New("staged file does not match metadata")

// StageResult lists the work-tree files a version metadata document references.
type StageResult struct {
	PathsToCopy    []string
	AssetIndexPath string // empty when the document has no asset index
}

type stagedFile struct {
	path string
	sha1 string
}

// StageVersion collects every file md references inside workDir and checks
// each one against the hash recorded in md.
func StageVersion(ctx context.Context, md *metadata.VersionMetadata, workDir string, bar progress.ProgressBar, workers int) (*StageResult, error) {
	files, assetIndexPath, err := referencedFiles(md, workDir)
	if err != nil {
		return nil, err
	}

	if bar == nil {
		bar = progress.NoProgressBar{}
	}
	bar.Reset()
	bar.SetUnit(progress.UnitFiles)
	bar.SetMessage(fmt.Sprintf("Checking %s", md.ID))

	tasks := make([]runner.Task[string], len(files))
	for i, f := range files {
		tasks[i] = func(context.Context) (string, error) {
			return f.path, verify(f)
		}
	}
	staged, err := runner.Run(ctx, tasks, bar, int64(len(tasks)), workers)
	if err != nil {
		return nil, fmt.Errorf("staging %s: %w", md.ID, err)
	}

	logger.Logger().Debugf("Staged %d files for %s", len(staged), md.ID)
	return &StageResult{PathsToCopy: staged, AssetIndexPath: assetIndexPath}, nil
}

func verify(f stagedFile) error {
	if f.sha1 == "" {
		if _, err := os.Stat(f.path); err != nil {
			return err
		}
		return nil
	}
	sum, err := file.HashFile(f.path)
	if err != nil {
		return err
	}
	if sum != f.sha1 {
		return fmt.Errorf("%s: expected sha1 %s, got %s: %w", f.path, f.sha1, sum, ErrIntegrity)
	}
	return nil
}

func referencedFiles(md *metadata.VersionMetadata, workDir string) ([]stagedFile, string, error) {
	var files []stagedFile
	seen := make(map[string]bool)
	add := func(path, sha1 string) {
		if seen[path] {
			return
		}
		seen[path] = true
		files = append(files, stagedFile{path: path, sha1: sha1})
	}

	if md.Downloads != nil && md.Downloads.Client != nil {
		add(paths.ClientJarPath(workDir, md.ID), md.Downloads.Client.SHA1)
	}

	libsDir := paths.LibrariesDir(workDir)
	for i := range md.Libraries {
		lib := &md.Libraries[i]
		switch {
		case lib.Downloads != nil:
			// Artifacts without a URL are produced locally and travel as extra libs.
			if a := lib.Downloads.Artifact; a != nil && a.URL != "" {
				p, err := lib.Path(libsDir)
				if err != nil {
					return nil, "", fmt.Errorf("library %s: %w", lib.Name, err)
				}
				add(p, a.SHA1)
			}
			for _, name := range sortedKeys(lib.Downloads.Classifiers) {
				d := lib.Downloads.Classifiers[name]
				p, err := lib.NativesPath(name, d, libsDir)
				if err != nil {
					return nil, "", fmt.Errorf("natives %s of %s: %w", name, lib.Name, err)
				}
				add(p, d.SHA1)
			}
		case lib.URL != nil:
			p, err := lib.Path(libsDir)
			if err != nil {
				return nil, "", fmt.Errorf("library %s: %w", lib.Name, err)
			}
			var sha1 string
			if lib.SHA1 != nil {
				sha1 = *lib.SHA1
			}
			add(p, sha1)
		}
	}

	var assetIndexPath string
	if md.AssetIndex != nil {
		assetsDir := paths.AssetsDir(workDir)
		assetIndexPath = paths.AssetIndexPath(assetsDir, md.AssetIndex.ID)
		idx, err := metadata.LoadAssetsIndex(assetIndexPath)
		if err != nil {
			return nil, "", err
		}
		for _, obj := range idx.UniqueObjects() {
			add(paths.AssetObjectPath(assetsDir, obj.Hash), obj.Hash)
		}
	}
	return files, assetIndexPath, nil
}

func sortedKeys(m map[string]metadata.Download) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
