// Package pkgfetcher downloads the artifacts a version needs into the work tree.
package pkgfetcher

import (
	"context"
	"fmt"
	"net/http"
	"path"

	"github.com/hse-launcher/instance-builder/internal/progress"
	"github.com/hse-launcher/instance-builder/internal/runner"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
	"github.com/hse-launcher/instance-builder/internal/utils/network"
)

// Artifact is one file to fetch.
type Artifact struct {
	URL  string
	Dest string
	SHA1 string // optional; files already on disk with this hash are skipped
}

// FetchPackages downloads artifacts using a pool of workers and a single
// progress bar tracking files completed vs total. Duplicate destinations are
// fetched once. The first failed download stops the batch.
func FetchPackages(ctx context.Context, client *http.Client, artifacts []Artifact, bar progress.ProgressBar, workers int) error {
	log := logger.Logger()
	if bar == nil {
		bar = progress.NoProgressBar{}
	}

	seen := make(map[string]bool, len(artifacts))
	var tasks []func(context.Context) error
	for _, a := range artifacts {
		if seen[a.Dest] {
			continue
		}
		seen[a.Dest] = true
		tasks = append(tasks, func(ctx context.Context) error {
			log.Debugf("downloading %s", path.Base(a.URL))
			if err := network.DownloadFile(ctx, client, a.URL, a.Dest, a.SHA1); err != nil {
				return fmt.Errorf("downloading %s: %w", a.URL, err)
			}
			return nil
		})
	}

	bar.Reset()
	bar.SetUnit(progress.UnitFiles)
	return runner.RunFuncs(ctx, tasks, bar, workers)
}
