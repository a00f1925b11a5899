package mapping

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/hse-launcher/instance-builder/internal/progress"
	"github.com/hse-launcher/instance-builder/internal/runner"
	"github.com/hse-launcher/instance-builder/internal/utils/file"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
)

// Syncer copies a Mapping into place.
type Syncer struct {
	Fs      afero.Fs
	Workers int
}

// NewSyncer returns a Syncer on the real filesystem.
func NewSyncer(workers int) *Syncer {
	return &Syncer{Fs: afero.NewOsFs(), Workers: workers}
}

// Sync copies every source of m over its destination. Files are copied
// whole, whether or not the destination already matches.
func (s *Syncer) Sync(ctx context.Context, m *Mapping, bar progress.ProgressBar) error {
	if bar == nil {
		bar = progress.NoProgressBar{}
	}
	fs := s.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	dests := m.Destinations()
	tasks := make([]func(context.Context) error, len(dests))
	for i, dest := range dests {
		src, _ := m.Source(dest)
		tasks[i] = func(context.Context) error {
			return file.CopyFile(fs, src, dest)
		}
	}

	bar.Reset()
	bar.SetUnit(progress.UnitFiles)
	bar.SetMessage("Copying files")
	logger.Logger().Infof("Copying %d files to output directory", len(dests))

	if err := runner.RunFuncs(ctx, tasks, bar, s.Workers); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}
