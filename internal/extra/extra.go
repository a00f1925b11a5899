// Package extra builds the per-version extra metadata: files copied into the
// instance directory, libraries shipped without an upstream URL, the auth
// backend and JVM defaults.
package extra

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/hse-launcher/instance-builder/internal/metadata"
	"github.com/hse-launcher/instance-builder/internal/paths"
	"github.com/hse-launcher/instance-builder/internal/progress"
	"github.com/hse-launcher/instance-builder/internal/runner"
	"github.com/hse-launcher/instance-builder/internal/utils/file"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
)

// ErrMissingInclude is returned for include entries that do not exist under include_from.
var ErrMissingInclude = errors.New("include entry not found")

// IncludeConfig lists the instance files taken from IncludeFrom.
type IncludeConfig struct {
	Include            []string // overwritten on every launch
	IncludeNoOverwrite []string // only created when missing
	IncludeFrom        string
}

// Generator assembles and saves the extra metadata of one version.
type Generator struct {
	Name               string
	Include            *IncludeConfig
	ExtraLibsPaths     []string
	AuthBackend        *metadata.AuthBackend
	RecommendedXmx     string
	DownloadServerBase string
	ResourcesURLBase   string

	Fs afero.Fs // defaults to the OS filesystem
}

type Result struct {
	// IncludeMapping maps a path relative to the instance dir to its source.
	IncludeMapping map[string]string
	Path           string // the saved extra metadata file
}

type hashedFile struct {
	rel  string // slash separated
	src  string
	sha1 string
}

func (g *Generator) fs() afero.Fs {
	if g.Fs == nil {
		return afero.NewOsFs()
	}
	return g.Fs
}

// Generate resolves includes, hashes every shipped file and writes
// versions_extra/<name>.json under workDir.
func (g *Generator) Generate(ctx context.Context, workDir string, bar progress.ProgressBar, workers int) (*Result, error) {
	log := logger.Logger()
	if bar == nil {
		bar = progress.NoProgressBar{}
	}

	extra := metadata.ExtraVersionMetadata{
		ResourcesURLBase: g.ResourcesURLBase,
		AuthBackend:      metadata.DefaultAuthBackend(),
		RecommendedXmx:   g.RecommendedXmx,
	}
	if g.AuthBackend != nil {
		extra.AuthBackend = *g.AuthBackend
	}
	if err := extra.AuthBackend.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", g.Name, err)
	}

	var includes []hashedFile
	if g.Include != nil {
		extra.Include = g.Include.Include
		extra.IncludeNoOverwrite = g.Include.IncludeNoOverwrite
		files, err := g.collectIncludes()
		if err != nil {
			return nil, err
		}
		includes = files
	}

	var libs []hashedFile
	libsDir := paths.LibrariesDir(workDir)
	for _, p := range g.ExtraLibsPaths {
		rel, err := paths.RelativeTo(p, libsDir)
		if err != nil {
			return nil, fmt.Errorf("extra library: %w", err)
		}
		libs = append(libs, hashedFile{rel: filepath.ToSlash(rel), src: p})
	}

	all := append(append([]hashedFile{}, includes...), libs...)
	bar.Reset()
	bar.SetUnit(progress.UnitFiles)
	bar.SetMessage(fmt.Sprintf("Hashing files of %s", g.Name))
	if err := g.hashAll(ctx, all, bar, workers); err != nil {
		return nil, err
	}
	includes, libs = all[:len(includes)], all[len(includes):]

	mapping := make(map[string]string, len(includes))
	for _, f := range includes {
		u, err := url.JoinPath(g.DownloadServerBase, append([]string{"instances", g.Name}, strings.Split(f.rel, "/")...)...)
		if err != nil {
			return nil, err
		}
		extra.Objects = append(extra.Objects, metadata.Object{Path: f.rel, SHA1: f.sha1, URL: u})
		mapping[filepath.FromSlash(f.rel)] = f.src
	}
	for _, f := range libs {
		u, err := paths.URLFromPath(f.src, workDir, g.DownloadServerBase)
		if err != nil {
			return nil, err
		}
		extra.ExtraForgeLibs = append(extra.ExtraForgeLibs, metadata.Object{Path: f.rel, SHA1: f.sha1, URL: u})
	}

	path, err := extra.Save(paths.VersionsExtraDir(workDir), g.Name)
	if err != nil {
		return nil, err
	}
	log.Infof("Extra metadata for %s: %d objects, %d extra libraries", g.Name, len(extra.Objects), len(extra.ExtraForgeLibs))
	return &Result{IncludeMapping: mapping, Path: path}, nil
}

// collectIncludes expands every include entry into the files below it,
// ordered by relative path.
func (g *Generator) collectIncludes() ([]hashedFile, error) {
	fs := g.fs()
	root := g.Include.IncludeFrom
	seen := make(map[string]bool)
	var out []hashedFile

	entries := append(append([]string{}, g.Include.Include...), g.Include.IncludeNoOverwrite...)
	for _, entry := range entries {
		src := filepath.Join(root, filepath.FromSlash(entry))
		if _, err := paths.RelativeTo(src, root); err != nil {
			return nil, fmt.Errorf("include %s: %w", entry, err)
		}
		info, err := fs.Stat(src)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("include %s in %s: %w", entry, root, ErrMissingInclude)
			}
			return nil, err
		}

		var files []string
		if info.IsDir() {
			err = afero.Walk(fs, src, func(p string, fi os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !fi.IsDir() {
					files = append(files, p)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("include %s: %w", entry, err)
			}
		} else {
			files = []string{src}
		}

		for _, p := range files {
			rel, err := paths.RelativeTo(p, root)
			if err != nil {
				return nil, err
			}
			rel = filepath.ToSlash(rel)
			if seen[rel] {
				continue
			}
			seen[rel] = true
			out = append(out, hashedFile{rel: rel, src: p})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].rel < out[j].rel })
	return out, nil
}

func (g *Generator) hashAll(ctx context.Context, files []hashedFile, bar progress.ProgressBar, workers int) error {
	fs := g.fs()
	tasks := make([]runner.Task[string], len(files))
	for i, f := range files {
		tasks[i] = func(context.Context) (string, error) {
			return file.HashFileFs(fs, f.src)
		}
	}
	sums, err := runner.Run(ctx, tasks, bar, int64(len(tasks)), workers)
	if err != nil {
		return fmt.Errorf("hashing files of %s: %w", g.Name, err)
	}
	for i := range files {
		files[i].sha1 = sums[i]
	}
	return nil
}
