// Package builder runs a build spec end to end: it generates every version
// into the work dir, stages and rewrites what gets published, then copies
// the result into the output dir and writes the version manifest.
package builder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"

	"github.com/hse-launcher/instance-builder/internal/config"
	"github.com/hse-launcher/instance-builder/internal/extra"
	"github.com/hse-launcher/instance-builder/internal/loader"
	"github.com/hse-launcher/instance-builder/internal/mapping"
	"github.com/hse-launcher/instance-builder/internal/metadata"
	"github.com/hse-launcher/instance-builder/internal/patch"
	"github.com/hse-launcher/instance-builder/internal/paths"
	"github.com/hse-launcher/instance-builder/internal/progress"
	"github.com/hse-launcher/instance-builder/internal/sign"
	"github.com/hse-launcher/instance-builder/internal/utils/file"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
	"github.com/hse-launcher/instance-builder/internal/utils/network"
	"github.com/hse-launcher/instance-builder/internal/utils/shell"
)

// ErrEmptyResult is returned when a generator reports success without any metadata.
var ErrEmptyResult = errors.New("generator produced no metadata")

// Builder holds the settings shared by every version of a run.
type Builder struct {
	Client    *http.Client
	Bar       progress.ProgressBar
	Workers   int
	JavaPath  string
	Endpoints loader.Endpoints
	Syncer    *mapping.Syncer

	// SignKey, when set, is an armored private key used to sign the manifest.
	SignKey        string
	SignPassphrase string

	// Report, when set, receives every file written to the output dir.
	Report *logger.StringListReport

	newGenerator   func(loader.Kind, loader.Options) loader.Generator
	fetchReference func(ctx context.Context) (*metadata.VersionManifest, error)
	stage          func(context.Context, *metadata.VersionMetadata, string, progress.ProgressBar, int) (*mapping.StageResult, error)
}

// New returns a Builder using workers for every batch.
func New(workers int) *Builder {
	if workers < 1 {
		workers = 1
	}
	b := &Builder{
		Client:       network.NewSecureHTTPClient(0),
		Bar:          progress.NoProgressBar{},
		Workers:      workers,
		Endpoints:    loader.DefaultEndpoints(),
		Syncer:       mapping.NewSyncer(workers),
		newGenerator: loader.New,
		stage:        mapping.StageVersion,
	}
	b.fetchReference = b.fetchUpstreamManifest
	return b
}

func (b *Builder) fetchUpstreamManifest(ctx context.Context) (*metadata.VersionManifest, error) {
	var m metadata.VersionManifest
	if err := network.GetJSON(ctx, b.Client, b.Endpoints.VersionManifest, &m); err != nil {
		return nil, fmt.Errorf("failed to fetch version manifest: %w", err)
	}
	return &m, nil
}

// runState is everything carried from one version to the next.
type runState struct {
	synced   map[string]bool
	files    *mapping.Mapping
	manifest metadata.VersionManifest
}

// Generate builds every version of spec and returns the published manifest.
// Nothing is written to outputDir until all versions have been generated.
func (b *Builder) Generate(ctx context.Context, spec *config.Spec, outputDir, workDir string) (*metadata.VersionManifest, error) {
	log := logger.Logger()

	if err := runHook(ctx, spec.ExecBeforeAll); err != nil {
		return nil, err
	}

	log.Info("Fetching version manifest")
	reference, err := b.fetchReference(ctx)
	if err != nil {
		return nil, err
	}

	st := &runState{
		synced:   make(map[string]bool),
		files:    mapping.New(),
		manifest: metadata.VersionManifest{Versions: []metadata.VersionInfo{}},
	}
	for _, v := range spec.Versions {
		if err := b.buildVersion(ctx, spec, v, reference, outputDir, workDir, st); err != nil {
			return nil, fmt.Errorf("version %s: %w", v.Name, err)
		}
	}

	if err := b.Syncer.Sync(ctx, st.files, b.Bar); err != nil {
		return nil, err
	}
	for _, dest := range st.files.Destinations() {
		b.Report.Add(dest)
	}

	manifestPath := paths.ManifestPath(outputDir)
	if err := st.manifest.SaveToFile(manifestPath); err != nil {
		return nil, err
	}
	log.Infof("Wrote %s with %d versions", manifestPath, len(st.manifest.Versions))
	b.Report.Add(manifestPath)

	if b.SignKey != "" {
		if _, err := sign.SignFile(manifestPath, b.SignKey, b.SignPassphrase); err != nil {
			return nil, err
		}
	}

	if err := runHook(ctx, spec.ExecAfterAll); err != nil {
		return nil, err
	}
	return &st.manifest, nil
}

func (b *Builder) buildVersion(ctx context.Context, spec *config.Spec, v config.Version,
	reference *metadata.VersionManifest, outputDir, workDir string, st *runState) error {
	log := logger.Logger()

	// exec_before fires even for versions skipped below.
	if err := runHook(ctx, v.ExecBefore); err != nil {
		return err
	}

	kind, err := loader.ParseKind(v.Loader())
	if err != nil {
		log.Errorf("Skipping %s: %v", v.Name, err)
		return nil
	}

	ref, _ := reference.Find(v.MinecraftVersion)
	gen := b.newGenerator(kind, loader.Options{
		Name:          v.Name,
		Reference:     ref,
		LoaderVersion: v.LoaderVersion,
		Client:        b.Client,
		Bar:           b.Bar,
		Workers:       b.Workers,
		JavaPath:      b.JavaPath,
		Endpoints:     b.Endpoints,
	})

	log.Infof("Generating %s (%s %s)", v.Name, kind, v.MinecraftVersion)
	result, err := gen.Generate(ctx, workDir)
	if err != nil {
		return err
	}
	if len(result.Metadata) == 0 {
		return ErrEmptyResult
	}

	var workPaths []string
	metadataDir := paths.VersionsDir(workDir)
	if spec.ReplaceDownloadURLs {
		metadataDir = paths.ReplacedMetadataDir(workDir)
		staged, err := b.rewrite(ctx, spec, result.Metadata, outputDir, workDir, st)
		if err != nil {
			return err
		}
		workPaths = append(workPaths, staged...)
	} else {
		for _, md := range result.Metadata {
			workPaths = append(workPaths, paths.MetadataPath(metadataDir, md.ID))
		}
	}
	workPaths = append(workPaths, result.ExtraLibsPaths...)

	extraPath, err := b.buildExtra(ctx, spec, v, result.ExtraLibsPaths, outputDir, workDir, st)
	if err != nil {
		return err
	}
	workPaths = append(workPaths, extraPath)

	info, err := versionInfo(v.Name, result.Metadata, metadataDir, extraPath, workDir, spec.DownloadServerBase)
	if err != nil {
		return err
	}
	st.manifest.Versions = append(st.manifest.Versions, info)

	m, err := mapping.FromWorkPaths(outputDir, workDir, workPaths)
	if err != nil {
		return err
	}
	st.files.Extend(m)

	return runHook(ctx, v.ExecAfter)
}

// rewrite stages and patches every document not seen earlier in the run and
// returns the work paths they reference.
func (b *Builder) rewrite(ctx context.Context, spec *config.Spec, docs []*metadata.VersionMetadata,
	outputDir, workDir string, st *runState) ([]string, error) {
	log := logger.Logger()
	replacedDir := paths.ReplacedMetadataDir(workDir)
	outputVersionsDir := paths.VersionsDir(outputDir)

	var workPaths []string
	for _, md := range docs {
		if st.synced[md.ID] {
			log.Infof("Skipping %s, it is already synced", md.ID)
			continue
		}
		log.Infof("Syncing %s", md.ID)

		staged, err := b.stage(ctx, md, workDir, b.Bar, b.Workers)
		if err != nil {
			return nil, err
		}
		if staged.AssetIndexPath != "" {
			workPaths = append(workPaths, staged.AssetIndexPath)
		}
		workPaths = append(workPaths, staged.PathsToCopy...)

		if err := patch.ReplaceDownloadURLs(md, spec.DownloadServerBase, workDir); err != nil {
			return nil, fmt.Errorf("patching %s: %w", md.ID, err)
		}
		saved, err := md.Save(replacedDir)
		if err != nil {
			return nil, err
		}
		st.synced[md.ID] = true
		st.files.Set(paths.MetadataPath(outputVersionsDir, md.ID), saved)
	}
	return workPaths, nil
}

// buildExtra writes the extra metadata of v and maps its include files under
// the instance directory. It returns the saved extra metadata path.
func (b *Builder) buildExtra(ctx context.Context, spec *config.Spec, v config.Version, extraLibs []string,
	outputDir, workDir string, st *runState) (string, error) {
	gen := &extra.Generator{
		Name:               v.Name,
		ExtraLibsPaths:     extraLibs,
		AuthBackend:        v.AuthBackend,
		RecommendedXmx:     v.RecommendedXmx,
		DownloadServerBase: spec.DownloadServerBase,
	}
	if spec.ReplaceDownloadURLs {
		gen.ResourcesURLBase = spec.ResourcesURLBase
	}
	if v.IncludeFrom != "" {
		gen.Include = &extra.IncludeConfig{
			Include:            v.Include,
			IncludeNoOverwrite: v.IncludeNoOverwrite,
			IncludeFrom:        v.IncludeFrom,
		}
	} else if len(v.Include) > 0 || len(v.IncludeNoOverwrite) > 0 {
		logger.Logger().Warnf("Ignoring include and include_no_overwrite of %s, include_from is not set", v.Name)
	}

	res, err := gen.Generate(ctx, workDir, b.Bar, b.Workers)
	if err != nil {
		return "", err
	}

	instanceDir := paths.InstanceDir(outputDir, v.Name)
	rels := make([]string, 0, len(res.IncludeMapping))
	for rel := range res.IncludeMapping {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	for _, rel := range rels {
		st.files.Set(filepath.Join(instanceDir, rel), res.IncludeMapping[rel])
	}
	return res.Path, nil
}

// versionInfo describes one instance for the published manifest. The last
// document is the one launched; the ones before it are its parents.
func versionInfo(name string, docs []*metadata.VersionMetadata, metadataDir, extraPath, workDir, base string) (metadata.VersionInfo, error) {
	logger.Logger().Infof("Getting version info for %s", name)
	workVersionsDir := paths.VersionsDir(workDir)

	describe := func(id string) (metadata.ParentVersion, error) {
		sum, err := file.HashFile(paths.MetadataPath(metadataDir, id))
		if err != nil {
			return metadata.ParentVersion{}, fmt.Errorf("hashing metadata %s: %w", id, err)
		}
		u, err := paths.URLFromPath(paths.MetadataPath(workVersionsDir, id), workDir, base)
		if err != nil {
			return metadata.ParentVersion{}, err
		}
		return metadata.ParentVersion{ID: id, URL: u, SHA1: sum}, nil
	}

	top, err := describe(docs[len(docs)-1].ID)
	if err != nil {
		return metadata.VersionInfo{}, err
	}
	info := metadata.VersionInfo{ID: name, URL: top.URL, SHA1: top.SHA1}
	for _, md := range docs[:len(docs)-1] {
		parent, err := describe(md.ID)
		if err != nil {
			return metadata.VersionInfo{}, err
		}
		info.InheritsFrom = append(info.InheritsFrom, parent)
	}

	info.ExtraMetadataSHA1, err = file.HashFile(extraPath)
	if err != nil {
		return metadata.VersionInfo{}, fmt.Errorf("hashing extra metadata of %s: %w", name, err)
	}
	info.ExtraMetadataURL, err = paths.URLFromPath(extraPath, workDir, base)
	if err != nil {
		return metadata.VersionInfo{}, err
	}
	return info, nil
}

func runHook(ctx context.Context, cmd string) error {
	if cmd == "" {
		return nil
	}
	if _, err := shell.ExecCmdWithStream(ctx, cmd, "", nil); err != nil {
		return fmt.Errorf("hook failed: %w", err)
	}
	return nil
}
