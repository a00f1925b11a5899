package loader

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/hse-launcher/instance-builder/internal/metadata"
	"github.com/hse-launcher/instance-builder/internal/paths"
	"github.com/hse-launcher/instance-builder/internal/pkgfetcher"
	"github.com/hse-launcher/instance-builder/internal/utils/file"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
	"github.com/hse-launcher/instance-builder/internal/utils/network"
)

type vanillaGenerator struct {
	opts Options
}

func (g *vanillaGenerator) Generate(ctx context.Context, workDir string) (*Result, error) {
	md, err := installVanilla(ctx, g.opts, workDir)
	if err != nil {
		return nil, err
	}
	return &Result{Metadata: []*metadata.VersionMetadata{md}}, nil
}

// installVanilla fetches the game version metadata and everything it
// references into workDir.
func installVanilla(ctx context.Context, opts Options, workDir string) (*metadata.VersionMetadata, error) {
	log := logger.Logger()
	ref := opts.Reference
	if ref == nil {
		return nil, fmt.Errorf("%s: %w", opts.Name, ErrMissingReference)
	}

	log.Infof("Fetching metadata for %s", ref.ID)
	mdPath := paths.MetadataPath(paths.VersionsDir(workDir), ref.ID)
	if err := network.DownloadFile(ctx, opts.Client, ref.URL, mdPath, ref.SHA1); err != nil {
		return nil, fmt.Errorf("fetching metadata of %s: %w", ref.ID, err)
	}
	md, err := metadata.Load(mdPath)
	if err != nil {
		return nil, err
	}

	artifacts, err := libraryArtifacts(md, paths.LibrariesDir(workDir))
	if err != nil {
		return nil, err
	}
	if md.Downloads != nil && md.Downloads.Client != nil {
		artifacts = append(artifacts, pkgfetcher.Artifact{
			URL:  md.Downloads.Client.URL,
			Dest: paths.ClientJarPath(workDir, md.ID),
			SHA1: md.Downloads.Client.SHA1,
		})
	}

	if md.AssetIndex != nil {
		assets, err := assetArtifacts(ctx, opts, md.AssetIndex, paths.AssetsDir(workDir))
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, assets...)
	}

	opts.Bar.SetMessage(fmt.Sprintf("Downloading %s", md.ID))
	if err := pkgfetcher.FetchPackages(ctx, opts.Client, artifacts, opts.Bar, opts.Workers); err != nil {
		return nil, fmt.Errorf("downloading files of %s: %w", md.ID, err)
	}
	return md, nil
}

func assetArtifacts(ctx context.Context, opts Options, ai *metadata.AssetIndex, assetsDir string) ([]pkgfetcher.Artifact, error) {
	indexPath := paths.AssetIndexPath(assetsDir, ai.ID)
	if err := network.DownloadFile(ctx, opts.Client, ai.URL, indexPath, ai.SHA1); err != nil {
		return nil, fmt.Errorf("fetching asset index %s: %w", ai.ID, err)
	}
	idx, err := metadata.LoadAssetsIndex(indexPath)
	if err != nil {
		return nil, err
	}

	objects := idx.UniqueObjects()
	out := make([]pkgfetcher.Artifact, 0, len(objects))
	for _, obj := range objects {
		if len(obj.Hash) < 2 {
			return nil, fmt.Errorf("asset index %s: invalid object hash %q", ai.ID, obj.Hash)
		}
		u, err := url.JoinPath(opts.Endpoints.Resources, obj.Hash[:2], obj.Hash)
		if err != nil {
			return nil, err
		}
		out = append(out, pkgfetcher.Artifact{URL: u, Dest: paths.AssetObjectPath(assetsDir, obj.Hash), SHA1: obj.Hash})
	}
	return out, nil
}

// libraryArtifacts lists the library and natives downloads of md. Artifacts
// without a URL are skipped; they come from somewhere other than a maven repository.
func libraryArtifacts(md *metadata.VersionMetadata, libsDir string) ([]pkgfetcher.Artifact, error) {
	var out []pkgfetcher.Artifact
	for i := range md.Libraries {
		lib := &md.Libraries[i]
		switch {
		case lib.Downloads != nil:
			if a := lib.Downloads.Artifact; a != nil && a.URL != "" {
				dest, err := lib.Path(libsDir)
				if err != nil {
					return nil, fmt.Errorf("library %s: %w", lib.Name, err)
				}
				out = append(out, pkgfetcher.Artifact{URL: a.URL, Dest: dest, SHA1: a.SHA1})
			}
			for name, d := range lib.Downloads.Classifiers {
				if d.URL == "" {
					continue
				}
				dest, err := lib.NativesPath(name, d, libsDir)
				if err != nil {
					return nil, fmt.Errorf("natives %s of %s: %w", name, lib.Name, err)
				}
				out = append(out, pkgfetcher.Artifact{URL: d.URL, Dest: dest, SHA1: d.SHA1})
			}
		case lib.URL != nil:
			rel, err := metadata.MavenPath(lib.Name, "")
			if err != nil {
				return nil, fmt.Errorf("library %s: %w", lib.Name, err)
			}
			u, err := url.JoinPath(*lib.URL, strings.Split(rel, "/")...)
			if err != nil {
				return nil, fmt.Errorf("library %s: %w", lib.Name, err)
			}
			var sha1 string
			if lib.SHA1 != nil {
				sha1 = *lib.SHA1
			}
			out = append(out, pkgfetcher.Artifact{URL: u, Dest: filepath.Join(libsDir, filepath.FromSlash(rel)), SHA1: sha1})
		}
	}
	return out, nil
}

// saveRaw stores a document fetched from upstream byte for byte.
func saveRaw(data []byte, versionsDir, id string) (string, error) {
	path := paths.MetadataPath(versionsDir, id)
	if err := file.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("saving metadata %s: %w", id, err)
	}
	return path, nil
}
