package loader

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hse-launcher/instance-builder/internal/metadata"
	"github.com/hse-launcher/instance-builder/internal/paths"
	"github.com/hse-launcher/instance-builder/internal/pkgfetcher"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
	"github.com/hse-launcher/instance-builder/internal/utils/network"
)

type fabricGenerator struct {
	opts Options
}

type fabricLoaderEntry struct {
	Loader struct {
		Version string `json:"version"`
		Stable  bool   `json:"stable"`
	} `json:"loader"`
}

func (g *fabricGenerator) Generate(ctx context.Context, workDir string) (*Result, error) {
	log := logger.Logger()
	vanilla, err := installVanilla(ctx, g.opts, workDir)
	if err != nil {
		return nil, err
	}

	loaderVersion := g.opts.LoaderVersion
	if loaderVersion == "" {
		if loaderVersion, err = g.latestStable(ctx, vanilla.ID); err != nil {
			return nil, err
		}
		log.Infof("Using fabric loader %s for %s", loaderVersion, g.opts.Name)
	}

	profileURL, err := url.JoinPath(g.opts.Endpoints.FabricMeta, "v2", "versions", "loader", vanilla.ID, loaderVersion, "profile", "json")
	if err != nil {
		return nil, err
	}
	data, err := network.GetBytes(ctx, g.opts.Client, profileURL)
	if err != nil {
		return nil, fmt.Errorf("fetching fabric profile: %w", err)
	}
	md, err := metadata.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("fabric profile %s: %w", loaderVersion, err)
	}
	if _, err := saveRaw(data, paths.VersionsDir(workDir), md.ID); err != nil {
		return nil, err
	}

	artifacts, err := libraryArtifacts(md, paths.LibrariesDir(workDir))
	if err != nil {
		return nil, err
	}
	g.opts.Bar.SetMessage(fmt.Sprintf("Downloading %s", md.ID))
	if err := pkgfetcher.FetchPackages(ctx, g.opts.Client, artifacts, g.opts.Bar, g.opts.Workers); err != nil {
		return nil, fmt.Errorf("downloading fabric libraries: %w", err)
	}

	return &Result{Metadata: []*metadata.VersionMetadata{vanilla, md}}, nil
}

func (g *fabricGenerator) latestStable(ctx context.Context, gameVersion string) (string, error) {
	u, err := url.JoinPath(g.opts.Endpoints.FabricMeta, "v2", "versions", "loader", gameVersion)
	if err != nil {
		return "", err
	}
	var entries []fabricLoaderEntry
	if err := network.GetJSON(ctx, g.opts.Client, u, &entries); err != nil {
		return "", fmt.Errorf("listing fabric loaders: %w", err)
	}
	for _, e := range entries {
		if e.Loader.Stable {
			return e.Loader.Version, nil
		}
	}
	return "", fmt.Errorf("fabric for %s: %w", gameVersion, ErrNoLoaderVersion)
}

