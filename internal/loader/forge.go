package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/klauspost/compress/zip"

	"github.com/hse-launcher/instance-builder/internal/metadata"
	"github.com/hse-launcher/instance-builder/internal/paths"
	"github.com/hse-launcher/instance-builder/internal/pkgfetcher"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
	"github.com/hse-launcher/instance-builder/internal/utils/network"
)

// forgeGenerator installs forge and neoforge, which share the installer format.
type forgeGenerator struct {
	opts Options
	kind Kind
}

type sidedValue struct {
	Client string `json:"client"`
	Server string `json:"server"`
}

type installProfile struct {
	Spec       int                   `json:"spec"`
	Profile    string                `json:"profile"`
	Version    string                `json:"version"`
	Minecraft  string                `json:"minecraft"`
	JSON       string                `json:"json"`
	Data       map[string]sidedValue `json:"data"`
	Processors []processor           `json:"processors"`
	Libraries  []metadata.Library    `json:"libraries"`
}

type forgePromotions struct {
	Promos map[string]string `json:"promos"`
}

type neoForgeVersions struct {
	Versions []string `json:"versions"`
}

func (g *forgeGenerator) Generate(ctx context.Context, workDir string) (*Result, error) {
	log := logger.Logger()
	vanilla, err := installVanilla(ctx, g.opts, workDir)
	if err != nil {
		return nil, err
	}

	version, err := g.resolveVersion(ctx, vanilla.ID)
	if err != nil {
		return nil, err
	}
	log.Infof("Installing %s %s for %s", g.kind, version, g.opts.Name)

	installerPath, err := g.fetchInstaller(ctx, workDir, version)
	if err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(installerPath)
	if err != nil {
		return nil, fmt.Errorf("opening installer %s: %w", installerPath, err)
	}
	defer zr.Close()

	var profile installProfile
	if err := readZipJSON(&zr.Reader, "install_profile.json", &profile); err != nil {
		return nil, err
	}
	versionJSON := strings.TrimPrefix(profile.JSON, "/")
	if versionJSON == "" {
		versionJSON = "version.json"
	}
	data, err := readZipEntry(&zr.Reader, versionJSON)
	if err != nil {
		return nil, err
	}
	md, err := metadata.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", g.kind, version, err)
	}
	if _, err := saveRaw(data, paths.VersionsDir(workDir), md.ID); err != nil {
		return nil, err
	}

	libsDir := paths.LibrariesDir(workDir)
	if err := extractDir(&zr.Reader, "maven/", libsDir); err != nil {
		return nil, err
	}

	artifacts, err := libraryArtifacts(md, libsDir)
	if err != nil {
		return nil, err
	}
	installLibs, err := libraryArtifacts(&metadata.VersionMetadata{ID: md.ID, Libraries: profile.Libraries}, libsDir)
	if err != nil {
		return nil, err
	}
	artifacts = append(artifacts, installLibs...)
	g.opts.Bar.SetMessage(fmt.Sprintf("Downloading %s", md.ID))
	if err := pkgfetcher.FetchPackages(ctx, g.opts.Client, artifacts, g.opts.Bar, g.opts.Workers); err != nil {
		return nil, fmt.Errorf("downloading %s libraries: %w", g.kind, err)
	}

	run := processorRun{
		java:          g.opts.JavaPath,
		workDir:       workDir,
		libsDir:       libsDir,
		installerPath: installerPath,
		installer:     &zr.Reader,
		vanilla:       vanilla,
		tempDir:       filepath.Join(workDir, "tmp", fmt.Sprintf("%s-%s", g.kind, version)),
	}
	if err := run.all(ctx, &profile); err != nil {
		return nil, err
	}

	// Artifacts with an empty URL were extracted or generated above and
	// have to ship alongside the instance.
	var extraLibs []string
	for i := range md.Libraries {
		lib := &md.Libraries[i]
		if lib.Downloads == nil || lib.Downloads.Artifact == nil || lib.Downloads.Artifact.URL != "" {
			continue
		}
		p, err := lib.Path(libsDir)
		if err != nil {
			return nil, fmt.Errorf("library %s: %w", lib.Name, err)
		}
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%s library %s was not produced by the installer: %w", g.kind, lib.Name, err)
		}
		extraLibs = append(extraLibs, p)
	}

	return &Result{Metadata: []*metadata.VersionMetadata{vanilla, md}, ExtraLibsPaths: extraLibs}, nil
}

// resolveVersion returns the installer version, e.g. "1.20.1-47.2.0" for
// forge or "20.4.80-beta" for neoforge.
func (g *forgeGenerator) resolveVersion(ctx context.Context, gameVersion string) (string, error) {
	requested := g.opts.LoaderVersion
	if g.kind == Forge {
		if requested == "" {
			var promos forgePromotions
			if err := network.GetJSON(ctx, g.opts.Client, g.opts.Endpoints.ForgePromotions, &promos); err != nil {
				return "", fmt.Errorf("fetching forge promotions: %w", err)
			}
			for _, suffix := range []string{"-recommended", "-latest"} {
				if v, ok := promos.Promos[gameVersion+suffix]; ok {
					requested = v
					break
				}
			}
			if requested == "" {
				return "", fmt.Errorf("forge for %s: %w", gameVersion, ErrNoLoaderVersion)
			}
		}
		if !strings.HasPrefix(requested, gameVersion+"-") {
			requested = gameVersion + "-" + requested
		}
		return requested, nil
	}

	if requested != "" {
		return requested, nil
	}
	var listing neoForgeVersions
	if err := network.GetJSON(ctx, g.opts.Client, g.opts.Endpoints.NeoForgeAPI, &listing); err != nil {
		return "", fmt.Errorf("listing neoforge versions: %w", err)
	}
	return latestNeoForge(gameVersion, listing.Versions)
}

// latestNeoForge picks the newest neoforge build for a game version.
// NeoForge numbers its builds <minor>.<patch>.<build> after the game's
// 1.<minor>.<patch>. Stable builds are preferred over betas.
func latestNeoForge(gameVersion string, versions []string) (string, error) {
	parts := strings.Split(strings.TrimPrefix(gameVersion, "1."), ".")
	if len(parts) == 1 {
		parts = append(parts, "0")
	}
	prefix := parts[0] + "." + parts[1] + "."

	var candidates []*semver.Version
	for _, raw := range versions {
		if !strings.HasPrefix(raw, prefix) {
			continue
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		candidates = append(candidates, v)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("neoforge for %s: %w", gameVersion, ErrNoLoaderVersion)
	}
	sort.Sort(semver.Collection(candidates))

	for i := len(candidates) - 1; i >= 0; i-- {
		if candidates[i].Prerelease() == "" {
			return candidates[i].Original(), nil
		}
	}
	return candidates[len(candidates)-1].Original(), nil
}

func (g *forgeGenerator) installerURL(version string) (string, error) {
	if g.kind == Forge {
		return url.JoinPath(g.opts.Endpoints.ForgeMaven, "net", "minecraftforge", "forge", version,
			fmt.Sprintf("forge-%s-installer.jar", version))
	}
	return url.JoinPath(g.opts.Endpoints.NeoForgeMaven, "net", "neoforged", "neoforge", version,
		fmt.Sprintf("neoforge-%s-installer.jar", version))
}

func (g *forgeGenerator) fetchInstaller(ctx context.Context, workDir, version string) (string, error) {
	u, err := g.installerURL(version)
	if err != nil {
		return "", err
	}

	// Both mavens publish a .sha1 next to each artifact; use it when present.
	var sha1 string
	if sum, err := network.GetBytes(ctx, g.opts.Client, u+".sha1"); err == nil {
		sha1 = strings.TrimSpace(string(sum))
	} else {
		var statusErr *network.StatusError
		if !errors.As(err, &statusErr) {
			return "", fmt.Errorf("fetching installer checksum: %w", err)
		}
		logger.Logger().Debugf("No checksum published for %s", u)
	}

	dest := paths.InstallerPath(workDir, g.kind.String(), version)
	if err := network.DownloadFile(ctx, g.opts.Client, u, dest, sha1); err != nil {
		return "", fmt.Errorf("downloading %s installer: %w", g.kind, err)
	}
	return dest, nil
}

func findZipEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	f := findZipEntry(zr, name)
	if f == nil {
		return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func readZipJSON(zr *zip.Reader, name string, v interface{}) error {
	data, err := readZipEntry(zr, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

// extractEntry writes one archive entry to dest.
func extractEntry(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	return out.Close()
}

// extractDir copies every file below prefix in the archive into destDir.
func extractDir(zr *zip.Reader, prefix, destDir string) error {
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, prefix) || strings.HasSuffix(f.Name, "/") {
			continue
		}
		rel := strings.TrimPrefix(f.Name, prefix)
		dest := filepath.Join(destDir, filepath.FromSlash(rel))
		if _, err := paths.RelativeTo(dest, destDir); err != nil {
			return fmt.Errorf("installer entry %s: %w", f.Name, err)
		}
		if err := extractEntry(f, dest); err != nil {
			return err
		}
	}
	return nil
}
