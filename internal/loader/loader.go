// Package loader produces version metadata and the files it references for
// each supported mod loader.
package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hse-launcher/instance-builder/internal/metadata"
	"github.com/hse-launcher/instance-builder/internal/progress"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
	"github.com/hse-launcher/instance-builder/internal/utils/network"
)

var (
	// ErrUnknownLoader is returned by ParseKind for unsupported loader names.
	ErrUnknownLoader = errors.New("unsupported loader")
	// ErrMissingReference is returned when a generator needs the upstream
	// manifest entry of its game version and none was found.
	ErrMissingReference = errors.New("game version not found in upstream manifest")
	// ErrNoLoaderVersion is returned when no loader build matches the game version.
	ErrNoLoaderVersion = errors.New("no loader version available")
)

// Kind is one of the supported loaders.
type Kind int

const (
	Vanilla Kind = iota
	Fabric
	Forge
	NeoForge
)

var kindNames = map[Kind]string{
	Vanilla:  "vanilla",
	Fabric:   "fabric",
	Forge:    "forge",
	NeoForge: "neoforge",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a loader name from the build spec onto a Kind. Names are
// matched exactly.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", name, ErrUnknownLoader)
}

// Result is what a generator produced inside the work dir.
type Result struct {
	// Metadata holds the documents of the version, parents first.
	Metadata []*metadata.VersionMetadata
	// ExtraLibsPaths are files that have no upstream URL and must be
	// shipped with the instance.
	ExtraLibsPaths []string
}

// Generator downloads or builds everything one version needs into workDir.
type Generator interface {
	Generate(ctx context.Context, workDir string) (*Result, error)
}

// Endpoints are the upstream services generators talk to.
type Endpoints struct {
	VersionManifest string
	Resources       string
	FabricMeta      string
	ForgeMaven      string
	ForgePromotions string
	NeoForgeMaven   string
	NeoForgeAPI     string
}

// DefaultEndpoints returns the public upstream endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		VersionManifest: "https://piston-meta.mojang.com/mc/game/version_manifest_v2.json",
		Resources:       "https://resources.download.minecraft.net",
		FabricMeta:      "https://meta.fabricmc.net",
		ForgeMaven:      "https://maven.minecraftforge.net",
		ForgePromotions: "https://files.minecraftforge.net/net/minecraftforge/forge/promotions_slim.json",
		NeoForgeMaven:   "https://maven.neoforged.net/releases",
		NeoForgeAPI:     "https://maven.neoforged.net/api/maven/versions/releases/net/neoforged/neoforge",
	}
}

// Options configure a generator.
type Options struct {
	Name          string                // instance name, for logs
	Reference     *metadata.VersionInfo // upstream manifest entry of the game version
	LoaderVersion string                // empty selects the recommended build
	Client        *http.Client
	Bar           progress.ProgressBar
	Workers       int
	JavaPath      string
	Endpoints     Endpoints
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = network.NewSecureHTTPClient(0)
	}
	if o.Bar == nil {
		o.Bar = progress.NoProgressBar{}
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.JavaPath == "" {
		o.JavaPath = "java"
	}
	def := DefaultEndpoints()
	e := &o.Endpoints
	for _, pair := range []struct {
		field *string
		value string
	}{
		{&e.VersionManifest, def.VersionManifest},
		{&e.Resources, def.Resources},
		{&e.FabricMeta, def.FabricMeta},
		{&e.ForgeMaven, def.ForgeMaven},
		{&e.ForgePromotions, def.ForgePromotions},
		{&e.NeoForgeMaven, def.NeoForgeMaven},
		{&e.NeoForgeAPI, def.NeoForgeAPI},
	} {
		if *pair.field == "" {
			*pair.field = pair.value
		}
	}
	return o
}

// New returns the generator for kind.
func New(kind Kind, opts Options) Generator {
	opts = opts.withDefaults()
	switch kind {
	case Fabric:
		return &fabricGenerator{opts: opts}
	case Forge, NeoForge:
		return &forgeGenerator{opts: opts, kind: kind}
	default:
		if opts.LoaderVersion != "" {
			logger.Logger().Warnf("Ignoring loader version %s for vanilla version %s", opts.LoaderVersion, opts.Name)
		}
		return &vanillaGenerator{opts: opts}
	}
}
