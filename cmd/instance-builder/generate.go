package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hse-launcher/instance-builder/internal/builder"
	"github.com/hse-launcher/instance-builder/internal/config"
	"github.com/hse-launcher/instance-builder/internal/loader"
	"github.com/hse-launcher/instance-builder/internal/progress"
	utilsconfig "github.com/hse-launcher/instance-builder/internal/utils/config"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
	"github.com/hse-launcher/instance-builder/internal/utils/network"
	"github.com/hse-launcher/instance-builder/internal/utils/system"
)

// SignPassphraseEnv holds the passphrase of --sign-key.
const SignPassphraseEnv = "INSTANCE_BUILDER_SIGN_PASSPHRASE"

// Generate command flags
var (
	outputDir  string
	workDir    string
	signKey    string
	noProgress bool
)

func createGenerateCommand() *cobra.Command {
	generateCmd := &cobra.Command{
		Use:   "generate [flags] SPEC_FILE",
		Short: "Generate every instance of a build spec",
		Long: `Generate downloads and builds each version listed in the build spec into the
work directory, then copies the publishable files into the output directory
and writes version_manifest.json there.

The output directory is only touched once every version has been generated.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeGenerate,
		ValidArgsFunction: specFileCompletion,
	}

	generateCmd.Flags().StringVarP(&outputDir, "output", "o", "out",
		"Directory to publish instances into")
	generateCmd.Flags().StringVar(&workDir, "work-dir", "",
		"Scratch directory for downloads (default: <cache_dir>/work)")
	generateCmd.Flags().StringVar(&signKey, "sign-key", "",
		"Armored OpenPGP private key used to sign version_manifest.json (passphrase from "+SignPassphraseEnv+")")
	generateCmd.Flags().BoolVar(&noProgress, "no-progress", false,
		"Disable progress bars")
	return generateCmd
}

func executeGenerate(cmd *cobra.Command, args []string) error {
	runID := uuid.New().String()
	log := logger.With("run", runID)

	spec, err := config.LoadSpec(args[0])
	if err != nil {
		return fmt.Errorf("spec validation failed: %w", err)
	}

	helpers := utilsconfig.NewConfigHelpers(globalConfig)
	work := workDir
	if work == "" {
		if work, err = helpers.WorkDir(); err != nil {
			return err
		}
	}
	if work, err = filepath.Abs(work); err != nil {
		return err
	}
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(work, 0755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	if host, err := system.GetHostOsInfo(); err == nil {
		log.Debugf("Host: %s %s %s", host["name"], host["version"], host["arch"])
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	if needsJava(spec) {
		if _, err := system.JavaVersion(ctx, helpers.JavaPath()); err != nil {
			return err
		}
	}

	b := builder.New(helpers.Workers())
	b.Client = network.NewSecureHTTPClient(helpers.HTTPTimeout())
	b.JavaPath = helpers.JavaPath()
	b.SignKey = signKey
	b.SignPassphrase = os.Getenv(SignPassphraseEnv)
	b.Report = logger.NewStringListReport("published-" + runID)
	if !noProgress {
		b.Bar = progress.NewTerminalProgressBar()
	}

	log.Infof("Generating %d versions into %s (work dir %s)", len(spec.Versions), out, work)
	manifest, err := b.Generate(ctx, spec, out, work)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	reportPath, err := b.Report.WriteToFile(filepath.Join(work, "reports"))
	if err != nil {
		log.Warnf("Failed to write report: %v", err)
	} else {
		log.Debugf("Published file list written to %s", reportPath)
	}
	log.Infof("✓ Generated %d versions", len(manifest.Versions))
	return nil
}

// needsJava reports whether any version uses an installer that runs processors.
func needsJava(spec *config.Spec) bool {
	for _, v := range spec.Versions {
		if kind, err := loader.ParseKind(v.Loader()); err == nil && (kind == loader.Forge || kind == loader.NeoForge) {
			return true
		}
	}
	return false
}
