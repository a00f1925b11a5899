package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hse-launcher/instance-builder/internal/config"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
)

// createValidateCommand creates the validate subcommand
func createValidateCommand() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [flags] SPEC_FILE",
		Short: "Validate a build spec file",
		Long: `Validate a build spec against the schema without generating anything.
The spec may be written in JSON or YAML.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeValidate,
		ValidArgsFunction: specFileCompletion,
	}

	return validateCmd
}

// executeValidate handles the validate command logic
func executeValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	specFile := args[0]

	log.Infof("validating spec file: %s", specFile)

	spec, err := config.LoadSpec(specFile)
	if err != nil {
		return fmt.Errorf("spec validation failed: %w", err)
	}

	log.Infof("✓ Spec validation successful for %s", specFile)
	log.Infof("Mirror: %s (rewrite URLs: %t)", spec.DownloadServerBase, spec.ReplaceDownloadURLs)

	if verbose {
		for _, v := range spec.Versions {
			if v.LoaderVersion != "" {
				log.Infof("  - %s: %s %s %s", v.Name, v.MinecraftVersion, v.Loader(), v.LoaderVersion)
			} else {
				log.Infof("  - %s: %s %s", v.Name, v.MinecraftVersion, v.Loader())
			}
		}
	}
	printf(cmd, "%s: %d versions\n", specFile, len(spec.Versions))
	return nil
}
