package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	utilsconfig "github.com/hse-launcher/instance-builder/internal/utils/config"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
)

// Global flags
var (
	configFile string
	logLevel   string
	verbose    bool
)

// globalConfig is loaded once by the logging hook before any subcommand runs.
var globalConfig = utilsconfig.DefaultGlobalConfig()

func main() {
	rootCmd := createRootCommand()
	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// createRootCommand builds the command tree
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "instance-builder",
		Short: "Builds a static mirror of Minecraft instances",
		Long: `instance-builder generates game versions with their mod loaders, rewrites
their downloads to point at your own mirror and lays out a directory that
can be served as is, together with a version_manifest.json describing
every instance.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Global config file (default: ./instance-builder.yml or the XDG user config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Shorthand for --log-level=debug")

	rootCmd.AddCommand(createGenerateCommand())
	rootCmd.AddCommand(createValidateCommand())
	rootCmd.AddCommand(createServeCommand())
	rootCmd.AddCommand(createConfigCommand())
	rootCmd.AddCommand(createVersionCommand())

	attachLoggingHooks(rootCmd)
	return rootCmd
}

// attachLoggingHooks makes every subcommand load the global config and set
// up logging before it runs.
func attachLoggingHooks(root *cobra.Command) {
	for _, cmd := range root.Commands() {
		cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd)
		}
	}
}

func setupLogging(cmd *cobra.Command) error {
	path, err := utilsconfig.FindConfigFile(configFile)
	if err != nil {
		return err
	}
	cfg, err := utilsconfig.LoadGlobalConfig(path)
	if err != nil {
		return err
	}
	globalConfig = cfg

	if _, err := logger.Init(cfg.Logging.Format); err != nil {
		return err
	}
	level := resolveRequestedLogLevel(cmd)
	if level == "" {
		level = cfg.Logging.Level
	}
	if err := logger.SetLevel(level); err != nil {
		return err
	}
	if path != "" {
		logger.Logger().Debugf("Loaded config from %s", path)
	}
	return nil
}

// resolveRequestedLogLevel returns the level asked for on the command line,
// or "" when the config decides.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd == nil {
		return ""
	}
	if f := cmd.Flags().Lookup("verbose"); f != nil && f.Changed && f.Value.String() == "true" {
		return "debug"
	}
	return ""
}

// specFileCompletion completes build spec file names
func specFileCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) != 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return []string{"json", "yml", "yaml"}, cobra.ShellCompDirectiveFilterFileExt
}

func printf(cmd *cobra.Command, format string, a ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, a...)
}
