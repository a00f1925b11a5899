package main

import (
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	utilsconfig "github.com/hse-launcher/instance-builder/internal/utils/config"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
)

var forceInit bool

func createConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the global configuration",
	}

	initCmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write the default configuration",
		Long: `Write the default configuration as YAML. Without PATH the file goes to
the XDG user config directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: executeConfigInit,
	}
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  executeConfigShow,
	}

	configCmd.AddCommand(initCmd, showCmd)
	return configCmd
}

func executeConfigInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(xdg.ConfigHome, utilsconfig.UserConfigFile)
	if len(args) == 1 {
		path = args[0]
	}
	if err := utilsconfig.WriteDefault(path, forceInit); err != nil {
		return err
	}
	logger.Logger().Infof("Wrote default configuration to %s", path)
	return nil
}

func executeConfigShow(cmd *cobra.Command, args []string) error {
	data, err := yaml.Marshal(globalConfig)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
