package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hazop/internal/config"
)

var initForce bool

// initCmd writes the default configuration
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default six-stage configuration to the config file",
	Long: `Writes the default HAZOP stage sequence to the configuration file
(hazop.yaml, or the path given with --config) so it can be edited.

An existing file is left alone unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: initConfig,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing configuration file")
}

func initConfig(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if err := cfg.Save(configPath); err != nil {
		return err
	}

	logger.Info("Configuration written", zap.String("path", configPath), zap.Int("stages", len(cfg.Stages)))
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d stages, output_dir=%s)\n", configPath, len(cfg.Stages), cfg.OutputDir)
	return nil
}
