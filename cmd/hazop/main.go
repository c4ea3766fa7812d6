package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hazop/internal/config"
	"hazop/internal/logging"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailed      = 1
	exitInterrupted = 2
	exitUnexpected  = 3
)

var (
	// Global flags
	verbose    bool
	debugLogs  bool
	configPath string
	envFile    string
	outputDir  string

	// Logger
	logger *zap.Logger
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUnexpected
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hazop",
	Short: "hazop - staged HAZOP analysis pipeline runner",
	Long: `hazop runs a fixed sequence of analysis stages as isolated processes.

Stages communicate only through artifacts in a shared output directory. After
the node-partitioning stage, the node list is extracted from its artifact and
the per-node stages fan out over every node, one at a time. Per-node results
are combined into one aggregate artifact per stage, and every attempt is
recorded in a timestamped execution log.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logCfg := zap.NewProductionConfig()
		if verbose {
			logCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = logCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&debugLogs, "debug", false, "Write category logs to the log directory")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "Run configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the configuration")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output-dir", "o", "", "Shared output directory (overrides config)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stagesCmd)
	rootCmd.AddCommand(unitsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(showCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// loadConfig reads .env, the config file and flag overrides, then starts
// category logging.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(configPath)
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if debugLogs {
		cfg.Logging.DebugMode = true
	}

	if err := logging.Initialize(cfg.Logging.Options(cfg.GetLogDir())); err != nil {
		logger.Warn("Category logging disabled", zap.Error(err))
	}
	if os.IsNotExist(statErr) {
		logging.BootWarn("config file %s not found, using the default stages", configPath)
	}
	logging.Boot("config loaded from %s: %d stages, output_dir=%s", configPath, len(cfg.Stages), cfg.OutputDir)
	return cfg, nil
}
