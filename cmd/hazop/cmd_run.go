package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hazop/internal/config"
	"hazop/internal/pipeline"
	"hazop/internal/stage"
	"hazop/internal/tactile"
)

var runStages []string

// runCmd executes the configured stage sequence
var runCmd = &cobra.Command{
	Use:   "run [stage...]",
	Short: "Run the stage sequence (all stages, or a selection)",
	Long: `Runs the configured stages in ordinal order.

Stages may be selected by id or ordinal, either as arguments or with --stages.
Unselected stages are reported as skipped. A selection that includes a per-node
stage must also include the node-partitioning stage.

Exit codes:
  0  every attempt succeeded
  1  the run completed with failures, or aborted
  2  the run was interrupted
  3  configuration or unexpected error

Examples:
  hazop run
  hazop run 1 2 3
  hazop run --stages agent1,agent2,agent6`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringSliceVarP(&runStages, "stages", "s", nil, "Stages to run (ids or ordinals)")
}

// runPipeline executes one orchestrated run.
func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	selection := append(append([]string(nil), runStages...), args...)
	res, err := executeRun(ctx, cfg, selection, newConsoleReporter(cmd.OutOrStdout(), plainOutput()))
	return runExit(res, err)
}

// executeRun wires process stages to the orchestrator and runs it.
func executeRun(ctx context.Context, cfg *config.Config, selection []string, reporter pipeline.Reporter) (*pipeline.Result, error) {
	execCfg := tactile.DefaultExecutorConfig()
	if cfg.StageDir != "" {
		execCfg.DefaultWorkingDir = cfg.StageDir
	}
	if cfg.MaxOutputBytes > 0 {
		execCfg.MaxOutputBytes = cfg.MaxOutputBytes
	}
	executor := tactile.NewDirectExecutorWithConfig(execCfg)

	orch, err := pipeline.New(cfg, stage.ProcessFactory(cfg, executor), pipeline.WithReporter(reporter))
	if err != nil {
		return nil, err
	}

	logger.Info("Starting run",
		zap.Strings("selection", selection),
		zap.String("output_dir", cfg.OutputDir))
	return orch.Run(ctx, selection)
}

// runExit maps a run result onto the process exit code.
func runExit(res *pipeline.Result, err error) error {
	if res == nil {
		if err == nil {
			err = errors.New("run produced no result")
		}
		return err
	}

	switch {
	case res.Interrupted:
		return &exitError{code: exitInterrupted, err: fmt.Errorf("run %s interrupted", res.RunID)}
	case res.Abort != nil:
		return &exitError{code: exitFailed, err: res.Abort}
	case err != nil:
		return err
	case !res.Succeeded():
		return &exitError{code: exitFailed, err: fmt.Errorf("run %s completed with failures", res.RunID)}
	}

	logger.Info("Run completed", zap.String("run_id", res.RunID), zap.String("log", res.LogPath))
	return nil
}
