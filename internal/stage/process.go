package stage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"hazop/internal/config"
	"hazop/internal/tactile"
	"hazop/internal/units"
)

// ProcessStage runs a stage's command as an isolated child process.
type ProcessStage struct {
	def      config.StageConfig
	executor tactile.Executor
	workDir  string
	env      []string
	unitEnv  string
	nameEnv  string
}

// NewProcessStage binds a definition to an executor using cfg's process parameters.
func NewProcessStage(def config.StageConfig, cfg *config.Config, executor tactile.Executor) *ProcessStage {
	var env []string
	if cfg.OutputDirEnvVar != "" {
		outDir := cfg.OutputDir
		if abs, err := filepath.Abs(outDir); err == nil {
			outDir = abs
		}
		env = append(env, cfg.OutputDirEnvVar+"="+outDir)
	}
	return &ProcessStage{
		def:      def,
		executor: executor,
		workDir:  cfg.StageDir,
		env:      env,
		unitEnv:  cfg.UnitEnvVar,
		nameEnv:  cfg.UnitNameEnvVar,
	}
}

// ProcessFactory returns a Factory producing ProcessStages.
func ProcessFactory(cfg *config.Config, executor tactile.Executor) Factory {
	return func(def config.StageConfig) (Stage, error) {
		if len(def.Command) == 0 {
			return nil, fmt.Errorf("stage %s: empty command", def.ID)
		}
		return NewProcessStage(def, cfg, executor), nil
	}
}

// Command builds the tactile command for unit.
func (p *ProcessStage) Command(unit *units.Unit) tactile.Command {
	env := append([]string(nil), p.env...)
	if unit != nil {
		if p.unitEnv != "" {
			env = append(env, p.unitEnv+"="+strconv.Itoa(unit.ID))
		}
		if p.nameEnv != "" {
			env = append(env, p.nameEnv+"="+unit.Name)
		}
	}

	var args []string
	if len(p.def.Command) > 1 {
		args = p.def.Command[1:]
	}
	return tactile.Command{
		Binary:           p.def.Command[0],
		Arguments:        args,
		WorkingDirectory: p.workDir,
		Environment:      env,
	}
}

// Run executes the command. The deadline comes from ctx.
func (p *ProcessStage) Run(ctx context.Context, unit *units.Unit) Outcome {
	cmd := p.Command(unit)
	if deadline, ok := ctx.Deadline(); ok {
		// Slightly past the ctx deadline so expiry is always seen as ctx-driven.
		cmd.Timeout = time.Until(deadline) + killSlack
		if cmd.Timeout <= 0 {
			cmd.Timeout = killSlack
		}
	}

	res, err := p.executor.Execute(ctx, cmd)
	if err != nil {
		return Outcome{ExitCode: -1, Err: err}
	}

	out := Outcome{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		TimedOut: res.TimedOut,
		Canceled: res.Canceled,

		TruncatedBytes: res.TruncatedBytes,
	}
	if !res.Success {
		out.Err = errors.New(res.Error)
	}
	return out
}
