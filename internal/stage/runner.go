package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hazop/internal/config"
	"hazop/internal/logging"
	"hazop/internal/units"
)

// killSlack pushes the process timer behind the ctx deadline.
const killSlack = 250 * time.Millisecond

// MessageInterrupted is the ERROR message of an attempt cut short by the caller.
const MessageInterrupted = "interrupted"

// Runner executes one attempt at a time under a wall-clock timeout.
type Runner struct {
	defaultTimeout time.Duration
	now            func() time.Time
}

// NewRunner creates a runner; stages without their own timeout get defaultTimeout.
func NewRunner(defaultTimeout time.Duration) *Runner {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &Runner{defaultTimeout: defaultTimeout, now: time.Now}
}

// Run executes s once for unit and classifies the result:
//
//	caller ctx done            -> ERROR "interrupted"
//	stage timeout expired      -> TIMEOUT
//	launch/monitoring failure  -> ERROR
//	non-zero exit              -> FAILED (stderr, else stdout)
//	otherwise                  -> SUCCESS
func (r *Runner) Run(ctx context.Context, def config.StageConfig, s Stage, unit *units.Unit) Attempt {
	timeout := def.GetTimeout(r.defaultTimeout)
	log := logging.Get(logging.CategoryTactile).With("stage", def.ID)
	if unit != nil {
		log = log.With("unit", unit.ID)
	}

	attempt := Attempt{Stage: def.ID, Unit: unit, StartedAt: r.now()}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out := s.Run(attemptCtx, unit)
	attempt.Elapsed = time.Since(start)
	attempt.RawOutput = out.Stdout

	status, message := classify(ctx, attemptCtx, out, timeout)
	if out.TruncatedBytes > 0 {
		log.Warn("output capped, %d bytes dropped", out.TruncatedBytes)
		message = fmt.Sprintf("[output truncated, %d bytes dropped] %s", out.TruncatedBytes, message)
	}
	attempt = attempt.WithStatus(status, message)

	if status == StatusSuccess {
		log.Info("attempt succeeded in %s", attempt.Elapsed)
	} else {
		log.Warn("attempt %s after %s: %s", status, attempt.Elapsed, attempt.Message)
	}
	return attempt
}

func classify(parent, attemptCtx context.Context, out Outcome, timeout time.Duration) (Status, string) {
	deadlineHit := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
	finishedClean := out.Err == nil && out.ExitCode == 0 && !out.TimedOut && !out.Canceled

	switch {
	case parent.Err() != nil && !finishedClean:
		return StatusError, MessageInterrupted
	case out.TimedOut, deadlineHit && !finishedClean:
		return StatusTimeout, fmt.Sprintf("timeout after %s", timeout)
	case out.Err != nil:
		return StatusError, out.Err.Error()
	case out.Canceled:
		return StatusError, MessageInterrupted
	case out.ExitCode != 0:
		msg := strings.TrimSpace(out.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(out.Stdout)
		}
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", out.ExitCode)
		}
		return StatusFailed, msg
	default:
		return StatusSuccess, "completed"
	}
}
