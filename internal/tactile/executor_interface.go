package tactile

import (
	"context"
)

// Executor is the interface for command execution.
type Executor interface {
	// Execute runs a command and returns a comprehensive result.
	// A non-nil error means the command was rejected before launch;
	// launch and runtime failures are reported in the result.
	Execute(ctx context.Context, cmd Command) (*ExecutionResult, error)

	// Validate checks if a command can be executed by this executor.
	Validate(cmd Command) error
}

var _ Executor = (*DirectExecutor)(nil)
