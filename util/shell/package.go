package shell

import (
	"context"
)

// DefaultShell is swapped for a mock in tests.
var DefaultShell Shell = new(shell)

func CommandExists(cmd string) bool {
	return DefaultShell.CommandExists(cmd)
}

func ExecCommand(ctx context.Context, opts ...Option) ([]byte, []byte, error) {
	return DefaultShell.ExecCommand(ctx, opts...)
}
