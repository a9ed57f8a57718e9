package sigterm

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// CancelContext returns a context that is canceled when the process receives
// SIGTERM or SIGINT, or when the parent context is canceled.
func CancelContext(ctx context.Context) context.Context {
	ctxWithCancel, cancel := context.WithCancel(ctx)

	go func() {
		defer cancel()

		term := make(chan os.Signal, 1)
		signal.Notify(term, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-term:
		case <-ctx.Done():
		}
	}()

	return ctxWithCancel
}
