package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// operation is a clean-up step run during shutdown.
type operation func(ctx context.Context) error

// gracefulShutdown waits for SIGINT/SIGTERM/SIGHUP or for ctx to end, then
// runs every operation concurrently within timeout. The returned channel
// closes once all operations have returned.
func gracefulShutdown(ctx context.Context, logger zerolog.Logger, timeout time.Duration, ops map[string]operation) <-chan struct{} {
	wait := make(chan struct{})

	go func() {
		s := make(chan os.Signal, 1)
		signal.Notify(s, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		defer signal.Stop(s)

		select {
		case sig := <-s:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case <-ctx.Done():
		}

		// Force exit if clean-up hangs.
		force := time.AfterFunc(timeout, func() {
			logger.Warn().Dur("timeout", timeout).Msg("shutdown timed out, forcing exit")
			os.Exit(3)
		})
		defer force.Stop()

		opCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var wg sync.WaitGroup
		for name, op := range ops {
			wg.Add(1)
			go func(name string, op operation) {
				defer wg.Done()
				if err := op(opCtx); err != nil {
					logger.Error().Err(err).Str("op", name).Msg("shutdown step failed")
					return
				}
				logger.Debug().Str("op", name).Msg("shutdown step completed")
			}(name, op)
		}
		wg.Wait()
		close(wait)
	}()

	return wait
}
