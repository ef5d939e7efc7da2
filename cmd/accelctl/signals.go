package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"accelrt/internal/pool"
)

// installSignalTeardown tears the pool down on SIGINT/SIGTERM, then restores
// the default disposition and re-raises the signal so the process exits with
// the conventional status. This adapter is the only place signal numbers are
// handled; the pool itself knows nothing about signals.
func installSignalTeardown(p *pool.Pool, log zerolog.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-ch
		log.Info().Str("signal", sig.String()).Msg("tearing down device pool")
		p.Clear(context.Background())
		signal.Reset(sig)
		_ = unix.Kill(unix.Getpid(), sig.(syscall.Signal))
	}()
}
