// Command sofauth boots the account service: wire the stack, serve HTTP,
// drain on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/sofauth/internal/bootstrap"
	"github.com/baechuer/sofauth/internal/logger"
)

// drainTimeout bounds the graceful shutdown after the first signal.
const drainTimeout = 15 * time.Second

// server is the subset of *http.Server that Run drives; tests inject a fake.
type server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
	Close() error
	Addr() string
}

type realServer struct{ *http.Server }

func (s realServer) Addr() string { return s.Server.Addr }

// builder assembles the server and returns its cleanup alongside it.
type builder func() (server, func(), error)

// Run serves until the process is signalled or the listener dies, then drains
// in-flight requests. A second signal, or a failed drain, force-closes. The
// return value is the process exit code.
func Run(build builder, sigCh <-chan os.Signal, lg zerolog.Logger) int {
	srv, cleanup, err := build()
	if err != nil {
		lg.Error().Err(err).Msg("bootstrap failed")
		return 1
	}
	defer cleanup()

	errCh := serve(srv, lg)

	select {
	case sig := <-sigCh:
		lg.Info().Str("signal", sig.String()).Msg("draining")
	case err := <-errCh:
		// Exit non-zero so an orchestrator restarts the service.
		lg.Error().Err(err).Msg("listener failed")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Shutdown(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			lg.Error().Err(err).Msg("drain failed; closing")
			_ = srv.Close()
		}
	case sig := <-sigCh:
		lg.Warn().Str("signal", sig.String()).Msg("second signal; closing now")
		_ = srv.Close()
	}

	lg.Info().Msg("shutdown complete")
	return 0
}

// serve starts the listener in the background; only a fatal listener error
// ever arrives on the returned channel.
func serve(srv server, lg zerolog.Logger) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		lg.Info().Str("addr", srv.Addr()).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

func buildFromBootstrap() (server, func(), error) {
	srv, cleanup, err := bootstrap.NewServer()
	if err != nil {
		return nil, nil, err
	}
	return realServer{srv}, cleanup, nil
}

func main() {
	logger.Init()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	os.Exit(Run(buildFromBootstrap, sigCh, logger.Logger))
}
