package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"agentrelay/pkg/logger"
)

// Shutdown stops listeners first, then schedulers and the bus, and closes
// the store last so in-flight requests can finish their writes.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopping.Store(true)
	a.log.Info("shutdown_requested")

	if a.srvFast != nil {
		a.log.Info("shutdown_stopping_http")
		if err := a.srvFast.Shutdown(); err != nil {
			a.log.Error("shutdown_http_error", "error", err)
		}
	}
	if a.srvWS != nil {
		a.log.Info("shutdown_stopping_realtime")
		if err := a.srvWS.Shutdown(ctx); err != nil {
			a.log.Error("shutdown_realtime_error", "error", err)
		}
	}

	if a.retentionCancel != nil {
		a.log.Info("shutdown_stopping_retention")
		a.retentionCancel()
	}
	for _, cancel := range a.busCancels {
		cancel()
	}
	a.bus.Close()
	for _, l := range a.limiters {
		l.Close()
	}

	a.log.Info("shutdown_closing_store")
	if err := a.store.Close(); err != nil {
		a.log.Error("shutdown_store_close_error", "error", err)
		return err
	}
	a.log.Info("shutdown_complete")
	return nil
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
// SIGPIPE dumps goroutine stacks before cancelling.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigc:
			logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
			cancel()
		case <-ctx.Done():
		}
	}()

	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		select {
		case s := <-sigpipe:
			logger.Info("signal_received", "signal", s.String(), "msg", "SIGPIPE - dumping goroutine stacks")
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			logger.Info("goroutine_stack_dump", "dump", string(buf[:n]))
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigc)
		signal.Stop(sigpipe)
		cancel()
	}
}

// Abort logs msg with err and exits non-zero.
func Abort(msg string, err error) {
	logger.Error("fatal", "msg", msg, "error", err)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
