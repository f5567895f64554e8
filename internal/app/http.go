package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/valyala/fasthttp"

	"agentrelay/pkg/config/banner"
	"agentrelay/pkg/realtime"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(os.Stdout, a.eff, verStr)
}

// startHTTP builds and starts the fasthttp api server, returning a channel
// that delivers its error.
func (a *App) startHTTP(_ context.Context) chan error {
	cfg := a.eff.Config
	const (
		readBufferSize       = 64 * 1024
		maxKeepaliveDuration = 2 * time.Minute
	)
	a.srvFast = &fasthttp.Server{
		Handler:              a.api.Handler(),
		Name:                 "agentrelay",
		ReadBufferSize:       readBufferSize,
		MaxRequestBodySize:   int(cfg.Server.MaxBodySize.Int64()),
		ReduceMemoryUsage:    true,
		ReadTimeout:          cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:         cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:          cfg.Server.IdleTimeout.Duration(),
		MaxKeepaliveDuration: maxKeepaliveDuration,
	}

	// two slots: the api listener and a forwarded realtime failure
	errCh := make(chan error, 2)
	go func() {
		// plain tcp; tls terminates at the proxy
		errCh <- a.srvFast.ListenAndServe(a.eff.Addr)
	}()
	return errCh
}

// startRealtime serves the websocket hub on its own net/http listener.
func (a *App) startRealtime(_ context.Context) <-chan error {
	cfg := a.eff.Config.Realtime
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, realtime.NewHandler(a.hub, cfg.AllowedOrigins, a.log))
	a.srvWS = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("realtime_started", "addr", cfg.Address, "path", cfg.Path)
		if err := a.srvWS.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	return errCh
}
