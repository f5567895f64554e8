package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"

	"agentrelay/internal/retention"
	"agentrelay/pkg/agents"
	"agentrelay/pkg/api"
	"agentrelay/pkg/bus"
	"agentrelay/pkg/config"
	"agentrelay/pkg/dm"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/realtime"
	"agentrelay/pkg/registry"
	"agentrelay/pkg/relay"
	"agentrelay/pkg/store"
	"agentrelay/pkg/title"
	"agentrelay/pkg/upload"
)

// App groups server state and components.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string
	log       *slog.Logger

	store     store.ChannelStore
	bus       *bus.Bus
	hub       *realtime.Hub
	api       *api.Server
	retention *retention.Manager
	limiters  []*upload.LimiterPool

	retentionCancel context.CancelFunc
	busCancels      []func()

	srvFast  *fasthttp.Server
	srvWS    *http.Server
	ready    atomic.Bool
	stopping atomic.Bool
}

// New opens the store and builds every component. Nothing listens until Run.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string, log *slog.Logger) (*App, error) {
	log = logger.Or(log)
	if err := validateRuntime(eff, log); err != nil {
		return nil, err
	}
	cfg := eff.Config

	st, err := openStore(cfg.Store, log)
	if err != nil {
		return nil, err
	}

	gen, err := title.FromConfig(cfg.Title.Provider, cfg.Title.APIKey, cfg.Title.BaseURL, cfg.Title.Model)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate, log: log, store: st}

	a.bus = bus.New(cfg.Bus.SubscriberBuffer, log)
	a.hub = realtime.NewHub(cfg.Realtime.SendBuffer, log)

	var broadcaster realtime.Broadcaster = a.hub
	if cfg.Realtime.Disabled {
		broadcaster = realtime.Nop{}
	}

	reg := registry.New(st, log)
	rel := relay.New(reg, log, relay.BusSink{Bus: a.bus}, relay.SocketSink{Broadcaster: broadcaster})
	agentSet := agents.NewRegistry(cfg.Agents.IDs...)

	uploadLimiter := upload.NewLimiterPool(cfg.Uploads.RateLimit.Upload.RPS, cfg.Uploads.RateLimit.Upload.Burst)
	fsLimiter := upload.NewLimiterPool(cfg.Uploads.RateLimit.Filesystem.RPS, cfg.Uploads.RateLimit.Filesystem.Burst)
	a.limiters = []*upload.LimiterPool{uploadLimiter, fsLimiter}
	gate := upload.NewGate(st, upload.DiskStorage{Dir: cfg.Uploads.Dir, PublicPrefix: cfg.Uploads.PublicPrefix}, upload.Options{
		MaxFileSize:      cfg.Uploads.MaxFileSize.Int64(),
		AllowedMimeTypes: cfg.Uploads.AllowedMimeTypes,
		Upload:           uploadLimiter,
		Filesystem:       fsLimiter,
		Logger:           log,
	})

	titles := title.NewService(st, agentSet, gen, title.Options{
		Temperature: cfg.Title.Temperature,
		MaxTokens:   cfg.Title.MaxTokens,
		Logger:      log,
	})

	a.api = api.NewServer(api.Deps{
		Relay:    rel,
		Registry: reg,
		DM:       dm.NewResolver(reg, log),
		Uploads:  gate,
		Titles:   titles,
		Agents:   agentSet,
	}, api.Options{
		Production:   cfg.Server.Production,
		APIKeyHeader: cfg.Server.APIKeyHeader,
		Guard: api.GuardConfig{
			AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
			IPWhitelist:    cfg.Server.IPWhitelist,
			APIKeys:        cfg.Server.APIKeys,
			APIKeyHeader:   cfg.Server.APIKeyHeader,
		},
		Ready: a.isReady,
	}, log)

	a.retention = retention.New(cfg.Retention, st, log)

	log.Info("app_initialized",
		"store", cfg.Store.Driver,
		"agents", agentSet.Len(),
		"title_provider", cfg.Title.Provider,
		"max_upload", humanize.IBytes(uint64(cfg.Uploads.MaxFileSize.Int64())),
	)
	return a, nil
}

func openStore(cfg config.StoreConfig, log *slog.Logger) (store.ChannelStore, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn("store_memory", "msg", "channels and messages are lost on restart")
		return store.NewMemoryStore(), nil
	case "pebble":
		st, err := store.OpenPebble(cfg.Path, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.Path, err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func (a *App) isReady() bool {
	if !a.ready.Load() || a.stopping.Load() {
		return false
	}
	if r, ok := a.store.(interface{ Ready() bool }); ok {
		return r.Ready()
	}
	return true
}

// Run starts the schedulers and listeners and blocks until ctx is cancelled
// or a listener fails.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	cancel, err := a.retention.Start(ctx)
	if err != nil {
		return err
	}
	a.retentionCancel = cancel

	a.watchBus(ctx)

	errCh := a.startHTTP(ctx)
	if !a.eff.Config.Realtime.Disabled {
		wsErr := a.startRealtime(ctx)
		go func() {
			if err := <-wsErr; err != nil {
				errCh <- err
			}
		}()
	}
	a.ready.Store(true)
	a.log.Info("server_started", "addr", a.eff.Addr)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// watchBus drains the bus topics into the log; in-process agent runtimes
// subscribe alongside.
func (a *App) watchBus(ctx context.Context) {
	for _, topic := range []bus.Topic{bus.TopicNewMessage, bus.TopicMessageDeleted, bus.TopicChannelCleared} {
		events, cancel := a.bus.SubscribeChan(topic, 0)
		a.busCancels = append(a.busCancels, cancel)
		go func(topic bus.Topic, events <-chan bus.Event) {
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("bus_event", "topic", string(topic), "payload_type", fmt.Sprintf("%T", ev.Payload))
				case <-ctx.Done():
					return
				}
			}
		}(topic, events)
	}
}
