// Package api is the fasthttp surface of the relay.
package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"agentrelay/pkg/agents"
	"agentrelay/pkg/dm"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/registry"
	"agentrelay/pkg/relay"
	"agentrelay/pkg/router"
	"agentrelay/pkg/title"
	"agentrelay/pkg/upload"
)

type Options struct {
	// Production hides internal error details.
	Production   bool
	APIKeyHeader string
	Guard        GuardConfig
	// Ready reports store readiness for /readyz; nil means always ready.
	Ready func() bool
}

// Deps are the components the handlers call into.
type Deps struct {
	Relay    *relay.Relay
	Registry *registry.Registry
	DM       *dm.Resolver
	Uploads  *upload.Gate
	Titles   *title.Service
	Agents   *agents.Registry
}

type Server struct {
	Deps
	opts Options
	log  *slog.Logger
}

func NewServer(deps Deps, opts Options, log *slog.Logger) *Server {
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "X-API-KEY"
	}
	if opts.Guard.APIKeyHeader == "" {
		opts.Guard.APIKeyHeader = opts.APIKeyHeader
	}
	return &Server{Deps: deps, opts: opts, log: logger.Or(log)}
}

// wrapHTTPHandler adapts a net/http handler to fasthttp.
func wrapHTTPHandler(h http.Handler) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(h)
}

// RegisterRoutes wires every route onto r.
func (s *Server) RegisterRoutes(r *router.Router) {
	// messages
	r.POST("/central-channels/{channelId}/messages", s.submitMessage)
	r.GET("/central-channels/{channelId}/messages", s.listMessages)
	r.DELETE("/central-channels/{channelId}/messages/{messageId}", s.deleteMessage)
	r.DELETE("/central-channels/{channelId}/messages", s.clearMessages)
	r.POST("/submit", s.submitAgentResponse)

	// channels
	r.GET("/central-servers/{serverId}/channels", s.listServerChannels)
	r.POST("/channels", s.createChannel)
	r.POST("/central-channels", s.createGroupChannel)
	r.GET("/dm-channel", s.resolveDMChannel)
	r.GET("/central-channels/{channelId}/details", s.channelDetails)
	r.GET("/central-channels/{channelId}/participants", s.channelParticipants)
	r.PATCH("/central-channels/{channelId}", s.updateChannel)
	r.DELETE("/central-channels/{channelId}", s.deleteChannel)

	// agents
	r.POST("/central-channels/{channelId}/agents", s.addAgent)
	r.DELETE("/central-channels/{channelId}/agents/{agentId}", s.removeAgent)
	r.GET("/central-channels/{channelId}/agents", s.listAgents)

	// media and titles
	r.POST("/channels/{channelId}/upload-media", s.uploadMedia)
	r.POST("/central-channels/{channelId}/generate-title", s.generateTitle)

	// ops
	r.GET("/healthz", s.healthz)
	r.GET("/readyz", s.readyz)
	r.GET("/metrics", wrapHTTPHandler(promhttp.Handler()))

	r.NotFound(func(ctx *fasthttp.RequestCtx) {
		writeMessage(ctx, fasthttp.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(ctx *fasthttp.RequestCtx) {
		writeMessage(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
	})
}

// Handler returns the guarded fasthttp handler.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()
	s.RegisterRoutes(r)
	return s.guard(s.opts.Guard)(r.Handler)
}

func (s *Server) healthz(ctx *fasthttp.RequestCtx) {
	writeData(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(ctx *fasthttp.RequestCtx) {
	if s.opts.Ready != nil && !s.opts.Ready() {
		writeMessage(ctx, fasthttp.StatusServiceUnavailable, "not ready")
		return
	}
	writeData(ctx, fasthttp.StatusOK, map[string]string{"status": "ready"})
}
