package api

import (
	"crypto/subtle"
	"strings"

	"github.com/valyala/fasthttp"

	"agentrelay/pkg/logger"
)

// GuardConfig configures the request guard in front of every route.
type GuardConfig struct {
	AllowedOrigins []string
	IPWhitelist    []string
	// APIKeys enables the server-to-server key check when non-empty.
	APIKeys      []string
	APIKeyHeader string
}

func publicPath(ctx *fasthttp.RequestCtx) bool {
	if string(ctx.Method()) != fasthttp.MethodGet {
		return false
	}
	p := string(ctx.Path())
	return p == "/healthz" || p == "/readyz"
}

// guard logs the request, answers CORS preflights, enforces the ip
// whitelist and, when keys are configured, the api key.
func (s *Server) guard(cfg GuardConfig) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	keyHeader := cfg.APIKeyHeader
	if keyHeader == "" {
		keyHeader = "X-API-KEY"
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			logger.LogRequestFast(ctx)

			origin := string(ctx.Request.Header.Peek("Origin"))
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
				ctx.Response.Header.Set("Vary", "Origin")
				ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,PATCH,OPTIONS")
				ctx.Response.Header.Set("Access-Control-Max-Age", "600")
				ctx.Response.Header.Set("Access-Control-Allow-Headers", "Authorization,Content-Type,"+keyHeader)
			}
			if string(ctx.Method()) == fasthttp.MethodOptions {
				ctx.SetStatusCode(fasthttp.StatusNoContent)
				return
			}

			if len(cfg.IPWhitelist) > 0 {
				ip := clientIP(ctx)
				if !ipWhitelisted(ip, cfg.IPWhitelist) {
					writeMessage(ctx, fasthttp.StatusForbidden, "forbidden")
					s.log.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", string(ctx.Path()))
					return
				}
			}

			if publicPath(ctx) || len(cfg.APIKeys) == 0 {
				next(ctx)
				return
			}

			key := extractAPIKey(ctx, keyHeader)
			if key == "" || !keyAllowed(key, cfg.APIKeys) {
				writeMessage(ctx, fasthttp.StatusUnauthorized, "unauthorized")
				s.log.Warn("request_unauthorized", "path", string(ctx.Path()), "remote", ctx.RemoteAddr().String(), "has_api_key", key != "")
				return
			}
			next(ctx)
		}
	}
}

func keyAllowed(key string, keys []string) bool {
	ok := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			ok = true
		}
	}
	return ok
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func ipWhitelisted(ip string, list []string) bool {
	for _, w := range list {
		if ip == w {
			return true
		}
	}
	return false
}
