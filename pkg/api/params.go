package api

import (
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"

	"agentrelay/pkg/upload"
)

func header(ctx *fasthttp.RequestCtx, key string) string {
	return strings.TrimSpace(string(ctx.Request.Header.Peek(key)))
}

func query(ctx *fasthttp.RequestCtx, key string) string {
	return strings.TrimSpace(string(ctx.QueryArgs().Peek(key)))
}

// queryInt returns the query value as an int, or def when absent or
// malformed.
func queryInt(ctx *fasthttp.RequestCtx, key string, def int) int {
	v := query(ctx, key)
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return def
}

func queryInt64(ctx *fasthttp.RequestCtx, key string) int64 {
	n, _ := strconv.ParseInt(query(ctx, key), 10, 64)
	return n
}

func pathParam(ctx *fasthttp.RequestCtx, name string) string {
	if v, ok := ctx.UserValue(name).(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// extractAPIKey reads "Authorization: Bearer <key>" first, then the
// configured key header.
func extractAPIKey(ctx *fasthttp.RequestCtx, keyHeader string) string {
	if auth := header(ctx, "Authorization"); auth != "" {
		parts := strings.Fields(auth)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return header(ctx, keyHeader)
}

func clientIP(ctx *fasthttp.RequestCtx) string {
	host := ctx.RemoteAddr().String()
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	return h
}

// callerKey identifies the caller for rate limiting.
func (s *Server) callerKey(ctx *fasthttp.RequestCtx) string {
	if k := extractAPIKey(ctx, s.opts.APIKeyHeader); k != "" {
		return "key:" + k
	}
	return "ip:" + clientIP(ctx)
}

// decodeBody unmarshals the json body into v; an empty body leaves v zero.
func decodeBody(ctx *fasthttp.RequestCtx, v any) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func uploadFile(name, contentType string, size int64, body io.Reader) upload.File {
	return upload.File{Name: name, ContentType: contentType, Size: size, Body: body}
}
