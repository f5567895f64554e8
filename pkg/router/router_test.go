package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func serve(r *Router, method, path string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	r.Handler(&ctx)
	return &ctx
}

func TestParamsAndMethods(t *testing.T) {
	r := New()
	r.GET("/central-channels/{channelId}/messages", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("list " + ctx.UserValue("channelId").(string))
	})
	r.DELETE("/central-channels/{channelId}/messages/{messageId}", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(ctx.UserValue("messageId").(string))
	})
	r.PATCH("/central-channels/{channelId}", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	ctx := serve(r, "GET", "/central-channels/abc/messages")
	assert.Equal(t, "list abc", string(ctx.Response.Body()))

	ctx = serve(r, "DELETE", "/central-channels/abc/messages/m1/")
	assert.Equal(t, "m1", string(ctx.Response.Body()))

	ctx = serve(r, "PATCH", "/central-channels/abc")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	r := New()
	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {})

	assert.Equal(t, fasthttp.StatusNotFound, serve(r, "GET", "/missing").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, serve(r, "POST", "/healthz").Response.StatusCode())

	r.NotFound(func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(fasthttp.StatusTeapot) })
	assert.Equal(t, fasthttp.StatusTeapot, serve(r, "GET", "/missing").Response.StatusCode())
	assert.Contains(t, r.Routes(), "GET /healthz")
}
