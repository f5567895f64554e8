package api

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"agentrelay/pkg/apperr"
)

// envelope is the body of every json response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body envelope) {
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", "application/json")
	_ = json.NewEncoder(ctx).Encode(body)
}

func writeData(ctx *fasthttp.RequestCtx, status int, data any) {
	writeJSON(ctx, status, envelope{Success: true, Data: data})
}

func writeNoContent(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusNoContent)
	ctx.ResetBody()
}

func writeMessage(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, envelope{Success: false, Error: msg})
}

// writeError maps err onto the envelope. Store and internal failures get
// fallback as their message; their text only goes into details outside
// production.
func (s *Server) writeError(ctx *fasthttp.RequestCtx, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	body := envelope{Success: false, Error: apperr.PublicMessage(err, fallback)}
	kind := apperr.KindOf(err)
	if kind == apperr.KindStore || kind == apperr.KindInternal || kind == apperr.KindDelivery {
		s.log.Error("request_failed", "path", string(ctx.Path()), "kind", kind, "error", err)
		if !s.opts.Production {
			body.Details = err.Error()
		}
	}
	writeJSON(ctx, status, body)
}
