package api

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"agentrelay/pkg/apperr"
	"agentrelay/pkg/ids"
	"agentrelay/pkg/relay"
)

type submitMessageRequest struct {
	ChannelID          string          `json:"channel_id"`
	ServerID           string          `json:"server_id"`
	AuthorID           string          `json:"author_id"`
	Content            string          `json:"content"`
	InReplyToMessageID string          `json:"in_reply_to_message_id"`
	RawMessage         json.RawMessage `json:"raw_message"`
	Metadata           map[string]any  `json:"metadata"`
	SourceType         string          `json:"source_type"`
	SourceID           string          `json:"source_id"`
}

func (r submitMessageRequest) toRelay(channelID string) relay.SubmitRequest {
	raw := r.RawMessage
	if string(raw) == "null" {
		raw = nil
	}
	return relay.SubmitRequest{
		ChannelID:          channelID,
		ServerID:           r.ServerID,
		AuthorID:           r.AuthorID,
		Content:            r.Content,
		InReplyToMessageID: r.InReplyToMessageID,
		RawMessage:         raw,
		Metadata:           r.Metadata,
		SourceType:         r.SourceType,
		SourceID:           r.SourceID,
	}
}

func (s *Server) submitMessage(ctx *fasthttp.RequestCtx) {
	var req submitMessageRequest
	if err := decodeBody(ctx, &req); err != nil {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
		return
	}
	msg, err := s.Relay.Submit(ctx, req.toRelay(pathParam(ctx, "channelId")))
	if err != nil {
		s.writeError(ctx, err, "Failed to create message")
		return
	}
	writeData(ctx, fasthttp.StatusCreated, msg)
}

// submitAgentResponse is the ingress for replies agents deliver back.
func (s *Server) submitAgentResponse(ctx *fasthttp.RequestCtx) {
	var req submitMessageRequest
	if err := decodeBody(ctx, &req); err != nil {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
		return
	}
	msg, err := s.Relay.SubmitAgentResponse(ctx, req.toRelay(req.ChannelID))
	if err != nil {
		s.writeError(ctx, err, "Failed to submit agent response")
		return
	}
	writeData(ctx, fasthttp.StatusCreated, msg)
}

func (s *Server) listMessages(ctx *fasthttp.RequestCtx) {
	channelID := pathParam(ctx, "channelId")
	limit := queryInt(ctx, "limit", relay.DefaultHistoryLimit)
	msgs, err := s.Relay.FetchHistory(ctx, channelID, limit, queryInt64(ctx, "before"))
	if err != nil {
		s.writeError(ctx, err, "Failed to fetch messages")
		return
	}
	writeData(ctx, fasthttp.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) deleteMessage(ctx *fasthttp.RequestCtx) {
	err := s.Relay.DeleteOne(ctx, pathParam(ctx, "channelId"), pathParam(ctx, "messageId"))
	if err != nil {
		s.writeError(ctx, err, "Failed to delete message")
		return
	}
	writeNoContent(ctx)
}

func (s *Server) clearMessages(ctx *fasthttp.RequestCtx) {
	if err := s.Relay.Clear(ctx, pathParam(ctx, "channelId")); err != nil {
		s.writeError(ctx, err, "Failed to clear messages")
		return
	}
	writeNoContent(ctx)
}

func (s *Server) uploadMedia(ctx *fasthttp.RequestCtx) {
	channelID := pathParam(ctx, "channelId")
	if !ids.Valid(channelID) {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid channel ID format")
		return
	}
	fh, err := ctx.FormFile("file")
	if err != nil {
		s.writeError(ctx, apperr.Validation("No media file provided"), "")
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.writeError(ctx, apperr.Wrap(apperr.KindInternal, err, "open upload"), "Failed to process media upload")
		return
	}
	defer f.Close()

	res, err := s.Uploads.Accept(ctx, channelID, s.callerKey(ctx), uploadFile(fh.Filename, fh.Header.Get("Content-Type"), fh.Size, f))
	if err != nil {
		s.writeError(ctx, err, "Failed to process media upload")
		return
	}
	writeData(ctx, fasthttp.StatusOK, res)
}
