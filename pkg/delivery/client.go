package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"agentrelay/pkg/apperr"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/store"
	"agentrelay/pkg/telemetry"
)

// Reply is an agent generated message headed for the bus endpoint.
type Reply struct {
	ChannelID          string
	ServerID           string
	AuthorID           string
	Content            string
	InReplyToMessageID string
	RawMessage         json.RawMessage
	Metadata           map[string]any
}

// Route is the externally visible address of a reply.
type Route struct {
	ChannelID string
	ServerID  string
}

// RouteResolver maps the ids an agent works with to the ids the bus
// endpoint expects.
type RouteResolver interface {
	Resolve(ctx context.Context, channelID, serverID string) (Route, error)
}

// PassthroughResolver uses the ids unchanged.
type PassthroughResolver struct{}

func (PassthroughResolver) Resolve(_ context.Context, channelID, serverID string) (Route, error) {
	return Route{ChannelID: channelID, ServerID: serverID}, nil
}

// StoreResolver fills the server id from the channel record.
type StoreResolver struct {
	Store store.ChannelStore
}

func (r StoreResolver) Resolve(ctx context.Context, channelID, serverID string) (Route, error) {
	ch, err := r.Store.GetChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Route{}, apperr.NotFound("channel %s not found", channelID)
		}
		return Route{}, apperr.Store("resolve route", err)
	}
	return Route{ChannelID: ch.ID, ServerID: ch.ServerID}, nil
}

// DeliveryError is returned when the bus endpoint does not accept a reply.
type DeliveryError struct {
	Status int
	Body   string
}

func (e *DeliveryError) Error() string {
	if e.Status == 0 {
		return "delivery failed: " + e.Body
	}
	return fmt.Sprintf("delivery failed: status %d: %s", e.Status, e.Body)
}

type Options struct {
	URL        string
	AuthToken  string
	AuthMethod string
	AuthHeader string
	// HTTPClient defaults to a client without timeout; callers bound the
	// call through ctx.
	HTTPClient *http.Client
	Resolver   RouteResolver
	Logger     *slog.Logger
}

type Client struct {
	url     string
	headers map[string]string
	http    *http.Client
	routes  RouteResolver
	log     *slog.Logger
}

func NewClient(opts Options) *Client {
	c := &Client{
		url:     opts.URL,
		headers: AuthHeaders(opts.AuthToken, opts.AuthMethod, opts.AuthHeader),
		http:    opts.HTTPClient,
		routes:  opts.Resolver,
		log:     logger.Or(opts.Logger),
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.routes == nil {
		c.routes = PassthroughResolver{}
	}
	return c
}

type submitBody struct {
	ChannelID          string          `json:"channel_id"`
	ServerID           string          `json:"server_id"`
	AuthorID           string          `json:"author_id"`
	Content            string          `json:"content"`
	InReplyToMessageID string          `json:"in_reply_to_message_id,omitempty"`
	SourceType         string          `json:"source_type"`
	RawMessage         json.RawMessage `json:"raw_message,omitempty"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
}

// Deliver posts r once. Non-2xx responses and transport failures come back
// as a Delivery kind error wrapping *DeliveryError; nothing is retried.
func (c *Client) Deliver(ctx context.Context, r Reply) error {
	route, err := c.routes.Resolve(ctx, r.ChannelID, r.ServerID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(submitBody{
		ChannelID:          route.ChannelID,
		ServerID:           route.ServerID,
		AuthorID:           r.AuthorID,
		Content:            r.Content,
		InReplyToMessageID: r.InReplyToMessageID,
		SourceType:         "agent_response",
		RawMessage:         r.RawMessage,
		Metadata:           r.Metadata,
	})
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		telemetry.Deliveries.WithLabelValues("error").Inc()
		c.log.Error("delivery_failed", "channel_id", route.ChannelID, "error", err)
		return apperr.Wrap(apperr.KindDelivery, &DeliveryError{Body: err.Error()}, "deliver reply")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		telemetry.Deliveries.WithLabelValues("rejected").Inc()
		c.log.Error("delivery_rejected", "channel_id", route.ChannelID, "status", resp.StatusCode)
		return apperr.Wrap(apperr.KindDelivery, &DeliveryError{Status: resp.StatusCode, Body: string(snippet)}, "deliver reply")
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	telemetry.Deliveries.WithLabelValues("ok").Inc()
	c.log.Debug("delivery_ok", "channel_id", route.ChannelID, "status", resp.StatusCode)
	return nil
}
