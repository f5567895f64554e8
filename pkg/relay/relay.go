// Package relay accepts channel messages, persists them and fans each state
// change out to the configured sinks.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"agentrelay/pkg/apperr"
	"agentrelay/pkg/ids"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/models"
	"agentrelay/pkg/registry"
	"agentrelay/pkg/store"
	"agentrelay/pkg/telemetry"
)

const DefaultHistoryLimit = 50

// SubmitRequest is an inbound message after boundary decoding.
type SubmitRequest struct {
	ChannelID          string
	ServerID           string
	AuthorID           string
	Content            string
	InReplyToMessageID string
	RawMessage         json.RawMessage
	Metadata           map[string]any
	SourceType         string
	SourceID           string
}

type Relay struct {
	reg   *registry.Registry
	sinks []Sink
	log   *slog.Logger
	now   func() time.Time
}

// New builds a relay notifying sinks in the given order.
func New(reg *registry.Registry, log *slog.Logger, sinks ...Sink) *Relay {
	return &Relay{reg: reg, sinks: sinks, log: logger.Or(log), now: time.Now}
}

func validateSubmit(req SubmitRequest) error {
	if req.ChannelID == "" || req.ServerID == "" || req.AuthorID == "" || req.Content == "" {
		return apperr.Validation("Missing required fields: channelId, server_id, author_id, content")
	}
	if !ids.Valid(req.ChannelID) {
		return apperr.Validation("Invalid channelId format")
	}
	if !ids.ValidServer(req.ServerID) {
		return apperr.Validation("Invalid server_id format")
	}
	if !ids.Valid(req.AuthorID) {
		return apperr.Validation("Invalid author_id format")
	}
	if req.InReplyToMessageID != "" && !ids.Valid(req.InReplyToMessageID) {
		return apperr.Validation("Invalid in_reply_to_message_id format")
	}
	return nil
}

// Submit validates req, creates the channel when it does not exist yet,
// persists the message and then notifies the sinks. Sink failures are
// logged and do not undo the write.
func (r *Relay) Submit(ctx context.Context, req SubmitRequest) (*models.BusMessage, error) {
	tr := telemetry.Track("relay.submit")
	defer tr.Finish()

	if err := validateSubmit(req); err != nil {
		return nil, err
	}
	hint := registry.HintFromMetadata(req.ChannelID, req.AuthorID, req.Metadata, r.now())
	if _, _, err := r.reg.EnsureChannel(ctx, req.ChannelID, req.ServerID, hint); err != nil {
		return nil, err
	}
	out, err := r.persist(ctx, req)
	if err != nil {
		return nil, err
	}
	r.notify(ctx, Notification{Kind: EventNewMessage, ChannelID: out.ChannelID, Message: out})
	telemetry.MessagesRelayed.WithLabelValues(sourceLabel(out.SourceType)).Inc()
	return out, nil
}

// SubmitAgentResponse stores a reply an agent posted back. The channel must
// already exist and the reply only reaches the sockets.
func (r *Relay) SubmitAgentResponse(ctx context.Context, req SubmitRequest) (*models.BusMessage, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}
	if _, err := r.reg.GetChannel(ctx, req.ChannelID); err != nil {
		return nil, err
	}
	if req.SourceType == "" {
		req.SourceType = "agent_response"
	}
	out, err := r.persist(ctx, req)
	if err != nil {
		return nil, err
	}
	r.notify(ctx, Notification{Kind: EventNewMessage, ChannelID: out.ChannelID, Message: out, AgentReply: true})
	telemetry.MessagesRelayed.WithLabelValues(sourceLabel(out.SourceType)).Inc()
	return out, nil
}

func (r *Relay) persist(ctx context.Context, req SubmitRequest) (*models.BusMessage, error) {
	msg, err := r.reg.Store().CreateMessage(ctx, models.Message{
		ChannelID:          req.ChannelID,
		AuthorID:           req.AuthorID,
		Content:            req.Content,
		RawMessage:         req.RawMessage,
		SourceType:         req.SourceType,
		SourceID:           req.SourceID,
		InReplyToMessageID: req.InReplyToMessageID,
		Metadata:           req.Metadata,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("Channel not found")
		}
		r.log.Error("message_persist_failed", "channel_id", req.ChannelID, "error", err)
		return nil, apperr.Store("create message", err)
	}
	return normalize(msg, req.ServerID), nil
}

func normalize(m *models.Message, serverID string) *models.BusMessage {
	out := &models.BusMessage{
		ID:                 m.ID,
		ChannelID:          m.ChannelID,
		ServerID:           serverID,
		AuthorID:           m.AuthorID,
		Content:            m.Content,
		RawMessage:         m.RawMessage,
		SourceType:         m.SourceType,
		SourceID:           m.SourceID,
		InReplyToMessageID: m.InReplyToMessageID,
		Metadata:           m.Metadata,
		CreatedAt:          m.CreatedAt,
	}
	if name, ok := m.Metadata["user_display_name"].(string); ok {
		out.AuthorDisplayName = name
	}
	return out
}

func sourceLabel(s string) string {
	if s == "" {
		return "api"
	}
	return s
}

func (r *Relay) notify(ctx context.Context, n Notification) {
	for _, s := range r.sinks {
		if err := s.Notify(ctx, n); err != nil {
			telemetry.SinkFailures.WithLabelValues(s.Name(), string(n.Kind)).Inc()
			r.log.Error("sink_notify_failed", "sink", s.Name(), "event", n.Kind, "channel_id", n.ChannelID, "error", err)
		}
	}
}

// FetchHistory returns up to limit messages created before before (epoch ms,
// 0 for now), newest first, with thought and actions lifted out of the raw
// payload into metadata.
func (r *Relay) FetchHistory(ctx context.Context, channelID string, limit int, before int64) ([]models.Message, error) {
	if !ids.Valid(channelID) {
		return nil, apperr.Validation("Invalid channelId format")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	msgs, err := r.reg.Store().ListMessages(ctx, channelID, limit, before)
	if err != nil {
		return nil, apperr.Store("list messages", err)
	}
	for i := range msgs {
		hydrate(&msgs[i])
	}
	return msgs, nil
}

func hydrate(m *models.Message) {
	if len(m.RawMessage) == 0 {
		return
	}
	var raw struct {
		Thought any `json:"thought"`
		Actions any `json:"actions"`
	}
	if err := json.Unmarshal(m.RawMessage, &raw); err != nil {
		return
	}
	if raw.Thought == nil && raw.Actions == nil {
		return
	}
	meta := make(map[string]any, len(m.Metadata)+2)
	for k, v := range m.Metadata {
		meta[k] = v
	}
	if raw.Thought != nil {
		meta["thought"] = raw.Thought
	}
	if raw.Actions != nil {
		meta["actions"] = raw.Actions
	}
	m.Metadata = meta
}

// DeleteOne removes a message and then announces it.
func (r *Relay) DeleteOne(ctx context.Context, channelID, messageID string) error {
	if !ids.Valid(channelID) || !ids.Valid(messageID) {
		return apperr.Validation("Invalid channelId or messageId format")
	}
	if err := r.reg.Store().DeleteMessage(ctx, channelID, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Message not found")
		}
		return apperr.Store("delete message", err)
	}
	r.notify(ctx, Notification{Kind: EventMessageDeleted, ChannelID: channelID, MessageID: messageID})
	return nil
}

// Clear removes every message of the channel and announces it once.
func (r *Relay) Clear(ctx context.Context, channelID string) error {
	if !ids.Valid(channelID) {
		return apperr.Validation("Invalid channelId format")
	}
	if _, err := r.reg.GetChannel(ctx, channelID); err != nil {
		return err
	}
	n, err := r.reg.ClearMessages(ctx, channelID)
	if err != nil {
		return err
	}
	r.log.Info("channel_cleared", "channel_id", channelID, "messages", n)
	r.notify(ctx, Notification{Kind: EventChannelCleared, ChannelID: channelID})
	return nil
}

// DeleteChannel removes the channel with its messages and announces one
// channel_cleared event marked deleted.
func (r *Relay) DeleteChannel(ctx context.Context, channelID string) error {
	if !ids.Valid(channelID) {
		return apperr.Validation("Invalid channelId format")
	}
	if err := r.reg.DeleteChannel(ctx, channelID); err != nil {
		return err
	}
	r.notify(ctx, Notification{Kind: EventChannelCleared, ChannelID: channelID, Deleted: true})
	return nil
}

// UpdateChannel applies patch and tells the channel room.
func (r *Relay) UpdateChannel(ctx context.Context, channelID string, patch models.ChannelPatch) (*models.Channel, error) {
	if !ids.Valid(channelID) {
		return nil, apperr.Validation("Invalid channelId format")
	}
	ch, err := r.reg.UpdateChannel(ctx, channelID, patch)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.ParticipantIDs != nil {
		updates["participantCentralUserIds"] = ch.ParticipantIDs
	}
	if patch.Metadata != nil {
		updates["metadata"] = patch.Metadata
	}
	r.notify(ctx, Notification{Kind: EventChannelUpdated, ChannelID: channelID, Updates: updates})
	return ch, nil
}

// RemoveParticipant drops participantID from the channel and announces the
// new participant list.
func (r *Relay) RemoveParticipant(ctx context.Context, channelID, participantID string) (*models.Channel, error) {
	if !ids.Valid(channelID) || !ids.Valid(participantID) {
		return nil, apperr.Validation("Invalid channelId or agentId format")
	}
	ch, err := r.reg.RemoveParticipant(ctx, channelID, participantID)
	if err != nil {
		return nil, err
	}
	r.notify(ctx, Notification{Kind: EventChannelUpdated, ChannelID: channelID, Updates: map[string]any{
		"participantCentralUserIds": ch.ParticipantIDs,
	}})
	return ch, nil
}
