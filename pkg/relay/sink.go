package relay

import (
	"context"

	"agentrelay/pkg/bus"
	"agentrelay/pkg/models"
	"agentrelay/pkg/realtime"
)

type EventKind string

const (
	EventNewMessage     EventKind = "new_message"
	EventMessageDeleted EventKind = "message_deleted"
	EventChannelCleared EventKind = "channel_cleared"
	EventChannelUpdated EventKind = "channel_updated"
)

// Notification is one state change handed to every sink after the store
// accepted it.
type Notification struct {
	Kind      EventKind
	ChannelID string
	Message   *models.BusMessage
	MessageID string
	Deleted   bool
	Updates   map[string]any
	// AgentReply marks messages that came back from an agent; they are not
	// re-published to the agents.
	AgentReply bool
}

// Sink receives notifications in the order the relay was configured with.
// A reliable delivery adapter (outbox) plugs in here.
type Sink interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// BusSink forwards message lifecycle events to the internal bus.
type BusSink struct {
	Bus *bus.Bus
}

func (BusSink) Name() string { return "bus" }

func (s BusSink) Notify(ctx context.Context, n Notification) error {
	switch n.Kind {
	case EventNewMessage:
		if n.AgentReply {
			return nil
		}
		return s.Bus.Publish(ctx, bus.TopicNewMessage, *n.Message)
	case EventMessageDeleted:
		return s.Bus.Publish(ctx, bus.TopicMessageDeleted, models.MessageDeleted{
			MessageID: n.MessageID,
			ChannelID: n.ChannelID,
		})
	case EventChannelCleared:
		return s.Bus.Publish(ctx, bus.TopicChannelCleared, models.ChannelCleared{
			ChannelID: n.ChannelID,
			Deleted:   n.Deleted,
		})
	}
	return nil
}

// SocketSink emits UI events into the channel room.
type SocketSink struct {
	Broadcaster realtime.Broadcaster
}

func (SocketSink) Name() string { return "socket" }

func (s SocketSink) Notify(_ context.Context, n Notification) error {
	switch n.Kind {
	case EventNewMessage:
		return s.Broadcaster.Emit(n.ChannelID, realtime.EventMessageBroadcast, broadcastPayload(n.Message))
	case EventMessageDeleted:
		return s.Broadcaster.Emit(n.ChannelID, realtime.EventMessageDeleted, map[string]any{
			"messageId": n.MessageID,
			"channelId": n.ChannelID,
		})
	case EventChannelCleared:
		payload := map[string]any{"channelId": n.ChannelID}
		if n.Deleted {
			payload["deleted"] = true
		}
		return s.Broadcaster.Emit(n.ChannelID, realtime.EventChannelCleared, payload)
	case EventChannelUpdated:
		return s.Broadcaster.Emit(n.ChannelID, realtime.EventChannelUpdated, map[string]any{
			"channelId": n.ChannelID,
			"updates":   n.Updates,
		})
	}
	return nil
}

func broadcastPayload(m *models.BusMessage) map[string]any {
	sender := m.AuthorDisplayName
	if sender == "" {
		sender = "User"
	}
	source := m.SourceType
	if source == "" {
		source = "api"
	}
	p := map[string]any{
		"id":         m.ID,
		"senderId":   m.AuthorID,
		"senderName": sender,
		"text":       m.Content,
		"roomId":     m.ChannelID,
		"serverId":   m.ServerID,
		"createdAt":  m.CreatedAt,
		"source":     source,
	}
	if m.InReplyToMessageID != "" {
		p["inReplyTo"] = m.InReplyToMessageID
	}
	if thought, ok := m.Metadata["thought"]; ok {
		p["thought"] = thought
	}
	if actions, ok := m.Metadata["actions"]; ok {
		p["actions"] = actions
	}
	return p
}
