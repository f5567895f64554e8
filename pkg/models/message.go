package models

import "encoding/json"

type Message struct {
	ID                 string          `json:"id"`
	ChannelID          string          `json:"channel_id"`
	AuthorID           string          `json:"author_id"`
	Content            string          `json:"content"`
	RawMessage         json.RawMessage `json:"raw_message,omitempty"`
	SourceType         string          `json:"source_type,omitempty"`
	SourceID           string          `json:"source_id,omitempty"`
	InReplyToMessageID string          `json:"in_reply_to_message_id,omitempty"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	// epoch milliseconds
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// BusMessage is the normalized payload handed to the bus and socket sinks
// after a message is persisted.
type BusMessage struct {
	ID                 string          `json:"id"`
	ChannelID          string          `json:"channel_id"`
	ServerID           string          `json:"server_id"`
	AuthorID           string          `json:"author_id"`
	AuthorDisplayName  string          `json:"author_display_name,omitempty"`
	Content            string          `json:"content"`
	RawMessage         json.RawMessage `json:"raw_message,omitempty"`
	SourceType         string          `json:"source_type,omitempty"`
	SourceID           string          `json:"source_id,omitempty"`
	InReplyToMessageID string          `json:"in_reply_to_message_id,omitempty"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	CreatedAt          int64           `json:"created_at"`
}

// MessageDeleted is published when a single message is removed.
type MessageDeleted struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

// ChannelCleared is published once per clear or delete of a channel.
type ChannelCleared struct {
	ChannelID string `json:"channel_id"`
	Deleted   bool   `json:"deleted,omitempty"`
}
