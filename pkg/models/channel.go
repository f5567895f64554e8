package models

// ChannelType is either DM or GROUP.
type ChannelType string

const (
	ChannelTypeDM    ChannelType = "DM"
	ChannelTypeGroup ChannelType = "GROUP"
)

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool {
	return t == ChannelTypeDM || t == ChannelTypeGroup
}

type Server struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	SourceType string         `json:"source_type,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  int64          `json:"created_at"`
}

type Channel struct {
	ID         string         `json:"id"`
	ServerID   string         `json:"server_id"`
	Name       string         `json:"name"`
	Type       ChannelType    `json:"type"`
	SourceType string         `json:"source_type,omitempty"`
	SourceID   string         `json:"source_id,omitempty"`
	Topic      string         `json:"topic,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	// ParticipantIDs is kept as an ordered set; duplicates are never stored.
	ParticipantIDs []string `json:"participant_ids"`
	// CreatedAt and UpdatedAt are epoch milliseconds
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// ChannelPatch is a partial channel update; nil fields are left untouched.
type ChannelPatch struct {
	Name           *string        `json:"name,omitempty"`
	ParticipantIDs []string       `json:"participant_ids,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ChannelPatch) Empty() bool {
	return p.Name == nil && p.ParticipantIDs == nil && p.Metadata == nil
}

// Clone returns a deep enough copy for callers to mutate safely.
func (c *Channel) Clone() *Channel {
	if c == nil {
		return nil
	}
	out := *c
	out.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// MergeParticipants appends ids not already present, preserving order.
func MergeParticipants(existing []string, add ...string) []string {
	seen := make(map[string]struct{}, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, list := range [][]string{existing, add} {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
