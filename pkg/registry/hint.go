package registry

import (
	"fmt"
	"strings"
	"time"

	"agentrelay/pkg/ids"
	"agentrelay/pkg/models"
)

const (
	SourceAutoCreated = "auto_created"
	createdByAuto     = "gui_auto_creation"
)

// IsDM reads the DM flags of free-form message metadata. isDm wins, then
// channelType, then channel_type; any of them marking DM is enough.
func IsDM(metadata map[string]any) bool {
	if v, ok := metadata["isDm"].(bool); ok && v {
		return true
	}
	for _, k := range []string{"channelType", "channel_type"} {
		if v, ok := metadata[k].(string); ok && v == string(models.ChannelTypeDM) {
			return true
		}
	}
	return false
}

// HintFromMetadata derives the auto-create hint for a first message.
func HintFromMetadata(channelID, authorID string, metadata map[string]any, now time.Time) Hint {
	dm := IsDM(metadata)
	short := channelID
	if len(short) > 8 {
		short = short[:8]
	}
	h := Hint{
		Name:           fmt.Sprintf("Chat %s", short),
		Type:           models.ChannelTypeGroup,
		SourceType:     SourceAutoCreated,
		ParticipantIDs: []string{authorID},
	}
	if dm {
		h.Name = fmt.Sprintf("DM %s", short)
		h.Type = models.ChannelTypeDM
		for _, k := range []string{"targetUserId", "recipientId"} {
			if v, ok := metadata[k].(string); ok && ids.Valid(v) && !strings.EqualFold(v, authorID) {
				h.ParticipantIDs = append(h.ParticipantIDs, v)
				break
			}
		}
	}

	meta := map[string]any{
		"created_by":       createdByAuto,
		"created_for_user": authorID,
		"created_at":       now.UTC().Format(time.RFC3339),
		"channel_type":     string(h.Type),
	}
	for k, v := range metadata {
		meta[k] = v
	}
	h.Metadata = meta
	return h
}
