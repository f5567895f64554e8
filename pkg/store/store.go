package store

import (
	"context"
	"errors"
	"strings"

	"agentrelay/pkg/ids"
	"agentrelay/pkg/models"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrClosed        = errors.New("store: closed")
	// ErrDMExists is returned when a DM channel is created for a pair that
	// already has one on the same server.
	ErrDMExists = errors.New("store: dm channel exists for pair")
)

// DefaultServerName is the display name of the seeded sentinel server.
const DefaultServerName = "Default Server"

// ChannelStore is the system of record for servers, channels, participants
// and messages. Every call is durable and consistent on return.
type ChannelStore interface {
	ListServers(ctx context.Context) ([]models.Server, error)
	GetServer(ctx context.Context, id string) (*models.Server, error)
	CreateServer(ctx context.Context, s models.Server) (*models.Server, error)

	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	// CreateChannel stores ch under its caller supplied id and returns
	// ErrAlreadyExists when that id is taken. A DM for a pair that already
	// has one fails with ErrDMExists.
	CreateChannel(ctx context.Context, ch models.Channel) (*models.Channel, error)
	ListChannels(ctx context.Context, serverID string) ([]models.Channel, error)
	UpdateChannel(ctx context.Context, id string, patch models.ChannelPatch) (*models.Channel, error)
	DeleteChannel(ctx context.Context, id string) error
	// FindDMChannel returns the DM channel on serverID whose participants are
	// exactly the unordered pair (a, b).
	FindDMChannel(ctx context.Context, serverID, a, b string) (*models.Channel, error)

	GetParticipants(ctx context.Context, channelID string) ([]string, error)
	AddParticipants(ctx context.Context, channelID string, ids []string) error

	// CreateMessage fails with ErrNotFound when the channel does not exist.
	CreateMessage(ctx context.Context, m models.Message) (*models.Message, error)
	// ListMessages returns up to limit messages created strictly before
	// before (epoch ms, 0 for no bound), newest first.
	ListMessages(ctx context.Context, channelID string, limit int, before int64) ([]models.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	ClearMessages(ctx context.Context, channelID string) (int, error)
	// PurgeMessagesBefore removes every message created before cutoff. With
	// dryRun it only counts.
	PurgeMessagesBefore(ctx context.Context, cutoff int64, dryRun bool) (int, error)

	Close() error
}

func defaultServer(now int64) models.Server {
	return models.Server{
		ID:         ids.DefaultServerID,
		Name:       DefaultServerName,
		SourceType: "agentrelay_default",
		CreatedAt:  now,
	}
}

// applyPatch mutates ch with the non-nil fields of patch.
func applyPatch(ch *models.Channel, patch models.ChannelPatch, now int64) {
	if patch.Name != nil {
		ch.Name = *patch.Name
	}
	if patch.ParticipantIDs != nil {
		ch.ParticipantIDs = models.MergeParticipants(nil, patch.ParticipantIDs...)
	}
	if patch.Metadata != nil {
		if ch.Metadata == nil {
			ch.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			ch.Metadata[k] = v
		}
	}
	ch.UpdatedAt = now
}

func isPair(ch *models.Channel, a, b string) bool {
	if ch.Type != models.ChannelTypeDM || len(ch.ParticipantIDs) != 2 {
		return false
	}
	p0, p1 := ch.ParticipantIDs[0], ch.ParticipantIDs[1]
	return (strings.EqualFold(p0, a) && strings.EqualFold(p1, b)) ||
		(strings.EqualFold(p0, b) && strings.EqualFold(p1, a))
}
