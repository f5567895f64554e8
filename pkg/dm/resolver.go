// Package dm resolves the single direct-message channel of a user pair.
package dm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"agentrelay/pkg/apperr"
	"agentrelay/pkg/ids"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/models"
	"agentrelay/pkg/registry"
	"agentrelay/pkg/store"
)

type Resolver struct {
	reg *registry.Registry
	log *slog.Logger
}

func NewResolver(reg *registry.Registry, log *slog.Logger) *Resolver {
	return &Resolver{reg: reg, log: logger.Or(log)}
}

// Resolve returns the DM channel between userA and userB on serverID,
// creating it on first contact. Both argument orders yield the same channel.
// An unknown serverID falls back to the default server.
func (r *Resolver) Resolve(ctx context.Context, userA, userB, serverID string) (*models.Channel, error) {
	if userA == "" || userB == "" {
		return nil, apperr.Validation("Missing targetUserId or currentUserId")
	}
	if !ids.Valid(userA) || !ids.Valid(userB) {
		return nil, apperr.Validation("Invalid user ID format")
	}
	userA, userB = ids.Canonical(userA), ids.Canonical(userB)
	if userA == userB {
		return nil, apperr.InvalidRequest("Cannot create DM channel with oneself")
	}
	if serverID == "" {
		serverID = ids.DefaultServerID
	}
	if !ids.ValidServer(serverID) {
		return nil, apperr.Validation("Invalid dmServerId format")
	}

	st := r.reg.Store()
	if _, err := st.GetServer(ctx, serverID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Store("get server", err)
		}
		r.log.Warn("dm_server_fallback", "requested", serverID, "server_id", ids.DefaultServerID)
		serverID = ids.DefaultServerID
	}

	if ch, err := st.FindDMChannel(ctx, serverID, userA, userB); err == nil {
		return ch, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Store("find dm channel", err)
	}

	chID := ids.DMChannelID(serverID, userA, userB)
	ch, created, err := r.reg.EnsureChannel(ctx, chID, serverID, registry.Hint{
		Name:           fmt.Sprintf("DM %s-%s", userA[:8], userB[:8]),
		Type:           models.ChannelTypeDM,
		SourceType:     "dm",
		ParticipantIDs: []string{userA, userB},
		Metadata: map[string]any{
			"user1": userA,
			"user2": userB,
		},
		KeepDM: true,
	})
	if errors.Is(err, store.ErrDMExists) {
		// another channel became the pair's DM in between
		if ch, ferr := st.FindDMChannel(ctx, serverID, userA, userB); ferr == nil {
			return ch, nil
		}
	}
	if err != nil {
		return nil, err
	}
	if created {
		r.log.Info("dm_channel_created", "channel_id", ch.ID, "server_id", serverID)
	}
	return ch, nil
}
