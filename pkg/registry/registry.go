// Package registry enforces channel identity and participant invariants on
// top of a ChannelStore.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"agentrelay/pkg/apperr"
	"agentrelay/pkg/ids"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/models"
	"agentrelay/pkg/store"
	"agentrelay/pkg/telemetry"
)

// Hint describes the channel to create when EnsureChannel finds none.
type Hint struct {
	Name           string
	Type           models.ChannelType
	SourceType     string
	Metadata       map[string]any
	ParticipantIDs []string
	// KeepDM fails the call instead of downgrading the channel to GROUP
	// when the pair already has a DM.
	KeepDM bool
}

// CreateRequest is an explicit channel creation request.
type CreateRequest struct {
	ID         string
	ServerID   string
	Name       string
	Type       models.ChannelType
	SourceType string
	SourceID   string
	Topic      string
	Metadata   map[string]any
}

type Registry struct {
	store store.ChannelStore
	log   *slog.Logger
	now   func() time.Time
}

func New(s store.ChannelStore, log *slog.Logger) *Registry {
	return &Registry{store: s, log: logger.Or(log), now: time.Now}
}

// Store exposes the underlying store for read paths that need no invariants.
func (r *Registry) Store() store.ChannelStore { return r.store }

func storeErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("%s: not found", op)
	}
	return apperr.Store(op, err)
}

// EnsureChannel returns the channel with channelID, creating it from hint
// under that id when absent. A lost creation race resolves to the winner.
// A DM hint for a pair that already has a DM creates a GROUP channel unless
// hint.KeepDM is set.
func (r *Registry) EnsureChannel(ctx context.Context, channelID, serverID string, hint Hint) (*models.Channel, bool, error) {
	if ch, err := r.store.GetChannel(ctx, channelID); err == nil {
		return ch, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, apperr.Store("get channel", err)
	}

	if _, err := r.store.GetServer(ctx, serverID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, apperr.InvalidRequest("server %s not found", serverID)
		}
		return nil, false, apperr.Store("get server", err)
	}

	typ := hint.Type
	if !typ.Valid() {
		typ = models.ChannelTypeGroup
	}
	ch, err := r.store.CreateChannel(ctx, models.Channel{
		ID:             channelID,
		ServerID:       serverID,
		Name:           hint.Name,
		Type:           typ,
		SourceType:     hint.SourceType,
		Metadata:       hint.Metadata,
		ParticipantIDs: hint.ParticipantIDs,
	})
	switch {
	case err == nil:
		telemetry.ChannelsAutoCreated.Inc()
		r.log.Info("channel_auto_created", "channel_id", channelID, "server_id", serverID, "type", typ)
		return ch, true, nil
	case errors.Is(err, store.ErrDMExists):
		if hint.KeepDM {
			return nil, false, dmExists(err)
		}
		r.log.Info("channel_dm_downgraded", "channel_id", channelID, "server_id", serverID)
		return r.EnsureChannel(ctx, channelID, serverID, asGroup(hint))
	case errors.Is(err, store.ErrAlreadyExists):
		r.log.Debug("channel_create_race_lost", "channel_id", channelID)
		ch, gerr := r.store.GetChannel(ctx, channelID)
		if gerr != nil {
			return nil, false, apperr.Store("get channel", gerr)
		}
		return ch, false, nil
	default:
		return nil, false, storeErr("create channel", err)
	}
}

func dmExists(err error) error {
	return apperr.Wrap(apperr.KindInvalidRequest, err, "DM channel already exists for these participants")
}

func asGroup(h Hint) Hint {
	h.Type = models.ChannelTypeGroup
	meta := make(map[string]any, len(h.Metadata))
	for k, v := range h.Metadata {
		meta[k] = v
	}
	meta["channel_type"] = string(models.ChannelTypeGroup)
	h.Metadata = meta
	return h
}

// CreateChannel validates req and creates the channel with the given
// participants. An empty req.ID gets a fresh id.
func (r *Registry) CreateChannel(ctx context.Context, req CreateRequest, participantIDs []string) (*models.Channel, error) {
	if req.ServerID == "" || req.Name == "" || req.Type == "" {
		return nil, apperr.Validation("Missing required fields: messageServerId, name, type")
	}
	if !ids.ValidServer(req.ServerID) {
		return nil, apperr.Validation("Invalid messageServerId format")
	}
	if !req.Type.Valid() {
		return nil, apperr.Validation("Invalid channel type: %s", req.Type)
	}
	if !ids.AllValid(participantIDs) {
		return nil, apperr.Validation("Invalid participant ID format")
	}
	if req.ID == "" {
		req.ID = ids.New()
	} else if !ids.Valid(req.ID) {
		return nil, apperr.Validation("Invalid channel ID format")
	}

	ch, err := r.store.CreateChannel(ctx, models.Channel{
		ID:             req.ID,
		ServerID:       req.ServerID,
		Name:           req.Name,
		Type:           req.Type,
		SourceType:     req.SourceType,
		SourceID:       req.SourceID,
		Topic:          req.Topic,
		Metadata:       req.Metadata,
		ParticipantIDs: participantIDs,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			return nil, apperr.InvalidRequest("channel %s already exists", req.ID)
		case errors.Is(err, store.ErrDMExists):
			return nil, dmExists(err)
		case errors.Is(err, store.ErrNotFound):
			return nil, apperr.InvalidRequest("server %s not found", req.ServerID)
		}
		return nil, apperr.Store("create channel", err)
	}
	r.log.Info("channel_created", "channel_id", ch.ID, "server_id", ch.ServerID, "type", ch.Type)
	return ch, nil
}

func (r *Registry) GetChannel(ctx context.Context, channelID string) (*models.Channel, error) {
	ch, err := r.store.GetChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("Channel not found")
		}
		return nil, apperr.Store("get channel", err)
	}
	return ch, nil
}

func (r *Registry) ListChannels(ctx context.Context, serverID string) ([]models.Channel, error) {
	list, err := r.store.ListChannels(ctx, serverID)
	if err != nil {
		return nil, apperr.Store("list channels", err)
	}
	return list, nil
}

func (r *Registry) UpdateChannel(ctx context.Context, channelID string, patch models.ChannelPatch) (*models.Channel, error) {
	if patch.ParticipantIDs != nil && !ids.AllValid(patch.ParticipantIDs) {
		return nil, apperr.Validation("Invalid participant ID format")
	}
	ch, err := r.store.UpdateChannel(ctx, channelID, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("Channel not found")
		}
		return nil, apperr.Store("update channel", err)
	}
	return ch, nil
}

// ClearMessages removes every message of the channel and returns how many
// were removed.
func (r *Registry) ClearMessages(ctx context.Context, channelID string) (int, error) {
	n, err := r.store.ClearMessages(ctx, channelID)
	if err != nil {
		return 0, apperr.Store("clear messages", err)
	}
	return n, nil
}

// DeleteChannel removes the channel messages and then the channel itself.
func (r *Registry) DeleteChannel(ctx context.Context, channelID string) error {
	if _, err := r.store.ClearMessages(ctx, channelID); err != nil {
		return apperr.Store("clear messages", err)
	}
	if err := r.store.DeleteChannel(ctx, channelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Channel not found")
		}
		return apperr.Store("delete channel", err)
	}
	r.log.Info("channel_deleted", "channel_id", channelID)
	return nil
}

func (r *Registry) GetParticipants(ctx context.Context, channelID string) ([]string, error) {
	list, err := r.store.GetParticipants(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("Channel not found")
		}
		return nil, apperr.Store("get participants", err)
	}
	return list, nil
}

func (r *Registry) AddParticipants(ctx context.Context, channelID string, participantIDs []string) error {
	if !ids.AllValid(participantIDs) {
		return apperr.Validation("Invalid participant ID format")
	}
	if err := r.store.AddParticipants(ctx, channelID, participantIDs); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Channel not found")
		}
		return apperr.Store("add participants", err)
	}
	return nil
}

// RemoveParticipant filters id out of the participant list and writes the
// result back. It fails with NotFound when id is not a participant.
func (r *Registry) RemoveParticipant(ctx context.Context, channelID, participantID string) (*models.Channel, error) {
	current, err := r.GetParticipants(ctx, channelID)
	if err != nil {
		return nil, err
	}
	kept := make([]string, 0, len(current))
	found := false
	for _, p := range current {
		if p == participantID {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return nil, apperr.NotFound("Agent %s is not a participant in channel %s", participantID, channelID)
	}
	return r.UpdateChannel(ctx, channelID, models.ChannelPatch{ParticipantIDs: kept})
}
