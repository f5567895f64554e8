package api

import (
	"github.com/valyala/fasthttp"

	"agentrelay/pkg/apperr"
	"agentrelay/pkg/ids"
	"agentrelay/pkg/models"
	"agentrelay/pkg/registry"
)

func (s *Server) listServerChannels(ctx *fasthttp.RequestCtx) {
	serverID := pathParam(ctx, "serverId")
	if !ids.ValidServer(serverID) {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid serverId format")
		return
	}
	list, err := s.Registry.ListChannels(ctx, serverID)
	if err != nil {
		s.writeError(ctx, err, "Failed to fetch channels")
		return
	}
	writeData(ctx, fasthttp.StatusOK, map[string]any{"channels": list})
}

type createChannelRequest struct {
	MessageServerID string             `json:"messageServerId"`
	Name            string             `json:"name"`
	Type            models.ChannelType `json:"type"`
	SourceType      string             `json:"sourceType"`
	SourceID        string             `json:"sourceId"`
	Topic           string             `json:"topic"`
	Metadata        map[string]any     `json:"metadata"`
	ParticipantIDs  []string           `json:"participantCentralUserIds"`
}

func (s *Server) createChannel(ctx *fasthttp.RequestCtx) {
	var req createChannelRequest
	if err := decodeBody(ctx, &req); err != nil {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
		return
	}
	ch, err := s.Registry.CreateChannel(ctx, registry.CreateRequest{
		ServerID:   req.MessageServerID,
		Name:       req.Name,
		Type:       req.Type,
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		Topic:      req.Topic,
		Metadata:   req.Metadata,
	}, req.ParticipantIDs)
	if err != nil {
		s.writeError(ctx, err, "Failed to create channel")
		return
	}
	writeData(ctx, fasthttp.StatusCreated, map[string]any{"channel": ch})
}

type createGroupChannelRequest struct {
	Name           string             `json:"name"`
	ParticipantIDs []string           `json:"participantCentralUserIds"`
	Type           models.ChannelType `json:"type"`
	ServerID       string             `json:"server_id"`
	Metadata       map[string]any     `json:"metadata"`
}

func (s *Server) createGroupChannel(ctx *fasthttp.RequestCtx) {
	var req createGroupChannelRequest
	if err := decodeBody(ctx, &req); err != nil {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" || req.ServerID == "" || len(req.ParticipantIDs) == 0 {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid payload. Required: name, server_id, participantCentralUserIds (array of UUIDs).")
		return
	}
	if req.Type == "" {
		req.Type = models.ChannelTypeGroup
	}
	ch, err := s.Registry.CreateChannel(ctx, registry.CreateRequest{
		ServerID: req.ServerID,
		Name:     req.Name,
		Type:     req.Type,
		Metadata: req.Metadata,
	}, req.ParticipantIDs)
	if err != nil {
		s.writeError(ctx, err, "Failed to create group channel")
		return
	}
	writeData(ctx, fasthttp.StatusCreated, ch)
}

func (s *Server) resolveDMChannel(ctx *fasthttp.RequestCtx) {
	target := query(ctx, "targetUserId")
	current := query(ctx, "currentUserId")
	if target == "" || current == "" {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Missing targetUserId or currentUserId")
		return
	}
	ch, err := s.DM.Resolve(ctx, current, target, query(ctx, "dmServerId"))
	if err != nil {
		s.writeError(ctx, err, "Failed to find or create DM channel")
		return
	}
	writeData(ctx, fasthttp.StatusOK, ch)
}

func (s *Server) channelDetails(ctx *fasthttp.RequestCtx) {
	channelID := pathParam(ctx, "channelId")
	if !ids.Valid(channelID) {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid channelId")
		return
	}
	ch, err := s.Registry.GetChannel(ctx, channelID)
	if err != nil {
		s.writeError(ctx, err, "Failed to fetch channel details")
		return
	}
	writeData(ctx, fasthttp.StatusOK, ch)
}

func (s *Server) channelParticipants(ctx *fasthttp.RequestCtx) {
	channelID := pathParam(ctx, "channelId")
	if !ids.Valid(channelID) {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid channelId")
		return
	}
	list, err := s.Registry.GetParticipants(ctx, channelID)
	if err != nil {
		s.writeError(ctx, err, "Failed to fetch channel participants")
		return
	}
	writeData(ctx, fasthttp.StatusOK, list)
}

type updateChannelRequest struct {
	Name           *string        `json:"name"`
	ParticipantIDs []string       `json:"participantCentralUserIds"`
	Metadata       map[string]any `json:"metadata"`
}

func (s *Server) updateChannel(ctx *fasthttp.RequestCtx) {
	var req updateChannelRequest
	if err := decodeBody(ctx, &req); err != nil {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
		return
	}
	patch := models.ChannelPatch{Name: req.Name, ParticipantIDs: req.ParticipantIDs, Metadata: req.Metadata}
	if patch.Empty() {
		writeMessage(ctx, fasthttp.StatusBadRequest, "No updates provided")
		return
	}
	ch, err := s.Relay.UpdateChannel(ctx, pathParam(ctx, "channelId"), patch)
	if err != nil {
		s.writeError(ctx, err, "Failed to update channel")
		return
	}
	writeData(ctx, fasthttp.StatusOK, ch)
}

func (s *Server) deleteChannel(ctx *fasthttp.RequestCtx) {
	if err := s.Relay.DeleteChannel(ctx, pathParam(ctx, "channelId")); err != nil {
		s.writeError(ctx, err, "Failed to delete channel")
		return
	}
	writeNoContent(ctx)
}

type addAgentRequest struct {
	AgentID string `json:"agentId"`
}

func (s *Server) addAgent(ctx *fasthttp.RequestCtx) {
	channelID := pathParam(ctx, "channelId")
	var req addAgentRequest
	if err := decodeBody(ctx, &req); err != nil {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !ids.Valid(channelID) || !ids.Valid(req.AgentID) {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid channelId or agentId format")
		return
	}
	if _, err := s.Registry.GetChannel(ctx, channelID); err != nil {
		s.writeError(ctx, err, "Failed to add agent to channel")
		return
	}
	if err := s.Registry.AddParticipants(ctx, channelID, []string{req.AgentID}); err != nil {
		s.writeError(ctx, err, "Failed to add agent to channel")
		return
	}
	s.log.Info("agent_added_to_channel", "channel_id", channelID, "agent_id", req.AgentID)
	writeData(ctx, fasthttp.StatusCreated, map[string]any{
		"channelId": channelID,
		"agentId":   req.AgentID,
		"message":   "Agent added to channel successfully",
	})
}

func (s *Server) removeAgent(ctx *fasthttp.RequestCtx) {
	channelID := pathParam(ctx, "channelId")
	agentID := pathParam(ctx, "agentId")
	if !ids.Valid(channelID) || !ids.Valid(agentID) {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid channelId or agentId format")
		return
	}
	if _, err := s.Relay.RemoveParticipant(ctx, channelID, agentID); err != nil {
		s.writeError(ctx, err, "Failed to remove agent from channel")
		return
	}
	s.log.Info("agent_removed_from_channel", "channel_id", channelID, "agent_id", agentID)
	writeData(ctx, fasthttp.StatusOK, map[string]any{
		"channelId": channelID,
		"agentId":   agentID,
		"message":   "Agent removed from channel successfully",
	})
}

func (s *Server) listAgents(ctx *fasthttp.RequestCtx) {
	channelID := pathParam(ctx, "channelId")
	if !ids.Valid(channelID) {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid channelId format")
		return
	}
	participants, err := s.Registry.GetParticipants(ctx, channelID)
	if err != nil {
		s.writeError(ctx, err, "Failed to fetch channel agents")
		return
	}
	writeData(ctx, fasthttp.StatusOK, map[string]any{
		"channelId":    channelID,
		"participants": s.Agents.Filter(participants),
	})
}

type generateTitleRequest struct {
	AgentID string `json:"agentId"`
}

func (s *Server) generateTitle(ctx *fasthttp.RequestCtx) {
	var req generateTitleRequest
	if err := decodeBody(ctx, &req); err != nil {
		writeMessage(ctx, fasthttp.StatusBadRequest, "Invalid JSON body")
		return
	}
	channelID := pathParam(ctx, "channelId")
	if !ids.Valid(channelID) {
		s.writeError(ctx, apperr.Validation("Invalid channel ID format"), "")
		return
	}
	res, err := s.Titles.Generate(ctx, channelID, req.AgentID, queryInt(ctx, "limit", 0), queryInt64(ctx, "before"))
	if err != nil {
		s.writeError(ctx, err, "Failed to summarize channel")
		return
	}
	writeData(ctx, fasthttp.StatusOK, res)
}
