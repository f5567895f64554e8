package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"agentrelay/pkg/ids"
	"agentrelay/pkg/models"
)

// MemoryStore keeps everything in process maps. It is used by tests and by
// deployments that do not need the relay to survive restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	servers  map[string]models.Server
	channels map[string]*models.Channel
	// messages per channel, in insertion order
	messages map[string][]models.Message
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		servers:  make(map[string]models.Server),
		channels: make(map[string]*models.Channel),
		messages: make(map[string][]models.Message),
		now:      time.Now,
	}
	srv := defaultServer(s.nowMs())
	s.servers[srv.ID] = srv
	return s
}

func (s *MemoryStore) nowMs() int64 { return s.now().UnixMilli() }

func (s *MemoryStore) ListServers(_ context.Context) ([]models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Server, 0, len(s.servers))
	for _, srv := range s.servers {
		out = append(out, srv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *MemoryStore) GetServer(_ context.Context, id string) (*models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.servers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &srv, nil
}

func (s *MemoryStore) CreateServer(_ context.Context, srv models.Server) (*models.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if srv.ID == "" {
		srv.ID = ids.New()
	}
	if _, ok := s.servers[srv.ID]; ok {
		return nil, ErrAlreadyExists
	}
	if srv.CreatedAt == 0 {
		srv.CreatedAt = s.nowMs()
	}
	s.servers[srv.ID] = srv
	return &srv, nil
}

func (s *MemoryStore) GetChannel(_ context.Context, id string) (*models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ch.Clone(), nil
}

func (s *MemoryStore) CreateChannel(_ context.Context, ch models.Channel) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch.ID == "" {
		ch.ID = ids.New()
	}
	if _, ok := s.channels[ch.ID]; ok {
		return nil, ErrAlreadyExists
	}
	if _, ok := s.servers[ch.ServerID]; !ok {
		return nil, ErrNotFound
	}
	ch.ParticipantIDs = models.MergeParticipants(nil, ch.ParticipantIDs...)
	if s.dmTaken(&ch) {
		return nil, ErrDMExists
	}
	now := s.nowMs()
	if ch.CreatedAt == 0 {
		ch.CreatedAt = now
	}
	ch.UpdatedAt = now
	stored := ch.Clone()
	s.channels[ch.ID] = stored
	return stored.Clone(), nil
}

func (s *MemoryStore) ListChannels(_ context.Context, serverID string) ([]models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Channel{}
	for _, ch := range s.channels {
		if ch.ServerID == serverID {
			out = append(out, *ch.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out, nil
}

func (s *MemoryStore) UpdateChannel(_ context.Context, id string, patch models.ChannelPatch) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return nil, ErrNotFound
	}
	applyPatch(ch, patch, s.nowMs())
	return ch.Clone(), nil
}

func (s *MemoryStore) DeleteChannel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; !ok {
		return ErrNotFound
	}
	delete(s.channels, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) FindDMChannel(_ context.Context, serverID, a, b string) (*models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Channel
	for _, ch := range s.channels {
		if ch.ServerID != serverID || !isPair(ch, a, b) {
			continue
		}
		// oldest wins if duplicates were ever written
		if found == nil || ch.CreatedAt < found.CreatedAt {
			found = ch
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found.Clone(), nil
}

// dmTaken reports whether ch's pair already has a DM. Callers hold s.mu.
func (s *MemoryStore) dmTaken(ch *models.Channel) bool {
	if ch.Type != models.ChannelTypeDM || len(ch.ParticipantIDs) != 2 {
		return false
	}
	a, b := ch.ParticipantIDs[0], ch.ParticipantIDs[1]
	for _, other := range s.channels {
		if other.ServerID == ch.ServerID && isPair(other, a, b) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) GetParticipants(_ context.Context, channelID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string{}, ch.ParticipantIDs...), nil
}

func (s *MemoryStore) AddParticipants(_ context.Context, channelID string, list []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	ch.ParticipantIDs = models.MergeParticipants(ch.ParticipantIDs, list...)
	ch.UpdatedAt = s.nowMs()
	return nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, m models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[m.ChannelID]; !ok {
		return nil, ErrNotFound
	}
	if m.ID == "" {
		m.ID = ids.New()
	}
	now := s.nowMs()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = m.CreatedAt
	}
	s.messages[m.ChannelID] = append(s.messages[m.ChannelID], m)
	return &m, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, channelID string, limit int, before int64) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[channelID]
	out := []models.Message{}
	// newest first; ties keep reverse insertion order
	for i := len(list) - 1; i >= 0; i-- {
		if before > 0 && list[i].CreatedAt >= before {
			continue
		}
		out = append(out, list[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, channelID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[channelID]
	for i, m := range list {
		if m.ID == messageID {
			s.messages[channelID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) ClearMessages(_ context.Context, channelID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.messages[channelID])
	delete(s.messages, channelID)
	return n, nil
}

func (s *MemoryStore) PurgeMessagesBefore(_ context.Context, cutoff int64, dryRun bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for chID, list := range s.messages {
		kept := list[:0:0]
		for _, m := range list {
			if m.CreatedAt < cutoff {
				purged++
				continue
			}
			kept = append(kept, m)
		}
		if !dryRun {
			s.messages[chID] = kept
		}
	}
	return purged, nil
}

func (s *MemoryStore) Close() error { return nil }
