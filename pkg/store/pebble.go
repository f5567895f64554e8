package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"agentrelay/pkg/ids"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/models"
)

// PebbleStore persists the relay state in a single pebble database.
type PebbleStore struct {
	db   *pebble.DB
	path string
	log  *slog.Logger

	// small counter to avoid key collisions on equal millisecond timestamps
	seq uint64

	locksMu      sync.Mutex
	channelLocks map[string]*sync.Mutex
	createMu     sync.Mutex

	now func() time.Time
}

// OpenPebble opens or creates the database at path and seeds the default server.
func OpenPebble(path string, log *slog.Logger) (*PebbleStore, error) {
	log = logger.Or(log)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	s := &PebbleStore{
		db:           db,
		path:         path,
		log:          log,
		channelLocks: make(map[string]*sync.Mutex),
		now:          time.Now,
	}
	s.seq = uint64(s.now().UnixNano())
	if _, err := s.GetServer(context.Background(), ids.DefaultServerID); errors.Is(err, ErrNotFound) {
		if err := s.putJSON(GenServerKey(ids.DefaultServerID), defaultServer(s.nowMs())); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("seed default server: %w", err)
		}
	} else if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("pebble_opened", "path", path)
	return s, nil
}

// returns mutex for given channel (creates if needed)
func (s *PebbleStore) channelLock(channelID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if l, ok := s.channelLocks[channelID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.channelLocks[channelID] = l
	return l
}

func (s *PebbleStore) nowMs() int64 { return s.now().UnixMilli() }

func (s *PebbleStore) nextSeq() uint64 { return atomic.AddUint64(&s.seq, 1) }

// Ready reports whether the database is open.
func (s *PebbleStore) Ready() bool { return s != nil && s.db != nil }

func (s *PebbleStore) getJSON(key string, out any) error {
	if s.db == nil {
		return ErrClosed
	}
	v, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	return json.Unmarshal(v, out)
}

func (s *PebbleStore) putJSON(key string, v any) error {
	if s.db == nil {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Set([]byte(key), data, pebble.Sync)
}

func (s *PebbleStore) scanPrefix(prefix string, fn func(key, value []byte) error) error {
	if s.db == nil {
		return ErrClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleStore) ListServers(_ context.Context) ([]models.Server, error) {
	out := []models.Server{}
	err := s.scanPrefix("srv:", func(_, v []byte) error {
		var srv models.Server
		if err := json.Unmarshal(v, &srv); err != nil {
			return err
		}
		out = append(out, srv)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, err
}

func (s *PebbleStore) GetServer(_ context.Context, id string) (*models.Server, error) {
	var srv models.Server
	if err := s.getJSON(GenServerKey(id), &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

func (s *PebbleStore) CreateServer(ctx context.Context, srv models.Server) (*models.Server, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()
	if srv.ID == "" {
		srv.ID = ids.New()
	}
	if _, err := s.GetServer(ctx, srv.ID); err == nil {
		return nil, ErrAlreadyExists
	}
	if srv.CreatedAt == 0 {
		srv.CreatedAt = s.nowMs()
	}
	if err := s.putJSON(GenServerKey(srv.ID), srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

func (s *PebbleStore) GetChannel(_ context.Context, id string) (*models.Channel, error) {
	var ch models.Channel
	if err := s.getJSON(GenChannelKey(id), &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *PebbleStore) CreateChannel(ctx context.Context, ch models.Channel) (*models.Channel, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	s.createMu.Lock()
	defer s.createMu.Unlock()
	if ch.ID == "" {
		ch.ID = ids.New()
	}
	if _, err := s.GetChannel(ctx, ch.ID); err == nil {
		return nil, ErrAlreadyExists
	}
	if _, err := s.GetServer(ctx, ch.ServerID); err != nil {
		return nil, err
	}
	ch.ParticipantIDs = models.MergeParticipants(nil, ch.ParticipantIDs...)
	if pair, ok := dmPair(&ch); ok {
		if _, err := s.FindDMChannel(ctx, ch.ServerID, pair[0], pair[1]); err == nil {
			return nil, ErrDMExists
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	now := s.nowMs()
	if ch.CreatedAt == 0 {
		ch.CreatedAt = now
	}
	ch.UpdatedAt = now

	data, err := json.Marshal(ch)
	if err != nil {
		return nil, fmt.Errorf("marshal channel: %w", err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	_ = batch.Set([]byte(GenChannelKey(ch.ID)), data, nil)
	_ = batch.Set([]byte(GenServerChannelIdx(ch.ServerID, ch.ID)), nil, nil)
	if pair, ok := dmPair(&ch); ok {
		_ = batch.Set([]byte(GenDMPairIdx(ch.ServerID, ids.PairKey(pair[0], pair[1]))), []byte(ch.ID), nil)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		s.log.Error("pebble_channel_create_failed", "channel_id", ch.ID, "error", err)
		return nil, err
	}
	return &ch, nil
}

func (s *PebbleStore) ListChannels(ctx context.Context, serverID string) ([]models.Channel, error) {
	var chIDs []string
	prefix := ServerChannelPrefix(serverID)
	err := s.scanPrefix(prefix, func(k, _ []byte) error {
		chIDs = append(chIDs, string(k[len(prefix):]))
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Channel, 0, len(chIDs))
	for _, id := range chIDs {
		ch, err := s.GetChannel(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out, nil
}

func (s *PebbleStore) UpdateChannel(ctx context.Context, id string, patch models.ChannelPatch) (*models.Channel, error) {
	l := s.channelLock(id)
	l.Lock()
	defer l.Unlock()
	ch, err := s.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	before := ch.Clone()
	applyPatch(ch, patch, s.nowMs())
	if err := s.writeChannel(ctx, before, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// writeChannel stores ch and moves its DM pair index entry when the
// participant pair changed from before.
func (s *PebbleStore) writeChannel(ctx context.Context, before, ch *models.Channel) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal channel: %w", err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	_ = batch.Set([]byte(GenChannelKey(ch.ID)), data, nil)

	oldPair, hadPair := dmPair(before)
	newPair, hasPair := dmPair(ch)
	if hadPair && (!hasPair || ids.PairKey(oldPair[0], oldPair[1]) != ids.PairKey(newPair[0], newPair[1])) {
		key := []byte(GenDMPairIdx(ch.ServerID, ids.PairKey(oldPair[0], oldPair[1])))
		v, closer, err := s.db.Get(key)
		if err == nil {
			owned := string(v) == ch.ID
			closer.Close()
			if owned {
				_ = batch.Delete(key, nil)
			}
		} else if !errors.Is(err, pebble.ErrNotFound) {
			return err
		}
	}
	if hasPair {
		// an existing DM of the new pair keeps the index
		if _, err := s.FindDMChannel(ctx, ch.ServerID, newPair[0], newPair[1]); errors.Is(err, ErrNotFound) {
			_ = batch.Set([]byte(GenDMPairIdx(ch.ServerID, ids.PairKey(newPair[0], newPair[1]))), []byte(ch.ID), nil)
		} else if err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func dmPair(ch *models.Channel) ([2]string, bool) {
	if ch.Type != models.ChannelTypeDM || len(ch.ParticipantIDs) != 2 {
		return [2]string{}, false
	}
	return [2]string{ch.ParticipantIDs[0], ch.ParticipantIDs[1]}, true
}

func (s *PebbleStore) DeleteChannel(ctx context.Context, id string) error {
	l := s.channelLock(id)
	l.Lock()
	defer l.Unlock()
	ch, err := s.GetChannel(ctx, id)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := s.deleteMessagesInto(batch, id); err != nil {
		return err
	}
	_ = batch.Delete([]byte(GenChannelKey(id)), nil)
	_ = batch.Delete([]byte(GenServerChannelIdx(ch.ServerID, id)), nil)
	if pair, ok := dmPair(ch); ok {
		key := []byte(GenDMPairIdx(ch.ServerID, ids.PairKey(pair[0], pair[1])))
		if v, closer, err := s.db.Get(key); err == nil {
			owned := string(v) == id
			closer.Close()
			if owned {
				_ = batch.Delete(key, nil)
			}
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) FindDMChannel(ctx context.Context, serverID, a, b string) (*models.Channel, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	v, closer, err := s.db.Get([]byte(GenDMPairIdx(serverID, ids.PairKey(a, b))))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	chID := string(v)
	closer.Close()

	ch, err := s.GetChannel(ctx, chID)
	if err != nil {
		return nil, err
	}
	if !isPair(ch, a, b) {
		// participants changed since the pair was indexed
		return nil, ErrNotFound
	}
	return ch, nil
}

func (s *PebbleStore) GetParticipants(ctx context.Context, channelID string) ([]string, error) {
	ch, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return ch.ParticipantIDs, nil
}

func (s *PebbleStore) AddParticipants(ctx context.Context, channelID string, list []string) error {
	l := s.channelLock(channelID)
	l.Lock()
	defer l.Unlock()
	ch, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	before := ch.Clone()
	ch.ParticipantIDs = models.MergeParticipants(ch.ParticipantIDs, list...)
	ch.UpdatedAt = s.nowMs()
	return s.writeChannel(ctx, before, ch)
}

func (s *PebbleStore) CreateMessage(ctx context.Context, m models.Message) (*models.Message, error) {
	l := s.channelLock(m.ChannelID)
	l.Lock()
	defer l.Unlock()
	if _, err := s.GetChannel(ctx, m.ChannelID); err != nil {
		return nil, err
	}
	if m.ID == "" {
		m.ID = ids.New()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = s.nowMs()
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = m.CreatedAt
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	key := GenMessageKey(m.ChannelID, m.CreatedAt, s.nextSeq())

	batch := s.db.NewBatch()
	defer batch.Close()
	_ = batch.Set([]byte(key), data, nil)
	_ = batch.Set([]byte(GenMessageIdx(m.ID)), []byte(key), nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		s.log.Error("pebble_message_save_failed", "channel_id", m.ChannelID, "error", err)
		return nil, err
	}
	s.log.Debug("message_saved", "channel_id", m.ChannelID, "key", key, "msg_id", m.ID)
	return &m, nil
}

func (s *PebbleStore) ListMessages(_ context.Context, channelID string, limit int, before int64) ([]models.Message, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	prefix := MessagePrefix(channelID)
	upper := prefixUpperBound(prefix)
	if before > 0 {
		upper = []byte(prefix + PadTS(before))
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := []models.Message{}
	for iter.Last(); iter.Valid(); iter.Prev() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			s.log.Warn("pebble_message_decode_failed", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

func (s *PebbleStore) DeleteMessage(_ context.Context, channelID, messageID string) error {
	if s.db == nil {
		return ErrClosed
	}
	l := s.channelLock(channelID)
	l.Lock()
	defer l.Unlock()
	v, closer, err := s.db.Get([]byte(GenMessageIdx(messageID)))
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	key := append([]byte(nil), v...)
	closer.Close()

	if ch, _, _, perr := ParseMessageKey(string(key)); perr != nil || ch != channelID {
		return ErrNotFound
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	_ = batch.Delete(key, nil)
	_ = batch.Delete([]byte(GenMessageIdx(messageID)), nil)
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) ClearMessages(_ context.Context, channelID string) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	l := s.channelLock(channelID)
	l.Lock()
	defer l.Unlock()
	batch := s.db.NewBatch()
	defer batch.Close()
	n := 0
	err := s.scanPrefix(MessagePrefix(channelID), func(k, v []byte) error {
		n++
		return s.deleteMessageInto(batch, k, v)
	})
	if err != nil {
		return 0, err
	}
	return n, batch.Commit(pebble.Sync)
}

func (s *PebbleStore) deleteMessagesInto(batch *pebble.Batch, channelID string) error {
	return s.scanPrefix(MessagePrefix(channelID), func(k, v []byte) error {
		return s.deleteMessageInto(batch, k, v)
	})
}

func (s *PebbleStore) deleteMessageInto(batch *pebble.Batch, key, value []byte) error {
	var m struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(value, &m); err == nil && m.ID != "" {
		if err := batch.Delete([]byte(GenMessageIdx(m.ID)), nil); err != nil {
			return err
		}
	}
	return batch.Delete(append([]byte(nil), key...), nil)
}

func (s *PebbleStore) PurgeMessagesBefore(_ context.Context, cutoff int64, dryRun bool) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	n := 0
	err := s.scanPrefix("msg:", func(k, v []byte) error {
		_, ts, _, perr := ParseMessageKey(string(k))
		if perr != nil {
			s.log.Warn("retention_bad_key", "key", string(k))
			return nil
		}
		if ts >= cutoff {
			return nil
		}
		n++
		if dryRun {
			return nil
		}
		return s.deleteMessageInto(batch, k, v)
	})
	if err != nil {
		return 0, err
	}
	if dryRun || n == 0 {
		return n, nil
	}
	return n, batch.Commit(pebble.Sync)
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Flush(); err != nil {
		s.log.Error("pebble_flush_failed", "error", err)
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	return nil
}
