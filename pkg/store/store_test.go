package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrelay/pkg/ids"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/models"
)

type storeFactory func(t *testing.T) ChannelStore

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) ChannelStore {
			return NewMemoryStore()
		},
		"pebble": func(t *testing.T) ChannelStore {
			s, err := OpenPebble(t.TempDir(), logger.Discard())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func eachStore(t *testing.T, fn func(t *testing.T, s ChannelStore)) {
	for name, f := range factories() {
		t.Run(name, func(t *testing.T) {
			fn(t, f(t))
		})
	}
}

func newGroup(t *testing.T, s ChannelStore, participants ...string) *models.Channel {
	t.Helper()
	ch, err := s.CreateChannel(context.Background(), models.Channel{
		ID:             ids.New(),
		ServerID:       ids.DefaultServerID,
		Name:           "general",
		Type:           models.ChannelTypeGroup,
		ParticipantIDs: participants,
	})
	require.NoError(t, err)
	return ch
}

func TestDefaultServerSeeded(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		srv, err := s.GetServer(context.Background(), ids.DefaultServerID)
		require.NoError(t, err)
		assert.Equal(t, DefaultServerName, srv.Name)

		list, err := s.ListServers(context.Background())
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestCreateChannelDuplicateID(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		ctx := context.Background()
		ch := newGroup(t, s)
		_, err := s.CreateChannel(ctx, models.Channel{ID: ch.ID, ServerID: ids.DefaultServerID, Name: "again", Type: models.ChannelTypeGroup})
		assert.ErrorIs(t, err, ErrAlreadyExists)

		got, err := s.GetChannel(ctx, ch.ID)
		require.NoError(t, err)
		assert.Equal(t, "general", got.Name)
	})
}

func TestCreateChannelUnknownServer(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		_, err := s.CreateChannel(context.Background(), models.Channel{ID: ids.New(), ServerID: ids.New(), Name: "x", Type: models.ChannelTypeGroup})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListChannelsByServer(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		ctx := context.Background()
		other, err := s.CreateServer(ctx, models.Server{Name: "other"})
		require.NoError(t, err)

		a := newGroup(t, s)
		_, err = s.CreateChannel(ctx, models.Channel{ID: ids.New(), ServerID: other.ID, Name: "elsewhere", Type: models.ChannelTypeGroup})
		require.NoError(t, err)

		list, err := s.ListChannels(ctx, ids.DefaultServerID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, a.ID, list[0].ID)
	})
}

func TestUpdateChannelPatch(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		ctx := context.Background()
		u1 := ids.New()
		ch := newGroup(t, s, u1)
		name := "renamed"
		got, err := s.UpdateChannel(ctx, ch.ID, models.ChannelPatch{
			Name:     &name,
			Metadata: map[string]any{"topic": "ops"},
		})
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.Equal(t, []string{u1}, got.ParticipantIDs)
		assert.Equal(t, "ops", got.Metadata["topic"])

		_, err = s.UpdateChannel(ctx, ids.New(), models.ChannelPatch{Name: &name})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestParticipantsDeduplicated(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		ctx := context.Background()
		u1, u2 := ids.New(), ids.New()
		ch := newGroup(t, s, u1, u1)
		require.NoError(t, s.AddParticipants(ctx, ch.ID, []string{u2, u1}))

		got, err := s.GetParticipants(ctx, ch.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{u1, u2}, got)
	})
}

func TestFindDMChannelEitherOrder(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		ctx := context.Background()
		a, b := ids.New(), ids.New()
		ch, err := s.CreateChannel(ctx, models.Channel{
			ID: ids.DMChannelID(ids.DefaultServerID, a, b), ServerID: ids.DefaultServerID,
			Name: "dm", Type: models.ChannelTypeDM, ParticipantIDs: []string{a, b},
		})
		require.NoError(t, err)

		got, err := s.FindDMChannel(ctx, ids.DefaultServerID, b, a)
		require.NoError(t, err)
		assert.Equal(t, ch.ID, got.ID)

		_, err = s.FindDMChannel(ctx, ids.DefaultServerID, a, ids.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDMPairIsUnique(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		ctx := context.Background()
		a, b := ids.New(), ids.New()
		_, err := s.CreateChannel(ctx, models.Channel{
			ID: ids.New(), ServerID: ids.DefaultServerID,
			Name: "dm", Type: models.ChannelTypeDM, ParticipantIDs: []string{a, b},
		})
		require.NoError(t, err)

		_, err = s.CreateChannel(ctx, models.Channel{
			ID: ids.New(), ServerID: ids.DefaultServerID,
			Name: "dm again", Type: models.ChannelTypeDM, ParticipantIDs: []string{strings.ToUpper(b), a},
		})
		assert.ErrorIs(t, err, ErrDMExists)

		// a group with the same pair is fine
		_, err = s.CreateChannel(ctx, models.Channel{
			ID: ids.New(), ServerID: ids.DefaultServerID,
			Name: "pair group", Type: models.ChannelTypeGroup, ParticipantIDs: []string{a, b},
		})
		assert.NoError(t, err)
	})
}

func TestFindDMChannelFollowsParticipantChanges(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		ctx := context.Background()
		a, b, c := ids.New(), ids.New(), ids.New()
		ch, err := s.CreateChannel(ctx, models.Channel{
			ID: ids.New(), ServerID: ids.DefaultServerID,
			Name: "dm", Type: models.ChannelTypeDM, ParticipantIDs: []string{a, b},
		})
		require.NoError(t, err)

		_, err = s.UpdateChannel(ctx, ch.ID, models.ChannelPatch{ParticipantIDs: []string{a, c}})
		require.NoError(t, err)
		_, err = s.FindDMChannel(ctx, ids.DefaultServerID, a, b)
		assert.ErrorIs(t, err, ErrNotFound)
		got, err := s.FindDMChannel(ctx, ids.DefaultServerID, c, a)
		require.NoError(t, err)
		assert.Equal(t, ch.ID, got.ID)

		// the old pair may open a new DM once freed
		_, err = s.CreateChannel(ctx, models.Channel{
			ID: ids.New(), ServerID: ids.DefaultServerID,
			Name: "dm", Type: models.ChannelTypeDM, ParticipantIDs: []string{a, b},
		})
		require.NoError(t, err)

		require.NoError(t, s.AddParticipants(ctx, ch.ID, []string{b}))
		_, err = s.FindDMChannel(ctx, ids.DefaultServerID, a, c)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMessagesNewestFirstWithBefore(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		ctx := context.Background()
		ch := newGroup(t, s)
		author := ids.New()
		for i := int64(1); i <= 5; i++ {
			_, err := s.CreateMessage(ctx, models.Message{ChannelID: ch.ID, AuthorID: author, Content: "m", CreatedAt: i * 1000})
			require.NoError(t, err)
		}

		all, err := s.ListMessages(ctx, ch.ID, 50, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, int64(5000), all[0].CreatedAt)
		assert.Equal(t, int64(1000), all[4].CreatedAt)

		page, err := s.ListMessages(ctx, ch.ID, 2, 4000)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, int64(3000), page[0].CreatedAt)
		assert.Equal(t, int64(2000), page[1].CreatedAt)
	})
}

func TestCreateMessageRequiresChannel(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		_, err := s.CreateMessage(context.Background(), models.Message{ChannelID: ids.New(), AuthorID: ids.New(), Content: "hi"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDeleteAndClearMessages(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		ctx := context.Background()
		ch := newGroup(t, s)
		m1, err := s.CreateMessage(ctx, models.Message{ChannelID: ch.ID, AuthorID: ids.New(), Content: "one"})
		require.NoError(t, err)
		_, err = s.CreateMessage(ctx, models.Message{ChannelID: ch.ID, AuthorID: ids.New(), Content: "two"})
		require.NoError(t, err)

		require.NoError(t, s.DeleteMessage(ctx, ch.ID, m1.ID))
		assert.ErrorIs(t, s.DeleteMessage(ctx, ch.ID, m1.ID), ErrNotFound)

		n, err := s.ClearMessages(ctx, ch.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		left, err := s.ListMessages(ctx, ch.ID, 50, 0)
		require.NoError(t, err)
		assert.Empty(t, left)
	})
}

func TestDeleteChannelCascades(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		ctx := context.Background()
		ch := newGroup(t, s)
		_, err := s.CreateMessage(ctx, models.Message{ChannelID: ch.ID, AuthorID: ids.New(), Content: "x"})
		require.NoError(t, err)

		require.NoError(t, s.DeleteChannel(ctx, ch.ID))
		_, err = s.GetChannel(ctx, ch.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		msgs, err := s.ListMessages(ctx, ch.ID, 50, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)
		assert.ErrorIs(t, s.DeleteChannel(ctx, ch.ID), ErrNotFound)
	})
}

func TestPurgeMessagesBefore(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		ctx := context.Background()
		ch := newGroup(t, s)
		for _, ts := range []int64{1000, 2000, 3000} {
			_, err := s.CreateMessage(ctx, models.Message{ChannelID: ch.ID, AuthorID: ids.New(), Content: "x", CreatedAt: ts})
			require.NoError(t, err)
		}

		n, err := s.PurgeMessagesBefore(ctx, 2500, true)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		msgs, _ := s.ListMessages(ctx, ch.ID, 50, 0)
		assert.Len(t, msgs, 3)

		n, err = s.PurgeMessagesBefore(ctx, 2500, false)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		msgs, _ = s.ListMessages(ctx, ch.ID, 50, 0)
		require.Len(t, msgs, 1)
		assert.Equal(t, int64(3000), msgs[0].CreatedAt)
	})
}

func TestConcurrentCreateSameIDOneWinner(t *testing.T) {
	eachStore(t, func(t *testing.T, s ChannelStore) {
		ctx := context.Background()
		id := ids.New()
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.CreateChannel(ctx, models.Channel{ID: id, ServerID: ids.DefaultServerID, Name: "race", Type: models.ChannelTypeGroup})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

func TestPebbleReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenPebble(dir, logger.Discard())
	require.NoError(t, err)
	ch := newGroup(t, s)
	_, err = s.CreateMessage(context.Background(), models.Message{ChannelID: ch.ID, AuthorID: ids.New(), Content: "kept", CreatedAt: time.Now().UnixMilli()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenPebble(dir, logger.Discard())
	require.NoError(t, err)
	defer s.Close()
	msgs, err := s.ListMessages(context.Background(), ch.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "kept", msgs[0].Content)
}

func TestPebbleWritesAfterClose(t *testing.T) {
	s, err := OpenPebble(t.TempDir(), logger.Discard())
	require.NoError(t, err)
	ch := newGroup(t, s)
	require.NoError(t, s.Close())
	ctx := context.Background()

	_, err = s.CreateServer(ctx, models.Server{Name: "late"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.CreateChannel(ctx, models.Channel{ServerID: ids.DefaultServerID, Name: "late", Type: models.ChannelTypeGroup})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.CreateMessage(ctx, models.Message{ChannelID: ch.ID, AuthorID: ids.New(), Content: "late"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.ClearMessages(ctx, ch.ID)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.DeleteMessage(ctx, ch.ID, ids.New()), ErrClosed)
	_, err = s.PurgeMessagesBefore(ctx, time.Now().UnixMilli(), false)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.ListChannels(ctx, ids.DefaultServerID)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.FindDMChannel(ctx, ids.DefaultServerID, ids.New(), ids.New())
	assert.ErrorIs(t, err, ErrClosed)
}
