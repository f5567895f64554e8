package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrelay/pkg/apperr"
	"agentrelay/pkg/bus"
	"agentrelay/pkg/ids"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/models"
	"agentrelay/pkg/registry"
	"agentrelay/pkg/store"
)

type emitted struct {
	room    string
	event   string
	payload map[string]any
}

type recorder struct {
	mu     sync.Mutex
	emits  []emitted
	failOn string
}

func (r *recorder) Emit(room, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event == r.failOn {
		return errors.New("socket down")
	}
	p, _ := payload.(map[string]any)
	r.emits = append(r.emits, emitted{room: room, event: event, payload: p})
	return nil
}

type fixture struct {
	relay  *Relay
	store  *store.MemoryStore
	bus    *bus.Bus
	socket *recorder
	events map[bus.Topic][]bus.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  store.NewMemoryStore(),
		bus:    bus.New(0, logger.Discard()),
		socket: &recorder{},
		events: map[bus.Topic][]bus.Event{},
	}
	for _, topic := range []bus.Topic{bus.TopicNewMessage, bus.TopicMessageDeleted, bus.TopicChannelCleared} {
		f.bus.Subscribe(topic, func(_ context.Context, ev bus.Event) {
			f.events[ev.Topic] = append(f.events[ev.Topic], ev)
		})
	}
	reg := registry.New(f.store, logger.Discard())
	f.relay = New(reg, logger.Discard(), BusSink{Bus: f.bus}, SocketSink{Broadcaster: f.socket})
	return f
}

func (f *fixture) submit(t *testing.T, chID, content string) *models.BusMessage {
	t.Helper()
	out, err := f.relay.Submit(context.Background(), SubmitRequest{
		ChannelID: chID,
		ServerID:  ids.DefaultServerID,
		AuthorID:  ids.New(),
		Content:   content,
	})
	require.NoError(t, err)
	return out
}

func TestSubmitAutoCreatesChannelOnce(t *testing.T) {
	f := newFixture(t)
	chID := ids.New()

	first := f.submit(t, chID, "hi")
	assert.Equal(t, chID, first.ChannelID)
	assert.Equal(t, "hi", first.Content)
	f.submit(t, chID, "again")

	chans, err := f.store.ListChannels(context.Background(), ids.DefaultServerID)
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.Equal(t, registry.SourceAutoCreated, chans[0].SourceType)

	msgs, err := f.store.ListMessages(context.Background(), chID, 50, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestSubmitFanOutOncePerSink(t *testing.T) {
	f := newFixture(t)
	chID := ids.New()
	author := ids.New()
	out, err := f.relay.Submit(context.Background(), SubmitRequest{
		ChannelID: chID,
		ServerID:  ids.DefaultServerID,
		AuthorID:  author,
		Content:   "hello",
		Metadata:  map[string]any{"user_display_name": "Ada"},
	})
	require.NoError(t, err)

	require.Len(t, f.events[bus.TopicNewMessage], 1)
	published := f.events[bus.TopicNewMessage][0].Payload.(models.BusMessage)
	assert.Equal(t, out.ID, published.ID)
	assert.Equal(t, ids.DefaultServerID, published.ServerID)
	assert.Equal(t, "Ada", published.AuthorDisplayName)
	assert.Positive(t, published.CreatedAt)

	require.Len(t, f.socket.emits, 1)
	e := f.socket.emits[0]
	assert.Equal(t, chID, e.room)
	assert.Equal(t, "messageBroadcast", e.event)
	assert.Equal(t, out.ID, e.payload["id"])
	assert.Equal(t, "Ada", e.payload["senderName"])
	assert.Equal(t, author, e.payload["senderId"])
	assert.Equal(t, out.CreatedAt, e.payload["createdAt"])
	assert.Equal(t, "api", e.payload["source"])
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	cases := []SubmitRequest{
		{ServerID: ids.DefaultServerID, AuthorID: ids.New(), Content: "x"},
		{ChannelID: ids.New(), AuthorID: ids.New(), Content: "x"},
		{ChannelID: ids.New(), ServerID: ids.DefaultServerID, AuthorID: ids.New()},
		{ChannelID: "C1", ServerID: ids.DefaultServerID, AuthorID: ids.New(), Content: "x"},
		{ChannelID: ids.New(), ServerID: "srv", AuthorID: ids.New(), Content: "x"},
		{ChannelID: ids.New(), ServerID: ids.DefaultServerID, AuthorID: "U1", Content: "x"},
	}
	for _, req := range cases {
		_, err := f.relay.Submit(context.Background(), req)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "req %+v: %v", req, err)
	}
	assert.Empty(t, f.events)
	assert.Empty(t, f.socket.emits)
}

func TestSubmitDMHintFromMetadata(t *testing.T) {
	f := newFixture(t)
	chID, author, target := ids.New(), ids.New(), ids.New()
	_, err := f.relay.Submit(context.Background(), SubmitRequest{
		ChannelID: chID, ServerID: ids.DefaultServerID, AuthorID: author, Content: "yo",
		Metadata: map[string]any{"isDm": true, "targetUserId": target},
	})
	require.NoError(t, err)
	ch, err := f.store.GetChannel(context.Background(), chID)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelTypeDM, ch.Type)
	assert.Equal(t, []string{author, target}, ch.ParticipantIDs)
}

func TestSinkFailureKeepsPersistedMessage(t *testing.T) {
	f := newFixture(t)
	f.socket.failOn = "messageBroadcast"
	chID := ids.New()
	out := f.submit(t, chID, "still stored")
	assert.NotEmpty(t, out.ID)
	assert.Len(t, f.events[bus.TopicNewMessage], 1)

	msgs, err := f.store.ListMessages(context.Background(), chID, 50, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestAgentResponseSkipsBus(t *testing.T) {
	f := newFixture(t)
	chID := ids.New()
	f.submit(t, chID, "question")

	_, err := f.relay.SubmitAgentResponse(context.Background(), SubmitRequest{
		ChannelID: chID, ServerID: ids.DefaultServerID, AuthorID: ids.New(), Content: "answer",
	})
	require.NoError(t, err)
	assert.Len(t, f.events[bus.TopicNewMessage], 1)
	require.Len(t, f.socket.emits, 2)
	assert.Equal(t, "agent_response", f.socket.emits[1].payload["source"])

	_, err = f.relay.SubmitAgentResponse(context.Background(), SubmitRequest{
		ChannelID: ids.New(), ServerID: ids.DefaultServerID, AuthorID: ids.New(), Content: "lost",
	})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestFetchHistoryHydratesRawMessage(t *testing.T) {
	f := newFixture(t)
	chID := ids.New()
	raw, _ := json.Marshal(map[string]any{"thought": "thinking", "actions": []string{"REPLY"}})
	_, err := f.relay.Submit(context.Background(), SubmitRequest{
		ChannelID: chID, ServerID: ids.DefaultServerID, AuthorID: ids.New(), Content: "x", RawMessage: raw,
	})
	require.NoError(t, err)

	msgs, err := f.relay.FetchHistory(context.Background(), chID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "thinking", msgs[0].Metadata["thought"])
	assert.Equal(t, []any{"REPLY"}, msgs[0].Metadata["actions"])

	stored, _ := f.store.ListMessages(context.Background(), chID, 1, 0)
	assert.Nil(t, stored[0].Metadata)

	_, err = f.relay.FetchHistory(context.Background(), "bad", 0, 0)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestDeleteOneNotifiesBothSinks(t *testing.T) {
	f := newFixture(t)
	chID := ids.New()
	m := f.submit(t, chID, "gone soon")

	require.NoError(t, f.relay.DeleteOne(context.Background(), chID, m.ID))
	require.Len(t, f.events[bus.TopicMessageDeleted], 1)
	assert.Equal(t, models.MessageDeleted{MessageID: m.ID, ChannelID: chID}, f.events[bus.TopicMessageDeleted][0].Payload)
	assert.Equal(t, "messageDeleted", f.socket.emits[len(f.socket.emits)-1].event)

	err := f.relay.DeleteOne(context.Background(), chID, m.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDeleteChannelEmitsSingleClear(t *testing.T) {
	f := newFixture(t)
	chID := ids.New()
	for i := 0; i < 5; i++ {
		f.submit(t, chID, "m")
	}
	require.NoError(t, f.relay.DeleteChannel(context.Background(), chID))

	require.Len(t, f.events[bus.TopicChannelCleared], 1)
	assert.Equal(t, models.ChannelCleared{ChannelID: chID, Deleted: true}, f.events[bus.TopicChannelCleared][0].Payload)
	assert.Empty(t, f.events[bus.TopicMessageDeleted])

	clears := 0
	for _, e := range f.socket.emits {
		if e.event == "channelCleared" {
			clears++
		}
	}
	assert.Equal(t, 1, clears)

	msgs, err := f.relay.FetchHistory(context.Background(), chID, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestClearKeepsChannel(t *testing.T) {
	f := newFixture(t)
	chID := ids.New()
	f.submit(t, chID, "a")
	f.submit(t, chID, "b")

	require.NoError(t, f.relay.Clear(context.Background(), chID))
	assert.Len(t, f.events[bus.TopicChannelCleared], 1)
	_, err := f.store.GetChannel(context.Background(), chID)
	assert.NoError(t, err)

	err = f.relay.Clear(context.Background(), ids.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUpdateChannelEmitsUpdate(t *testing.T) {
	f := newFixture(t)
	chID := ids.New()
	f.submit(t, chID, "a")
	name := "renamed"
	ch, err := f.relay.UpdateChannel(context.Background(), chID, models.ChannelPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", ch.Name)

	last := f.socket.emits[len(f.socket.emits)-1]
	assert.Equal(t, "channelUpdated", last.event)
	assert.Equal(t, map[string]any{"name": "renamed"}, last.payload["updates"])
}

func TestRemoveParticipantEmitsUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chID := ids.New()
	f.submit(t, chID, "a")
	agent := ids.New()
	require.NoError(t, f.store.AddParticipants(ctx, chID, []string{agent}))
	before, err := f.store.GetParticipants(ctx, chID)
	require.NoError(t, err)

	ch, err := f.relay.RemoveParticipant(ctx, chID, agent)
	require.NoError(t, err)
	assert.NotContains(t, ch.ParticipantIDs, agent)
	assert.Len(t, ch.ParticipantIDs, len(before)-1)

	last := f.socket.emits[len(f.socket.emits)-1]
	assert.Equal(t, "channelUpdated", last.event)
	assert.Equal(t, chID, last.room)
	assert.Equal(t, map[string]any{"participantCentralUserIds": ch.ParticipantIDs}, last.payload["updates"])

	_, err = f.relay.RemoveParticipant(ctx, chID, agent)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
