package title

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrelay/pkg/agents"
	"agentrelay/pkg/apperr"
	"agentrelay/pkg/ids"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/models"
	"agentrelay/pkg/store"
)

type fakeGen struct {
	reply string
	err   error
	got   Request
	calls int
}

func (f *fakeGen) Generate(_ context.Context, req Request) (string, error) {
	f.calls++
	f.got = req
	return f.reply, f.err
}

func seed(t *testing.T, s store.ChannelStore, agentID string, n int) string {
	t.Helper()
	ctx := context.Background()
	ch, err := s.CreateChannel(ctx, models.Channel{ID: ids.New(), ServerID: ids.DefaultServerID, Name: "c", Type: models.ChannelTypeGroup})
	require.NoError(t, err)
	user := ids.New()
	for i := 0; i < n; i++ {
		author := user
		if i%2 == 1 {
			author = agentID
		}
		_, err := s.CreateMessage(ctx, models.Message{ChannelID: ch.ID, AuthorID: author, Content: fmt.Sprintf("m%d", i), CreatedAt: int64(1000 + i)})
		require.NoError(t, err)
	}
	return ch.ID
}

func TestGenerateTitle(t *testing.T) {
	s := store.NewMemoryStore()
	agentID := ids.New()
	chID := seed(t, s, agentID, 4)
	gen := &fakeGen{reply: ` "Weekend Trip Planning" `}
	svc := NewService(s, agents.NewRegistry(agentID), gen, Options{Logger: logger.Discard()})

	res, err := svc.Generate(context.Background(), chID, agentID, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, res.Title)
	assert.Equal(t, "Weekend Trip Planning", *res.Title)
	assert.Equal(t, chID, res.ChannelID)

	assert.Equal(t, 0.3, gen.got.Temperature)
	assert.Equal(t, 50, gen.got.MaxTokens)
	assert.Contains(t, gen.got.Prompt, "Recent conversation:\nUser: m0\nAgent: m1\nUser: m2\nAgent: m3\nRespond with just the title, nothing else.")
}

func TestGenerateNotEnoughMessages(t *testing.T) {
	s := store.NewMemoryStore()
	agentID := ids.New()
	chID := seed(t, s, agentID, 3)
	gen := &fakeGen{reply: "x"}
	svc := NewService(s, agents.NewRegistry(agentID), gen, Options{Logger: logger.Discard()})

	res, err := svc.Generate(context.Background(), chID, agentID, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, res.Title)
	assert.Equal(t, ReasonNotEnough, res.Reason)
	assert.Zero(t, gen.calls)
}

func TestGenerateErrors(t *testing.T) {
	s := store.NewMemoryStore()
	agentID := ids.New()
	chID := seed(t, s, agentID, 4)
	reg := agents.NewRegistry(agentID)

	svc := NewService(s, reg, &fakeGen{}, Options{Logger: logger.Discard()})
	_, err := svc.Generate(context.Background(), chID, "nope", 0, 0)
	assert.Equal(t, "Valid agent ID is required", apperr.PublicMessage(err, ""))

	_, err = svc.Generate(context.Background(), chID, ids.New(), 0, 0)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = svc.Generate(context.Background(), chID, agentID, 0, 0)
	assert.True(t, apperr.Is(err, apperr.KindUnavailable), "empty title")

	failing := NewService(s, reg, &fakeGen{err: errors.New("model down")}, Options{Logger: logger.Discard()})
	_, err = failing.Generate(context.Background(), chID, agentID, 0, 0)
	assert.True(t, apperr.Is(err, apperr.KindDelivery))

	unconfigured := NewService(s, reg, nil, Options{Logger: logger.Discard()})
	_, err = unconfigured.Generate(context.Background(), chID, agentID, 0, 0)
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
}

func TestClean(t *testing.T) {
	assert.Equal(t, "Recipe Exchange", Clean(`"Recipe Exchange"`))
	assert.Equal(t, "Recipe Exchange", Clean(" 'Recipe Exchange'\n"))
	assert.Equal(t, "", Clean(`""`))
}

func TestAnthropicAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"m",
			"content":[{"type":"text","text":"Database Design Discussion"}],
			"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":3}}`))
	}))
	defer srv.Close()

	gen := NewAnthropic("test-key", srv.URL, "")
	out, err := gen.Generate(context.Background(), Request{Prompt: "p", Temperature: 0.3, MaxTokens: 50})
	require.NoError(t, err)
	assert.Equal(t, "Database Design Discussion", out)
}

func TestOpenAIAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Career Advice Session"}}]}`))
	}))
	defer srv.Close()

	gen := NewOpenAI("test-key", srv.URL+"/v1/", "")
	out, err := gen.Generate(context.Background(), Request{Prompt: "p", Temperature: 0.3, MaxTokens: 50})
	require.NoError(t, err)
	assert.Equal(t, "Career Advice Session", out)
}

func TestFromConfig(t *testing.T) {
	g, err := FromConfig("", "", "", "")
	require.NoError(t, err)
	assert.Nil(t, g)

	g, err = FromConfig("openai", "k", "", "")
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, g)

	_, err = FromConfig("llama", "k", "", "")
	assert.Error(t, err)
}
