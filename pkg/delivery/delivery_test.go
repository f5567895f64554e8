package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrelay/pkg/apperr"
	"agentrelay/pkg/ids"
	"agentrelay/pkg/logger"
	"agentrelay/pkg/models"
	"agentrelay/pkg/store"
)

func TestAuthHeaders(t *testing.T) {
	cases := []struct {
		name                  string
		token, method, header string
		want                  map[string]string
	}{
		{"no token", "", "bearer", "X-API-KEY", map[string]string{}},
		{"bearer", "abc", "bearer", "", map[string]string{"Authorization": "Bearer abc"}},
		{"bearer case", "abc", "Bearer", "X-Custom", map[string]string{"Authorization": "Bearer abc"}},
		{"raw header", "secret", "", "X-API-KEY", map[string]string{"X-API-KEY": "secret"}},
		{"default header", "secret", "basic", "", map[string]string{"X-API-KEY": "secret"}},
		{"custom header", "secret", "", "X-Relay-Token", map[string]string{"X-Relay-Token": "secret"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AuthHeaders(tc.token, tc.method, tc.header))
		})
	}
}

func TestDeliverSendsBodyAndAuth(t *testing.T) {
	var got submitBody
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(Options{URL: srv.URL, AuthToken: "abc123", AuthMethod: "bearer", Logger: logger.Discard()})
	chID, author := ids.New(), ids.New()
	err := c.Deliver(context.Background(), Reply{ChannelID: chID, ServerID: ids.DefaultServerID, AuthorID: author, Content: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer abc123", auth)
	assert.Equal(t, chID, got.ChannelID)
	assert.Equal(t, ids.DefaultServerID, got.ServerID)
	assert.Equal(t, author, got.AuthorID)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "agent_response", got.SourceType)
}

func TestDeliverNoTokenNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-API-KEY"))
	}))
	defer srv.Close()

	c := NewClient(Options{URL: srv.URL, Logger: logger.Discard()})
	require.NoError(t, c.Deliver(context.Background(), Reply{ChannelID: ids.New(), ServerID: ids.DefaultServerID, AuthorID: ids.New(), Content: "x"}))
}

func TestDeliverNonSuccessIsDeliveryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	calls := 0
	c := NewClient(Options{URL: srv.URL, HTTPClient: &http.Client{Transport: countingTransport{&calls}}, Logger: logger.Discard()})
	err := c.Deliver(context.Background(), Reply{ChannelID: ids.New(), ServerID: ids.DefaultServerID, AuthorID: ids.New(), Content: "x"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindDelivery))

	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusUnauthorized, de.Status)
	assert.Equal(t, 1, calls)
}

func TestDeliverHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(Options{URL: srv.URL, Logger: logger.Discard()})
	err := c.Deliver(ctx, Reply{ChannelID: ids.New(), ServerID: ids.DefaultServerID, AuthorID: ids.New(), Content: "x"})
	assert.True(t, apperr.Is(err, apperr.KindDelivery))
}

func TestStoreResolverUsesChannelServer(t *testing.T) {
	s := store.NewMemoryStore()
	ch, err := s.CreateChannel(context.Background(), models.Channel{ID: ids.New(), ServerID: ids.DefaultServerID, Name: "c", Type: models.ChannelTypeGroup})
	require.NoError(t, err)

	route, err := StoreResolver{Store: s}.Resolve(context.Background(), ch.ID, "")
	require.NoError(t, err)
	assert.Equal(t, ids.DefaultServerID, route.ServerID)

	_, err = StoreResolver{Store: s}.Resolve(context.Background(), ids.New(), "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

type countingTransport struct{ n *int }

func (c countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	*c.n++
	return http.DefaultTransport.RoundTrip(r)
}
