package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("bad id"), http.StatusBadRequest},
		{"invalid request", InvalidRequest("self dm"), http.StatusBadRequest},
		{"not found", NotFound("channel"), http.StatusNotFound},
		{"rate limit", RateLimit("slow down"), http.StatusTooManyRequests},
		{"delivery", Wrap(KindDelivery, errors.New("502"), "send"), http.StatusBadGateway},
		{"unavailable", Unavailable("no model"), http.StatusServiceUnavailable},
		{"store", Store("create message", errors.New("disk")), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := NotFound("channel %s not found", "abc")
	wrapped := fmt.Errorf("relay: %w", base)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindNotFound))
	assert.False(t, Is(nil, KindNotFound))
}

func TestPublicMessageHidesInternals(t *testing.T) {
	err := Store("create message", errors.New("pebble: closed"))
	assert.Equal(t, "failed", PublicMessage(err, "failed"))
	assert.Contains(t, err.Error(), "pebble: closed")
	assert.Equal(t, "bad id", PublicMessage(Validation("bad id"), "failed"))
	assert.Equal(t, "failed", PublicMessage(errors.New("x"), "failed"))
}
