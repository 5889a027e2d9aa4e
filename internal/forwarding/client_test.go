package forwarding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendPostsPayloadWithSecret(t *testing.T) {
	var got payload
	var secret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret = r.Header.Get("x-webhook-secret")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "s3cret", time.Second)
	client.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, client.Send(context.Background(), "héllo", "https://example.org/a"))

	assert.Equal(t, "s3cret", secret)
	assert.Equal(t, payload{
		ExtractedText:       "héllo",
		OriginalURL:         "https://example.org/a",
		Timestamp:           "2024-05-01T12:00:00.000Z",
		ExtractedTextLength: 5,
	}, got)
}

func TestSendFailsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "s", 0).Send(context.Background(), "x", "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestSendRequiresConfiguration(t *testing.T) {
	assert.ErrorIs(t, NewClient("", "s", 0).Send(context.Background(), "x", "u"), ErrNotConfigured)
	assert.ErrorIs(t, NewClient("http://x", "", 0).Send(context.Background(), "x", "u"), ErrNotConfigured)
}
