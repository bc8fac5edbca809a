package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifierPostsContent(t *testing.T) {
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
	}))
	defer server.Close()

	n := &WebhookNotifier{WebhookURL: server.URL}

	err := n.Notify(context.Background(), "2 databases up to date")
	require.NoError(t, err)

	assert.Equal(t, "2 databases up to date", gotBody["content"])
}

func TestWebhookNotifierFailsOnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := &WebhookNotifier{WebhookURL: server.URL}

	err := n.Notify(context.Background(), "message")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestWebhookNotifierRequiresURL(t *testing.T) {
	n := &WebhookNotifier{}

	err := n.Notify(context.Background(), "message")
	assert.Error(t, err)
}
