package sinks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPostsRawAlert(t *testing.T) {
	var gotMethod, gotHeader string
	var gotBody AlertMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Api-Key": "k-123456"},
	})
	require.NoError(t, err)

	msg := NewAlertMessage(postEvent("t1", "alice", "payload"))
	require.NoError(t, sink.Send(context.Background(), msg))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "k-123456", gotHeader)
	assert.Equal(t, "post_created", gotBody.EventType)
	assert.Equal(t, "payload", gotBody.Text)
}

func TestWebhookPut(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(WebhookConfig{URL: srv.URL, Method: http.MethodPut})
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), NewAlertMessage(postEvent("t1", "a", "x"))))
	assert.Equal(t, http.MethodPut, gotMethod)
}

func TestWebhookRejectsUnsupportedMethod(t *testing.T) {
	_, err := NewWebhookSink(WebhookConfig{URL: "https://hook.example", Method: http.MethodDelete})
	require.Error(t, err)
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)
	err = sink.Send(context.Background(), NewAlertMessage(postEvent("t1", "a", "x")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
