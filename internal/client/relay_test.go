package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madebynoam/canvai-sub001/internal/annotation"
	"github.com/madebynoam/canvai-sub001/internal/auth"
	"github.com/madebynoam/canvai-sub001/internal/events"
)

func TestRelayClient_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"annotation not found","status":404}`))
	}))
	defer srv.Close()

	_, err := NewRelayClient(srv.URL).ResolveAnnotation(context.Background(), "42")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.Contains(t, err.Error(), "annotation not found")
}

func TestRelayClient_PollConvertsWireResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req auth.PollRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "dev-1", req.DeviceCode)
		_ = json.NewEncoder(w).Encode(auth.PollResponse{Status: auth.PollSlowDown, Interval: 10})
	}))
	defer srv.Close()

	res, err := NewRelayClient(srv.URL).Poll(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, auth.PollSlowDown, res.Status)
	assert.Equal(t, 10*time.Second, res.Interval)
}

func TestRelayClient_CurrentUserSignedOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"not signed in"}`))
	}))
	defer srv.Close()

	u, err := NewRelayClient(srv.URL).CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestRelayClient_FollowAppliesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if r.URL.Path == "/annotations/events" {
			_ = events.WriteEvent(w, events.Event{Name: annotation.EventMode, Payload: annotation.ModeEvent{Type: annotation.EventMode, Mode: annotation.ModeWatch}})
		}
		fmt.Fprint(w, ": keep-alive\n\n")
	}))
	defer srv.Close()

	s := NewSession(newFakeBackend(), "alice")
	require.NoError(t, NewRelayClient(srv.URL).Follow(context.Background(), s))
	assert.Equal(t, annotation.ModeWatch, s.Mode())
}
