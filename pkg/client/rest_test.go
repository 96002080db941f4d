package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/realtime-service/pkg/protocol"
)

func TestSendMessageReturnsCanonicalRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rooms/general/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hi", body["content"])

		_ = json.NewEncoder(w).Encode(protocol.Message{
			ID: "m-1", Content: "hi", UserID: "self", RoomID: "general",
		})
	}))
	defer srv.Close()

	api := NewHTTPRoomAPI(srv.URL, "tok", time.Second, time.Second)
	msg, err := api.SendMessage(context.Background(), "general", "hi")
	require.NoError(t, err)
	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, "general", msg.RoomID)
}

func TestJoinRoomConflictMeansAlreadyMember(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	api := NewHTTPRoomAPI(srv.URL, "tok", time.Second, time.Second)
	assert.ErrorIs(t, api.JoinRoom(context.Background(), "general"), ErrAlreadyMember)
}

func TestServerErrorsAreRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]protocol.Message{{ID: "m-1"}})
	}))
	defer srv.Close()

	api := NewHTTPRoomAPI(srv.URL, "tok", time.Second, 5*time.Second)
	msgs, err := api.RoomMessages(context.Background(), "general", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.GreaterOrEqual(t, hits.Load(), int32(2))
}

func TestClientErrorsAreFinal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	api := NewHTTPRoomAPI(srv.URL, "tok", time.Second, 5*time.Second)
	_, err := api.RoomMembers(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load(), "4xx must not be retried")
}
