package chatclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"medchat/backend/internal/chatclient"
	"medchat/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIClient_History(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rooms/R123/messages", r.URL.Path)
		assert.Equal(t, "40", r.URL.Query().Get("before_seq"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []models.ChatMessage{{ID: "m-38", Seq: 38, RoomID: "R123"}, {ID: "m-39", Seq: 39, RoomID: "R123"}},
			"has_more": true,
		})
	}))
	defer srv.Close()

	c := chatclient.NewAPIClient(srv.URL+"/", "tok")
	msgs, more, err := c.History(context.Background(), "R123", 40, 0)
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m-38", msgs[0].ID)
}

func TestAPIClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"not a participant"}`))
	}))
	defer srv.Close()

	_, err := chatclient.NewAPIClient(srv.URL, "").Rooms(context.Background())
	assert.ErrorIs(t, err, chatclient.ErrUnauthorized)

	_, _, err = chatclient.NewAPIClient(srv.URL, "tok").History(context.Background(), "R123", 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a participant")
}

func TestAPIClient_DevTokenKeepsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": "issued",
			"user":  models.Participant{UserID: body["user_id"], Role: models.RolePatient},
		})
	}))
	defer srv.Close()

	c := chatclient.NewAPIClient(srv.URL, "")
	user, err := c.DevToken(context.Background(), "pat-1")
	require.NoError(t, err)
	assert.Equal(t, "pat-1", user.UserID)
	assert.Equal(t, "issued", c.Token)
}
