package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"medchat/backend/internal/api/handler"
	"medchat/backend/internal/config"
	"medchat/backend/internal/models"
	"medchat/backend/internal/storage"
	"medchat/backend/internal/storage/storagetest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var testRoom = &models.ChatRoom{RoomID: "room-1", DoctorID: "doc-1", PatientID: "pat-1"}

func newTestRouter(st *storagetest.MockStorage, env string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := handler.NewHandler(nil, st, testSecret, nil)
	return handler.NewRouter(h, &config.Config{AppEnv: env, CORSOrigins: []string{"http://localhost:3000"}})
}

func tokenFor(t *testing.T, userID string, role models.Role) string {
	t.Helper()
	token, err := handler.IssueToken(testSecret, userID, role, time.Hour)
	require.NoError(t, err)
	return token
}

func doRequest(r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestToken_RoundTrip(t *testing.T) {
	token := tokenFor(t, "doc-1", models.RoleDoctor)

	claims, err := handler.ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", claims.Subject)
	assert.Equal(t, models.RoleDoctor, claims.Role)
	assert.Equal(t, config.TokenIssuer, claims.Issuer)
}

func TestToken_Rejected(t *testing.T) {
	expired, err := handler.IssueToken(testSecret, "doc-1", models.RoleDoctor, -time.Minute)
	require.NoError(t, err)
	badRole, err := handler.IssueToken(testSecret, "doc-1", models.Role("nurse"), time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"wrong secret", "other-secret", tokenFor(t, "doc-1", models.RoleDoctor)},
		{"expired", testSecret, expired},
		{"unknown role", testSecret, badRole},
		{"garbage", testSecret, "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handler.ParseToken(tt.secret, tt.token)
			assert.ErrorIs(t, err, handler.ErrInvalidToken)
		})
	}
}

func TestAuthRequired(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("ListRoomSummaries", "pat-1").Return([]models.RoomSummary{}, nil)
	r := newTestRouter(st, config.EnvDevelopment)

	w := doRequest(r, http.MethodGet, "/api/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodGet, "/api/rooms", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := tokenFor(t, "pat-1", models.RolePatient)
	w = doRequest(r, http.MethodGet, "/api/rooms?token="+token, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/ws", tokenFor(t, "admin-1", models.RoleAdmin), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(new(storagetest.MockStorage), config.EnvProduction)
	w := doRequest(r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestIssueDevToken(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("GetUserByID", "doc-1").Return(&models.User{ID: "doc-1", Name: "Dr. Bondar", Role: models.RoleDoctor}, nil)
	st.On("GetUserByID", "ghost").Return(nil, storage.ErrUserNotFound)

	r := newTestRouter(st, config.EnvDevelopment)

	w := doRequest(r, http.MethodPost, "/auth/token", "", map[string]string{"user_id": "doc-1"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token string             `json:"token"`
		User  models.Participant `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "doc-1", resp.User.UserID)
	claims, err := handler.ParseToken(testSecret, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleDoctor, claims.Role)

	w = doRequest(r, http.MethodPost, "/auth/token", "", map[string]string{"user_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	prod := newTestRouter(st, config.EnvProduction)
	w = doRequest(prod, http.MethodPost, "/auth/token", "", map[string]string{"user_id": "doc-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRooms(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("ListRoomSummaries", "doc-1").Return([]models.RoomSummary{{
		RoomID:      "room-1",
		Doctor:      models.Participant{UserID: "doc-1", Role: models.RoleDoctor},
		Patient:     models.Participant{UserID: "pat-1", Role: models.RolePatient, Name: "Olena"},
		UnreadCount: 2,
	}}, nil)
	r := newTestRouter(st, config.EnvDevelopment)

	w := doRequest(r, http.MethodGet, "/api/rooms", tokenFor(t, "doc-1", models.RoleDoctor), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Rooms []models.RoomSummary `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, 2, resp.Rooms[0].UnreadCount)
	assert.Equal(t, "Olena", resp.Rooms[0].Patient.Name)
}

func TestProvisionRoom(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("GetOrCreateRoom", "doc-1", "pat-1").Return(testRoom, nil)
	st.On("GetOrCreateRoom", "pat-1", "doc-1").Return(nil, storage.ErrInvalidRoom)
	r := newTestRouter(st, config.EnvDevelopment)

	body := map[string]string{"doctor_id": "doc-1", "patient_id": "pat-1"}

	w := doRequest(r, http.MethodPost, "/api/rooms", tokenFor(t, "pat-9", models.RolePatient), body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(r, http.MethodPost, "/api/rooms", tokenFor(t, "doc-1", models.RoleDoctor), body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "room-1")

	w = doRequest(r, http.MethodPost, "/api/rooms", tokenFor(t, "admin-1", models.RoleAdmin),
		map[string]string{"doctor_id": "pat-1", "patient_id": "doc-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/api/rooms", tokenFor(t, "doc-1", models.RoleDoctor), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetHistory(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("GetRoomByID", "room-1").Return(testRoom, nil)
	st.On("GetRoomByID", "missing").Return(nil, storage.ErrRoomNotFound)
	st.On("GetChatHistory", "room-1", int64(40), config.MaxHistoryPageSize).Return([]models.ChatHistory{
		{RoomID: "room-1", Seq: 38, SenderID: "doc-1", Kind: models.KindText, Content: "first", Status: models.StatusSeen},
		{RoomID: "room-1", Seq: 39, SenderID: "pat-1", Kind: models.KindText, Content: "second", Status: models.StatusSent},
	}, nil)
	r := newTestRouter(st, config.EnvDevelopment)
	patient := tokenFor(t, "pat-1", models.RolePatient)

	w := doRequest(r, http.MethodGet, "/api/rooms/room-1/messages?before_seq=40&limit=500", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Messages []models.ChatMessage `json:"messages"`
		HasMore  bool                 `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "first", resp.Messages[0].Content)
	assert.Equal(t, int64(39), resp.Messages[1].Seq)
	assert.False(t, resp.HasMore)

	w = doRequest(r, http.MethodGet, "/api/rooms/room-1/messages", tokenFor(t, "pat-2", models.RolePatient), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(r, http.MethodGet, "/api/rooms/missing/messages", patient, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodGet, "/api/rooms/room-1/messages?before_seq=abc", patient, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchUsers(t *testing.T) {
	st := new(storagetest.MockStorage)
	st.On("SearchUsers", "cardio", models.RoleDoctor, config.DefaultSearchLimit).Return([]models.User{
		{ID: "doc-1", Name: "Dr. Bondar", Role: models.RoleDoctor, Specializations: []string{"cardiology"}},
	}, nil)
	r := newTestRouter(st, config.EnvDevelopment)
	token := tokenFor(t, "pat-1", models.RolePatient)

	w := doRequest(r, http.MethodGet, "/api/users/search?q=cardio&role=doctor", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Users []models.Participant `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 1)
	assert.Equal(t, []string{"cardiology"}, resp.Users[0].Specializations)

	w = doRequest(r, http.MethodGet, "/api/users/search?role=nurse", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	st.AssertNumberOfCalls(t, "SearchUsers", 1)
	st.AssertNotCalled(t, "GetUserByID", mock.Anything)
}
