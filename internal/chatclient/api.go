package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"medchat/backend/internal/models"
)

var ErrUnauthorized = errors.New("unauthorized")

// APIClient talks to the REST side of the server: history, rooms, search.
// Its answers are the source of truth on load and resync.
type APIClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *APIClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// History fetches one page of a room's messages, oldest-first, older than
// beforeSeq (the latest page when beforeSeq is 0).
func (c *APIClient) History(ctx context.Context, roomID string, beforeSeq int64, limit int) ([]models.ChatMessage, bool, error) {
	q := url.Values{}
	if beforeSeq > 0 {
		q.Set("before_seq", strconv.FormatInt(beforeSeq, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Messages []models.ChatMessage `json:"messages"`
		HasMore  bool                 `json:"has_more"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID)+"/messages", q, nil, &resp); err != nil {
		return nil, false, err
	}
	return resp.Messages, resp.HasMore, nil
}

func (c *APIClient) Rooms(ctx context.Context) ([]models.RoomSummary, error) {
	var resp struct {
		Rooms []models.RoomSummary `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/rooms", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// ProvisionRoom asks the server for the room of a doctor/patient pair.
func (c *APIClient) ProvisionRoom(ctx context.Context, doctorID, patientID string) (*models.ChatRoom, error) {
	var resp struct {
		Room models.ChatRoom `json:"room"`
	}
	body := map[string]string{"doctor_id": doctorID, "patient_id": patientID}
	if err := c.do(ctx, http.MethodPost, "/api/rooms", nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Room, nil
}

func (c *APIClient) SearchUsers(ctx context.Context, query string, role models.Role) ([]models.Participant, error) {
	q := url.Values{}
	q.Set("q", query)
	if role != "" {
		q.Set("role", string(role))
	}
	var resp struct {
		Users []models.Participant `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users/search", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// DevToken requests a development token for userID and keeps it for later calls.
func (c *APIClient) DevToken(ctx context.Context, userID string) (models.Participant, error) {
	var resp struct {
		Token string             `json:"token"`
		User  models.Participant `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/token", nil, map[string]string{"user_id": userID}, &resp); err != nil {
		return models.Participant{}, err
	}
	c.Token = resp.Token
	return resp.User, nil
}
