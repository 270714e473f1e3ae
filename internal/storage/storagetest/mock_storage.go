// Package storagetest provides a testify mock of storage.Storage shared by the
// packages that sit on top of the storage layer.
package storagetest

import (
	"context"
	"time"

	"medchat/backend/internal/models"
	"medchat/backend/internal/storage"

	"github.com/stretchr/testify/mock"
)

var _ storage.Storage = (*MockStorage)(nil)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) SaveUser(user *models.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *MockStorage) GetUserByID(userID string) (*models.User, error) {
	args := m.Called(userID)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *MockStorage) GetUsersByIDs(userIDs []string) (map[string]*models.User, error) {
	args := m.Called(userIDs)
	users, _ := args.Get(0).(map[string]*models.User)
	return users, args.Error(1)
}

func (m *MockStorage) SearchUsers(query string, role models.Role, limit int) ([]models.User, error) {
	args := m.Called(query, role, limit)
	users, _ := args.Get(0).([]models.User)
	return users, args.Error(1)
}

func (m *MockStorage) SetUserBlocked(userID string, blocked bool) error {
	args := m.Called(userID, blocked)
	return args.Error(0)
}

func (m *MockStorage) LinkTelegram(userID string, chatID int64) error {
	args := m.Called(userID, chatID)
	return args.Error(0)
}

func (m *MockStorage) UnlinkTelegram(chatID int64) error {
	args := m.Called(chatID)
	return args.Error(0)
}

func (m *MockStorage) SaveRoom(room *models.ChatRoom) error {
	args := m.Called(room)
	return args.Error(0)
}

func (m *MockStorage) GetRoomByID(roomID string) (*models.ChatRoom, error) {
	args := m.Called(roomID)
	room, _ := args.Get(0).(*models.ChatRoom)
	return room, args.Error(1)
}

func (m *MockStorage) GetOrCreateRoom(doctorID, patientID string) (*models.ChatRoom, error) {
	args := m.Called(doctorID, patientID)
	room, _ := args.Get(0).(*models.ChatRoom)
	return room, args.Error(1)
}

func (m *MockStorage) GetRoomsForUser(userID string) ([]models.ChatRoom, error) {
	args := m.Called(userID)
	rooms, _ := args.Get(0).([]models.ChatRoom)
	return rooms, args.Error(1)
}

func (m *MockStorage) ListRoomSummaries(userID string) ([]models.RoomSummary, error) {
	args := m.Called(userID)
	rooms, _ := args.Get(0).([]models.RoomSummary)
	return rooms, args.Error(1)
}

// Use .Run on the SaveMessage expectation to assign the ID and Seq the
// database would.
func (m *MockStorage) SaveMessage(msg *models.ChatHistory) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockStorage) MarkDelivered(ids []uint) error {
	args := m.Called(ids)
	return args.Error(0)
}

func (m *MockStorage) MarkRead(roomID, readerID string, readerRole models.Role, at time.Time) ([]uint, error) {
	args := m.Called(roomID, readerID, readerRole, at)
	ids, _ := args.Get(0).([]uint)
	return ids, args.Error(1)
}

func (m *MockStorage) GetChatHistory(roomID string, beforeSeq int64, limit int) ([]models.ChatHistory, error) {
	args := m.Called(roomID, beforeSeq, limit)
	msgs, _ := args.Get(0).([]models.ChatHistory)
	return msgs, args.Error(1)
}

func (m *MockStorage) SetOnline(userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}

func (m *MockStorage) SetOffline(userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}

func (m *MockStorage) OnlineUsers(userIDs []string) (map[string]bool, error) {
	args := m.Called(userIDs)
	online, _ := args.Get(0).(map[string]bool)
	return online, args.Error(1)
}

func (m *MockStorage) PublishEvent(env models.Envelope) error {
	args := m.Called(env)
	return args.Error(0)
}

func (m *MockStorage) SubscribeEvents(ctx context.Context) (<-chan models.Envelope, error) {
	args := m.Called(ctx)
	ch, _ := args.Get(0).(<-chan models.Envelope)
	return ch, args.Error(1)
}
