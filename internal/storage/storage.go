// Package storage persists users, rooms and messages in PostgreSQL (via gorm) and
// keeps presence and cross-instance fan-out in Redis.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medchat/backend/internal/config"
	"medchat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRoomNotFound = errors.New("chat room not found")
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidRoom  = errors.New("a room needs one doctor and one patient")
)

type Storage interface {
	SaveUser(user *models.User) error
	GetUserByID(userID string) (*models.User, error)
	GetUsersByIDs(userIDs []string) (map[string]*models.User, error)
	SearchUsers(query string, role models.Role, limit int) ([]models.User, error)
	SetUserBlocked(userID string, blocked bool) error
	LinkTelegram(userID string, chatID int64) error
	UnlinkTelegram(chatID int64) error

	SaveRoom(room *models.ChatRoom) error
	GetRoomByID(roomID string) (*models.ChatRoom, error)
	GetOrCreateRoom(doctorID, patientID string) (*models.ChatRoom, error)
	GetRoomsForUser(userID string) ([]models.ChatRoom, error)
	ListRoomSummaries(userID string) ([]models.RoomSummary, error)

	SaveMessage(msg *models.ChatHistory) error
	MarkDelivered(ids []uint) error
	MarkRead(roomID, readerID string, readerRole models.Role, at time.Time) ([]uint, error)
	GetChatHistory(roomID string, beforeSeq int64, limit int) ([]models.ChatHistory, error)

	SetOnline(userID string) error
	SetOffline(userID string) error
	OnlineUsers(userIDs []string) (map[string]bool, error)

	PublishEvent(env models.Envelope) error
	SubscribeEvents(ctx context.Context) (<-chan models.Envelope, error)
}

type Service struct {
	DB     *gorm.DB
	Redis  *redis.Client
	Ctx    context.Context
	Logger *zap.Logger
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		DB:     db,
		Redis:  rdb,
		Ctx:    context.Background(),
		Logger: logger,
	}
}

// Migrate creates or updates the tables used by the chat service.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.ChatRoom{},
		&models.ChatHistory{},
	)
}

// --- users ---

func (s *Service) SaveUser(user *models.User) error {
	return s.DB.Save(user).Error
}

func (s *Service) GetUserByID(userID string) (*models.User, error) {
	var user models.User
	err := s.DB.Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return &user, nil
}

func (s *Service) GetUsersByIDs(userIDs []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var users []models.User
	if err := s.DB.Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

// SearchUsers matches the query against names and specializations, case-insensitively.
func (s *Service) SearchUsers(query string, role models.Role, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = config.DefaultSearchLimit
	}
	q := s.DB.Model(&models.User{}).Where("is_blocked = ?", false)
	if role != "" {
		q = q.Where("role = ?", role)
	}
	if query != "" {
		like := "%" + query + "%"
		q = q.Where("name ILIKE ? OR array_to_string(specializations, ',') ILIKE ?", like, like)
	}

	var users []models.User
	if err := q.Order("name asc").Limit(limit).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

func (s *Service) SetUserBlocked(userID string, blocked bool) error {
	res := s.DB.Model(&models.User{}).Where("id = ?", userID).Update("is_blocked", blocked)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) LinkTelegram(userID string, chatID int64) error {
	res := s.DB.Model(&models.User{}).Where("id = ?", userID).Update("telegram_chat_id", chatID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) UnlinkTelegram(chatID int64) error {
	return s.DB.Model(&models.User{}).Where("telegram_chat_id = ?", chatID).Update("telegram_chat_id", 0).Error
}

// --- rooms ---

func (s *Service) SaveRoom(room *models.ChatRoom) error {
	return s.DB.Save(room).Error
}

func (s *Service) GetRoomByID(roomID string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.DB.Where("room_id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		s.Logger.Error("failed to get room", zap.String("room_id", roomID), zap.Error(err))
		return nil, err
	}
	return &room, nil
}

// GetOrCreateRoom returns the room of a doctor/patient pair, provisioning it on first use.
func (s *Service) GetOrCreateRoom(doctorID, patientID string) (*models.ChatRoom, error) {
	users, err := s.GetUsersByIDs([]string{doctorID, patientID})
	if err != nil {
		return nil, err
	}
	doctor, patient := users[doctorID], users[patientID]
	if doctor == nil || patient == nil {
		return nil, ErrUserNotFound
	}
	if doctor.Role != models.RoleDoctor || patient.Role != models.RolePatient {
		return nil, ErrInvalidRoom
	}

	var room models.ChatRoom
	err = s.DB.Where(models.ChatRoom{DoctorID: doctorID, PatientID: patientID}).
		Attrs(models.ChatRoom{RoomID: uuid.New().String()}).
		FirstOrCreate(&room).Error
	if err != nil {
		return nil, fmt.Errorf("provision room: %w", err)
	}
	return &room, nil
}

func (s *Service) GetRoomsForUser(userID string) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	err := s.DB.Where("doctor_id = ? OR patient_id = ?", userID, userID).
		Order("last_message_at DESC NULLS LAST").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("rooms for user %s: %w", userID, err)
	}
	return rooms, nil
}

type unreadRow struct {
	RoomID string
	Count  int
}

// ListRoomSummaries builds the room list of a user: counterpart profiles, last
// message and the number of counterpart messages the user has not read yet.
func (s *Service) ListRoomSummaries(userID string) ([]models.RoomSummary, error) {
	rooms, err := s.GetRoomsForUser(userID)
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return []models.RoomSummary{}, nil
	}

	ids := make([]string, 0, len(rooms)*2)
	byRole := map[models.Role][]string{}
	for _, r := range rooms {
		ids = append(ids, r.DoctorID, r.PatientID)
		role, _ := r.RoleOf(userID)
		byRole[role] = append(byRole[role], r.RoomID)
	}

	users, err := s.GetUsersByIDs(ids)
	if err != nil {
		return nil, err
	}

	unread := make(map[string]int, len(rooms))
	for role, roomIDs := range byRole {
		var rows []unreadRow
		err := s.DB.Model(&models.ChatHistory{}).
			Select("room_id, count(*) AS count").
			Where("room_id IN ? AND sender_id <> ?", roomIDs, userID).
			Where(readColumn(role) + " IS NULL").
			Group("room_id").
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("count unread: %w", err)
		}
		for _, row := range rows {
			unread[row.RoomID] = row.Count
		}
	}

	out := make([]models.RoomSummary, 0, len(rooms))
	for i := range rooms {
		out = append(out, summarize(&rooms[i], users, unread[rooms[i].RoomID]))
	}
	return out, nil
}

func summarize(room *models.ChatRoom, users map[string]*models.User, unread int) models.RoomSummary {
	sum := models.RoomSummary{
		RoomID:      room.RoomID,
		Doctor:      models.Participant{UserID: room.DoctorID, Role: models.RoleDoctor},
		Patient:     models.Participant{UserID: room.PatientID, Role: models.RolePatient},
		UnreadCount: unread,
		LastSeq:     room.LastSeq,
	}
	if u, ok := users[room.DoctorID]; ok {
		sum.Doctor = u.Participant()
	}
	if u, ok := users[room.PatientID]; ok {
		sum.Patient = u.Participant()
	}
	if room.LastMessageID != 0 && room.LastMessageAt != nil {
		sum.LastMessage = &models.LastMessage{
			MessageID: models.FormatServerID(room.LastMessageID),
			SenderID:  room.LastSenderID,
			Preview:   room.LastMessagePreview,
			SentAt:    *room.LastMessageAt,
		}
	}
	return sum
}

// --- messages ---

// SaveMessage persists msg, assigning its ID and the next per-room sequence number,
// and moves the room's last-message pointer. The room row is locked for the
// duration so concurrent writers to the same room are serialized.
func (s *Service) SaveMessage(msg *models.ChatHistory) error {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var room models.ChatRoom
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("room_id = ?", msg.RoomID).
			First(&room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}

		msg.Seq = room.LastSeq + 1
		if msg.Status == "" {
			msg.Status = models.StatusSent
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		return tx.Model(&models.ChatRoom{}).
			Where("room_id = ?", room.RoomID).
			Updates(map[string]interface{}{
				"last_seq":             msg.Seq,
				"last_message_id":      msg.ID,
				"last_sender_id":       msg.SenderID,
				"last_message_preview": msg.Preview(),
				"last_message_at":      msg.CreatedAt,
			}).Error
	})
	if err != nil && !errors.Is(err, ErrRoomNotFound) {
		s.Logger.Error("failed to save message", zap.String("room_id", msg.RoomID), zap.Error(err))
	}
	return err
}

// MarkDelivered advances sent messages to delivered; later statuses are left alone.
func (s *Service) MarkDelivered(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return s.DB.Model(&models.ChatHistory{}).
		Where("id IN ? AND status IN ?", ids, []models.MessageStatus{models.StatusSent}).
		Update("status", models.StatusDelivered).Error
}

// MarkRead stamps the reader's read marker on every counterpart message of the
// room that does not have one yet and returns the IDs it touched.
func (s *Service) MarkRead(roomID, readerID string, readerRole models.Role, at time.Time) ([]uint, error) {
	col := readColumn(readerRole)
	var ids []uint
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ChatHistory{}).
			Where("room_id = ? AND sender_id <> ?", roomID, readerID).
			Where(col+" IS NULL").
			Order("seq asc").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.ChatHistory{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{col: at, "status": models.StatusSeen}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("mark read in room %s: %w", roomID, err)
	}
	return ids, nil
}

func readColumn(role models.Role) string {
	if role == models.RoleDoctor {
		return "doctor_read_at"
	}
	return "patient_read_at"
}

// GetChatHistory returns up to limit messages older than beforeSeq (all when
// beforeSeq <= 0), ordered oldest-first.
func (s *Service) GetChatHistory(roomID string, beforeSeq int64, limit int) ([]models.ChatHistory, error) {
	limit = ClampPageSize(limit)

	q := s.DB.Where("room_id = ?", roomID)
	if beforeSeq > 0 {
		q = q.Where("seq < ?", beforeSeq)
	}

	var history []models.ChatHistory
	if err := q.Order("seq desc").Limit(limit).Find(&history).Error; err != nil {
		s.Logger.Error("failed to get chat history", zap.String("room_id", roomID), zap.Error(err))
		return nil, err
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// ClampPageSize applies the history paging defaults and ceiling.
func ClampPageSize(limit int) int {
	if limit <= 0 {
		return config.DefaultHistoryPageSize
	}
	if limit > config.MaxHistoryPageSize {
		return config.MaxHistoryPageSize
	}
	return limit
}

// --- presence ---

func presenceKey(userID string) string {
	return config.PresenceKeyPrefix + userID
}

func (s *Service) SetOnline(userID string) error {
	return s.Redis.Set(s.Ctx, presenceKey(userID), time.Now().Unix(), 0).Err()
}

func (s *Service) SetOffline(userID string) error {
	return s.Redis.Del(s.Ctx, presenceKey(userID)).Err()
}

// OnlineUsers reports the presence of every requested user; unknown users are offline.
func (s *Service) OnlineUsers(userIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}
	vals, err := s.Redis.MGet(s.Ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, id := range userIDs {
		out[id] = vals[i] != nil
	}
	return out, nil
}

// --- fan-out ---

// PublishEvent publishes an addressed event on the broadcast channel so every
// server instance can deliver it to the recipients it holds sessions for.
func (s *Service) PublishEvent(env models.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.Redis.Publish(s.Ctx, config.BroadcastChannel, payload).Err()
}

// SubscribeEvents streams envelopes from the broadcast channel until ctx is done.
func (s *Service) SubscribeEvents(ctx context.Context) (<-chan models.Envelope, error) {
	pubsub := s.Redis.Subscribe(ctx, config.BroadcastChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", config.BroadcastChannel, err)
	}

	out := make(chan models.Envelope, 256)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env models.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					s.Logger.Warn("dropping malformed broadcast", zap.Error(err))
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
