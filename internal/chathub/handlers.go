package chathub

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"medchat/backend/internal/config"
	"medchat/backend/internal/models"
	"medchat/backend/internal/storage"

	"go.uber.org/zap"
)

func (m *ManagerService) handleInbound(in Inbound) {
	ev := in.Event
	ev.SenderID = in.Client.GetUserID()

	switch ev.Type {
	case models.CommandMessageSend:
		m.handleSend(in.Client, ev)
	case models.CommandTypingSet:
		m.handleTyping(ev)
	case models.CommandReadMark:
		m.handleReadMark(ev)
	default:
		m.Logger.Warn("unknown command", zap.String("type", ev.Type), zap.String("user_id", ev.SenderID))
		m.sendTo(in.Client, models.Event{Type: models.EventError, Error: "unknown command " + ev.Type})
	}
}

// validateContent checks the content variant of an outgoing message and
// returns a rejection reason, or "" when the message is acceptable.
func validateContent(msg *models.ChatMessage) string {
	if msg == nil {
		return config.ReasonEmptyContent
	}
	switch msg.Kind {
	case models.KindFile:
		if msg.File == nil || strings.TrimSpace(msg.File.URL) == "" {
			return config.ReasonEmptyContent
		}
	case models.KindText, "":
		if strings.TrimSpace(msg.Content) == "" {
			return config.ReasonEmptyContent
		}
		if utf8.RuneCountInString(msg.Content) > config.MaxContentLength {
			return config.ReasonTooLong
		}
	default:
		return config.ReasonEmptyContent
	}
	return ""
}

// handleSend persists a message, acknowledges it to the sender and forwards it
// to the other participant. Every rejection goes back as an ack carrying a
// reason so the sender can fail the pending message instead of waiting.
func (m *ManagerService) handleSend(c Client, ev models.Event) {
	reject := func(reason string) {
		m.sendTo(c, models.Event{
			Type:   models.EventMessageAck,
			RoomID: ev.RoomID,
			TempID: ev.TempID,
			Error:  reason,
		})
	}

	if reason := validateContent(ev.Message); reason != "" {
		reject(reason)
		return
	}

	room, err := m.Storage.GetRoomByID(ev.RoomID)
	if errors.Is(err, storage.ErrRoomNotFound) {
		reject(config.ReasonRoomNotFound)
		return
	}
	if err != nil {
		reject(config.ReasonStorage)
		return
	}

	role, ok := room.RoleOf(ev.SenderID)
	if !ok {
		reject(config.ReasonNotParticipant)
		return
	}
	recipientID, _ := room.Counterpart(ev.SenderID)

	users, err := m.Storage.GetUsersByIDs([]string{ev.SenderID, recipientID})
	if err != nil {
		reject(config.ReasonStorage)
		return
	}
	for _, u := range users {
		if u.IsBlocked {
			reject(config.ReasonBlocked)
			return
		}
	}

	hist := &models.ChatHistory{
		RoomID:     room.RoomID,
		SenderID:   ev.SenderID,
		SenderRole: role,
		Kind:       models.KindText,
		Content:    ev.Message.Content,
		Status:     models.StatusSent,
	}
	if ev.Message.Kind == models.KindFile {
		hist.Kind = models.KindFile
		hist.FileName = ev.Message.File.Name
		hist.FileSize = ev.Message.File.Size
		hist.FileURL = ev.Message.File.URL
	}

	if err := m.Storage.SaveMessage(hist); err != nil {
		if errors.Is(err, storage.ErrRoomNotFound) {
			reject(config.ReasonRoomNotFound)
		} else {
			reject(config.ReasonStorage)
		}
		return
	}

	msg := hist.ToMessage()
	m.sendTo(c, models.Event{
		Type:    models.EventMessageAck,
		RoomID:  room.RoomID,
		TempID:  ev.TempID,
		Message: &msg,
	})

	m.dispatch(models.Envelope{
		Recipients: []string{recipientID},
		Event: models.Event{
			Type:    models.EventMessageNew,
			RoomID:  room.RoomID,
			Message: &msg,
		},
	})

	m.notifyIfOffline(users[recipientID], users[ev.SenderID], msg)
}

func (m *ManagerService) notifyIfOffline(recipient, sender *models.User, msg models.ChatMessage) {
	if m.Notifier == nil || recipient == nil || sender == nil {
		return
	}
	online, err := m.Storage.OnlineUsers([]string{recipient.ID})
	if err != nil || online[recipient.ID] {
		return
	}
	n := m.Notifier
	go func() {
		if err := n.NotifyNewMessage(recipient, sender, msg); err != nil {
			m.Logger.Warn("offline notification failed", zap.String("user_id", recipient.ID), zap.Error(err))
		}
	}()
}

// handleTyping relays a typing signal to the other participant. Typing state is
// never stored.
func (m *ManagerService) handleTyping(ev models.Event) {
	if ev.Typing == nil {
		return
	}
	room, err := m.Storage.GetRoomByID(ev.RoomID)
	if err != nil {
		return
	}
	other, ok := room.Counterpart(ev.SenderID)
	if !ok {
		return
	}
	m.dispatch(models.Envelope{
		Recipients: []string{other},
		Event: models.Event{
			Type:   models.EventTypingUpdate,
			RoomID: room.RoomID,
			Typing: &models.Typing{UserID: ev.SenderID, IsTyping: ev.Typing.IsTyping},
		},
	})
}

// handleReadMark marks every unread counterpart message of the room as seen by
// the reader and sends the receipt to the counterpart.
func (m *ManagerService) handleReadMark(ev models.Event) {
	room, err := m.Storage.GetRoomByID(ev.RoomID)
	if err != nil {
		return
	}
	role, ok := room.RoleOf(ev.SenderID)
	if !ok {
		return
	}
	other, _ := room.Counterpart(ev.SenderID)

	now := time.Now().UTC()
	ids, err := m.Storage.MarkRead(room.RoomID, ev.SenderID, role, now)
	if err != nil {
		m.Logger.Error("failed to mark read", zap.String("room_id", room.RoomID), zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}

	messageIDs := make([]string, len(ids))
	for i, id := range ids {
		messageIDs[i] = models.FormatServerID(id)
	}
	m.dispatch(models.Envelope{
		Recipients: []string{other},
		Event: models.Event{
			Type:   models.EventReadReceipt,
			RoomID: room.RoomID,
			Receipt: &models.ReadReceipt{
				MessageIDs: messageIDs,
				ReaderID:   ev.SenderID,
				ReaderRole: role,
				ReadAt:     now,
			},
		},
	})
}
