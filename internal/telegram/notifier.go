package telegram

import (
	"fmt"

	"medchat/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const previewRunes = 200

// NotifyNewMessage tells an offline recipient about a new message. Users who
// never linked a Telegram chat are skipped.
func (s *BotService) NotifyNewMessage(recipient, sender *models.User, msg models.ChatMessage) error {
	if recipient == nil || recipient.TelegramChatID == 0 {
		return nil
	}
	lang := recipient.Language
	from := s.senderName(lang, sender)

	var text string
	if msg.Kind == models.KindFile && msg.File != nil {
		text = s.Localizer.Format(lang, "new_file", from, msg.File.Name)
	} else {
		text = s.Localizer.Format(lang, "new_message", from, truncate(msg.Content, previewRunes))
	}

	if _, err := s.BotAPI.Send(tgbotapi.NewMessage(recipient.TelegramChatID, text)); err != nil {
		return fmt.Errorf("telegram notify %s: %w", recipient.ID, err)
	}
	return nil
}

func (s *BotService) senderName(lang string, sender *models.User) string {
	if sender == nil {
		return "?"
	}
	switch sender.Role {
	case models.RoleDoctor:
		return s.Localizer.GetString(lang, "role_doctor") + " " + sender.Name
	case models.RolePatient:
		return s.Localizer.GetString(lang, "role_patient") + " " + sender.Name
	}
	return sender.Name
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
