package telegram

import (
	"context"
	"errors"
	"strings"

	"medchat/backend/internal/localization"
	"medchat/backend/internal/models"
	"medchat/backend/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// LinkStorage defines the storage methods the link commands need.
type LinkStorage interface {
	GetUserByID(userID string) (*models.User, error)
	LinkTelegram(userID string, chatID int64) error
	UnlinkTelegram(chatID int64) error
}

// Sender sends one message through the bot.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// HandleLinkCommand processes /start <user-id>, which links the chat to a user,
// and /stop, which unlinks it. Anything else gets the help text.
func HandleLinkCommand(ctx context.Context, update *tgbotapi.Update, s LinkStorage, bot Sender, loc *localization.Localizer, logger *zap.Logger) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	lang := localization.DefaultLanguage
	if msg.From != nil && msg.From.LanguageCode != "" {
		lang = msg.From.LanguageCode
	}

	var key string
	switch msg.Command() {
	case "start":
		userID := strings.TrimSpace(msg.CommandArguments())
		if userID == "" {
			key = "help"
			break
		}
		key = "linked"
		err := s.LinkTelegram(userID, chatID)
		if errors.Is(err, storage.ErrUserNotFound) {
			key = "link_failed"
			break
		}
		if err != nil {
			logger.Error("failed to link telegram chat", zap.String("user_id", userID), zap.Error(err))
			key = "link_failed"
			break
		}
		if user, err := s.GetUserByID(userID); err == nil && user.Language != "" {
			lang = user.Language
		}
		logger.Info("telegram chat linked", zap.String("user_id", userID))

	case "stop":
		key = "unlinked"
		if err := s.UnlinkTelegram(chatID); err != nil {
			logger.Error("failed to unlink telegram chat", zap.Int64("chat_id", chatID), zap.Error(err))
		}

	default:
		key = "help"
	}

	reply := tgbotapi.NewMessage(chatID, loc.GetString(lang, key))
	if _, err := bot.Send(reply); err != nil {
		logger.Warn("failed to send telegram reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
