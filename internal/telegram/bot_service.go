// Package telegram delivers out-of-band alerts through a Telegram bot: a user
// links their Telegram chat once, and from then on gets a notification for
// every chat message that arrives while they have no live session.
package telegram

import (
	"context"
	"fmt"

	"medchat/backend/internal/localization"
	"medchat/backend/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// BotAPI is the part of *tgbotapi.BotAPI the service uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// BotService answers the link commands and sends new-message notifications.
type BotService struct {
	BotAPI    BotAPI
	Storage   storage.Storage
	Localizer *localization.Localizer
	Logger    *zap.Logger
}

// NewBotService authorizes the bot token and loads the notification texts.
func NewBotService(token string, s storage.Storage, logger *zap.Logger) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram authorization: %w", err)
	}
	bot.Debug = false

	localizer, err := localization.NewLocalizer()
	if err != nil {
		return nil, fmt.Errorf("failed to create localizer: %w", err)
	}

	svc := NewBotServiceWithAPI(bot, s, localizer, logger)
	svc.Logger.Info("telegram bot authorized", zap.String("account", bot.Self.UserName))
	return svc, nil
}

// NewBotServiceWithAPI builds the service around an existing bot client.
func NewBotServiceWithAPI(bot BotAPI, s storage.Storage, localizer *localization.Localizer, logger *zap.Logger) *BotService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BotService{
		BotAPI:    bot,
		Storage:   s,
		Localizer: localizer,
		Logger:    logger,
	}
}

// Run polls for updates until ctx is cancelled.
func (s *BotService) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)
	defer s.BotAPI.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			HandleLinkCommand(ctx, &update, s.Storage, s.BotAPI, s.Localizer, s.Logger)
		}
	}
}
