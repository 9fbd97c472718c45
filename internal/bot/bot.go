package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/hray3182/DoseLine/internal/bot/handlers"
	"github.com/hray3182/DoseLine/internal/format"
)

type Bot struct {
	api      *tgbotapi.BotAPI
	handlers *handlers.Handlers
	logger   zerolog.Logger
}

func New(api *tgbotapi.BotAPI, engine handlers.TurnHandler, logger zerolog.Logger) *Bot {
	return &Bot{
		api:      api,
		handlers: handlers.New(api, engine, logger),
		logger:   logger.With().Str("component", "telegram").Logger(),
	}
}

// NewAPI connects to Telegram with the bot token.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return api, nil
}

func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info().Str("account", b.api.Self.UserName).Msg("authorized on telegram")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		b.handlers.HandleCallbackQuery(ctx, update.CallbackQuery)
		return
	}
	if update.Message == nil {
		return
	}

	if update.Message.IsCommand() {
		b.handlers.HandleCommand(ctx, update.Message)
		return
	}
	b.handlers.HandleMessage(ctx, update.Message)
}

// NotifySession sends text to the chat behind a Telegram session.
func (b *Bot) NotifySession(ctx context.Context, sessionID, text string) (bool, error) {
	chatID, ok := handlers.ChatID(sessionID)
	if !ok {
		return false, nil
	}
	m := format.Reply(text, "")
	msg := tgbotapi.NewMessage(chatID, m.Text)
	msg.Entities = m.Entities
	if _, err := b.api.Send(msg); err != nil {
		return false, fmt.Errorf("failed to send to chat %d: %w", chatID, err)
	}
	return true, nil
}
