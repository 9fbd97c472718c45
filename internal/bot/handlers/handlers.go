package handlers

import (
	"context"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/hray3182/DoseLine/internal/dialogue"
	"github.com/hray3182/DoseLine/internal/format"
)

const (
	callbackYes = "answer:yes"
	callbackNo  = "answer:no"
)

// Sender is the part of the Telegram API the handlers use.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// TurnHandler answers one dialogue turn.
type TurnHandler interface {
	Handle(ctx context.Context, turn dialogue.Turn) dialogue.Response
}

type Handlers struct {
	api    Sender
	engine TurnHandler
	logger zerolog.Logger

	locks sync.Map // chat id -> *sync.Mutex
}

func New(api Sender, engine TurnHandler, logger zerolog.Logger) *Handlers {
	return &Handlers{
		api:    api,
		engine: engine,
		logger: logger.With().Str("component", "telegram").Logger(),
	}
}

// SessionID is the dialogue session a chat maps to.
func SessionID(chatID int64) string {
	return "tg-" + strconv.FormatInt(chatID, 10)
}

// ChatID reverses SessionID. Sessions of other front-ends report false.
func ChatID(sessionID string) (int64, bool) {
	rest, ok := strings.CutPrefix(sessionID, "tg-")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	return id, err == nil
}

// DeviceID is the notification device a chat registers as.
func DeviceID(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

func (h *Handlers) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	turn, ok := CommandTurn(msg.Command(), msg.CommandArguments())
	if !ok {
		h.sendText(msg.Chat.ID, helpText)
		return
	}
	h.run(ctx, msg.Chat.ID, turn)
}

func (h *Handlers) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	h.run(ctx, msg.Chat.ID, TextTurn(msg.Text))
}

// HandleCallbackQuery turns a press on an inline yes/no button into an
// answer and removes the buttons from the question.
func (h *Handlers) HandleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if _, err := h.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		h.logger.Warn().Err(err).Msg("failed to answer callback")
	}
	if callback.Message == nil {
		return
	}

	var intent dialogue.Intent
	switch callback.Data {
	case callbackYes:
		intent = dialogue.IntentYes
	case callbackNo:
		intent = dialogue.IntentNo
	default:
		return
	}

	chatID := callback.Message.Chat.ID
	clear := tgbotapi.NewEditMessageReplyMarkup(chatID, callback.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := h.api.Request(clear); err != nil {
		h.logger.Debug().Err(err).Msg("failed to clear answer buttons")
	}
	h.run(ctx, chatID, dialogue.Turn{Intent: intent})
}

// run completes the turn with the chat's identity and sends the answer.
// Turns of one chat are serialized.
func (h *Handlers) run(ctx context.Context, chatID int64, turn dialogue.Turn) {
	mu, _ := h.locks.LoadOrStore(chatID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	turn.SessionID = SessionID(chatID)
	turn.DeviceID = DeviceID(chatID)
	resp := h.engine.Handle(ctx, turn)

	h.logger.Debug().
		Int64("chat_id", chatID).
		Str("intent", string(turn.Intent)).
		Bool("expect_answer", resp.ExpectAnswer).
		Msg("turn answered")
	h.reply(chatID, resp)
}

func (h *Handlers) reply(chatID int64, resp dialogue.Response) {
	var m format.Message
	if resp.ExpectAnswer {
		m = format.Reply(resp.Speech, resp.Reprompt)
	} else {
		m = format.Reply(resp.Speech, "")
	}

	msg := tgbotapi.NewMessage(chatID, m.Text)
	msg.Entities = m.Entities
	if resp.ExpectAnswer {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Sì", callbackYes),
				tgbotapi.NewInlineKeyboardButtonData("No", callbackNo),
			),
		)
	}
	if _, err := h.api.Send(msg); err != nil {
		h.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send message")
	}
}

func (h *Handlers) sendText(chatID int64, text string) {
	if _, err := h.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		h.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send message")
	}
}
