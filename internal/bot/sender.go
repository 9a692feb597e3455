// Package bot implements the Telegram transport: the long-polling update
// loop, command and payment handling, and the outbound adapter consumed by
// the streaming engine.
//
// This file provides Sender, the thin outbound adapter over the Bot API.
// It satisfies services.Outbound (send/edit for streamed responses) and
// services.ExpiryNotifier (the one-time premium-expired notice).
package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// callbackBuyPremium is the callback data carried by the re-subscribe /
// purchase affordance button.
const callbackBuyPremium = "buy_premium"

// Sender adapts the Bot API to the outbound contracts of the service layer.
type Sender struct {
	api *tgbotapi.BotAPI
}

// NewSender wraps an authorized Bot API client.
func NewSender(api *tgbotapi.BotAPI) *Sender {
	return &Sender{api: api}
}

// SendText sends a new message and returns its handle for later edits.
// The Bot API client has no context plumbing, so cancellation is honored
// up front only.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sent, err := s.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// EditText replaces the text of a previously sent message.
func (s *Sender) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text))
	return err
}

// NotifyExpired delivers the premium-expired notice with a re-subscribe
// button. In private chats the chat ID equals the user ID.
func (s *Sender) NotifyExpired(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(userID, "Your premium subscription has expired. You are back on the free plan.")
	msg.ReplyMarkup = buyKeyboard()
	_, err := s.api.Send(msg)
	return err
}

// buyKeyboard is the single-button purchase affordance attached to quota
// denials and expiry notices.
func buyKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Upgrade to premium", callbackBuyPremium),
		),
	)
}
