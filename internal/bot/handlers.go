// Package bot – inbound event handling.
//
// This file maps Telegram events onto the request pipeline: commands, plain
// text (entitlement → quota → context → stream), attachments, payment
// pre-checkout and confirmation, and button callbacks. Every branch replies
// with something; policy denials are explanatory replies with a purchase
// affordance where applicable, and only real failures get the generic
// apology.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-telegram-llm-bot/internal/domain"
	"github.com/tbourn/go-telegram-llm-bot/internal/services"
)

const (
	apologyText = "Sorry, something went wrong while answering. Please try again."
	supportText = "We couldn't match your payment to an invoice. Please contact support."
)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID
	handle := msg.From.UserName

	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, userID, chatID, msg.SuccessfulPayment)
		return
	}

	if !b.allowUser(userID) {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, userID, chatID, handle, msg)
		return
	}

	if len(msg.Photo) > 0 || msg.Document != nil {
		b.handleAttachment(ctx, userID, chatID, handle, msg)
		return
	}

	b.respond(ctx, userID, chatID, handle, msg.Text)
}

// respond runs the full pipeline for one text prompt.
func (b *Bot) respond(ctx context.Context, userID, chatID int64, handle, prompt string) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		b.reply(chatID, "Send me some text and I'll answer.")
		return
	}
	if b.cfg.MaxPromptRunes > 0 && utf8.RuneCountInString(prompt) > b.cfg.MaxPromptRunes {
		b.reply(chatID, fmt.Sprintf("That message is too long — please keep it under %d characters.", b.cfg.MaxPromptRunes))
		return
	}

	admitted, ent, err := b.quota.Admit(ctx, userID, handle)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("quota check failed")
		b.reply(chatID, apologyText)
		return
	}
	if !admitted {
		b.sendQuotaDenial(chatID, ent)
		return
	}

	if err := b.stream.Respond(ctx, ent, userID, chatID, prompt); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("streamed response failed")
		b.reply(chatID, apologyText)
	}
}

func (b *Bot) handleCommand(ctx context.Context, userID, chatID int64, handle string, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		// First contact creates the profile with free-tier defaults.
		if _, err := b.quota.Entitlements.Resolve(ctx, userID, handle); err != nil {
			log.Error().Err(err).Int64("user_id", userID).Msg("profile bootstrap failed")
			b.reply(chatID, apologyText)
			return
		}
		b.reply(chatID, "Hi! Ask me anything and I'll answer with AI.\n"+
			"Free plan: "+fmt.Sprintf("%d", b.cfg.FreeDailyLimit)+" messages per day. /premium unlocks more. /help for all commands.")
	case "help":
		b.reply(chatID, "Commands:\n"+
			"/status — your plan and remaining messages\n"+
			"/reset — clear the conversation context\n"+
			"/premium — upgrade to premium\n"+
			"/cancel — cancel premium")
	case "status":
		b.handleStatus(ctx, userID, chatID, handle)
	case "reset":
		if err := b.history.Clear(ctx, userID); err != nil {
			log.Error().Err(err).Int64("user_id", userID).Msg("context reset failed")
			b.reply(chatID, apologyText)
			return
		}
		b.reply(chatID, "Context cleared — I've forgotten our conversation.")
	case "premium":
		b.sendInvoice(ctx, userID, chatID)
	case "cancel":
		b.handleCancel(ctx, userID, chatID)
	default:
		b.reply(chatID, "I don't know that command. Try /help.")
	}
}

func (b *Bot) handleStatus(ctx context.Context, userID, chatID int64, handle string) {
	left, ent, err := b.quota.Remaining(ctx, userID, handle)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("status lookup failed")
		b.reply(chatID, apologyText)
		return
	}
	text := fmt.Sprintf("Plan: %s\nMessages left today: %d of %d", ent.Tier, left, ent.DailyLimit)
	if ent.Expiry != nil {
		text += "\nPremium until: " + ent.Expiry.Format("2006-01-02")
	}
	b.reply(chatID, text)
}

func (b *Bot) handleCancel(ctx context.Context, userID, chatID int64) {
	cancelled, err := b.billing.CancelPremium(ctx, userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("cancel failed")
		b.reply(chatID, apologyText)
		return
	}
	if !cancelled {
		b.reply(chatID, "You don't have an active premium subscription.")
		return
	}
	b.reply(chatID, "Premium cancelled. You're back on the free plan.")
}

// handleAttachment gates photo/document analysis and acknowledges the
// upload. Content extraction itself is a stateless utility outside this
// pipeline; no quota is consumed for the stub acknowledgement.
func (b *Bot) handleAttachment(ctx context.Context, userID, chatID int64, handle string, msg *tgbotapi.Message) {
	var size int64
	var kind string
	if msg.Document != nil {
		size = int64(msg.Document.FileSize)
		kind = "document"
	} else {
		kind = "photo"
		for _, p := range msg.Photo {
			if s := int64(p.FileSize); s > size {
				size = s
			}
		}
	}

	if size > b.cfg.MaxAttachmentBytes {
		b.reply(chatID, fmt.Sprintf("That %s is too large — the limit is %d MB.", kind, b.cfg.MaxAttachmentBytes>>20))
		return
	}

	if b.cfg.AttachPremiumOnly {
		ent, err := b.quota.Entitlements.Resolve(ctx, userID, handle)
		if err != nil {
			log.Error().Err(err).Int64("user_id", userID).Msg("entitlement check failed")
			b.reply(chatID, apologyText)
			return
		}
		if ent.Tier != domain.TierPremium {
			denial := tgbotapi.NewMessage(chatID, "Analyzing photos and documents is a premium feature.")
			denial.ReplyMarkup = buyKeyboard()
			if _, err := b.api.Send(denial); err != nil {
				log.Warn().Err(err).Int64("chat_id", chatID).Msg("attachment denial reply failed")
			}
			return
		}
	}

	if caption := strings.TrimSpace(msg.Caption); caption != "" {
		b.respond(ctx, userID, chatID, handle, caption)
		return
	}
	b.reply(chatID, "Got your "+kind+". Add a caption to tell me what to do with it.")
}

// sendQuotaDenial explains the limit and offers the upgrade.
func (b *Bot) sendQuotaDenial(chatID int64, ent services.Entitlement) {
	text := fmt.Sprintf("You've used all %d messages for today. Your quota resets daily.", ent.DailyLimit)
	msg := tgbotapi.NewMessage(chatID, text)
	if ent.Tier != domain.TierPremium {
		msg.Text += "\nUpgrade to premium for a higher daily limit."
		msg.ReplyMarkup = buyKeyboard()
	}
	if _, err := b.api.Send(msg); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("quota denial reply failed")
	}
}

// sendInvoice issues an invoice and delivers it. An already-premium user
// gets their expiry instead of a second invoice.
func (b *Bot) sendInvoice(ctx context.Context, userID, chatID int64) {
	if b.cfg.PaymentProviderToken == "" {
		b.reply(chatID, "Payments are not enabled on this bot.")
		return
	}

	ent, err := b.quota.Entitlements.Resolve(ctx, userID, "")
	if err == nil && ent.Tier == domain.TierPremium && ent.Expiry != nil {
		b.reply(chatID, "You already have premium until "+ent.Expiry.Format("2006-01-02")+".")
		return
	}

	inv, err := b.billing.IssueInvoice(ctx, userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("invoice creation failed")
		b.reply(chatID, apologyText)
		return
	}

	invoice := tgbotapi.NewInvoice(
		chatID,
		inv.Title,
		inv.Description,
		inv.Payload,
		b.cfg.PaymentProviderToken,
		"premium",
		inv.Currency,
		[]tgbotapi.LabeledPrice{{Label: inv.Title, Amount: int(inv.Amount)}},
	)
	if _, err := b.api.Send(invoice); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("invoice send failed")
		b.reply(chatID, apologyText)
	}
}

// handlePreCheckout accepts or rejects the checkout based on whether the
// payload matches a stored invoice.
func (b *Bot) handlePreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) {
	answer := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: true}
	if _, err := b.billing.ValidatePreCheckout(ctx, q.InvoicePayload); err != nil {
		answer.OK = false
		answer.ErrorMessage = "This invoice is no longer valid. Please request a new one with /premium."
		log.Warn().Err(err).Int64("user_id", q.From.ID).Msg("pre-checkout rejected")
	}
	if _, err := b.api.Request(answer); err != nil {
		log.Error().Err(err).Msg("pre-checkout answer failed")
	}
}

// handleSuccessfulPayment records the payment and activates the entitlement.
func (b *Bot) handleSuccessfulPayment(ctx context.Context, userID, chatID int64, sp *tgbotapi.SuccessfulPayment) {
	err := b.billing.RecordPayment(ctx, sp.InvoicePayload, sp.TelegramPaymentChargeID)
	if errors.Is(err, services.ErrUnknownInvoice) {
		b.reply(chatID, supportText)
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("payment recording failed")
		b.reply(chatID, supportText)
		return
	}

	text := "Payment received — premium is active!"
	if ent, rerr := b.quota.Entitlements.Resolve(ctx, userID, ""); rerr == nil && ent.Expiry != nil {
		text = "Payment received — premium is active until " + ent.Expiry.Format("2006-01-02") + "."
	}
	b.reply(chatID, text)
}

// handleCallback answers button presses. The only callback today is the
// purchase affordance.
func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		log.Warn().Err(err).Msg("callback answer failed")
	}
	if q.Data != callbackBuyPremium || q.Message == nil {
		return
	}
	b.sendInvoice(ctx, q.From.ID, q.Message.Chat.ID)
}
