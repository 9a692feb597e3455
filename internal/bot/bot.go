// Package bot – update loop and flood control.
//
// The Bot owns the long-polling loop. Each update is handled in its own
// goroutine and recovered at the per-update boundary: no error or panic from
// one turn can take the process down or block later events. Flood control is
// a global token bucket plus per-user buckets, following the platform's own
// delivery limits.
package bot

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-telegram-llm-bot/internal/config"
	"github.com/tbourn/go-telegram-llm-bot/internal/services"
)

// Bot wires the Telegram transport to the service layer.
type Bot struct {
	api     *tgbotapi.BotAPI
	cfg     config.Config
	quota   *services.QuotaService
	stream  *services.StreamService
	billing *services.BillingService
	history *services.ContextService

	globalLimiter  *rate.Limiter
	userLimiters   map[int64]*rate.Limiter
	userLimitersMu sync.Mutex
}

// New constructs a Bot over an authorized API client and the service layer.
func New(api *tgbotapi.BotAPI, cfg config.Config, quota *services.QuotaService, stream *services.StreamService, billing *services.BillingService, history *services.ContextService) *Bot {
	return &Bot{
		api:           api,
		cfg:           cfg,
		quota:         quota,
		stream:        stream,
		billing:       billing,
		history:       history,
		globalLimiter: rate.NewLimiter(rate.Limit(30), 30), // Bot API global send ceiling
		userLimiters:  make(map[int64]*rate.Limiter),
	}
}

// Run starts long polling and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	log.Info().Str("username", b.api.Self.UserName).Msg("bot authorized, starting long poll")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query", "pre_checkout_query"}

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

// handleUpdate dispatches one update. Panics and errors are contained here;
// the per-turn failure policy is a single generic apology.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("panic while handling update")
		}
	}()

	switch {
	case update.PreCheckoutQuery != nil:
		b.handlePreCheckout(ctx, update.PreCheckoutQuery)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

// allowUser applies the per-user and global flood limiters. Denied events
// are dropped silently; the platform will not retry them meaningfully.
func (b *Bot) allowUser(userID int64) bool {
	b.userLimitersMu.Lock()
	lim, ok := b.userLimiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Second), 3)
		b.userLimiters[userID] = lim
	}
	b.userLimitersMu.Unlock()

	return lim.Allow() && b.globalLimiter.Allow()
}

// reply sends a plain text reply, logging (not propagating) failures —
// outbound send errors at this layer are terminal for the turn anyway.
func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("reply failed")
	}
}
