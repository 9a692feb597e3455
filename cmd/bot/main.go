// Command bot runs the Telegram LLM chat bot: it wires configuration,
// logging, tracing, the SQLite store, the completion client, and the service
// layer, then long-polls Telegram until interrupted. An internal ops listener
// serves the health probe and Prometheus scrape endpoint.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-telegram-llm-bot/internal/bot"
	"github.com/tbourn/go-telegram-llm-bot/internal/config"
	"github.com/tbourn/go-telegram-llm-bot/internal/llm"
	"github.com/tbourn/go-telegram-llm-bot/internal/observability"
	"github.com/tbourn/go-telegram-llm-bot/internal/ops"
	"github.com/tbourn/go-telegram-llm-bot/internal/repo"
	"github.com/tbourn/go-telegram-llm-bot/internal/services"
	"github.com/tbourn/go-telegram-llm-bot/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogging(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("db tracing plugin failed")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram authorization failed")
	}

	sender := bot.NewSender(api)

	ents := services.NewEntitlementService(db, cfg.FreeDailyLimit, cfg.PremiumDailyLimit)
	ents.Notifier = sender

	quota := services.NewQuotaService(db, ents, services.NewKeyedMutex())
	quota.ResetMode = cfg.QuotaResetMode
	quota.ResetLocation = cfg.ResetLocation()

	history := services.NewContextService(db)
	history.Window = cfg.ContextWindow

	stream := &services.StreamService{
		DB:               db,
		Context:          history,
		LLM:              llm.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIKey),
		Out:              sender,
		FreeModel:        cfg.FreeModel,
		PremiumModel:     cfg.PremiumModel,
		FreeMaxTokens:    cfg.FreeMaxTokens,
		PremiumMaxTokens: cfg.PremiumMaxTokens,
		Temperature:      cfg.Temperature,
		SystemPrompt:     cfg.SystemPrompt,
		ChunkThreshold:   cfg.ChunkThreshold,
		StreamTimeout:    cfg.StreamTimeout,
	}

	billing := services.NewBillingService(db, cfg.PremiumPriceCents, cfg.PremiumCurrency, cfg.PremiumDurationDays)

	opsSrv := ops.NewServer(cfg)
	go func() {
		log.Info().Str("addr", opsSrv.Addr).Msg("ops listener starting")
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ops listener failed")
		}
	}()

	b := bot.New(api, cfg, quota, stream, billing, history)
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("bot stopped with error")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := opsSrv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("ops shutdown failed")
	}
	log.Info().Msg("bye")
}
