package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/maaaruch/gather-bot/internal/app"
	"github.com/maaaruch/gather-bot/internal/config"
	"github.com/maaaruch/gather-bot/internal/identity"
	"github.com/maaaruch/gather-bot/internal/reconcile"
	"github.com/maaaruch/gather-bot/internal/snapshot"
	"github.com/maaaruch/gather-bot/internal/storage"
	"github.com/maaaruch/gather-bot/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("gather-bot", os.Args[1:])
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := cfg.Logger(os.Stderr)
	slog.SetDefault(log)

	if cfg.TelegramToken == "" {
		log.Error("TELEGRAM_BOT_TOKEN is not set")
		os.Exit(1)
	}

	store, err := storage.OpenKV(ctx, cfg.StoreOptions())
	if err != nil {
		log.Error("open identity store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	codec, err := snapshot.NewCodec()
	if err != nil {
		log.Error("compile snapshot schemas", "error", err)
		os.Exit(1)
	}

	if err := tgbotapi.SetLogger(slog.NewLogLogger(log.Handler(), slog.LevelDebug)); err != nil {
		log.Warn("telegram logger", "error", err)
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}
	bot.Debug = cfg.Debug
	log.Info("bot started", "username", bot.Self.UserName, "store", cfg.StoreDriver)

	sender := transport.NewTelegram(bot,
		transport.WithRate(rate.Limit(cfg.SendRate), cfg.SendBurst),
		transport.WithTelegramLogger(log),
	)
	engine := reconcile.New(codec, sender,
		reconcile.WithRenderer(app.Render),
		reconcile.WithLogger(log),
	)
	people := identity.NewRegistry(store, cfg.IdentitySalt, identity.WithLogger(log))

	application := app.New(bot, engine, people, app.WithLogger(log))
	application.Run(ctx)

	log.Info("shutting down")
}
