package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"econfair/internal/api"
	"econfair/internal/auth"
	"econfair/internal/config"
	"econfair/internal/docstore"
	"econfair/internal/game"
	"econfair/internal/journal"
	"econfair/internal/notify"
	"econfair/internal/tuning"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(os.Getenv("ECONFAIR_ENV_FILE")); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	tun, err := tuning.Load(cfg.TuningPath)
	if err != nil {
		logger.Error("load tuning failed", "err", err)
		os.Exit(1)
	}
	store, err := docstore.Open(ctx, cfg.Store.Options(), logger)
	if err != nil {
		logger.Error("store open failed", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	gameCfg := game.Config{
		Tuning:      tun,
		MaxAttempts: cfg.TxMaxAttempts,
	}
	if cfg.JournalDir != "" {
		jw := journal.NewWriter(cfg.JournalDir, "ledger")
		defer jw.Close()
		gameCfg.Journal = jw
	}
	if cfg.DiscordBotToken != "" {
		d, err := notify.NewDiscord(cfg.DiscordBotToken, cfg.DiscordChannelID)
		if err != nil {
			logger.Error("discord init failed", "err", err)
			os.Exit(1)
		}
		defer d.Close()
		gameCfg.Announcer = d
	}
	gameSvc := game.NewService(store, gameCfg, logger)

	var provider auth.Provider = auth.DevProvider{}
	if cfg.AuthMode == config.AuthSupabase {
		provider = auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	} else {
		logger.Warn("dev auth mode: bearer tokens are trusted as user ids")
	}
	facilitator, err := auth.NewFacilitator(cfg.FacilitatorKeyHash)
	if err != nil {
		logger.Error("facilitator key invalid", "err", err)
		os.Exit(1)
	}
	if cfg.FacilitatorKeyHash == "" {
		logger.Warn("ECONFAIR_FACILITATOR_KEY_HASH is empty, admin routes are disabled")
	}

	if cfg.InProcessSweeper {
		sweeper := game.NewSweeper(gameSvc, cfg.SweepEvery, cfg.SweepMaxParticipants, logger)
		go sweeper.Run(ctx)
	}

	server := api.New(cfg, logger, provider, facilitator, gameSvc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("econfair api listening", "addr", cfg.Addr, "store", cfg.Store.Backend, "auth", cfg.AuthMode)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
