package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"econfair/internal/config"
	"econfair/internal/docstore"
	"econfair/internal/game"
	"econfair/internal/journal"
	"econfair/internal/tuning"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(os.Getenv("ECONFAIR_ENV_FILE")); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWorkerFromEnv()
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

	gameCfg := game.Config{Tuning: tun, MaxAttempts: cfg.TxMaxAttempts}
	if cfg.JournalDir != "" {
		jw := journal.NewWriter(cfg.JournalDir, "sweep")
		defer jw.Close()
		gameCfg.Journal = jw
	}
	svc := game.NewService(store, gameCfg, logger)
	sweeper := game.NewSweeper(svc, cfg.SweepEvery, cfg.SweepMaxParticipants, logger)

	if cfg.RunOnce {
		report, err := sweeper.Tick(ctx)
		if err != nil {
			logger.Error("sweep failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed",
			"session_id", report.SessionID,
			"participants", report.Participants,
			"withdrawn", report.Withdrawn,
			"credited", report.Credited,
		)
		return
	}

	sweeper.Run(ctx)
	logger.Info("worker shutdown")
}
