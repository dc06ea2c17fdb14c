package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"econfair/internal/docstore"
)

type AuthMode string

const (
	AuthSupabase AuthMode = "supabase"
	AuthDev      AuthMode = "dev"
)

// StoreConfig selects and addresses the document store backend.
type StoreConfig struct {
	Backend       docstore.Backend
	DatabaseURL   string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func (c StoreConfig) Options() docstore.Options {
	return docstore.Options{
		Backend:     c.Backend,
		SQLitePath:  c.SQLitePath,
		DatabaseURL: c.DatabaseURL,
		Redis: docstore.RedisOptions{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		},
	}
}

type APIConfig struct {
	Addr                   string
	Store                  StoreConfig
	AuthMode               AuthMode
	SupabaseURL            string
	SupabaseAnonKey        string
	FacilitatorKeyHash     string
	TuningPath             string
	TxMaxAttempts          int
	JournalDir             string
	RatePerSec             float64
	SweepEvery             time.Duration
	SweepMaxParticipants   int
	InProcessSweeper       bool
	DiscordBotToken        string
	DiscordChannelID       string
	LogLevel               slog.Level
	WatchHeartbeatInterval time.Duration
}

type WorkerConfig struct {
	Store                StoreConfig
	TuningPath           string
	TxMaxAttempts        int
	JournalDir           string
	SweepEvery           time.Duration
	SweepMaxParticipants int
	RunOnce              bool
	LogLevel             slog.Level
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadDotEnv reads path (".env" when empty) into the process environment
// without overriding variables that are already set. A missing file is fine.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("ECONFAIR_API_ADDR", ":8080")
	}

	store, err := loadStore()
	if err != nil {
		return APIConfig{}, err
	}
	cfg := APIConfig{
		Addr:                   addr,
		Store:                  store,
		AuthMode:               AuthMode(strings.ToLower(envDefault("ECONFAIR_AUTH_MODE", string(AuthSupabase)))),
		SupabaseURL:            strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey:        strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		FacilitatorKeyHash:     strings.TrimSpace(os.Getenv("ECONFAIR_FACILITATOR_KEY_HASH")),
		TuningPath:             strings.TrimSpace(os.Getenv("ECONFAIR_TUNING_PATH")),
		TxMaxAttempts:          envIntDefault("ECONFAIR_TX_MAX_ATTEMPTS", 8),
		JournalDir:             strings.TrimSpace(os.Getenv("ECONFAIR_JOURNAL_DIR")),
		RatePerSec:             envFloatDefault("ECONFAIR_RATE_PER_SEC", 5),
		SweepEvery:             envDurationDefault("ECONFAIR_SWEEP_EVERY", 5*time.Second),
		SweepMaxParticipants:   envIntDefault("ECONFAIR_SWEEP_MAX_PARTICIPANTS", 200),
		InProcessSweeper:       envBoolDefault("ECONFAIR_INPROCESS_SWEEPER", false),
		DiscordBotToken:        strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		DiscordChannelID:       strings.TrimSpace(os.Getenv("DISCORD_CHANNEL_ID")),
		LogLevel:               envLevelDefault("ECONFAIR_LOG_LEVEL", slog.LevelInfo),
		WatchHeartbeatInterval: envDurationDefault("ECONFAIR_WATCH_HEARTBEAT", 20*time.Second),
	}
	switch cfg.AuthMode {
	case AuthSupabase:
		if cfg.SupabaseURL == "" {
			return cfg, fmt.Errorf("SUPABASE_URL is required")
		}
		if cfg.SupabaseAnonKey == "" {
			return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
		}
	case AuthDev:
	default:
		return cfg, fmt.Errorf("ECONFAIR_AUTH_MODE must be supabase or dev, got %q", cfg.AuthMode)
	}
	if (cfg.DiscordBotToken == "") != (cfg.DiscordChannelID == "") {
		return cfg, fmt.Errorf("DISCORD_BOT_TOKEN and DISCORD_CHANNEL_ID must be set together")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	store, err := loadStore()
	if err != nil {
		return WorkerConfig{}, err
	}
	if store.Backend == docstore.BackendMemory {
		return WorkerConfig{}, fmt.Errorf("worker needs a shared store, ECONFAIR_STORE=memory is process-local")
	}
	return WorkerConfig{
		Store:                store,
		TuningPath:           strings.TrimSpace(os.Getenv("ECONFAIR_TUNING_PATH")),
		TxMaxAttempts:        envIntDefault("ECONFAIR_TX_MAX_ATTEMPTS", 8),
		JournalDir:           strings.TrimSpace(os.Getenv("ECONFAIR_JOURNAL_DIR")),
		SweepEvery:           envDurationDefault("ECONFAIR_SWEEP_EVERY", 5*time.Second),
		SweepMaxParticipants: envIntDefault("ECONFAIR_SWEEP_MAX_PARTICIPANTS", 200),
		RunOnce:              envBoolDefault("ECONFAIR_WORKER_RUN_ONCE", false),
		LogLevel:             envLevelDefault("ECONFAIR_LOG_LEVEL", slog.LevelInfo),
	}, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("FAIRCTL_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func loadStore() (StoreConfig, error) {
	backend, err := docstore.ParseBackend(envDefault("ECONFAIR_STORE", string(docstore.BackendMemory)))
	if err != nil {
		return StoreConfig{}, err
	}
	cfg := StoreConfig{
		Backend:       backend,
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:    envDefault("ECONFAIR_SQLITE_PATH", "econfair.db"),
		RedisAddr:     envDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envIntDefault("REDIS_DB", 0),
	}
	if backend == docstore.BackendPostgres && cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required for ECONFAIR_STORE=postgres")
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return l
}
