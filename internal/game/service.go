package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"econfair/internal/docstore"
	"econfair/internal/ledger"
	"econfair/internal/model"
	"econfair/internal/scenario"
	"econfair/internal/tuning"
)

type Config struct {
	Tuning      tuning.Tuning
	MaxAttempts int
	RetryDelay  time.Duration
	Journal     ledger.Journal
	Clock       Clock
	Announcer   Announcer
	// Seed fixes the scenario generator; zero seeds from the clock.
	Seed int64
}

// Service is the facilitator and participant surface of a fair. Every
// participant mutation goes through the ledger engine.
type Service struct {
	store    docstore.Store
	ledger   *ledger.Engine
	tuning   tuning.Tuning
	scenario *scenario.Generator
	clock    Clock
	announce Announcer
	log      *slog.Logger
}

func NewService(store docstore.Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Tuning.StockCap == 0 {
		cfg.Tuning = tuning.Default()
	}
	engine := ledger.New(store, ledger.Options{
		MaxAttempts:     cfg.MaxAttempts,
		BaseDelay:       cfg.RetryDelay,
		StartingBalance: cfg.Tuning.StartingBalance,
		Journal:         cfg.Journal,
		Logger:          logger,
		Now:             cfg.Clock.Now,
	})
	return &Service{
		store:    store,
		ledger:   engine,
		tuning:   cfg.Tuning,
		scenario: scenario.New(cfg.Tuning.Scenario(), cfg.Seed),
		clock:    cfg.Clock,
		announce: cfg.Announcer,
		log:      logger,
	}
}

func (s *Service) Tuning() tuning.Tuning { return s.tuning }

// CurrentSession returns the OPEN session.
func (s *Service) CurrentSession(ctx context.Context) (model.Session, error) {
	docs, err := s.store.List(ctx, model.SessionPrefix)
	if err != nil {
		return model.Session{}, fmt.Errorf("list sessions: %w", err)
	}
	var cur *model.Session
	for _, d := range docs {
		var sess model.Session
		if err := json.Unmarshal(d.Data, &sess); err != nil {
			return model.Session{}, fmt.Errorf("decode %s: %w", d.Key, err)
		}
		if sess.Status != model.SessionOpen {
			continue
		}
		if cur == nil || sess.UpdatedAt.After(cur.UpdatedAt) {
			c := sess
			cur = &c
		}
	}
	if cur == nil {
		return model.Session{}, model.ErrNoOpenSession
	}
	return *cur, nil
}

func (s *Service) Session(ctx context.Context, id string) (model.Session, error) {
	d, err := s.store.Get(ctx, model.SessionKey(id))
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Session{}, model.NotFound("session %s not found", id)
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("read session: %w", err)
	}
	var sess model.Session
	if err := json.Unmarshal(d.Data, &sess); err != nil {
		return model.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

// Participant reads a participant without creating it.
func (s *Service) Participant(ctx context.Context, sessionID, userID string) (model.Participant, error) {
	d, err := s.store.Get(ctx, model.ParticipantKey(sessionID, userID))
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Participant{}, model.NotFound("participant %s not found", model.ParticipantID(sessionID, userID))
	}
	if err != nil {
		return model.Participant{}, fmt.Errorf("read participant: %w", err)
	}
	var p model.Participant
	if err := json.Unmarshal(d.Data, &p); err != nil {
		return model.Participant{}, fmt.Errorf("decode participant: %w", err)
	}
	return p, nil
}

// Join returns the caller's participant in the OPEN session, persisting the
// default state on first contact.
func (s *Service) Join(ctx context.Context, userID string) (model.Participant, error) {
	if strings.TrimSpace(userID) == "" {
		return model.Participant{}, model.Validation("user id is required")
	}
	sess, err := s.CurrentSession(ctx)
	if err != nil {
		return model.Participant{}, err
	}
	p, err := s.Participant(ctx, sess.ID, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Participant{}, err
	}
	rc, err := s.ledger.Apply(ctx, sess.ID, userID, func(p *model.Participant) (ledger.Effect, error) {
		return ledger.Effect{Kind: ledger.KindJoin}, nil
	})
	if err != nil {
		return model.Participant{}, err
	}
	s.log.Info("participant joined", "session_id", sess.ID, "user_id", userID)
	return rc.Participant, nil
}

// Participants lists every participant document of a session.
func (s *Service) Participants(ctx context.Context, sessionID string) ([]model.Participant, error) {
	docs, err := s.store.List(ctx, model.ParticipantsOf(sessionID))
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make([]model.Participant, 0, len(docs))
	for _, d := range docs {
		var p model.Participant
		if err := json.Unmarshal(d.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.Key, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// runningSession returns the OPEN session if its round is RUNNING.
func (s *Service) runningSession(ctx context.Context) (model.Session, error) {
	sess, err := s.CurrentSession(ctx)
	if err != nil {
		return model.Session{}, err
	}
	if sess.RoundStatus != model.RoundRunning {
		return model.Session{}, model.ErrRoundNotRunning
	}
	return sess, nil
}

// RemainingSeconds is the countdown shown to the facilitator, recomputed
// from the absolute end time.
func (s *Service) RemainingSeconds(sess model.Session) int64 {
	return remainingSeconds(sess, s.clock.Now())
}

func remainingSeconds(sess model.Session, now time.Time) int64 {
	if sess.RoundStatus != model.RoundRunning || sess.RoundEndsAt == nil {
		return sess.RoundDurationSec
	}
	left := sess.RoundEndsAt.Sub(now)
	if left <= 0 {
		return 0
	}
	secs := int64(left / time.Second)
	if left%time.Second != 0 {
		secs++
	}
	return secs
}

func idem(key string) []ledger.ApplyOption {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return []ledger.ApplyOption{ledger.WithIdempotencyKey(key)}
}
