package game

import (
	"context"
	"time"

	"econfair/internal/model"
)

type RoundEvent string

const (
	EventSessionOpened       RoundEvent = "session_opened"
	EventRoundStarted        RoundEvent = "round_started"
	EventRoundStopped        RoundEvent = "round_stopped"
	EventScenarioRegenerated RoundEvent = "scenario_regenerated"
)

// Announcer is told about facilitator actions after they commit.
type Announcer interface {
	Announce(ctx context.Context, event RoundEvent, sess model.Session) error
}

func (s *Service) notify(ctx context.Context, event RoundEvent, sess model.Session) {
	if s.announce == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.announce.Announce(ctx, event, sess); err != nil {
		s.log.Warn("announce failed", "event", event, "session_id", sess.ID, "err", err)
	}
}
