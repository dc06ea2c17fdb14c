package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"econfair/internal/ledger"
	"econfair/internal/model"
)

// OpenOrResetSession closes every other OPEN session and (re)creates id in
// READY with a fresh scenario, all in one commit.
func (s *Service) OpenOrResetSession(ctx context.Context, id string, durationSec int64) (model.Session, error) {
	id = strings.TrimSpace(id)
	if err := validateSessionID(id); err != nil {
		return model.Session{}, err
	}
	if durationSec <= 0 {
		return model.Session{}, model.Validation("duration must be > 0")
	}
	stock, estate := s.scenario.Generate(durationSec)
	now := s.clock.Now()

	var existed bool
	var closed []string
	out, err := s.ledger.CommitSessions(ctx, func(all []model.Session) ([]model.Session, error) {
		existed, closed = false, closed[:0]
		changed := make([]model.Session, 0, len(all)+1)
		for _, sess := range all {
			if sess.ID == id {
				existed = true
				continue
			}
			if sess.Status == model.SessionOpen {
				sess.Status = model.SessionClosed
				closed = append(closed, sess.ID)
				changed = append(changed, sess)
			}
		}
		return append(changed, model.NewSession(id, durationSec, stock, estate, now)), nil
	})
	if err != nil {
		return model.Session{}, err
	}
	sess := out[len(out)-1]
	s.log.Info("session opened", "session_id", id, "duration_sec", durationSec, "reset", existed, "closed", closed)

	s.notify(ctx, EventSessionOpened, sess)
	if existed {
		if err := s.resetParticipants(ctx, id); err != nil {
			return sess, err
		}
	}
	return sess, nil
}

// resetParticipants starts every participant of a re-opened session over
// so holdings agree with the fresh ownership map. It keeps going past
// failures and returns them joined; opening the session again retries.
func (s *Service) resetParticipants(ctx context.Context, sessionID string) error {
	ps, err := s.Participants(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session %s opened, participant reset not started: %w", sessionID, err)
	}
	var failed []error
	for _, p := range ps {
		userID := p.UserID
		_, err := s.ledger.Apply(ctx, sessionID, userID, func(p *model.Participant) (ledger.Effect, error) {
			*p = model.NewParticipant(sessionID, userID, s.tuning.StartingBalance)
			return ledger.Effect{Kind: ledger.KindReset}, nil
		})
		if err != nil {
			s.log.Error("reset participant", "session_id", sessionID, "user_id", userID, "err", err)
			failed = append(failed, fmt.Errorf("reset %s: %w", userID, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("session %s opened, %d of %d participants not reset: %w", sessionID, len(failed), len(ps), errors.Join(failed...))
	}
	return nil
}

// StartRound moves the OPEN session from READY to RUNNING.
func (s *Service) StartRound(ctx context.Context) (model.Session, error) {
	cur, err := s.CurrentSession(ctx)
	if err != nil {
		return model.Session{}, err
	}
	sess, err := s.ledger.UpdateSession(ctx, cur.ID, func(sess *model.Session) error {
		if err := requireOpen(sess); err != nil {
			return err
		}
		if sess.RoundStatus != model.RoundReady {
			return model.State("round can only start from %s, it is %s", model.RoundReady, sess.RoundStatus)
		}
		ends := s.clock.Now().Add(time.Duration(sess.RoundDurationSec) * time.Second).UTC()
		sess.RoundStatus = model.RoundRunning
		sess.RoundEndsAt = &ends
		return nil
	})
	if err != nil {
		return model.Session{}, err
	}
	s.log.Info("round started", "session_id", sess.ID, "ends_at", sess.RoundEndsAt)
	s.notify(ctx, EventRoundStarted, sess)
	return sess, nil
}

// StopRound ends a RUNNING round. Nothing stops a round automatically when
// its timer runs out.
func (s *Service) StopRound(ctx context.Context) (model.Session, error) {
	cur, err := s.CurrentSession(ctx)
	if err != nil {
		return model.Session{}, err
	}
	sess, err := s.ledger.UpdateSession(ctx, cur.ID, func(sess *model.Session) error {
		if err := requireOpen(sess); err != nil {
			return err
		}
		if sess.RoundStatus != model.RoundRunning {
			return model.State("round is not running, it is %s", sess.RoundStatus)
		}
		sess.RoundStatus = model.RoundEnded
		sess.RoundEndsAt = nil
		return nil
	})
	if err != nil {
		return model.Session{}, err
	}
	s.log.Info("round stopped", "session_id", sess.ID)
	s.notify(ctx, EventRoundStopped, sess)
	return sess, nil
}

// RegenerateScenario replaces both price lists while the round is READY.
func (s *Service) RegenerateScenario(ctx context.Context) (model.Session, error) {
	cur, err := s.CurrentSession(ctx)
	if err != nil {
		return model.Session{}, err
	}
	sess, err := s.ledger.UpdateSession(ctx, cur.ID, func(sess *model.Session) error {
		if err := requireOpen(sess); err != nil {
			return err
		}
		if sess.RoundStatus != model.RoundReady {
			return model.State("scenario can only change while %s, it is %s", model.RoundReady, sess.RoundStatus)
		}
		sess.StockScenario, sess.RealEstateScenario = s.scenario.Generate(sess.RoundDurationSec)
		sess.ResetOwners()
		return nil
	})
	if err != nil {
		return model.Session{}, err
	}
	s.log.Info("scenario regenerated", "session_id", sess.ID)
	s.notify(ctx, EventScenarioRegenerated, sess)
	return sess, nil
}

func requireOpen(sess *model.Session) error {
	if sess.Status != model.SessionOpen {
		return model.State("session %s is closed", sess.ID)
	}
	return nil
}
