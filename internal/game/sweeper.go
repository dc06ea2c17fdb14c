package game

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"econfair/internal/model"
)

// SweepParticipant withdraws every matured ACTIVE product of one participant.
// A product settled concurrently by someone else is skipped, so running it
// twice never credits twice.
func (s *Service) SweepParticipant(ctx context.Context, sessionID, userID string) (withdrawn int, credited int64, err error) {
	p, err := s.Participant(ctx, sessionID, userID)
	if err != nil {
		return 0, 0, err
	}
	for _, id := range dueProducts(p, s.clock.Now()) {
		res, err := s.settle(ctx, sessionID, userID, id, true, nil)
		if errors.Is(err, model.ErrState) {
			continue
		}
		if err != nil {
			return withdrawn, credited, err
		}
		withdrawn++
		credited += res.Credited
	}
	return withdrawn, credited, nil
}

// SweepSession sweeps up to limit participants of the OPEN session that have
// matured products. Swept participants drop out of the candidate set, so the
// next call picks up where this one stopped.
func (s *Service) SweepSession(ctx context.Context, limit int) (SweepReport, error) {
	sess, err := s.CurrentSession(ctx)
	if errors.Is(err, model.ErrNotFound) {
		return SweepReport{}, nil
	}
	if err != nil {
		return SweepReport{}, err
	}
	ps, err := s.Participants(ctx, sess.ID)
	if err != nil {
		return SweepReport{}, err
	}
	now := s.clock.Now()
	report := SweepReport{SessionID: sess.ID}
	for _, p := range ps {
		if limit > 0 && report.Participants >= limit {
			break
		}
		if len(dueProducts(p, now)) == 0 {
			continue
		}
		report.Participants++
		n, c, err := s.SweepParticipant(ctx, sess.ID, p.UserID)
		if err != nil {
			s.log.Warn("sweep participant", "session_id", sess.ID, "user_id", p.UserID, "err", err)
			continue
		}
		report.Withdrawn += n
		report.Credited += c
	}
	return report, nil
}

// Sweeper runs SweepSession on a fixed period, independent of any client.
type Sweeper struct {
	svc        *Service
	every      time.Duration
	maxPerTick int
	log        *slog.Logger
}

func NewSweeper(svc *Service, every time.Duration, maxPerTick int, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if every <= 0 {
		every = time.Second
	}
	return &Sweeper{svc: svc, every: every, maxPerTick: maxPerTick, log: logger}
}

func (w *Sweeper) Tick(ctx context.Context) (SweepReport, error) {
	ctx, cancel := context.WithTimeout(ctx, max(w.every*5, 5*time.Second))
	defer cancel()
	return w.svc.SweepSession(ctx, w.maxPerTick)
}

// Run blocks until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()
	w.log.Info("maturity sweeper started", "every", w.every.String(), "max_per_tick", w.maxPerTick)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("maturity sweeper stopped")
			return
		case <-ticker.C:
			report, err := w.Tick(ctx)
			if err != nil {
				w.log.Error("maturity sweep failed", "err", err)
				continue
			}
			if report.Withdrawn > 0 {
				w.log.Info("matured products withdrawn",
					"session_id", report.SessionID,
					"participants", report.Participants,
					"withdrawn", report.Withdrawn,
					"credited", report.Credited,
				)
			}
		}
	}
}
