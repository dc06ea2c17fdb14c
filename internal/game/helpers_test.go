package game

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"econfair/internal/docstore"
	"econfair/internal/model"
	"econfair/internal/tuning"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	clock *FakeClock
	store docstore.Store
	ann   *recordingAnnouncer
}

type recordingAnnouncer struct {
	mu     sync.Mutex
	events []RoundEvent
}

func (a *recordingAnnouncer) Announce(_ context.Context, e RoundEvent, _ model.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func (a *recordingAnnouncer) Events() []RoundEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]RoundEvent(nil), a.events...)
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	return newFixtureWithStore(t, docstore.NewMemory())
}

func newFixtureWithStore(t testing.TB, store docstore.Store) *fixture {
	t.Helper()
	clock := NewFakeClock(t0)
	ann := &recordingAnnouncer{}
	svc := NewService(store, Config{
		Tuning:      tuning.Default(),
		MaxAttempts: 64,
		RetryDelay:  time.Millisecond,
		Clock:       clock,
		Announcer:   ann,
		Seed:        7,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{svc: svc, clock: clock, store: store, ann: ann}
}

// running opens a 1200s session and starts its round.
func (f *fixture) running(t testing.TB) model.Session {
	t.Helper()
	ctx := context.Background()
	if _, err := f.svc.OpenOrResetSession(ctx, "fair", 1200); err != nil {
		t.Fatalf("open: %v", err)
	}
	sess, err := f.svc.StartRound(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return sess
}

// setPrices pins the first stock and first real estate asset to fixed paths.
func (f *fixture) setPrices(t testing.TB, stock, estate []int64) {
	t.Helper()
	cur, err := f.svc.CurrentSession(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	_, err = f.svc.ledger.UpdateSession(context.Background(), cur.ID, func(s *model.Session) error {
		if stock != nil {
			s.StockScenario[0].Prices = stock
		}
		if estate != nil {
			s.RealEstateScenario[0].Prices = estate
		}
		return nil
	})
	if err != nil {
		t.Fatalf("set prices: %v", err)
	}
}

func (f *fixture) participant(t testing.TB, userID string) model.Participant {
	t.Helper()
	p, err := f.svc.Join(context.Background(), userID)
	if err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	return p
}

const (
	stockA  = "Stock A"
	estateA = "Estate A"
)
