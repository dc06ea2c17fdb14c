package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"econfair/internal/docstore"
	"econfair/internal/model"
)

type memJournal struct {
	mu      sync.Mutex
	entries []Entry
}

func (j *memJournal) Record(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

// conflictingStore fails the first n commits with a version conflict.
type conflictingStore struct {
	docstore.Store
	mu      sync.Mutex
	n       int
	commits int
}

func (s *conflictingStore) Commit(ctx context.Context, writes ...docstore.Write) error {
	s.mu.Lock()
	s.commits++
	fail := s.commits <= s.n
	s.mu.Unlock()
	if fail {
		return docstore.ErrVersionConflict
	}
	return s.Store.Commit(ctx, writes...)
}

func newEngine(store docstore.Store, j Journal) *Engine {
	return New(store, Options{
		MaxAttempts:     8,
		BaseDelay:       time.Millisecond,
		MaxDelay:        4 * time.Millisecond,
		StartingBalance: 10000,
		Journal:         j,
	})
}

func credit(amount int64) Mutation {
	return func(p *model.Participant) (Effect, error) {
		p.Balance += amount
		return Effect{Kind: KindBoothCredit, Booth: model.BoothLabor, Amount: amount}, nil
	}
}

func TestApplyCreatesParticipantLazily(t *testing.T) {
	store := docstore.NewMemory()
	j := &memJournal{}
	e := newEngine(store, j)

	rc, err := e.Apply(context.Background(), "s1", "u1", credit(500))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rc.Participant.Balance != 10500 || rc.Participant.ID != "s1_u1" {
		t.Fatalf("got %+v", rc.Participant)
	}
	d, err := store.Get(context.Background(), model.ParticipantKey("s1", "u1"))
	if err != nil || d.Version != 1 {
		t.Fatalf("stored version=%d err=%v", d.Version, err)
	}
	if len(j.entries) != 1 || j.entries[0].BalanceAfter != 10500 || j.entries[0].Kind != KindBoothCredit {
		t.Fatalf("journal %+v", j.entries)
	}
}

func TestApplyMutationErrorWritesNothing(t *testing.T) {
	store := docstore.NewMemory()
	j := &memJournal{}
	e := newEngine(store, j)
	if _, err := e.Apply(context.Background(), "s1", "u1", credit(1)); err != nil {
		t.Fatal(err)
	}

	_, err := e.Apply(context.Background(), "s1", "u1", func(p *model.Participant) (Effect, error) {
		p.Balance -= 5000
		p.StockHoldings["Stock A"] = 3
		return Effect{}, model.ErrCapReached
	})
	if !errors.Is(err, model.ErrCapReached) {
		t.Fatalf("expected cap error, got %v", err)
	}
	d, _ := store.Get(context.Background(), model.ParticipantKey("s1", "u1"))
	var p model.Participant
	if err := json.Unmarshal(d.Data, &p); err != nil {
		t.Fatal(err)
	}
	if d.Version != 1 || p.Balance != 10001 || p.StockHoldings["Stock A"] != 0 {
		t.Fatalf("state changed: version=%d %+v", d.Version, p)
	}
	if len(j.entries) != 1 {
		t.Fatalf("failed tx was journaled")
	}
}

func TestApplyRejectsNegativeBalance(t *testing.T) {
	e := newEngine(docstore.NewMemory(), nil)
	_, err := e.Apply(context.Background(), "s1", "u1", credit(-10001))
	if !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestApplyRetriesConflicts(t *testing.T) {
	store := &conflictingStore{Store: docstore.NewMemory(), n: 3}
	e := newEngine(store, nil)
	rc, err := e.Apply(context.Background(), "s1", "u1", credit(10))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rc.Participant.Balance != 10010 || store.commits != 4 {
		t.Fatalf("balance=%d commits=%d", rc.Participant.Balance, store.commits)
	}
}

func TestApplySurfacesConflictAfterMaxAttempts(t *testing.T) {
	store := &conflictingStore{Store: docstore.NewMemory(), n: 100}
	e := newEngine(store, nil)
	_, err := e.Apply(context.Background(), "s1", "u1", credit(10))
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if store.commits != 8 {
		t.Fatalf("commits=%d", store.commits)
	}
}

func TestConcurrentAppliesAllLand(t *testing.T) {
	store := docstore.NewMemory()
	e := New(store, Options{MaxAttempts: 200, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond, StartingBalance: 0})
	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Apply(context.Background(), "s1", "u1", credit(1)); err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()
	d, _ := store.Get(context.Background(), model.ParticipantKey("s1", "u1"))
	var p model.Participant
	_ = json.Unmarshal(d.Data, &p)
	if p.Balance != n {
		t.Fatalf("balance %d want %d", p.Balance, n)
	}
}

func TestIdempotencyKeyCommitsOnce(t *testing.T) {
	store := docstore.NewMemory()
	e := newEngine(store, nil)
	ctx := context.Background()
	if _, err := e.Apply(ctx, "s1", "u1", credit(100), WithIdempotencyKey("k1")); err != nil {
		t.Fatal(err)
	}
	_, err := e.Apply(ctx, "s1", "u1", credit(100), WithIdempotencyKey("k1"))
	if !errors.Is(err, model.ErrDuplicateIdempotency) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	rc, err := e.Apply(ctx, "s1", "u2", credit(100), WithIdempotencyKey("k1"))
	if err != nil || rc.Participant.Balance != 10100 {
		t.Fatalf("key must be scoped per participant: %v", err)
	}
	d, _ := store.Get(ctx, model.ParticipantKey("s1", "u1"))
	var p model.Participant
	_ = json.Unmarshal(d.Data, &p)
	if p.Balance != 10100 {
		t.Fatalf("balance %d", p.Balance)
	}
}

func seedSession(t *testing.T, e *Engine, id string) {
	t.Helper()
	_, err := e.CommitSessions(context.Background(), func(all []model.Session) ([]model.Session, error) {
		s := model.NewSession(id, 600, nil, []model.AssetScenario{{Name: "Estate A", Prices: []int64{100}}}, time.Now())
		return []model.Session{s}, nil
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func TestApplyWithSessionCommitsBoth(t *testing.T) {
	store := docstore.NewMemory()
	e := newEngine(store, nil)
	seedSession(t, e, "s1")

	rc, err := e.ApplyWithSession(context.Background(), "s1", "u1", func(s *model.Session, p *model.Participant) (Effect, error) {
		s.SetOwner("Estate A", p.ID)
		p.RealEstateHoldings["Estate A"] = true
		p.Balance -= 100
		return Effect{Kind: KindEstateBuy, Asset: "Estate A", Amount: -100}, nil
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if owner, ok := rc.Session.Owner("Estate A"); !ok || owner != "s1_u1" {
		t.Fatalf("owner %q %v", owner, ok)
	}
	d, _ := store.Get(context.Background(), model.SessionKey("s1"))
	var s model.Session
	_ = json.Unmarshal(d.Data, &s)
	if owner, _ := s.Owner("Estate A"); owner != "s1_u1" || d.Version != 2 {
		t.Fatalf("stored owner %q version %d", owner, d.Version)
	}
}

func TestApplyWithSessionNeedsSession(t *testing.T) {
	e := newEngine(docstore.NewMemory(), nil)
	_, err := e.ApplyWithSession(context.Background(), "missing", "u1", func(s *model.Session, p *model.Participant) (Effect, error) {
		return Effect{}, nil
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateSession(t *testing.T) {
	e := newEngine(docstore.NewMemory(), nil)
	seedSession(t, e, "s1")
	got, err := e.UpdateSession(context.Background(), "s1", func(s *model.Session) error {
		s.RoundStatus = model.RoundRunning
		return nil
	})
	if err != nil || got.RoundStatus != model.RoundRunning {
		t.Fatalf("got %v %v", got.RoundStatus, err)
	}
	_, err = e.UpdateSession(context.Background(), "s1", func(s *model.Session) error {
		return model.State("nope")
	})
	if !errors.Is(err, model.ErrState) {
		t.Fatalf("expected state error, got %v", err)
	}
}
