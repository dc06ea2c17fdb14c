// Package ledger applies pure mutations to participant and session
// documents with optimistic concurrency.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"econfair/internal/docstore"
	"econfair/internal/model"
)

// Kind labels a committed transaction in the journal.
type Kind string

const (
	KindJoin         Kind = "join"
	KindReset        Kind = "reset"
	KindBoothCredit  Kind = "booth_credit"
	KindStockBuy     Kind = "stock_buy"
	KindStockSell    Kind = "stock_sell"
	KindEstateBuy    Kind = "estate_buy"
	KindEstateSell   Kind = "estate_sell"
	KindBankDeposit  Kind = "bank_deposit"
	KindBankCancel   Kind = "bank_cancel"
	KindBankWithdraw Kind = "bank_withdraw"
	KindQuestReward  Kind = "quest_reward"
)

// Effect describes what a mutation did, for the journal and the caller.
type Effect struct {
	Kind   Kind
	Booth  model.Booth
	Asset  string
	Amount int64
	Ref    string
}

// Mutation edits a private copy of the participant. Returning an error
// aborts the transaction without writing.
type Mutation func(p *model.Participant) (Effect, error)

// PairMutation edits private copies of a session and one of its participants.
type PairMutation func(s *model.Session, p *model.Participant) (Effect, error)

type Receipt struct {
	TxID        string
	At          time.Time
	Participant model.Participant
	Session     *model.Session
	Effect      Effect
}

type Entry struct {
	TxID         string      `json:"txId"`
	At           time.Time   `json:"at"`
	SessionID    string      `json:"sessionId"`
	UserID       string      `json:"userId"`
	Kind         Kind        `json:"kind"`
	Booth        model.Booth `json:"booth,omitempty"`
	Asset        string      `json:"asset,omitempty"`
	Amount       int64       `json:"amount"`
	BalanceAfter int64       `json:"balanceAfter"`
	Ref          string      `json:"ref,omitempty"`
}

// Journal receives an entry for every committed participant transaction.
type Journal interface {
	Record(Entry) error
}

type Options struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	StartingBalance int64
	Journal         Journal
	Logger          *slog.Logger
	Now             func() time.Time
}

type Engine struct {
	store docstore.Store
	opts  Options
	log   *slog.Logger
}

func New(store docstore.Store, opts Options) *Engine {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 75 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 1200 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, opts: opts, log: logger}
}

func (e *Engine) Store() docstore.Store { return e.store }

type applyConfig struct {
	idempotencyKey string
}

type ApplyOption func(*applyConfig)

// WithIdempotencyKey makes the transaction commit at most once per key and
// participant. A repeat fails with model.ErrDuplicateIdempotency.
func WithIdempotencyKey(key string) ApplyOption {
	return func(c *applyConfig) { c.idempotencyKey = key }
}

// Apply runs m against the participant of (sessionID, userID), creating it
// with the starting balance on first contact.
func (e *Engine) Apply(ctx context.Context, sessionID, userID string, m Mutation, opts ...ApplyOption) (Receipt, error) {
	return e.apply(ctx, sessionID, userID, false, func(_ *model.Session, p *model.Participant) (Effect, error) {
		return m(p)
	}, opts)
}

// ApplyWithSession commits the session and the participant together or not
// at all. The session must exist.
func (e *Engine) ApplyWithSession(ctx context.Context, sessionID, userID string, m PairMutation, opts ...ApplyOption) (Receipt, error) {
	return e.apply(ctx, sessionID, userID, true, m, opts)
}

func (e *Engine) apply(ctx context.Context, sessionID, userID string, withSession bool, m PairMutation, opts []ApplyOption) (Receipt, error) {
	if sessionID == "" || userID == "" {
		return Receipt{}, model.Validation("session id and user id are required")
	}
	if strings.ContainsRune(userID, '/') {
		return Receipt{}, model.Validation("user id must not contain '/'")
	}
	var cfg applyConfig
	for _, o := range opts {
		o(&cfg)
	}
	pid := model.ParticipantID(sessionID, userID)

	var rc Receipt
	err := e.retry(ctx, func(ctx context.Context) ([]docstore.Write, error) {
		if cfg.idempotencyKey != "" {
			_, err := e.store.Get(ctx, model.IdempotencyKey(pid, cfg.idempotencyKey))
			if err == nil {
				return nil, model.ErrDuplicateIdempotency
			}
			if !errors.Is(err, docstore.ErrNotFound) {
				return nil, fmt.Errorf("read idempotency key: %w", err)
			}
		}

		var sess *model.Session
		var sessVersion int64
		if withSession {
			s, v, err := e.loadSession(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			sess, sessVersion = &s, v
		}
		p, pVersion, err := e.loadParticipant(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}

		next := p.Clone()
		var nextSess *model.Session
		if sess != nil {
			c := sess.Clone()
			nextSess = &c
		}
		eff, err := m(nextSess, &next)
		if err != nil {
			return nil, err
		}
		if next.Balance < 0 {
			return nil, model.ErrInsufficientFunds
		}

		now := e.opts.Now().UTC()
		txID := uuid.NewString()
		writes := make([]docstore.Write, 0, 3)
		data, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encode participant: %w", err)
		}
		writes = append(writes, docstore.Write{Key: model.ParticipantKey(sessionID, userID), Expect: pVersion, Data: data})
		if nextSess != nil {
			nextSess.UpdatedAt = now
			data, err := json.Marshal(nextSess)
			if err != nil {
				return nil, fmt.Errorf("encode session: %w", err)
			}
			writes = append(writes, docstore.Write{Key: model.SessionKey(sessionID), Expect: sessVersion, Data: data})
		}
		if cfg.idempotencyKey != "" {
			claim, err := json.Marshal(map[string]any{"txId": txID, "at": now})
			if err != nil {
				return nil, fmt.Errorf("encode idempotency claim: %w", err)
			}
			writes = append(writes, docstore.Write{Key: model.IdempotencyKey(pid, cfg.idempotencyKey), Data: claim})
		}
		rc = Receipt{TxID: txID, At: now, Participant: next, Session: nextSess, Effect: eff}
		return writes, nil
	})
	if err != nil {
		return Receipt{}, err
	}
	e.record(rc)
	return rc, nil
}

// UpdateSession runs fn against the stored session and commits the result.
func (e *Engine) UpdateSession(ctx context.Context, sessionID string, fn func(s *model.Session) error) (model.Session, error) {
	var out model.Session
	err := e.retry(ctx, func(ctx context.Context) ([]docstore.Write, error) {
		s, v, err := e.loadSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		next := s.Clone()
		if err := fn(&next); err != nil {
			return nil, err
		}
		next.UpdatedAt = e.opts.Now().UTC()
		data, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encode session: %w", err)
		}
		out = next
		return []docstore.Write{{Key: model.SessionKey(sessionID), Expect: v, Data: data}}, nil
	})
	return out, err
}

// CommitSessions reads every session and commits whatever fn returns in one
// multi-key swap. Sessions fn returns that were not read are created. The
// registry document is read before the listing and rewritten in the same
// swap, so concurrent callers conflict even when they touch different
// sessions.
func (e *Engine) CommitSessions(ctx context.Context, fn func(all []model.Session) ([]model.Session, error)) ([]model.Session, error) {
	var out []model.Session
	err := e.retry(ctx, func(ctx context.Context) ([]docstore.Write, error) {
		guard, err := e.store.Get(ctx, model.RegistryKey)
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("read session registry: %w", err)
		}
		docs, err := e.store.List(ctx, model.SessionPrefix)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		all := make([]model.Session, 0, len(docs))
		versions := make(map[string]int64, len(docs))
		status := make(map[string]model.SessionStatus, len(docs))
		for _, d := range docs {
			var s model.Session
			if err := json.Unmarshal(d.Data, &s); err != nil {
				return nil, fmt.Errorf("decode %s: %w", d.Key, err)
			}
			versions[s.ID] = d.Version
			status[s.ID] = s.Status
			all = append(all, s)
		}
		changed, err := fn(all)
		if err != nil {
			return nil, err
		}
		now := e.opts.Now().UTC()
		writes := make([]docstore.Write, 0, len(changed)+1)
		for i := range changed {
			changed[i].UpdatedAt = now
			status[changed[i].ID] = changed[i].Status
			data, err := json.Marshal(changed[i])
			if err != nil {
				return nil, fmt.Errorf("encode session: %w", err)
			}
			writes = append(writes, docstore.Write{Key: model.SessionKey(changed[i].ID), Expect: versions[changed[i].ID], Data: data})
		}
		reg := model.Registry{Open: make([]string, 0, 1), UpdatedAt: now}
		for id, st := range status {
			if st == model.SessionOpen {
				reg.Open = append(reg.Open, id)
			}
		}
		sort.Strings(reg.Open)
		data, err := json.Marshal(reg)
		if err != nil {
			return nil, fmt.Errorf("encode session registry: %w", err)
		}
		writes = append(writes, docstore.Write{Key: model.RegistryKey, Expect: guard.Version, Data: data})
		out = changed
		return writes, nil
	})
	return out, err
}

func (e *Engine) loadSession(ctx context.Context, sessionID string) (model.Session, int64, error) {
	d, err := e.store.Get(ctx, model.SessionKey(sessionID))
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Session{}, 0, model.NotFound("session %s not found", sessionID)
	}
	if err != nil {
		return model.Session{}, 0, fmt.Errorf("read session: %w", err)
	}
	var s model.Session
	if err := json.Unmarshal(d.Data, &s); err != nil {
		return model.Session{}, 0, fmt.Errorf("decode session: %w", err)
	}
	return s, d.Version, nil
}

func (e *Engine) loadParticipant(ctx context.Context, sessionID, userID string) (model.Participant, int64, error) {
	d, err := e.store.Get(ctx, model.ParticipantKey(sessionID, userID))
	if errors.Is(err, docstore.ErrNotFound) {
		return model.NewParticipant(sessionID, userID, e.opts.StartingBalance), 0, nil
	}
	if err != nil {
		return model.Participant{}, 0, fmt.Errorf("read participant: %w", err)
	}
	var p model.Participant
	if err := json.Unmarshal(d.Data, &p); err != nil {
		return model.Participant{}, 0, fmt.Errorf("decode participant: %w", err)
	}
	normalize(&p)
	return p, d.Version, nil
}

func normalize(p *model.Participant) {
	if p.StockHoldings == nil {
		p.StockHoldings = map[string]int{}
	}
	if p.RealEstateHoldings == nil {
		p.RealEstateHoldings = map[string]bool{}
	}
	if p.BankProducts == nil {
		p.BankProducts = []model.BankProduct{}
	}
	if p.QuestAnswers == nil {
		p.QuestAnswers = []string{}
	}
}

// retry runs attempt until its writes commit. Domain errors from attempt end
// the loop immediately; only version conflicts are retried.
func (e *Engine) retry(ctx context.Context, attempt func(ctx context.Context) ([]docstore.Write, error)) error {
	delay := e.opts.BaseDelay
	for i := 0; i < e.opts.MaxAttempts; i++ {
		writes, err := attempt(ctx)
		if err != nil {
			return err
		}
		if len(writes) == 0 {
			return nil
		}
		err = e.store.Commit(ctx, writes...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrVersionConflict) {
			return fmt.Errorf("commit: %w", err)
		}
		if i == e.opts.MaxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, jitter(delay)); err != nil {
			return err
		}
		if delay < e.opts.MaxDelay {
			delay = min(delay*2, e.opts.MaxDelay)
		}
	}
	e.log.Warn("transaction retries exhausted", "attempts", e.opts.MaxAttempts)
	return model.Conflict("conflict: too much contention, try again")
}

func (e *Engine) record(rc Receipt) {
	if e.opts.Journal == nil {
		return
	}
	entry := Entry{
		TxID:         rc.TxID,
		At:           rc.At,
		SessionID:    rc.Participant.SessionID,
		UserID:       rc.Participant.UserID,
		Kind:         rc.Effect.Kind,
		Booth:        rc.Effect.Booth,
		Asset:        rc.Effect.Asset,
		Amount:       rc.Effect.Amount,
		BalanceAfter: rc.Participant.Balance,
		Ref:          rc.Effect.Ref,
	}
	if err := e.opts.Journal.Record(entry); err != nil {
		e.log.Warn("journal write failed", "tx_id", rc.TxID, "err", err)
	}
}

// jitter spreads retries of colliding writers over [d/2, d].
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := int64(d / 2)
	return time.Duration(half + mathrand.Int63n(half+1))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
