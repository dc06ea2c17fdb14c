package game

import (
	"context"
	"math"
	"strings"

	"econfair/internal/ledger"
	"econfair/internal/model"
)

// CreditSimpleBooth pays a facilitator-judged amount from the labor, luck or
// group booth.
func (s *Service) CreditSimpleBooth(ctx context.Context, in BoothInput) (BoothResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return BoothResult{}, model.Validation("user id is required")
	}
	if !in.Booth.Simple() {
		return BoothResult{}, model.Validation("booth %s does not take direct credits", in.Booth)
	}
	if in.Amount <= 0 {
		return BoothResult{}, model.Validation("amount must be > 0")
	}
	sess, err := s.runningSession(ctx)
	if err != nil {
		return BoothResult{}, err
	}
	rc, err := s.ledger.Apply(ctx, sess.ID, in.UserID, func(p *model.Participant) (ledger.Effect, error) {
		if p.Balance > math.MaxInt64-in.Amount {
			return ledger.Effect{}, model.Validation("amount %d would overflow the balance", in.Amount)
		}
		p.Balance += in.Amount
		return ledger.Effect{Kind: ledger.KindBoothCredit, Booth: in.Booth, Amount: in.Amount}, nil
	}, idem(in.IdempotencyKey)...)
	if err != nil {
		return BoothResult{}, err
	}
	return BoothResult{TxID: rc.TxID, Booth: in.Booth, Amount: in.Amount, Balance: rc.Participant.Balance}, nil
}
