package game

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"econfair/internal/ledger"
	"econfair/internal/model"
)

// CreateBankProduct locks principal into a deposit that matures after the
// product's duration.
func (s *Service) CreateBankProduct(ctx context.Context, in ProductInput) (ProductResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return ProductResult{}, model.Validation("user id is required")
	}
	if in.Principal <= 0 {
		return ProductResult{}, model.Validation("principal must be > 0")
	}
	dur, mult, err := s.tuning.Product(in.Type)
	if err != nil {
		return ProductResult{}, err
	}
	sess, err := s.runningSession(ctx)
	if err != nil {
		return ProductResult{}, err
	}
	now := s.clock.Now().UTC()
	product := model.BankProduct{
		ID:         uuid.NewString(),
		Type:       in.Type,
		Principal:  in.Principal,
		Multiplier: mult,
		StartedAt:  now,
		MatureAt:   now.Add(dur),
	}
	rc, err := s.ledger.Apply(ctx, sess.ID, in.UserID, func(p *model.Participant) (ledger.Effect, error) {
		if p.Balance < product.Principal {
			return ledger.Effect{}, model.ErrInsufficientFunds
		}
		p.Balance -= product.Principal
		p.BankProducts = append(p.BankProducts, product)
		return ledger.Effect{Kind: ledger.KindBankDeposit, Booth: model.BoothBank, Amount: -product.Principal, Ref: product.ID}, nil
	}, idem(in.IdempotencyKey)...)
	if err != nil {
		return ProductResult{}, err
	}
	return ProductResult{
		TxID:    rc.TxID,
		Product: product,
		State:   product.State(),
		Balance: rc.Participant.Balance,
	}, nil
}

// CancelBankProduct refunds exactly the principal of an ACTIVE product.
func (s *Service) CancelBankProduct(ctx context.Context, in SettleInput) (ProductResult, error) {
	sess, err := s.settleSession(ctx, in)
	if err != nil {
		return ProductResult{}, err
	}
	return s.settle(ctx, sess.ID, in.UserID, in.ProductID, false, idem(in.IdempotencyKey))
}

// WithdrawBankProduct pays floor(principal * multiplier) for a matured
// ACTIVE product.
func (s *Service) WithdrawBankProduct(ctx context.Context, in SettleInput) (ProductResult, error) {
	sess, err := s.settleSession(ctx, in)
	if err != nil {
		return ProductResult{}, err
	}
	return s.settle(ctx, sess.ID, in.UserID, in.ProductID, true, idem(in.IdempotencyKey))
}

func (s *Service) settleSession(ctx context.Context, in SettleInput) (model.Session, error) {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.ProductID) == "" {
		return model.Session{}, model.Validation("user id and product id are required")
	}
	return s.CurrentSession(ctx)
}

// settle moves a product out of ACTIVE. The state check runs inside the
// transaction, so of two racing settlements exactly one credits.
func (s *Service) settle(ctx context.Context, sessionID, userID, productID string, withdraw bool, opts []ledger.ApplyOption) (ProductResult, error) {
	var product model.BankProduct
	var credited int64
	rc, err := s.ledger.Apply(ctx, sessionID, userID, func(p *model.Participant) (ledger.Effect, error) {
		i := p.Product(productID)
		if i < 0 {
			return ledger.Effect{}, model.NotFound("product %s not found", productID)
		}
		bp := &p.BankProducts[i]
		if bp.State() != model.ProductActive {
			return ledger.Effect{}, model.ErrAlreadySettled
		}
		eff := ledger.Effect{Booth: model.BoothBank, Ref: bp.ID}
		if withdraw {
			if !bp.Matured(s.clock.Now()) {
				return ledger.Effect{}, model.ErrNotMatured
			}
			credited = payout(bp.Principal, bp.Multiplier)
			bp.Withdrawn = true
			eff.Kind = ledger.KindBankWithdraw
		} else {
			credited = bp.Principal
			bp.Canceled = true
			eff.Kind = ledger.KindBankCancel
		}
		p.Balance += credited
		eff.Amount = credited
		product = *bp
		return eff, nil
	}, opts...)
	if err != nil {
		return ProductResult{}, err
	}
	return ProductResult{
		TxID:     rc.TxID,
		Product:  product,
		State:    product.State(),
		Credited: credited,
		Balance:  rc.Participant.Balance,
	}, nil
}

// dueProducts lists the ACTIVE products of p that have matured at now.
func dueProducts(p model.Participant, now time.Time) []string {
	var ids []string
	for _, bp := range p.BankProducts {
		if bp.State() == model.ProductActive && bp.Matured(now) {
			ids = append(ids, bp.ID)
		}
	}
	return ids
}
