package game

import (
	"context"
	"strings"

	"econfair/internal/ledger"
	"econfair/internal/model"
	"econfair/internal/scenario"
)

func (s *Service) currentStep(sess model.Session) (step, steps int) {
	steps = scenario.StepCount(sess.RoundDurationSec, s.tuning.StepWidth())
	remaining := remainingSeconds(sess, s.clock.Now())
	return scenario.CurrentStep(sess.RoundDurationSec, remaining, s.tuning.StepWidth(), steps), steps
}

// Prices is the board every client renders: the current price of each asset
// and who owns each piece of real estate.
func (s *Service) Prices(ctx context.Context) (PriceBoard, error) {
	sess, err := s.CurrentSession(ctx)
	if err != nil {
		return PriceBoard{}, err
	}
	step, steps := s.currentStep(sess)
	board := PriceBoard{
		SessionID:    sess.ID,
		RoundStatus:  sess.RoundStatus,
		Step:         step,
		StepCount:    steps,
		RemainingSec: remainingSeconds(sess, s.clock.Now()),
		Stocks:       make([]Quote, 0, len(sess.StockScenario)),
		RealEstate:   make([]Quote, 0, len(sess.RealEstateScenario)),
	}
	for _, a := range sess.StockScenario {
		board.Stocks = append(board.Stocks, Quote{Asset: a.Name, Price: scenario.PriceAt(a, step)})
	}
	for _, a := range sess.RealEstateScenario {
		q := Quote{Asset: a.Name, Price: scenario.PriceAt(a, step)}
		if owner, ok := sess.Owner(a.Name); ok {
			q.Owner = &owner
		}
		board.RealEstate = append(board.RealEstate, q)
	}
	return board, nil
}

func (s *Service) stockQuote(ctx context.Context, in TradeInput) (model.Session, string, int64, error) {
	asset := strings.TrimSpace(in.Asset)
	if strings.TrimSpace(in.UserID) == "" || asset == "" {
		return model.Session{}, "", 0, model.Validation("user id and asset are required")
	}
	sess, err := s.runningSession(ctx)
	if err != nil {
		return model.Session{}, "", 0, err
	}
	a, ok := sess.StockAsset(asset)
	if !ok {
		return model.Session{}, "", 0, model.NotFound("unknown stock %q", asset)
	}
	step, _ := s.currentStep(sess)
	return sess, a.Name, scenario.PriceAt(a, step), nil
}

// BuyStock buys one share at the current price. The cap and balance are
// checked against the committed participant, not any cached view.
func (s *Service) BuyStock(ctx context.Context, in TradeInput) (TradeResult, error) {
	sess, asset, price, err := s.stockQuote(ctx, in)
	if err != nil {
		return TradeResult{}, err
	}
	rc, err := s.ledger.Apply(ctx, sess.ID, in.UserID, func(p *model.Participant) (ledger.Effect, error) {
		if p.Balance < price {
			return ledger.Effect{}, model.ErrInsufficientFunds
		}
		if p.StockHoldings[asset] >= s.tuning.StockCap {
			return ledger.Effect{}, model.ErrCapReached
		}
		p.Balance -= price
		p.StockHoldings[asset]++
		return ledger.Effect{Kind: ledger.KindStockBuy, Booth: model.BoothStock, Asset: asset, Amount: -price}, nil
	}, idem(in.IdempotencyKey)...)
	if err != nil {
		return TradeResult{}, err
	}
	return tradeResult(rc, asset, price, rc.Participant.StockHoldings[asset]), nil
}

func (s *Service) SellStock(ctx context.Context, in TradeInput) (TradeResult, error) {
	sess, asset, price, err := s.stockQuote(ctx, in)
	if err != nil {
		return TradeResult{}, err
	}
	rc, err := s.ledger.Apply(ctx, sess.ID, in.UserID, func(p *model.Participant) (ledger.Effect, error) {
		if p.StockHoldings[asset] <= 0 {
			return ledger.Effect{}, model.ErrNoHolding
		}
		p.StockHoldings[asset]--
		p.Balance += price
		return ledger.Effect{Kind: ledger.KindStockSell, Booth: model.BoothStock, Asset: asset, Amount: price}, nil
	}, idem(in.IdempotencyKey)...)
	if err != nil {
		return TradeResult{}, err
	}
	return tradeResult(rc, asset, price, rc.Participant.StockHoldings[asset]), nil
}

func (s *Service) estateQuote(ctx context.Context, in TradeInput) (model.Session, string, int64, error) {
	asset := strings.TrimSpace(in.Asset)
	if strings.TrimSpace(in.UserID) == "" || asset == "" {
		return model.Session{}, "", 0, model.Validation("user id and asset are required")
	}
	sess, err := s.runningSession(ctx)
	if err != nil {
		return model.Session{}, "", 0, err
	}
	a, ok := sess.RealEstateAsset(asset)
	if !ok {
		return model.Session{}, "", 0, model.NotFound("unknown real estate %q", asset)
	}
	step, _ := s.currentStep(sess)
	return sess, a.Name, scenario.PriceAt(a, step), nil
}

// BuyRealEstate takes exclusive ownership of an asset. Ownership lives on the
// session and the holding on the participant; both commit together.
func (s *Service) BuyRealEstate(ctx context.Context, in TradeInput) (TradeResult, error) {
	sess, asset, price, err := s.estateQuote(ctx, in)
	if err != nil {
		return TradeResult{}, err
	}
	rc, err := s.ledger.ApplyWithSession(ctx, sess.ID, in.UserID, func(live *model.Session, p *model.Participant) (ledger.Effect, error) {
		if live.Status != model.SessionOpen || live.RoundStatus != model.RoundRunning {
			return ledger.Effect{}, model.ErrRoundNotRunning
		}
		if owner, ok := live.Owner(asset); ok && owner != p.ID {
			return ledger.Effect{}, model.ErrAlreadyOwned
		}
		if p.Balance < price {
			return ledger.Effect{}, model.ErrInsufficientFunds
		}
		live.SetOwner(asset, p.ID)
		p.RealEstateHoldings[asset] = true
		p.Balance -= price
		return ledger.Effect{Kind: ledger.KindEstateBuy, Booth: model.BoothRealEstate, Asset: asset, Amount: -price}, nil
	}, idem(in.IdempotencyKey)...)
	if err != nil {
		return TradeResult{}, err
	}
	return tradeResult(rc, asset, price, 1), nil
}

// SellRealEstate releases an asset the caller owns according to the live
// session, crediting the current price.
func (s *Service) SellRealEstate(ctx context.Context, in TradeInput) (TradeResult, error) {
	sess, asset, price, err := s.estateQuote(ctx, in)
	if err != nil {
		return TradeResult{}, err
	}
	rc, err := s.ledger.ApplyWithSession(ctx, sess.ID, in.UserID, func(live *model.Session, p *model.Participant) (ledger.Effect, error) {
		if live.Status != model.SessionOpen || live.RoundStatus != model.RoundRunning {
			return ledger.Effect{}, model.ErrRoundNotRunning
		}
		if owner, ok := live.Owner(asset); !ok || owner != p.ID {
			return ledger.Effect{}, model.ErrNotOwner
		}
		live.ClearOwner(asset)
		p.RealEstateHoldings[asset] = false
		p.Balance += price
		return ledger.Effect{Kind: ledger.KindEstateSell, Booth: model.BoothRealEstate, Asset: asset, Amount: price}, nil
	}, idem(in.IdempotencyKey)...)
	if err != nil {
		return TradeResult{}, err
	}
	return tradeResult(rc, asset, price, 0), nil
}

func tradeResult(rc ledger.Receipt, asset string, price int64, holding int) TradeResult {
	return TradeResult{
		TxID:    rc.TxID,
		Asset:   asset,
		Price:   price,
		Holding: holding,
		Balance: rc.Participant.Balance,
	}
}
