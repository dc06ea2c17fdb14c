package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"econfair/internal/model"
)

func TestBuyStockAboveBalanceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.running(t)
	f.setPrices(t, []int64{12000, 12000}, nil)
	f.participant(t, "u1")

	_, err := f.svc.BuyStock(ctx, TradeInput{UserID: "u1", Asset: stockA})
	if !errors.Is(err, model.ErrInsufficientFunds) || !errors.Is(err, model.ErrResource) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if p := f.participant(t, "u1"); p.Balance != 10000 || p.StockHoldings[stockA] != 0 {
		t.Fatalf("participant changed: %+v", p)
	}
}

func TestStockPriceFollowsRoundStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.running(t)
	f.setPrices(t, []int64{50000, 61234}, nil)

	f.clock.Advance(599 * time.Second)
	board, err := f.svc.Prices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if board.StepCount != 2 || board.Step != 0 || board.Stocks[0].Price != 50000 {
		t.Fatalf("before midpoint: %+v", board)
	}

	f.clock.Advance(2 * time.Second)
	board, err = f.svc.Prices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if board.Step != 1 || board.Stocks[0].Price != 61234 {
		t.Fatalf("after midpoint: %+v", board)
	}
}

func TestStockCapAndHoldings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.running(t)
	f.setPrices(t, []int64{1000, 1000}, nil)

	for i := 0; i < 5; i++ {
		res, err := f.svc.BuyStock(ctx, TradeInput{UserID: "u1", Asset: stockA})
		if err != nil {
			t.Fatalf("buy %d: %v", i, err)
		}
		if res.Holding != i+1 || res.Balance != 10000-int64(i+1)*1000 {
			t.Fatalf("buy %d: %+v", i, res)
		}
	}
	if _, err := f.svc.BuyStock(ctx, TradeInput{UserID: "u1", Asset: stockA}); !errors.Is(err, model.ErrCapReached) {
		t.Fatalf("expected cap reached, got %v", err)
	}
	res, err := f.svc.SellStock(ctx, TradeInput{UserID: "u1", Asset: stockA})
	if err != nil || res.Holding != 4 || res.Balance != 6000 {
		t.Fatalf("sell: %+v %v", res, err)
	}
	if _, err := f.svc.SellStock(ctx, TradeInput{UserID: "u2", Asset: stockA}); !errors.Is(err, model.ErrNoHolding) {
		t.Fatalf("expected no holding, got %v", err)
	}
	if _, err := f.svc.BuyStock(ctx, TradeInput{UserID: "u1", Asset: "Stock Z"}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected unknown asset, got %v", err)
	}
}

func TestTradingRequiresRunningRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.OpenOrResetSession(ctx, "fair", 1200); err != nil {
		t.Fatal(err)
	}
	calls := map[string]func() error{
		"buy stock": func() error {
			_, err := f.svc.BuyStock(ctx, TradeInput{UserID: "u1", Asset: stockA})
			return err
		},
		"sell stock": func() error {
			_, err := f.svc.SellStock(ctx, TradeInput{UserID: "u1", Asset: stockA})
			return err
		},
		"buy estate": func() error {
			_, err := f.svc.BuyRealEstate(ctx, TradeInput{UserID: "u1", Asset: estateA})
			return err
		},
		"sell estate": func() error {
			_, err := f.svc.SellRealEstate(ctx, TradeInput{UserID: "u1", Asset: estateA})
			return err
		},
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, model.ErrRoundNotRunning) {
			t.Fatalf("%s: expected round not running, got %v", name, err)
		}
	}
}

func TestRealEstateOwnershipRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.running(t)
	f.setPrices(t, nil, []int64{3000, 3000})

	if _, err := f.svc.SellRealEstate(ctx, TradeInput{UserID: "u1", Asset: estateA}); !errors.Is(err, model.ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	res, err := f.svc.BuyRealEstate(ctx, TradeInput{UserID: "u1", Asset: estateA})
	if err != nil || res.Balance != 7000 {
		t.Fatalf("buy: %+v %v", res, err)
	}
	if _, err := f.svc.BuyRealEstate(ctx, TradeInput{UserID: "u2", Asset: estateA}); !errors.Is(err, model.ErrAlreadyOwned) {
		t.Fatalf("expected already owned, got %v", err)
	}
	if _, err := f.svc.SellRealEstate(ctx, TradeInput{UserID: "u2", Asset: estateA}); !errors.Is(err, model.ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}

	board, _ := f.svc.Prices(ctx)
	if board.RealEstate[0].Owner == nil || *board.RealEstate[0].Owner != model.ParticipantID("fair", "u1") {
		t.Fatalf("board owner %v", board.RealEstate[0].Owner)
	}

	res, err = f.svc.SellRealEstate(ctx, TradeInput{UserID: "u1", Asset: estateA})
	if err != nil || res.Balance != 10000 {
		t.Fatalf("sell: %+v %v", res, err)
	}
	sess, _ := f.svc.CurrentSession(ctx)
	if _, owned := sess.Owner(estateA); owned {
		t.Fatalf("owner not cleared")
	}
	if p := f.participant(t, "u1"); p.RealEstateHoldings[estateA] {
		t.Fatalf("holding not cleared")
	}
	if p := f.participant(t, "u2"); p.Balance != 10000 {
		t.Fatalf("loser debited: %d", p.Balance)
	}
}

func TestConcurrentRealEstateBuysHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.running(t)
	f.setPrices(t, nil, []int64{5000, 5000})

	const n = 12
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.BuyRealEstate(ctx, TradeInput{UserID: fmt.Sprintf("u%d", i), Asset: estateA})
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		switch {
		case err == nil:
			if winner >= 0 {
				t.Fatalf("two winners: u%d and u%d", winner, i)
			}
			winner = i
		case errors.Is(err, model.ErrAlreadyOwned):
		default:
			t.Fatalf("u%d: unexpected error %v", i, err)
		}
	}
	if winner < 0 {
		t.Fatalf("no winner")
	}
	sess, _ := f.svc.CurrentSession(ctx)
	owner, _ := sess.Owner(estateA)
	if owner != model.ParticipantID("fair", fmt.Sprintf("u%d", winner)) {
		t.Fatalf("owner %q winner u%d", owner, winner)
	}
	for i := 0; i < n; i++ {
		p := f.participant(t, fmt.Sprintf("u%d", i))
		want := int64(10000)
		if i == winner {
			want = 5000
		}
		if p.Balance != want || p.RealEstateHoldings[estateA] != (i == winner) {
			t.Fatalf("u%d: balance %d holding %v", i, p.Balance, p.RealEstateHoldings[estateA])
		}
	}
}

func TestConcurrentStockTradesKeepLedgerExact(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.running(t)
		f.setPrices(t, []int64{700, 700}, nil)

		initial := rapid.IntRange(0, 5).Draw(rt, "initial")
		for i := 0; i < initial; i++ {
			if _, err := f.svc.BuyStock(ctx, TradeInput{UserID: "u1", Asset: stockA}); err != nil {
				rt.Fatalf("seed buy: %v", err)
			}
		}
		ops := rapid.SliceOfN(rapid.Bool(), 1, 16).Draw(rt, "buys")

		var mu sync.Mutex
		var buys, sells int
		var wg sync.WaitGroup
		for _, buy := range ops {
			wg.Add(1)
			go func(buy bool) {
				defer wg.Done()
				var err error
				if buy {
					_, err = f.svc.BuyStock(ctx, TradeInput{UserID: "u1", Asset: stockA})
				} else {
					_, err = f.svc.SellStock(ctx, TradeInput{UserID: "u1", Asset: stockA})
				}
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil && buy:
					buys++
				case err == nil:
					sells++
				case errors.Is(err, model.ErrCapReached), errors.Is(err, model.ErrNoHolding):
				default:
					rt.Errorf("unexpected error: %v", err)
				}
			}(buy)
		}
		wg.Wait()

		p := f.participant(t, "u1")
		holding := p.StockHoldings[stockA]
		if holding != initial+buys-sells {
			rt.Fatalf("holding %d want %d", holding, initial+buys-sells)
		}
		if holding < 0 || holding > 5 {
			rt.Fatalf("holding %d out of range", holding)
		}
		wantBalance := int64(10000) - int64(initial+buys-sells)*700
		if p.Balance != wantBalance {
			rt.Fatalf("balance %d want %d", p.Balance, wantBalance)
		}
	})
}
