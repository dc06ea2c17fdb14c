// Package tuning loads the game constants of a fair from YAML.
package tuning

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"econfair/internal/model"
	"econfair/internal/scenario"
)

type Tuning struct {
	StartingBalance int64 `yaml:"starting_balance"`
	StockCap        int   `yaml:"stock_cap"`
	StepWidthSec    int64 `yaml:"step_width_sec"`

	Stocks     AssetClass `yaml:"stocks"`
	RealEstate AssetClass `yaml:"real_estate"`

	BankProducts map[model.ProductType]Product `yaml:"bank_products"`
	Quest        Quest                         `yaml:"quest"`
}

type AssetClass struct {
	Names []string `yaml:"names"`
	Base  int64    `yaml:"base"`
	Delta int64    `yaml:"delta"`
}

type Product struct {
	DurationSec int64 `yaml:"duration_sec"`
	// Multiplier is kept as text so payouts never pass through a float.
	Multiplier string `yaml:"multiplier"`
}

type Quest struct {
	Answers []string `yaml:"answers"`
	Rewards []int64  `yaml:"rewards"`
}

func Default() Tuning {
	return Tuning{
		StartingBalance: 10000,
		StockCap:        5,
		StepWidthSec:    600,
		Stocks: AssetClass{
			Names: []string{"Stock A", "Stock B", "Stock C", "Stock D", "Stock E", "Stock F"},
			Base:  50000,
			Delta: 20000,
		},
		RealEstate: AssetClass{
			Names: []string{"Estate A", "Estate B", "Estate C", "Estate D", "Estate E", "Estate F"},
			Base:  200000,
			Delta: 50000,
		},
		BankProducts: map[model.ProductType]Product{
			model.ProductShort: {DurationSec: 600, Multiplier: "1.5"},
			model.ProductMid:   {DurationSec: 900, Multiplier: "2.0"},
			model.ProductLong:  {DurationSec: 1200, Multiplier: "2.5"},
		},
		Quest: Quest{
			Answers: []string{"정답", "정답", "정답", "정답", "정답", "정답"},
			Rewards: []int64{50000, 50000, 50000, 100000, 100000, 150000},
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.StartingBalance < 0 {
		return fmt.Errorf("starting_balance must be >= 0")
	}
	if t.StockCap <= 0 {
		return fmt.Errorf("stock_cap must be > 0")
	}
	if t.StepWidthSec <= 0 {
		return fmt.Errorf("step_width_sec must be > 0")
	}
	for _, c := range []struct {
		name  string
		class AssetClass
	}{{"stocks", t.Stocks}, {"real_estate", t.RealEstate}} {
		if len(c.class.Names) == 0 {
			return fmt.Errorf("%s.names must not be empty", c.name)
		}
		seen := map[string]bool{}
		for _, n := range c.class.Names {
			if n == "" || seen[n] {
				return fmt.Errorf("%s.names: empty or duplicate name %q", c.name, n)
			}
			seen[n] = true
		}
		if c.class.Base < 0 || c.class.Delta < 0 {
			return fmt.Errorf("%s: base and delta must be >= 0", c.name)
		}
	}
	for _, pt := range []model.ProductType{model.ProductShort, model.ProductMid, model.ProductLong} {
		p, ok := t.BankProducts[pt]
		if !ok {
			return fmt.Errorf("bank_products.%s is missing", pt)
		}
		if p.DurationSec <= 0 {
			return fmt.Errorf("bank_products.%s.duration_sec must be > 0", pt)
		}
		m, err := decimal.NewFromString(p.Multiplier)
		if err != nil {
			return fmt.Errorf("bank_products.%s.multiplier: %w", pt, err)
		}
		if !m.IsPositive() {
			return fmt.Errorf("bank_products.%s.multiplier must be > 0", pt)
		}
	}
	if len(t.Quest.Answers) == 0 || len(t.Quest.Answers) != len(t.Quest.Rewards) {
		return fmt.Errorf("quest: answers and rewards must have the same non-zero length")
	}
	for i, r := range t.Quest.Rewards {
		if r < 0 {
			return fmt.Errorf("quest.rewards[%d] must be >= 0", i)
		}
	}
	return nil
}

func (t Tuning) StepWidth() time.Duration {
	return time.Duration(t.StepWidthSec) * time.Second
}

func (t Tuning) Scenario() scenario.Config {
	return scenario.Config{
		StepWidth: t.StepWidth(),
		Stock:     scenario.Class{Names: t.Stocks.Names, Base: t.Stocks.Base, Delta: t.Stocks.Delta},
		Estate:    scenario.Class{Names: t.RealEstate.Names, Base: t.RealEstate.Base, Delta: t.RealEstate.Delta},
	}
}

// Product returns the duration and multiplier of a validated product type.
func (t Tuning) Product(pt model.ProductType) (time.Duration, decimal.Decimal, error) {
	p, ok := t.BankProducts[pt]
	if !ok {
		return 0, decimal.Zero, model.Validation("unknown product type %q", pt)
	}
	m, err := decimal.NewFromString(p.Multiplier)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("product %s multiplier: %w", pt, err)
	}
	return time.Duration(p.DurationSec) * time.Second, m, nil
}
