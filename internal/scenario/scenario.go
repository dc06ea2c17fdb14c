// Package scenario generates per-step price paths for the tradable assets
// of a round.
package scenario

import (
	mathrand "math/rand"
	"sync"
	"time"

	"econfair/internal/model"
)

// Class describes one family of assets sharing a base price and step delta.
type Class struct {
	Names []string
	Base  int64
	Delta int64
}

type Config struct {
	StepWidth time.Duration
	Stock     Class
	Estate    Class
}

type Generator struct {
	cfg  Config
	mu   sync.Mutex
	rand *mathrand.Rand
}

func New(cfg Config, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{cfg: cfg, rand: mathrand.New(mathrand.NewSource(seed))}
}

func (g *Generator) StepWidth() time.Duration { return g.cfg.StepWidth }

// Generate returns fresh stock and real estate scenarios for a round of
// durationSec seconds.
func (g *Generator) Generate(durationSec int64) (stock, estate []model.AssetScenario) {
	steps := StepCount(durationSec, g.cfg.StepWidth)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.class(g.cfg.Stock, steps), g.class(g.cfg.Estate, steps)
}

func (g *Generator) class(c Class, steps int) []model.AssetScenario {
	out := make([]model.AssetScenario, 0, len(c.Names))
	for _, name := range c.Names {
		out = append(out, model.AssetScenario{Name: name, Prices: g.path(c, steps)})
	}
	return out
}

// path starts at the base price and moves by a uniform integer in
// [-delta, +delta] per step, never going below zero.
func (g *Generator) path(c Class, steps int) []int64 {
	prices := make([]int64, steps)
	prices[0] = c.Base
	for i := 1; i < steps; i++ {
		var d int64
		if c.Delta > 0 {
			d = g.rand.Int63n(2*c.Delta+1) - c.Delta
		}
		prices[i] = max(0, prices[i-1]+d)
	}
	return prices
}

func StepCount(durationSec int64, stepWidth time.Duration) int {
	w := int64(stepWidth / time.Second)
	if w <= 0 {
		return 1
	}
	return int(max(1, durationSec/w))
}

// CurrentStep maps elapsed round time onto a price index.
func CurrentStep(durationSec, remainingSec int64, stepWidth time.Duration, steps int) int {
	w := int64(stepWidth / time.Second)
	if w <= 0 || steps <= 0 {
		return 0
	}
	step := (durationSec - remainingSec) / w
	return int(min(max(step, 0), int64(steps-1)))
}

// PriceAt returns the price at step, or the last price when step is past
// the end of the path.
func PriceAt(a model.AssetScenario, step int) int64 {
	if len(a.Prices) == 0 {
		return 0
	}
	if step < 0 {
		step = 0
	}
	if step >= len(a.Prices) {
		return a.Prices[len(a.Prices)-1]
	}
	return a.Prices[step]
}
