package server

import (
	"math/rand/v2"

	"github.com/calvinalkan/casino-ipc/pkg/casino"
)

// Economy is the fixed slot-machine math.
type Economy struct {
	// SpinCost is charged on every spin, whatever amount the bet carried.
	SpinCost int32

	// Weights are the relative draw weights per symbol. Rarer symbols have
	// smaller weights and larger payouts.
	Weights [casino.SymbolCount]int

	// Payouts are the gross payouts for three of a kind.
	Payouts [casino.SymbolCount]int32
}

// DefaultEconomy returns the standard table: 7 (rare), diamond, bell,
// strawberry (common).
func DefaultEconomy() Economy {
	return Economy{
		SpinCost: 20,
		Weights:  [casino.SymbolCount]int{1, 3, 5, 8},
		Payouts:  [casino.SymbolCount]int32{400, 220, 140, 90},
	}
}

func (e Economy) totalWeight() int {
	total := 0
	for _, w := range e.Weights {
		total += w
	}

	return total
}

// Draw picks one symbol according to the weights.
func (e Economy) Draw(rng *rand.Rand) casino.Symbol {
	total := e.totalWeight()
	if total <= 0 {
		return casino.SymbolCount - 1
	}

	r := rng.IntN(total) + 1
	acc := 0

	for i, w := range e.Weights {
		acc += w
		if r <= acc {
			return casino.Symbol(i)
		}
	}

	return casino.SymbolCount - 1
}

// Outcome is the result of one spin.
type Outcome struct {
	Symbols [3]casino.Symbol
	Win     bool
	Payout  int32
	Delta   int32
}

// Spin draws three independent symbols and settles them.
func (e Economy) Spin(rng *rand.Rand) Outcome {
	var o Outcome

	for i := range o.Symbols {
		o.Symbols[i] = e.Draw(rng)
	}

	o.Win = o.Symbols[0] == o.Symbols[1] && o.Symbols[1] == o.Symbols[2]
	if o.Win {
		o.Payout = e.Payouts[o.Symbols[0]]
	}

	o.Delta = o.Payout - e.SpinCost

	return o
}
