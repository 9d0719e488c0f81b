// Package liquidity adjusts desired positions before they reach the broker:
// internal netting of opposing exposures, and margin driven scale-down.
package liquidity

import (
	"math"
)

// Exposure is one account's cash exposure and optimizer target in a pair.
type Exposure struct {
	AccountID string
	Exposure  float64
	Desired   float64
}

type Adjustment struct {
	AccountID string
	Exposure  float64
	Before    float64
	After     float64
}

type Stats struct {
	// LiquidityChange is how much position moved between accounts.
	LiquidityChange float64
	// PoolSize is the unhedged exposure available to absorb the change.
	PoolSize    float64
	Utilization float64
}

type Netting struct {
	Pair        string
	Change      float64
	Absorbed    float64
	Adjustments []Adjustment
	Stats       Stats
}

// NetDesired is the company target after netting.
func (n Netting) NetDesired() float64 {
	s := 0.0
	for _, a := range n.Adjustments {
		s += a.After
	}
	return s
}

// Net lets accounts whose residual exposure runs against the company's net
// hedge take the other side internally, so only the net goes to the broker.
//
// The pool change is net desired + net exposure. It is capped by the
// residual exposure on the change's side and by the hedges that it offsets,
// then scaled by utilization (0..1).
func Net(pair string, accounts []Exposure, utilization float64) Netting {
	n := Netting{Pair: pair, Adjustments: make([]Adjustment, len(accounts))}

	netDesired, netExposure := 0.0, 0.0
	for i, a := range accounts {
		netDesired += a.Desired
		netExposure += a.Exposure
		n.Adjustments[i] = Adjustment{AccountID: a.AccountID, Exposure: a.Exposure, Before: a.Desired, After: a.Desired}
	}
	n.Change = netDesired + netExposure
	if n.Change == 0 || utilization <= 0 || math.IsNaN(n.Change) {
		return n
	}
	utilization = math.Min(utilization, 1)
	dir := math.Copysign(1, n.Change)

	remainingSide, hedgedSide := 0.0, 0.0
	for _, a := range accounts {
		if r := a.Exposure + a.Desired; r*dir > 0 {
			remainingSide += r
		}
		if a.Desired*dir > 0 {
			hedgedSide += a.Desired
		}
	}
	n.Stats.PoolSize = math.Abs(remainingSide)

	absorbed := math.Min(math.Abs(n.Change), math.Min(math.Abs(remainingSide), math.Abs(hedgedSide)))
	n.Absorbed = dir * absorbed * utilization
	if n.Absorbed == 0 {
		return n
	}

	fraction := n.Absorbed / remainingSide
	moved := 0.0
	for i, a := range accounts {
		r := a.Exposure + a.Desired
		if r*dir <= 0 {
			continue
		}
		n.Adjustments[i].After = a.Desired - fraction*r
		moved += math.Abs(n.Adjustments[i].After - a.Desired)
	}
	n.Stats.LiquidityChange = 0.5 * moved
	if n.Stats.PoolSize > 0 {
		n.Stats.Utilization = math.Abs(n.Absorbed) / n.Stats.PoolSize
	}
	return n
}
