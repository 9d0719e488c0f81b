// Package alloc distributes a broker fill for one pair across the accounts
// that requested it. It performs no I/O.
package alloc

import (
	"fmt"
	"math"

	"github.com/rustyeddy/fxhedge/hedge"
)

const (
	// MinFill is the smallest account fill kept; anything smaller is noise.
	MinFill = 1e-6

	tolerance = 1e-6
)

// Participant is one account's stake in a pair. Accounts that hold the pair
// without requesting a change take part with Requested == 0.
type Participant struct {
	AccountID     string
	RequestID     string
	OldPosition   float64
	OldTotalPrice float64
	Requested     float64
}

type PairInput struct {
	Pair       string
	OldCompany float64
	Filled     float64
	// AvgPrice is the price achieved for the fill. Callers substitute spot
	// when the broker reports none.
	AvgPrice       float64
	Commission     float64
	CntrCommission float64
	Accounts       []Participant
}

type Allocation struct {
	AccountID      string
	RequestID      string
	Requested      float64
	OldPosition    float64
	Desired        float64
	Realized       float64
	Filled         float64
	TotalPrice     float64
	PnLQuote       float64
	Commission     float64
	CntrCommission float64
}

type Summary struct {
	Pair           string
	OldCompany     float64
	Filled         float64
	TotalRequested float64
	ReqNorm        float64
	PosNorm        float64
	DesiredTotal   float64
	RealizedTotal  float64
	Diff           float64
	Commission     float64
	CntrCommission float64
}

type Result struct {
	Allocations []Allocation
	Summary     Summary
}

// Allocate reconciles one pair. The realized amounts always sum to
// OldCompany + Filled; when they cannot, ErrConservation is returned and the
// result must not be persisted.
func Allocate(in PairInput) (Result, error) {
	if err := validate(in); err != nil {
		return Result{}, err
	}

	s := Summary{
		Pair:           in.Pair,
		OldCompany:     in.OldCompany,
		Filled:         in.Filled,
		Commission:     in.Commission,
		CntrCommission: in.CntrCommission,
	}
	for _, a := range in.Accounts {
		s.TotalRequested += a.Requested
		if a.Requested != 0 {
			s.ReqNorm += math.Abs(a.Requested)
			s.PosNorm += math.Abs(a.OldPosition + a.Requested)
		}
	}
	s.DesiredTotal = in.OldCompany + s.TotalRequested
	s.RealizedTotal = in.OldCompany + in.Filled
	s.Diff = s.RealizedTotal - s.DesiredTotal

	out := make([]Allocation, len(in.Accounts))
	for i, a := range in.Accounts {
		desired := a.OldPosition + a.Requested
		al := Allocation{
			AccountID:   a.AccountID,
			RequestID:   a.RequestID,
			Requested:   a.Requested,
			OldPosition: a.OldPosition,
			Desired:     desired,
			Realized:    desired,
		}

		if s.ReqNorm != 0 && a.Requested != 0 {
			wReq := math.Abs(a.Requested) / s.ReqNorm
			if s.PosNorm == 0 {
				al.Realized = desired + s.Diff*wReq
			} else {
				al.Realized = desired + s.Diff*math.Abs(desired)/s.PosNorm
			}
			al.Commission = in.Commission * wReq
			al.CntrCommission = in.CntrCommission * wReq
		}
		out[i] = al
	}

	// Accounts that asked for nothing never absorb a change, so a move with
	// no request behind it cannot be booked.
	if s.ReqNorm == 0 && math.Abs(s.Diff) > tol(s.RealizedTotal, 0) {
		return Result{Summary: s}, fmt.Errorf("%w: %s moved %.6f with no request",
			hedge.ErrConservation, in.Pair, s.Diff)
	}

	sum := 0.0
	for i := range out {
		al := &out[i]
		al.Filled = al.Realized - al.OldPosition
		if math.Abs(al.Filled) < MinFill {
			al.Filled = 0
			al.Realized = al.OldPosition
		}
		old := in.Accounts[i]
		al.PnLQuote = RealizedPnL(old.OldPosition, avg(old.OldPosition, old.OldTotalPrice), al.Filled, in.AvgPrice)
		al.TotalPrice = TotalPrice(old.OldPosition, old.OldTotalPrice, al.Filled, in.AvgPrice)
		sum += al.Realized
	}

	if math.Abs(sum-s.RealizedTotal) > tol(s.RealizedTotal, len(out)) {
		return Result{}, fmt.Errorf("%w: %s allocated %.6f, company holds %.6f",
			hedge.ErrConservation, in.Pair, sum, s.RealizedTotal)
	}

	return Result{Allocations: out, Summary: s}, nil
}

func validate(in PairInput) error {
	if !hedge.Finite(in.Filled) || !hedge.Finite(in.OldCompany) {
		return fmt.Errorf("%w: %s filled=%v old=%v", hedge.ErrBadAmount, in.Pair, in.Filled, in.OldCompany)
	}
	if !hedge.Finite(in.Commission) || !hedge.Finite(in.CntrCommission) || !hedge.Finite(in.AvgPrice) {
		return fmt.Errorf("%w: %s fill costs", hedge.ErrBadAmount, in.Pair)
	}
	seen := make(map[string]bool, len(in.Accounts))
	for _, a := range in.Accounts {
		if !hedge.Finite(a.OldPosition) || !hedge.Finite(a.Requested) || !hedge.Finite(a.OldTotalPrice) {
			return fmt.Errorf("%w: %s account %s", hedge.ErrBadAmount, in.Pair, a.AccountID)
		}
		if seen[a.AccountID] {
			return fmt.Errorf("%s: account %s listed twice", in.Pair, a.AccountID)
		}
		seen[a.AccountID] = true
	}
	return nil
}

// tol allows for float error plus the sub-MinFill fills dropped per account.
func tol(total float64, accounts int) float64 {
	return tolerance*math.Max(1, math.Abs(total)) + MinFill*float64(accounts)
}

func avg(amount, total float64) float64 {
	if amount == 0 {
		return 0
	}
	return total / math.Abs(amount)
}
