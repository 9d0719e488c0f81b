package alloc

import "math"

// RealizedPnL is the quote currency PnL realized by trading filled at price
// against a position of old held at oldAvg. Only the part of the fill that
// reduces the position realizes anything.
func RealizedPnL(old, oldAvg, filled, price float64) float64 {
	if old == 0 || filled == 0 || sameSign(old, filled) {
		return 0
	}
	closed := math.Min(math.Abs(filled), math.Abs(old))
	return sign(old) * closed * (price - oldAvg)
}

// TotalPrice is the unsigned cost basis of old+filled. Reductions keep the
// old average price; a flip opens the new side at price.
func TotalPrice(old, oldTotal, filled, price float64) float64 {
	final := old + filled
	switch {
	case math.Abs(final) < MinFill:
		return 0
	case old == 0:
		return math.Abs(final) * price
	case !sameSign(old, final):
		return math.Abs(final) * price
	case !sameSign(old, filled) && filled != 0:
		return math.Abs(final) * oldTotal / math.Abs(old)
	default:
		return math.Abs(sign(old)*oldTotal + price*filled)
	}
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func sameSign(a, b float64) bool {
	return sign(a) == sign(b)
}
