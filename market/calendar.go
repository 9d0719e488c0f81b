package market

import "time"

// Calendar decides whether a pair trades on a given day. Weekends never
// trade; Holidays lists closed dates per currency.
type Calendar struct {
	Holidays map[string][]time.Time
}

func (c Calendar) CanTrade(pair string, day time.Time) bool {
	d := day.UTC()
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	base, quote, err := SplitPair(pair)
	if err != nil {
		return false
	}
	return !c.closed(base, d) && !c.closed(quote, d)
}

func (c Calendar) closed(currency string, day time.Time) bool {
	y, m, dd := day.Date()
	for _, h := range c.Holidays[currency] {
		hy, hm, hd := h.UTC().Date()
		if hy == y && hm == m && hd == dd {
			return true
		}
	}
	return false
}
