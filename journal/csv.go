package journal

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rustyeddy/fxhedge/hedge"
)

var (
	positionHeader = []string{"event_id", "account_id", "account_type", "pair", "amount", "avg_price"}
	requestHeader  = []string{"request_id", "cycle_id", "account_id", "account_type", "pair", "requested", "filled", "avg_price", "pnl_quote", "pnl_domestic", "commission", "status"}
	orderHeader    = []string{"order_id", "cycle_id", "account_type", "pair", "unrounded", "rounded", "filled", "avg_price", "state", "ticket", "error"}
)

// WritePositions writes positions as CSV with a header row.
func WritePositions(w io.Writer, ps []hedge.Position) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(positionHeader); err != nil {
		return err
	}
	for _, p := range ps {
		if err := cw.Write([]string{
			p.EventID, p.AccountID, string(p.AccountType), p.Pair, f(p.Amount), f(p.AvgPrice()),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRequests writes requests as CSV. Unknown fills are left empty.
func WriteRequests(w io.Writer, reqs []hedge.Request) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(requestHeader); err != nil {
		return err
	}
	for _, r := range reqs {
		if err := cw.Write([]string{
			r.ID, r.CycleID, r.AccountID, string(r.AccountType), r.Pair, f(r.RequestedAmount),
			fp(r.FilledAmount), fp(r.AvgPrice), fp(r.RealizedPnLQuote), fp(r.RealizedPnLDomestic), fp(r.Commission),
			string(r.Status),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteOrders(w io.Writer, orders []hedge.Order) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(orderHeader); err != nil {
		return err
	}
	for _, o := range orders {
		if err := cw.Write([]string{
			o.ID, o.CycleID, string(o.AccountType), o.Pair, f(o.UnroundedAmount), f(o.RoundedAmount),
			fp(o.FilledAmount), fp(o.AvgPrice), string(o.State), o.TicketRef, o.SubmitError,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}

func fp(x *float64) string {
	if x == nil {
		return ""
	}
	return f(*x)
}
