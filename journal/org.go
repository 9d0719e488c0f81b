// Package journal renders ledger records for operators: Org-mode blocks for
// pasting into a hedging journal and CSV for spreadsheets.
package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/fxhedge/hedge"
)

// FormatCycleOrg renders a cycle with its orders and closed requests as an
// Org-mode block. Structured facts go in the PROPERTIES drawer.
func FormatCycleOrg(c hedge.Cycle, orders []hedge.Order, reqs []hedge.Request) string {
	state := "OPEN"
	closed := ""
	if c.ClosedAt != nil {
		state = "CLOSED"
		closed = c.ClosedAt.UTC().Format(time.RFC3339)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("** Cycle: %s %s (%s)\n", c.CompanyID, c.Time.UTC().Format("2006-01-02"), shortID(c.ID)))
	b.WriteString(":PROPERTIES:\n")
	b.WriteString(fmt.Sprintf(":CYCLE_ID: %s\n", c.ID))
	b.WriteString(fmt.Sprintf(":COMPANY: %s\n", c.CompanyID))
	b.WriteString(fmt.Sprintf(":STATE: %s\n", state))
	b.WriteString(fmt.Sprintf(":STARTED: %s\n", c.Time.UTC().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf(":CLOSED: %s\n", closed))
	b.WriteString(fmt.Sprintf(":ORDERS: %d\n", len(orders)))
	b.WriteString(fmt.Sprintf(":REQUESTS: %d\n", len(reqs)))
	b.WriteString(":END:\n")

	if len(orders) > 0 {
		b.WriteString("\n*** Orders\n")
		b.WriteString("| Type | Pair | Rounded | Filled | Avg price | State | Ticket |\n")
		b.WriteString("|------+------+---------+--------+-----------+-------+--------|\n")
		for _, o := range orders {
			b.WriteString(fmt.Sprintf("| %s | %s | %.0f | %s | %s | %s | %s |\n",
				o.AccountType, o.Pair, o.RoundedAmount, opt(o.FilledAmount, 0), opt(o.AvgPrice, 5), o.State, o.TicketRef))
		}
	}

	if len(reqs) > 0 {
		b.WriteString("\n*** Requests\n")
		b.WriteString("| Account | Type | Pair | Requested | Filled | PnL (quote) | PnL (domestic) |\n")
		b.WriteString("|---------+------+------+-----------+--------+-------------+----------------|\n")
		for _, r := range reqs {
			b.WriteString(fmt.Sprintf("| %s | %s | %s | %.2f | %s | %s | %s |\n",
				r.AccountID, r.AccountType, r.Pair, r.RequestedAmount,
				opt(r.FilledAmount, 2), opt(r.RealizedPnLQuote, 2), opt(r.RealizedPnLDomestic, 2)))
		}
	}

	b.WriteString("\n*** Review\n- \n")
	return b.String()
}

// FormatPositionsOrg renders account positions as an Org table.
func FormatPositionsOrg(companyID string, accountType hedge.AccountType, asOf time.Time, ps []hedge.Position) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("** Positions: %s %s as of %s\n", companyID, accountType, asOf.UTC().Format(time.RFC3339)))
	b.WriteString("| Account | Pair | Amount | Avg price |\n")
	b.WriteString("|---------+------+--------+-----------|\n")
	for _, p := range ps {
		b.WriteString(fmt.Sprintf("| %s | %s | %.2f | %.5f |\n", p.AccountID, p.Pair, p.Amount, p.AvgPrice()))
	}
	return b.String()
}

// FormatCyclesOrg renders multiple cycles separated by blank lines.
func FormatCyclesOrg(cycles []hedge.Cycle) string {
	var b strings.Builder
	for i, c := range cycles {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatCycleOrg(c, nil, nil))
	}
	return b.String()
}

func opt(v *float64, prec int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.*f", prec, *v)
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
