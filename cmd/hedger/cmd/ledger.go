package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/internal/app"
	"github.com/rustyeddy/fxhedge/journal"
	"github.com/rustyeddy/fxhedge/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Report from the position ledger",
	Long: `Query the hedge ledger and print Org-mode or CSV.

Subcommands:
  positions - Account positions as of a time
  requests  - Closed requests with their fills and PnL
  orders    - A cycle's orders and requests
  cycles    - Recent cycles

Examples:
  hedger ledger positions --company acme --type LIVE
  hedger ledger requests --company acme --format csv > requests.csv
  hedger ledger orders --company acme`,
}

var ledgerPositionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Account positions as of a time",
	Args:  cobra.NoArgs,
	RunE:  runLedgerPositions,
}

var ledgerRequestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Closed requests, newest first",
	Args:  cobra.NoArgs,
	RunE:  runLedgerRequests,
}

var ledgerOrdersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Orders and requests of a cycle (default latest)",
	Args:  cobra.NoArgs,
	RunE:  runLedgerOrders,
}

var ledgerCyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "Recent cycles, newest first",
	Args:  cobra.NoArgs,
	RunE:  runLedgerCycles,
}

var (
	ledgerCompany string
	ledgerType    string
	ledgerAt      string
	ledgerCycle   string
	ledgerFormat  string
	requestLimit  int
	cycleLimit    int
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerPositionsCmd)
	ledgerCmd.AddCommand(ledgerRequestsCmd)
	ledgerCmd.AddCommand(ledgerOrdersCmd)
	ledgerCmd.AddCommand(ledgerCyclesCmd)

	ledgerCmd.PersistentFlags().StringVar(&ledgerCompany, "company", "", "company id (required)")
	ledgerCmd.MarkPersistentFlagRequired("company")
	ledgerCmd.PersistentFlags().StringVarP(&ledgerFormat, "format", "f", "org", "output format: org or csv")

	ledgerPositionsCmd.Flags().StringVar(&ledgerType, "type", "LIVE", "account type: LIVE or DEMO")
	ledgerPositionsCmd.Flags().StringVar(&ledgerAt, "at", "", "as of, RFC3339 (default now)")
	ledgerOrdersCmd.Flags().StringVar(&ledgerCycle, "cycle", "", "cycle id (default latest)")
	ledgerRequestsCmd.Flags().IntVarP(&requestLimit, "limit", "n", 100, "maximum rows")
	ledgerCyclesCmd.Flags().IntVarP(&cycleLimit, "limit", "n", 20, "maximum cycles")
}

func openLedger(ctx context.Context) (*ledger.DB, error) {
	if ledgerFormat != "org" && ledgerFormat != "csv" {
		return nil, fmt.Errorf("--format must be org or csv")
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := app.OpenLedger(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return db, nil
}

func runLedgerPositions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	typ := hedge.AccountType(strings.ToUpper(ledgerType))
	if !typ.Valid() {
		return fmt.Errorf("--type must be LIVE or DEMO")
	}
	at, err := parseAt(ledgerAt)
	if err != nil {
		return err
	}
	db, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	ps, err := db.PositionsAsOf(ctx, ledgerCompany, typ, at)
	if err != nil {
		return fmt.Errorf("query positions: %w", err)
	}
	if ledgerFormat == "csv" {
		return journal.WritePositions(os.Stdout, ps)
	}
	fmt.Print(journal.FormatPositionsOrg(ledgerCompany, typ, at, ps))
	return nil
}

func runLedgerRequests(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	reqs, err := db.ClosedRequests(ctx, ledgerCompany, requestLimit)
	if err != nil {
		return fmt.Errorf("query requests: %w", err)
	}
	if ledgerFormat == "csv" {
		return journal.WriteRequests(os.Stdout, reqs)
	}

	// Group by cycle, keeping newest first.
	var order []string
	byCycle := make(map[string][]hedge.Request)
	for _, r := range reqs {
		if _, ok := byCycle[r.CycleID]; !ok {
			order = append(order, r.CycleID)
		}
		byCycle[r.CycleID] = append(byCycle[r.CycleID], r)
	}
	cycles, err := db.ListCycles(ctx, ledgerCompany, 0)
	if err != nil {
		return fmt.Errorf("query cycles: %w", err)
	}
	known := make(map[string]hedge.Cycle, len(cycles))
	for _, c := range cycles {
		known[c.ID] = c
	}
	for i, id := range order {
		if i > 0 {
			fmt.Println()
		}
		c, ok := known[id]
		if !ok {
			c = hedge.Cycle{ID: id, CompanyID: ledgerCompany}
		}
		fmt.Print(journal.FormatCycleOrg(c, nil, byCycle[id]))
	}
	return nil
}

func runLedgerOrders(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	cycles, err := db.ListCycles(ctx, ledgerCompany, 0)
	if err != nil {
		return fmt.Errorf("query cycles: %w", err)
	}
	var cycle hedge.Cycle
	for _, c := range cycles {
		if ledgerCycle == "" || c.ID == ledgerCycle {
			cycle = c
			break
		}
	}
	if cycle.ID == "" {
		return fmt.Errorf("no cycle found for %s", ledgerCompany)
	}

	var (
		orders []hedge.Order
		reqs   []hedge.Request
	)
	for _, typ := range hedge.AccountTypes {
		batch, err := db.OrdersForCycle(ctx, cycle.ID, typ)
		if err != nil {
			return fmt.Errorf("query orders: %w", err)
		}
		orders = append(orders, batch...)
		rs, err := db.RequestsForCycle(ctx, cycle.ID, typ)
		if err != nil {
			return fmt.Errorf("query requests: %w", err)
		}
		reqs = append(reqs, rs...)
	}
	if ledgerFormat == "csv" {
		return journal.WriteOrders(os.Stdout, orders)
	}
	fmt.Print(journal.FormatCycleOrg(cycle, orders, reqs))
	return nil
}

func runLedgerCycles(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	cycles, err := db.ListCycles(ctx, ledgerCompany, cycleLimit)
	if err != nil {
		return fmt.Errorf("query cycles: %w", err)
	}
	if len(cycles) == 0 {
		fmt.Println("No cycles found.")
		return nil
	}
	fmt.Print(journal.FormatCyclesOrg(cycles))
	return nil
}
