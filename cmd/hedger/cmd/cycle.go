package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxhedge/eod"
	"github.com/rustyeddy/fxhedge/hedge"
	"github.com/rustyeddy/fxhedge/recon"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one stage of a company's hedge cycle",
	Long: `Run the stages of a company's daily hedge cycle by hand.

Subcommands:
  start - Reconcile, plan and submit the cycle's orders
  await - Wait for the open cycle's orders to finish
  end   - Reconcile the fills and close the cycle
  run   - Start, await and end in one go

The simulated broker lives in memory, so with broker.type sim only
"run" sees its own orders.

Examples:
  hedger cycle start --company acme
  hedger cycle end --company acme --at 2024-03-15T21:30:00Z
  hedger cycle run --company acme`,
}

var cycleStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a hedge cycle",
	Args:  cobra.NoArgs,
	RunE:  runCycleStart,
}

var cycleAwaitCmd = &cobra.Command{
	Use:   "await",
	Short: "Wait for the open cycle's orders",
	Args:  cobra.NoArgs,
	RunE:  runCycleAwait,
}

var cycleEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the open hedge cycle",
	Args:  cobra.NoArgs,
	RunE:  runCycleEnd,
}

var cycleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start, await and end a hedge cycle",
	Args:  cobra.NoArgs,
	RunE:  runCycleRun,
}

var (
	cycleCompany  string
	cycleAt       string
	cycleTimeout  time.Duration
	cycleInterval time.Duration
)

func init() {
	rootCmd.AddCommand(cycleCmd)
	for _, c := range []*cobra.Command{cycleStartCmd, cycleAwaitCmd, cycleEndCmd, cycleRunCmd} {
		cycleCmd.AddCommand(c)
		c.Flags().StringVar(&cycleCompany, "company", "", "company id (required)")
		c.MarkFlagRequired("company")
	}
	for _, c := range []*cobra.Command{cycleStartCmd, cycleEndCmd, cycleRunCmd} {
		c.Flags().StringVar(&cycleAt, "at", "", "cycle time, RFC3339 (default now)")
	}
	for _, c := range []*cobra.Command{cycleAwaitCmd, cycleRunCmd} {
		c.Flags().DurationVar(&cycleTimeout, "timeout", 10*time.Minute, "how long to wait for fills")
		c.Flags().DurationVar(&cycleInterval, "interval", 5*time.Second, "ticket poll interval")
	}
}

func runCycleStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	at, err := parseAt(cycleAt)
	if err != nil {
		return err
	}
	svc, _, done, err := open(ctx)
	if err != nil {
		return err
	}
	defer done()

	company, err := svc.Company(cycleCompany)
	if err != nil {
		return err
	}
	rep, err := svc.Coordinator.Start(ctx, company, at)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	printStart(rep)
	return nil
}

func runCycleAwait(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, _, done, err := open(ctx)
	if err != nil {
		return err
	}
	defer done()

	company, err := svc.Company(cycleCompany)
	if err != nil {
		return err
	}
	tickets, err := svc.Coordinator.Await(ctx, company, cycleTimeout, cycleInterval)
	if err != nil {
		return fmt.Errorf("await: %w", err)
	}
	printTickets(tickets)
	return nil
}

func runCycleEnd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	at, err := parseAt(cycleAt)
	if err != nil {
		return err
	}
	svc, _, done, err := open(ctx)
	if err != nil {
		return err
	}
	defer done()

	company, err := svc.Company(cycleCompany)
	if err != nil {
		return err
	}
	rep, err := svc.Coordinator.End(ctx, company, at)
	printEnd(rep)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	return nil
}

func runCycleRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	at, err := parseAt(cycleAt)
	if err != nil {
		return err
	}
	svc, _, done, err := open(ctx)
	if err != nil {
		return err
	}
	defer done()

	company, err := svc.Company(cycleCompany)
	if err != nil {
		return err
	}
	return runCycle(ctx, svc.Coordinator, company, at, cycleTimeout, cycleInterval)
}

// runCycle ends the cycle after its orders finish, at a time strictly after
// the start so the post-hedge snapshot follows the pre-hedge one.
func runCycle(ctx context.Context, p eod.Pipeline, company hedge.Company, at time.Time, timeout, interval time.Duration) error {
	start, err := p.Start(ctx, company, at)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	printStart(start)
	if start.Deactivated {
		return nil
	}

	tickets, err := p.Await(ctx, company, timeout, interval)
	if err != nil {
		return fmt.Errorf("await: %w", err)
	}
	printTickets(tickets)

	end := time.Now().UTC()
	if !end.After(at) {
		end = at.Add(time.Second)
	}
	rep, err := p.End(ctx, company, end)
	printEnd(rep)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	return nil
}

func printStart(rep eod.StartReport) {
	if rep.Deactivated {
		fmt.Printf("✓ Company deactivated, cycle %s closed without hedging\n", rep.Cycle.ID)
		return
	}
	verb := "Started"
	if rep.Resumed {
		verb = "Resumed"
	}
	fmt.Printf("✓ %s cycle %s at %s\n", verb, rep.Cycle.ID, rep.Cycle.Time.Format(time.RFC3339))
	fmt.Printf("  Requests: %d (%d liquidity adjustments)\n", rep.Requests, rep.Adjustments)
	if rep.Scale.Ratio < 1 || rep.Scale.Forced {
		fmt.Printf("  Margin scale: %.0f%% (forced: %v)\n", rep.Scale.Ratio*100, rep.Scale.Forced)
	}
	for _, o := range append(rep.Live.Orders, rep.Demo.Orders...) {
		fmt.Printf("  %s %s %.0f -> %s %s\n", o.AccountType, o.Pair, o.RoundedAmount, o.State, o.TicketRef)
	}
	for _, p := range append(rep.Live.Skipped, rep.Demo.Skipped...) {
		fmt.Printf("  skipped %s\n", p)
	}
	for _, p := range append(rep.Live.Failed, rep.Demo.Failed...) {
		fmt.Printf("  FAILED %s\n", p)
	}
}

func printTickets(tickets []hedge.Ticket) {
	fmt.Printf("✓ %d tickets done\n", len(tickets))
	for _, t := range tickets {
		fmt.Printf("  %s %s filled %.0f @ %.5f (%s)\n", t.Ref, t.Pair, t.AmountFilled, t.AveragePrice, t.State)
	}
}

func printEnd(rep eod.EndReport) {
	if rep.Cycle.ID == "" {
		return
	}
	fmt.Printf("✓ Ended cycle %s\n", rep.Cycle.ID)
	for _, r := range []recon.Report{rep.Live, rep.Demo} {
		switch {
		case r.AccountType == "":
			continue
		case r.Skipped:
			fmt.Printf("  %s: nothing to reconcile\n", r.AccountType)
		default:
			fmt.Printf("  %s: %d requests closed, %d positions written\n", r.AccountType, r.ClosedRequests, r.PositionRows)
		}
	}
	if rep.Margin != nil {
		fmt.Printf("  Margin: healthy=%v (%s)\n", rep.Margin.Healthy, rep.Margin.Detail())
	}
}
