package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxhedge/hedge"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Drive the end of day scheduler",
	Long: `Advance or repair the persisted hedge pipelines.

Subcommands:
  tick  - Advance every configured company once
  reset - Clear a stalled pipeline

Examples:
  hedger schedule tick
  hedger schedule reset --company acme`,
}

var scheduleTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Advance every company's pipeline once",
	Args:  cobra.NoArgs,
	RunE:  runScheduleTick,
}

var scheduleResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear a stalled pipeline",
	Args:  cobra.NoArgs,
	RunE:  runScheduleReset,
}

var (
	scheduleAt      string
	scheduleCompany string
)

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleTickCmd)
	scheduleCmd.AddCommand(scheduleResetCmd)

	scheduleTickCmd.Flags().StringVar(&scheduleAt, "at", "", "tick time, RFC3339 (default now)")
	scheduleResetCmd.Flags().StringVar(&scheduleCompany, "company", "", "company id (required)")
	scheduleResetCmd.MarkFlagRequired("company")
}

func runScheduleTick(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	at, err := parseAt(scheduleAt)
	if err != nil {
		return err
	}
	svc, db, done, err := open(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := svc.Scheduler.Tick(ctx, at); err != nil {
		return fmt.Errorf("tick: %w", err)
	}

	fmt.Printf("✓ Tick at %s\n", at.Format("2006-01-02 15:04:05"))
	for _, c := range svc.Scheduler.Companies {
		st, err := db.LoadPipeline(ctx, c.ID)
		if err != nil {
			return err
		}
		printPipeline(st)
	}
	return nil
}

func runScheduleReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, _, done, err := open(ctx)
	if err != nil {
		return err
	}
	defer done()

	if _, err := svc.Company(scheduleCompany); err != nil {
		return err
	}
	at, _ := parseAt("")
	st, err := svc.Scheduler.Reset(ctx, scheduleCompany, at)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	fmt.Println("✓ Pipeline reset")
	printPipeline(st)
	return nil
}

func printPipeline(st hedge.PipelineState) {
	line := fmt.Sprintf("  %s: %s", st.CompanyID, st.Stage)
	if st.CycleID != "" {
		line += " cycle " + st.CycleID
	}
	if st.Attempts > 0 {
		line += fmt.Sprintf(" (attempt %d: %s)", st.Attempts, st.LastError)
	}
	fmt.Println(line)
}
