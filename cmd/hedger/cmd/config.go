package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxhedge/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage hedger configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  hedger config init -o fxhedge.yaml
  hedger config validate -c fxhedge.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings: a SQLite
ledger, the simulated broker and one example company.

Example:
  hedger config init -o fxhedge.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check if a configuration file is valid and can be loaded, after
environment overrides are applied.

Example:
  hedger config validate -c fxhedge.yaml`,
	RunE: runConfigValidate,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "fxhedge.yaml", "output config file path")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run a cycle with:")
	fmt.Printf("  hedger cycle run -c %s --company %s\n", configInitOutput, cfg.Companies[0].ID)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configPath)
	fmt.Printf("  Ledger: %s\n", cfg.Ledger.Driver)
	fmt.Printf("  Broker: %s\n", cfg.Broker.Type)
	fmt.Printf("  Schedule: every %s, %d attempts\n", cfg.Schedule.TickInterval, cfg.Schedule.MaxAttempts)
	for _, c := range cfg.Companies {
		fmt.Printf("  Company: %s (%s, %d targets)\n", c.ID, c.Currency, len(c.Targets))
	}
	return nil
}
