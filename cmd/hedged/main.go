// Command hedged runs the end of day hedging scheduler for every configured
// company until it is interrupted.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/rustyeddy/fxhedge/config"
	"github.com/rustyeddy/fxhedge/internal/app"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "hedged",
	Short: "Run the FX hedging scheduler",
	Long: `Hedged ticks the end of day scheduler on the configured interval,
advancing each company through start, await and end of its daily hedge
cycle. It stops cleanly on SIGINT or SIGTERM.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		config.LoadEnv(envFile)
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		a := fx.New(app.Module(cfg))
		if err := a.Err(); err != nil {
			return err
		}
		a.Run()
		return nil
	},
}

func main() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "fxhedge.yaml", "config file (YAML or JSON)")
	rootCmd.Flags().StringVar(&envFile, "env", ".env", "dotenv file with secrets")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
