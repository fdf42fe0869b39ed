package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/HakAl/tokenwatch/internal/config"
	"github.com/HakAl/tokenwatch/internal/pricing"
	"github.com/HakAl/tokenwatch/internal/store"
)

var (
	version = "dev"
	commit  = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "tokenwatch",
		Short:         "Track LLM API spend through a local forwarding proxy",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		newProxyCmd(),
		newLogCmd(),
		newSummaryCmd(),
		newBudgetCmd(),
		newExportCmd(),
		newEstimateCmd(),
		newModelsCmd(),
		newResetCmd(),
		newRunCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tokenwatch %s (%s)\n", version, commit)
		},
	}
}

// loadConfig loads the configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// openStore opens the sqlite store at the configured path.
func openStore(cfg *config.Config) (store.Store, error) {
	return store.NewSQLiteStore(cfg.DatabasePath)
}

// buildPricing builds the pricing table with custom model overrides.
func buildPricing(cfg *config.Config) *pricing.Table {
	table := pricing.NewTable()
	for model, custom := range cfg.CustomModels {
		table.AddCustom(pricing.ModelPrice{
			Model:            model,
			Provider:         custom.Provider,
			InputPerMillion:  custom.InputPerMillion,
			OutputPerMillion: custom.OutputPerMillion,
		})
	}
	return table
}

// newLogger creates the default text logger on stderr.
func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
