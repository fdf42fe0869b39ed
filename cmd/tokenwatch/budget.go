package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/HakAl/tokenwatch/internal/summary"
)

func newBudgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage spend budgets",
	}

	setCmd := &cobra.Command{
		Use:   "set <daily|weekly|monthly> <amount>",
		Short: "Set a budget limit in dollars",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			amount, err := strconv.ParseFloat(args[1], 64)
			if err != nil || amount < 0 {
				return fmt.Errorf("invalid amount: %s", args[1])
			}

			switch args[0] {
			case "daily":
				cfg.Budgets.Daily = amount
			case "weekly":
				cfg.Budgets.Weekly = amount
			case "monthly":
				cfg.Budgets.Monthly = amount
			default:
				return fmt.Errorf("unknown budget period: %s (want daily, weekly, or monthly)", args[0])
			}

			if err := cfg.Save(configPath); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}

			fmt.Printf("Set %s budget to $%.2f\n", args[0], amount)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show spend against budget limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			dataStore, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer dataStore.Close()

			engine := summary.NewEngine(dataStore.DB())
			statuses, err := engine.BudgetStatus(context.Background(), cfg.Budgets)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PERIOD\tLIMIT\tSPENT\tREMAINING\tUSED")
			for _, s := range statuses {
				marker := ""
				if s.Exceeded {
					marker = "  EXCEEDED"
				}
				fmt.Fprintf(w, "%s\t$%.2f\t$%.4f\t$%.4f\t%.1f%%%s\n",
					s.Period, s.Limit, s.Spent, s.Remaining, s.Percentage, marker)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(setCmd, statusCmd)
	return cmd
}
