package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/HakAl/tokenwatch/internal/summary"
)

func newSummaryCmd() *cobra.Command {
	var (
		periodFlag string
		byFlag     string
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show spend summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			period, err := summary.ParsePeriod(periodFlag)
			if err != nil {
				return err
			}

			dataStore, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer dataStore.Close()

			engine := summary.NewEngine(dataStore.DB())
			ctx := context.Background()

			totals, err := engine.Summary(ctx, period)
			if err != nil {
				return err
			}

			fmt.Printf("Period: %s\n", period)
			fmt.Printf("Calls:  %d\n", totals.CallCount)
			fmt.Printf("Tokens: %d\n", totals.TotalTokens)
			fmt.Printf("Cost:   $%.4f\n\n", totals.TotalCost)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

			switch byFlag {
			case "model":
				rows, err := engine.ByModel(ctx, period)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "MODEL\tPROVIDER\tCALLS\tIN\tOUT\tCOST")
				for _, m := range rows {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t$%.4f\n",
						m.Model, m.Provider, m.CallCount, m.InputTokens, m.OutputTokens, m.TotalCost)
				}
			case "project", "provider":
				var rows []summary.GroupBreakdown
				if byFlag == "project" {
					rows, err = engine.ByProject(ctx, period)
				} else {
					rows, err = engine.ByProvider(ctx, period)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\tCALLS\tCOST\n", map[string]string{"project": "PROJECT", "provider": "PROVIDER"}[byFlag])
				for _, g := range rows {
					fmt.Fprintf(w, "%s\t%d\t$%.4f\n", g.Key, g.CallCount, g.TotalCost)
				}
			default:
				return fmt.Errorf("unknown breakdown: %s (want model, project, or provider)", byFlag)
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&periodFlag, "period", "all", "reporting period: today, week, month, all")
	cmd.Flags().StringVar(&byFlag, "by", "model", "breakdown: model, project, provider")

	return cmd
}
