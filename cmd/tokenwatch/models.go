package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List known models and their per-million-token prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			models := buildPricing(cfg).List(provider)
			if len(models) == 0 {
				fmt.Println("No models found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tPROVIDER\tINPUT $/1M\tOUTPUT $/1M")
			for _, m := range models {
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\n",
					m.Model, m.Provider, m.InputPerMillion, m.OutputPerMillion)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "filter by provider")

	return cmd
}
