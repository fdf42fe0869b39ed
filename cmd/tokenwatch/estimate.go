package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/HakAl/tokenwatch/internal/pricing"
)

func newEstimateCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "estimate [text...]",
		Short: "Estimate token count and input cost for text",
		Long:  "Estimate token count and input cost for text. Reads stdin when no text is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var text string
			if len(args) > 0 {
				text = strings.Join(args, " ")
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				text = string(data)
			}
			if text == "" {
				return fmt.Errorf("no text to estimate")
			}

			tokens := pricing.EstimateTokens(text)
			fmt.Printf("Estimated tokens: %d\n", tokens)

			if model != "" {
				cost, err := buildPricing(cfg).EstimateCost(text, model)
				if err != nil {
					return err
				}
				fmt.Printf("Estimated input cost (%s): $%.6f\n", model, cost)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "model to price the estimate against")

	return cmd
}
