package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HakAl/tokenwatch/internal/store"
)

func newLogCmd() *cobra.Command {
	var (
		model        string
		provider     string
		inputTokens  int
		outputTokens int
		project      string
		tags         []string
		costOverride float64
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record an API call manually",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if inputTokens < 0 || outputTokens < 0 {
				return fmt.Errorf("token counts must be non-negative")
			}
			if inputTokens == 0 && outputTokens == 0 {
				return fmt.Errorf("at least one of --input or --output must be positive")
			}

			table := buildPricing(cfg)

			cost := costOverride
			if !cmd.Flags().Changed("cost") {
				cost, err = table.Cost(model, inputTokens, outputTokens)
				if err != nil {
					return fmt.Errorf("%w (use --cost to record anyway)", err)
				}
			}

			if provider == "" {
				if p := table.Resolve(model); p != nil {
					provider = p.Provider
				} else {
					provider = "unknown"
				}
			}
			if project == "" {
				project = cfg.DefaultProject
			}

			dataStore, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer dataStore.Close()

			call := &store.Call{
				Provider:     provider,
				Model:        model,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
				Cost:         cost,
				Project:      project,
				Tags:         tags,
			}

			id, err := dataStore.Insert(context.Background(), call)
			if err != nil {
				return fmt.Errorf("recording call: %w", err)
			}

			fmt.Printf("Recorded %s: %s %d in / %d out, $%.6f\n", id, model, inputTokens, outputTokens, cost)
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "model name (required)")
	cmd.Flags().StringVar(&provider, "provider", "", "provider name (inferred from model if empty)")
	cmd.Flags().IntVar(&inputTokens, "input", 0, "input token count")
	cmd.Flags().IntVar(&outputTokens, "output", 0, "output token count")
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().Float64Var(&costOverride, "cost", 0, "cost in dollars (overrides pricing table)")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}
