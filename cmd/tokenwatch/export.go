package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/HakAl/tokenwatch/internal/api"
	"github.com/HakAl/tokenwatch/internal/store"
)

func newExportCmd() *cobra.Command {
	var (
		formatFlag string
		outputPath string
		project    string
		provider   string
		startStr   string
		endStr     string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded calls to CSV, JSON, or NDJSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			format, err := api.ParseExportFormat(formatFlag)
			if err != nil {
				return err
			}

			filter := store.CallFilter{}
			if project != "" {
				filter.Project = &project
			}
			if provider != "" {
				filter.Provider = &provider
			}
			if startStr != "" {
				t, err := time.Parse(time.RFC3339, startStr)
				if err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
				filter.StartTime = &t
			}
			if endStr != "" {
				t, err := time.Parse(time.RFC3339, endStr)
				if err != nil {
					return fmt.Errorf("invalid --end: %w", err)
				}
				filter.EndTime = &t
			}

			dataStore, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer dataStore.Close()

			calls, err := dataStore.ListCalls(context.Background(), filter)
			if err != nil {
				return err
			}

			out := os.Stdout
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return fmt.Errorf("creating output file: %w", err)
				}
				defer f.Close()
				out = f
			}

			if err := api.ExportCalls(out, format, calls); err != nil {
				return fmt.Errorf("export: %w", err)
			}

			if outputPath != "" {
				fmt.Fprintf(os.Stderr, "Exported %d calls to %s\n", len(calls), outputPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&formatFlag, "format", "csv", "export format: csv, json, ndjson")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&project, "project", "", "filter by project")
	cmd.Flags().StringVar(&provider, "provider", "", "filter by provider")
	cmd.Flags().StringVar(&startStr, "start", "", "start time (RFC3339)")
	cmd.Flags().StringVar(&endStr, "end", "", "end time (RFC3339)")

	return cmd
}
