package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/wikifront/internal/jobs"
	"github.com/tjfontaine/wikifront/pkg/wikifront"
)

func newRunJobsCommand(root *rootOptions) *cobra.Command {
	var (
		maxJobs int
		maxTime time.Duration
		jobType string
	)

	cmd := &cobra.Command{
		Use:   "runjobs",
		Short: "Run queued background jobs and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := root.newLogger(os.Stderr)

			w, err := wikifront.New(
				wikifront.WithLogger(logger),
				wikifront.WithFileConfig(root.ConfigPath),
			)
			if err != nil {
				return fmt.Errorf("create wiki: %w", err)
			}
			if err := w.Init(cmd.Context()); err != nil {
				return fmt.Errorf("initialize wiki: %w", err)
			}
			defer w.Shutdown(context.Background())

			res := w.Runner().Run(cmd.Context(), jobs.RunOptions{
				Type:    jobType,
				MaxJobs: maxJobs,
				MaxTime: maxTime,
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().IntVar(&maxJobs, "maxjobs", 10, "stop after this many jobs")
	cmd.Flags().DurationVar(&maxTime, "maxtime", 30*time.Second, "stop after this long")
	cmd.Flags().StringVar(&jobType, "type", "", "only run jobs of this type")
	return cmd
}
