package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/wikifront/internal/config"
	"github.com/tjfontaine/wikifront/internal/jobs"
)

func newSignCommand(root *rootOptions) *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "sign key=value...",
		Short: "Print the Special:RunJobs signature for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := config.LoadFile(root.ConfigPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				secret = cfg.Jobs.SecretKey
			}
			if secret == "" {
				return fmt.Errorf("no secret: set --secret or jobs.secret_key")
			}

			query := url.Values{}
			for _, arg := range args {
				k, v, ok := strings.Cut(arg, "=")
				if !ok || k == "" {
					return fmt.Errorf("argument %q is not key=value", arg)
				}
				query.Add(k, v)
			}

			fmt.Fprintln(cmd.OutOrStdout(), jobs.Signature(query, secret))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to jobs.secret_key)")
	return cmd
}
