package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
)

func newActivityCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Print the most recent audit records kept in Redis",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.redis == nil {
				return errors.New("no redis_url configured, activity is not retained")
			}

			records, err := a.redis.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of records to print")
	return cmd
}
