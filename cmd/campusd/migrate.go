package main

import (
	"fmt"

	"github.com/goliatone/go-campus-auth/migrations"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			db, err := openDB(cfg.GetDatabaseDSN())
			if err != nil {
				return err
			}
			defer db.Close()

			if down {
				err = migrations.Down(db.DB, migrations.DefaultDialect)
			} else {
				err = migrations.Up(db.DB, migrations.DefaultDialect)
			}
			if err != nil {
				return err
			}

			version, err := migrations.Version(db.DB, migrations.DefaultDialect)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}
