package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iota-uz/field-registry/migrations"
	"github.com/iota-uz/field-registry/pkg/application"
	"github.com/iota-uz/field-registry/pkg/configuration"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := configuration.Use()
			m := application.NewMigrationManager(conf.Database.Opts, migrations.FS, ".", conf.Logger())
			var err error
			switch args[0] {
			case "up":
				err = m.Up(cmd.Context())
			case "down":
				err = m.Down(cmd.Context())
			case "status":
				err = m.Status(cmd.Context())
			default:
				return withCode(exitUsage, fmt.Errorf("unsupported migrate command: %s", args[0]))
			}
			if err != nil {
				return withCode(exitDB, err)
			}
			return nil
		},
	}
}
