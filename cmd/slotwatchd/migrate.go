package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"visa-slot-monitor/internal/db"
)

func cmdMigrate(a *app) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the database schema",
		Action: func(ctx context.Context, c *cli.Command) error {
			gormDB, err := db.Open(&a.cfg.Database)
			if err != nil {
				return err
			}
			return db.Migrate(gormDB, a.cfg.Database.Driver, a.logger)
		},
	}
}
