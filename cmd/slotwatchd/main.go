package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"visa-slot-monitor/config"
	"visa-slot-monitor/internal/logging"
)

var version = "dev"

func main() {
	if err := run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what the Before hook prepared for the subcommands.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func run(ctx context.Context, args []string) error {
	var a app

	cmd := &cli.Command{
		Name:    "slotwatchd",
		Usage:   "BLS visa appointment slot monitor",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to the YAML configuration",
				Value:       "./config/config.yaml",
				Sources:     cli.EnvVars("CONFIG_PATH"),
				Destination: &a.configPath,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return ctx, err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return ctx, err
			}
			a.cfg = cfg
			a.logger = logger
			logger.Info("configuration loaded", zap.String("path", a.configPath), zap.String("version", version))
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			cmdServe(&a),
			cmdMigrate(&a),
			cmdRecover(&a),
		},
	}
	return cmd.Run(ctx, args)
}
