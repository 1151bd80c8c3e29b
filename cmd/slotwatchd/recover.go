package main

import (
	"context"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"visa-slot-monitor/internal/db"
	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/monitor"
	"visa-slot-monitor/internal/store"
)

func cmdRecover(a *app) *cli.Command {
	var resetErrors bool
	return &cli.Command{
		Name:  "recover",
		Usage: "Report the monitors the next serve resumes, optionally reactivating failed ones",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "reset-errors",
				Usage:       "move monitors halted in error back to active with a cleared failure count",
				Destination: &resetErrors,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			gormDB, err := db.Open(&a.cfg.Database)
			if err != nil {
				return err
			}
			_, err = recoverMonitors(ctx, store.NewGormStore(gormDB), resetErrors, a.logger)
			return err
		},
	}
}

// recoverMonitors returns the IDs that serve will resume on its next start.
// With resetErrors, monitors in error are reactivated first.
func recoverMonitors(ctx context.Context, st store.Store, resetErrors bool, logger *zap.Logger) ([]string, error) {
	if resetErrors {
		failed, err := st.ListMonitors(ctx, model.StatusError)
		if err != nil {
			return nil, err
		}
		for _, m := range failed {
			if err := monitor.ValidateTransition(m.Status, model.StatusActive); err != nil {
				return nil, err
			}
			if err := st.UpdateMonitor(ctx, m.ID, map[string]any{
				"status":      model.StatusActive,
				"error_count": 0,
				"last_error":  "",
			}); err != nil {
				return nil, err
			}
			logger.Info("monitor reactivated",
				zap.String("monitor_id", m.ID),
				zap.String("user_id", m.UserID),
				zap.String("last_error", m.LastError))
		}
	}

	active, err := st.ListMonitors(ctx, model.StatusActive)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(active))
	for _, m := range active {
		ids = append(ids, m.ID)
		logger.Info("monitor will resume",
			zap.String("monitor_id", m.ID),
			zap.String("center", string(m.Center)),
			zap.Int("check_interval", m.CheckInterval))
	}
	logger.Info("recovery summary", zap.Int("resumable", len(ids)))
	return ids, nil
}
