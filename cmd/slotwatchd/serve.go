package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"visa-slot-monitor/config"
	"visa-slot-monitor/internal/api"
	"visa-slot-monitor/internal/db"
	"visa-slot-monitor/internal/events"
	"visa-slot-monitor/internal/extract"
	"visa-slot-monitor/internal/metrics"
	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/monitor"
	"visa-slot-monitor/internal/notification"
	"visa-slot-monitor/internal/scheduler"
	"visa-slot-monitor/internal/session"
	"visa-slot-monitor/internal/store"
	"visa-slot-monitor/internal/sweeper"
)

const shutdownTimeout = 30 * time.Second

func cmdServe(a *app) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduler and the control API",
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, a.cfg, a.logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		return err
	}
	appStore := store.NewGormStore(gormDB)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus := events.NewBus(logger, 64)
	var publisher events.Publisher = bus
	if cfg.Redis.URL != "" {
		client, err := events.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()
		redisPub := events.NewRedisPublisher(client, cfg.Redis.Channel, logger)
		publisher = redisPub
		go func() {
			if err := redisPub.Relay(ctx, bus); err != nil {
				logger.Error("event relay stopped", zap.Error(err))
			}
		}()
		logger.Info("publishing events through redis", zap.String("channel", cfg.Redis.Channel))
	}

	httpClient := &http.Client{Timeout: cfg.Notification.SendTimeout}
	channels := []notification.Channel{
		notification.NewEmail(cfg.Notification.SMTP, nil),
		notification.NewSMS(cfg.Notification.Twilio, httpClient),
		notification.NewWhatsApp(cfg.Notification.Twilio, httpClient),
		notification.NewTelegram(cfg.Notification.Telegram, httpClient),
		notification.NewSlack(httpClient),
		notification.NewWebPush(cfg.Push, appStore, nil, logger),
	}
	dispatcher := notification.NewDispatcher(cfg.Notification, appStore, channels, logger, m)
	dispatcher.Start(context.WithoutCancel(ctx))

	launcher := session.NewPlaywrightLauncher(cfg.Site, logger)
	solver := session.NewTwoCaptcha(cfg.Captcha, &http.Client{Timeout: 30 * time.Second}, logger, m)
	extractor := extract.New(logger)
	driverOpts := session.OptionsFromConfig(cfg.Site)
	factory := func(mon *model.Monitor) scheduler.Driver {
		return session.NewDriver(launcher, solver, extractor, driverOpts, logger.With(zap.String("monitor_id", mon.ID)))
	}

	sched := scheduler.New(cfg.Scheduler, appStore, factory, dispatcher, logger,
		scheduler.WithPublisher(publisher),
		scheduler.WithMetrics(m))
	if _, err := sched.RecoverOnStartup(ctx); err != nil {
		return err
	}

	var sweep *sweeper.Sweeper
	if cfg.Sweeper.Enabled {
		sweep = sweeper.New(cfg.Sweeper, appStore, cfg.Site.Location(), logger, m)
		if err := sweep.Start(ctx); err != nil {
			return err
		}
	}

	handler := api.NewHandler(appStore, sched, bus, dispatcher, monitor.PolicyFromConfig(cfg.Scheduler), cfg.Push.PublicKey, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(cfg.Server, handler, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping services")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if sweep != nil {
		sweep.Stop(shutdownCtx)
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := launcher.Stop(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		logger.Error("unclean shutdown", zap.Error(err))
		return err
	}
	logger.Info("server gracefully stopped")
	return nil
}
