package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/obsidianstack/upsstats/agent/internal/config"
	"github.com/obsidianstack/upsstats/agent/internal/metrics"
	"github.com/obsidianstack/upsstats/agent/internal/poller"
	"github.com/obsidianstack/upsstats/agent/internal/scraper"
	"github.com/obsidianstack/upsstats/agent/internal/shipper"
)

func main() {
	configPath := flag.String("config", "config.ini", "path to config file (.ini/.conf or .yaml)")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("upsstats starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.General.Level())
	slog.Info("config loaded",
		"source", cfg.UPS.Source,
		"influxdb", cfg.InfluxDB.URL(),
		"database", cfg.InfluxDB.Database,
		"delay", cfg.General.DelayDuration(),
		"redis", cfg.Redis.Enabled(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rec := metrics.New()
	if cfg.General.MetricsAddress != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.General.MetricsAddress, rec); err != nil {
				slog.Error("metrics server stopped", "err", err)
			}
		}()
	}

	src, err := scraper.New(*cfg)
	if err != nil {
		slog.Error("failed to build scraper", "source", cfg.UPS.Source, "err", err)
		os.Exit(1)
	}

	influx, err := shipper.NewInfluxWriter(cfg.InfluxDB)
	if err != nil {
		slog.Error("failed to build influxdb writer", "err", err)
		os.Exit(1)
	}
	defer influx.Close()

	var mirrors []shipper.Writer
	if cfg.Redis.Enabled() {
		rw := shipper.NewRedisWriter(cfg.Redis)
		defer rw.Close()
		if err := rw.Ping(ctx); err != nil {
			// Not fatal: each write reports its own failure.
			slog.Warn("redis unreachable at startup", "addr", cfg.Redis.Address, "err", err)
		}
		mirrors = append(mirrors, rw)
	}

	ship := shipper.New(influx, cfg.InfluxDB.Database, cfg.General.Output, rec, mirrors...)

	// Hot reload applies the log level only.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.General.Level())
			slog.Info("config hot-reloaded; only log_level is applied, restart for other changes",
				"log_level", updated.General.Level().String())
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	poller.New(src, ship, cfg.General.DelayDuration(), rec).Run(ctx)

	summary, err := rec.Summary()
	if err != nil {
		slog.Warn("could not gather metrics summary", "err", err)
	}
	slog.Info("upsstats shutting down", "totals", summary)
}
