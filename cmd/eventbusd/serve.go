package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	eventbus "github.com/najoast/msgbus"
	"github.com/najoast/msgbus/config"
	"github.com/najoast/msgbus/logging"
	"github.com/najoast/msgbus/metrics"
)

var log = logging.New("cmd")

func serveCmd() *cobra.Command {
	var configPath string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the event bus node in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := serveOverrides{}
			if cmd.Flags().Changed("metrics-addr") {
				overrides.metricsAddr = &metricsAddr
			}
			return runServe(cmd.Context(), configPath, overrides)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults built in if omitted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "override the config's metrics listener address (host:port)")
	return cmd
}

// serveOverrides carries flags the caller explicitly set, applied on
// top of the loaded config: flags override env, which overrides YAML.
// A nil field means the flag wasn't passed and the loaded value stands.
type serveOverrides struct {
	metricsAddr *string
}

func runServe(parent context.Context, configPath string, overrides serveOverrides) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader()
	cfg, err := loader.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if overrides.metricsAddr != nil {
		cfg.MetricsAddr = *overrides.metricsAddr
	}

	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = config.NewWatcher(configPath, loader)
		if err != nil {
			return fmt.Errorf("starting config watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("starting config watcher: %w", err)
		}
		defer watcher.Stop()
	}

	reg := prometheus.NewRegistry()
	counters := metrics.NewCounters()

	// cm is left nil: this node runs unclustered until a distributed
	// cluster.ClusterManager backend is wired in. Send/Publish still
	// work, scoped to this process's own registered handlers.
	bus, err := eventbus.New(cfg, nil, eventbus.WithRecorder(counters))
	if err != nil {
		return fmt.Errorf("starting bus: %w", err)
	}
	defer bus.Close()

	if watcher != nil {
		watcher.OnChange(func(_, updated *config.BusConfig) {
			bus.SetDefaultReplyTimeout(updated.DefaultReplyTimeout)
			log.WithField("default_reply_timeout", updated.DefaultReplyTimeout).Info("config reloaded")
		})
	}

	if err := metrics.Register(reg, counters, bus); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			log.WithField("addr", cfg.MetricsAddr).Info("metrics server starting")
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg); err != nil {
				log.WithField("err", err).Warn("metrics server stopped")
			}
		}()
	}

	log.WithField("bind_host", cfg.BindHost).WithField("bind_port", cfg.BindPort).Info("eventbusd serving")
	<-ctx.Done()
	log.Info("shutdown signal received, stopping")
	return nil
}
