package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/casualjim/busstore"
	"github.com/casualjim/busstore/bus"
	"github.com/casualjim/busstore/internal/config"
	"github.com/casualjim/busstore/internal/metrics"
	"github.com/casualjim/busstore/pkg/slogx"
	"github.com/casualjim/busstore/pkg/stdx"
	"github.com/phsym/zeroslog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// loadConfig reads the config file and environment, then applies the flags
// the user actually set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	if path == "" {
		path = os.Getenv("BUSSTORE_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if flags.Changed("driver") {
		cfg.Driver, _ = flags.GetString("driver")
	}
	if flags.Changed("brokers") {
		raw, _ := flags.GetString("brokers")
		brokers, err := bus.ParseBrokers(raw)
		if err != nil {
			return config.Config{}, fmt.Errorf("--brokers: %w", err)
		}
		cfg.Brokers = brokers
	}
	if flags.Changed("topic") {
		cfg.Topic, _ = flags.GetString("topic")
	}
	if flags.Changed("partition") {
		cfg.Partition, _ = flags.GetInt32("partition")
	}
	if flags.Changed("node-id") {
		cfg.NodeID, _ = flags.GetString("node-id")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}
	cfg.Normalise()
	return cfg, cfg.Validate()
}

// setupLogging routes slog through zerolog and makes it the default logger.
func setupLogging(cfg config.Config) *slog.Logger {
	var zl zerolog.Logger
	if cfg.Log.JSON {
		zl = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
		zl = zerolog.New(output).With().Timestamp().Logger()
	}
	logger := slog.New(zeroslog.NewHandler(zl, &zeroslog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return logger
}

type session struct {
	cfg     config.Config
	log     *slog.Logger
	store   *busstore.Store
	metrics *http.Server
}

// start builds the store and, when configured, the metrics endpoint.
func start(cmd *cobra.Command, extra ...busstore.Option) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := setupLogging(cfg)
	driver, err := cfg.NewDriver(logger)
	if err != nil {
		return nil, err
	}

	rt := &session{cfg: cfg, log: logger}
	options := cfg.Options(driver, logger)
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		stdx.Must0(reg.Register(collectors.NewGoCollector()))
		col := stdx.Must1(metrics.New(reg))
		options = append(options, busstore.Metrics(col))
		rt.metrics = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	store, err := busstore.New(append(options, extra...)...)
	if err != nil {
		return nil, err
	}
	rt.store = store

	if rt.metrics != nil {
		go func() {
			logger.Info("serving metrics", slog.String("addr", rt.metrics.Addr))
			if err := rt.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slogx.Error(err))
			}
		}()
	}
	return rt, nil
}

func metricsMux(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	return mux
}

func (rt *session) stop() {
	rt.store.Destroy()
	if rt.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.metrics.Shutdown(ctx); err != nil {
			rt.log.Warn("failed to stop metrics server", slogx.Error(err))
		}
	}
}
