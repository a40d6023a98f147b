package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"edgenode/internal/collector"
	"edgenode/internal/config"
	"edgenode/internal/metrics"
)

// RunCollector serves the line intake, the optional MQTT subscription and
// the HTTP API until ctx is cancelled.
func RunCollector(ctx context.Context, cfg config.Collector) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"listenAddr", cfg.ListenAddr,
		"httpAddr", cfg.HTTPAddr,
		"sqlitePath", cfg.SQLitePath,
		"sqlTrace", cfg.SQLTrace,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
	)

	var dbOpts []collector.DBOption
	if cfg.SQLTrace {
		dbOpts = append(dbOpts, collector.WithQueryTrace(slog.Default()))
	}
	db, err := collector.OpenDB(cfg.SQLitePath, dbOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("db close", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs := metrics.NewCollector(reg)

	store := collector.NewStore(db)
	ingester := collector.NewIngester(store, obs, slog.Default().With("component", "ingest"))

	listener, err := collector.Listen(cfg.ListenAddr, ingester)
	if err != nil {
		return err
	}

	var sub *collector.Subscriber
	if cfg.MQTTBroker != "" {
		sub = collector.NewSubscriber(collector.SubscriberConfig{
			Broker:   cfg.MQTTBroker,
			Port:     cfg.MQTTPort,
			Topic:    cfg.MQTTTopic,
			ClientID: cfg.MQTTClientID,
		}, ingester)

		// A short first connect keeps startup from blocking on a missing broker;
		// paho keeps retrying in the background.
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err := sub.Connect(connectCtx)
		connectCancel()
		if err != nil {
			slog.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           collector.NewMux(store, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listenCtx, stopListener := context.WithCancel(ctx)
	defer stopListener()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = listener.Serve(listenCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sub != nil {
		slog.Info("mqtt disconnecting")
		sub.Disconnect()
	}

	stopListener()
	wg.Wait()

	slog.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return runErr
}
