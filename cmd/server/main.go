package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/schedule-reconciler/internal/backend"
	"github.com/t77yq/schedule-reconciler/internal/model"
	"github.com/t77yq/schedule-reconciler/internal/monitor"
	"github.com/t77yq/schedule-reconciler/internal/reconcile"
	"github.com/t77yq/schedule-reconciler/internal/store"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	// Connect to NATS with more options
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	// Create JetStream context
	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Open the schedule record store
	records, err := store.NewSQLiteStore(logger, viper.GetString("store.path"))
	if err != nil {
		logger.Fatal("Failed to open schedule store", zap.Error(err))
	}
	defer records.Close()

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Create the firing log manager
	logs, err := backend.NewLogManager(backend.LogConfig{
		LogDir:        viper.GetString("logs.dir"),
		MaxFileSize:   viper.GetInt64("logs.max_file_size"),
		MaxAge:        viper.GetDuration("logs.max_age"),
		FlushInterval: viper.GetDuration("logs.flush_interval"),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create log manager", zap.Error(err))
	}
	logs.Start(ctx)
	defer logs.Stop()

	// Create the cron backend and resume timers for RUNNING records
	collection := viper.GetString("app.collection")
	scheduler, err := backend.NewCronScheduler(js, records, records, logs, logger)
	if err != nil {
		logger.Fatal("Failed to create cron backend", zap.Error(err))
	}
	defer scheduler.Close()

	if err := scheduler.Resume(ctx, collection); err != nil {
		logger.Fatal("Failed to resume schedules", zap.Error(err))
	}

	// Start monitoring
	collector := monitor.NewMetricsCollector(js, viper.GetDuration("metrics.interval"), logger)
	if err := collector.Start(ctx); err != nil {
		logger.Fatal("Failed to start metrics collector", zap.Error(err))
	}
	defer collector.Stop()

	alerts := monitor.NewAlertManager(logger, js)
	if err := alerts.Start(ctx); err != nil {
		logger.Fatal("Failed to start alert manager", zap.Error(err))
	}
	if err := alerts.AddRule(&monitor.AlertRule{
		Name:      "backend-failures",
		Threshold: viper.GetInt("alerts.failure_threshold"),
		Severity:  monitor.AlertSeverityError,
	}); err != nil {
		logger.Fatal("Failed to add alert rule", zap.Error(err))
	}

	// Read the declared schedule definitions
	var definitions []model.ScheduleDefinitionData
	if err := viper.UnmarshalKey("schedules", &definitions); err != nil {
		logger.Fatal("Failed to parse schedule definitions", zap.Error(err))
	}

	execCtx := model.ExecutionContext{
		InterpreterPath: viper.GetString("app.interpreter_path"),
		SourcePath:      viper.GetString("app.source_path"),
	}
	reconciler := reconcile.New(records, scheduler, collection, execCtx, logger)

	runPass := func() {
		summary, err := reconciler.Reconcile(ctx, definitions)
		if err != nil {
			logger.Error("Reconciliation pass failed", zap.Error(err))
			collector.ObserveBackendFailure()
			alerts.RecordFailure(collection, "reconcile", err)
			return
		}
		collector.ObserveReconcile(summary)
		alerts.RecordSuccess(collection, "reconcile")
	}

	// Initial pass, then re-reconcile periodically. Passes are idempotent,
	// so a failed pass is simply retried on the next tick.
	runPass()

	interval := viper.GetDuration("reconcile.interval")
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Server shutting down gracefully")
			return
		case <-ticker.C:
			runPass()
		}
	}
}
