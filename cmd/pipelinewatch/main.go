package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"pipelinewatch/internal/config"
	"pipelinewatch/internal/logging"
	"pipelinewatch/internal/metrics"
	"pipelinewatch/internal/monitor"
	"pipelinewatch/internal/server"
	"pipelinewatch/internal/session"
	"pipelinewatch/internal/storage"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "config.yaml", "path to configuration file (YAML)")
		addr       = pflag.String("addr", ":8080", "address for the web server")
		once       = pflag.Bool("once", false, "run a single probe cycle, print it and exit")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.NewLogger("info").WithError(err).Fatal("load config")
	}
	logger := logging.NewLogger(cfg.LogLevel)

	sess := session.New(cfg.DeploymentURL, cfg.Auth, cfg.ProbeTimeout(), logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mon := monitor.New(monitor.Options{
		Deployment: cfg.DeploymentURL,
		Interval:   cfg.Interval(),
		Policy: monitor.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			RetryDelay:     cfg.RetryDelay(),
			AttemptTimeout: cfg.ProbeTimeout(),
		},
		Recorder: metrics.NewCollector(reg),
	}, sess.Handle, sess, logger)

	if *once {
		os.Exit(runOnce(mon))
	}

	historyPath := filepath.Join(cfg.DataDirectory, "connectivity_history.json")
	store, err := storage.NewConnectivityStorage(historyPath, cfg.HistoryLimit)
	if err != nil {
		logger.WithError(err).Fatal("initialise storage")
	}
	mon.SubscribeCycles(func(res monitor.CycleResult) {
		if err := store.Append(res.Status()); err != nil {
			logger.WithError(err).Warn("persist connectivity sample")
		}
	})
	mon.Subscribe(func(connected bool) {
		logger.WithField("connected", connected).Debug("connection status")
	})

	mon.Start()
	defer mon.Stop()

	srv := server.New(*addr, mon, store, sess, reg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("server shutdown")
		}
	}()

	logger.WithFields(logging.Fields{
		"addr":       *addr,
		"deployment": cfg.DeploymentURL,
		"interval":   cfg.Interval().String(),
	}).Info("pipelinewatch listening")
	if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("server error")
	}
}

// runOnce probes a single time and reports the cycle on stdout.
// The exit code is 1 when the deployment is unreachable.
func runOnce(mon *monitor.Monitor) int {
	defer mon.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := mon.RunOnce(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
	if !res.Connected {
		return 1
	}
	return 0
}
