package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sshfleet/sshfleet/internal/eventbus"
	"github.com/sshfleet/sshfleet/internal/fleet"
	"github.com/sshfleet/sshfleet/internal/httpapi"
	"github.com/sshfleet/sshfleet/internal/logsink"
	"github.com/sshfleet/sshfleet/internal/metricsstore"
	"github.com/sshfleet/sshfleet/pkg/fmtt"
)

func main() {
	configPath := flag.String("config", "servers.json", "path to the host list JSON file")
	dataDir := flag.String("data-dir", "data", "directory for the metrics database and log files")
	addr := flag.String("addr", "127.0.0.1:8080", "HTTP listen address")
	flag.Parse()

	log := buildLogger()
	defer log.Sync()
	log = log.Named("main")

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatal("create data dir failed", zap.Error(err))
	}

	sink := logsink.New(*dataDir)
	defer sink.Close()

	store, err := metricsstore.Open(*dataDir + "/metrics.db")
	if err != nil {
		fmtt.PrintErrChain(err)
		log.Fatal("metrics store open failed", zap.Error(err))
	}
	defer store.Close()

	bus := eventbus.New(eventbus.DefaultCapacity)

	manager, err := fleet.New(*configPath, bus, store, sink, log)
	if err != nil {
		fmtt.PrintErrChain(err)
		log.Fatal("fleet manager creation failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager.StartAll(ctx)

	router := httpapi.NewRouter(manager, bus, log)
	httpserver := &http.Server{
		Addr:    *addr,
		Handler: router,

		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,

		MaxHeaderBytes: 1 << 15,

		ErrorLog: zap.NewStdLog(log.Named("http").WithOptions(zap.AddCallerSkip(1))),
	}

	go func() {
		log.Info("running HTTP server", zap.String("addr", *addr))
		if err := httpserver.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpserver.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown did not complete cleanly", zap.Error(err))
	}

	manager.Shutdown()
}

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.DebugLevel)
	return zap.Must(logConfig.Build())
}
