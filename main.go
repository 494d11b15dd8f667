package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/speedrun-hq/paywatch/pkg/config"
	"github.com/speedrun-hq/paywatch/pkg/logger"
	"github.com/speedrun-hq/paywatch/pkg/telemetry"
	"github.com/speedrun-hq/paywatch/pkg/watcher"
)

func main() {
	amount := flag.String("amount", "", "create one payment session for this amount on startup")
	flag.Parse()

	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.TracesEndpoint, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracer(flushCtx); err != nil {
			appLogger.Error("Error shutting down tracer provider: %v", err)
		}
	}()

	service := watcher.NewService(cfg, appLogger)

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Println("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	if *amount != "" {
		go watchOneSession(ctx, service, *amount, appLogger)
	}

	log.Println("Starting the paywatch service...")
	if err := service.Start(ctx); err != nil {
		appLogger.Error("Service stopped: %v", err)
		os.Exit(1)
	}
}

// watchOneSession starts a session for amount and logs its terminal event
func watchOneSession(ctx context.Context, service *watcher.Service, amount string, appLogger logger.Logger) {
	sess := service.NewSession()
	if err := sess.Start(ctx, amount); err != nil {
		appLogger.ErrorWithSession(sess.ID(), "Could not start payment session: %v", err)
		return
	}

	snap := sess.Snapshot()
	if snap.Intent != nil {
		appLogger.InfoWithSession(sess.ID(), "Pay %s to UPI id %s (ref %s)", snap.Intent.Amount, snap.Intent.UPIID, snap.Intent.TransactionRef)
	}

	select {
	case <-ctx.Done():
	case ev := <-sess.Events():
		if ev.Err != nil {
			appLogger.ErrorWithSession(ev.SessionID, "Session finished as %s after %d ticks: %v", ev.Status, ev.Attempts, ev.Err)
			return
		}
		appLogger.NoticeWithSession(ev.SessionID, "Session finished as %s after %d ticks", ev.Status, ev.Attempts)
	}
}
