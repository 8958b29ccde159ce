package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harunnryd/larung/pkg/continuity"
	"github.com/harunnryd/larung/pkg/larung"
	"github.com/harunnryd/larung/pkg/logging"
	"github.com/harunnryd/larung/pkg/runner"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the worker config file")
	callID := flag.String("call", "", "call id to process")
	descriptorPath := flag.String("descriptor", "", "resume from a hand-off descriptor file instead of starting fresh")
	eventsFor := flag.String("events", "", "dump a call's stored events as JSON lines and exit")
	flag.Parse()

	cfg, err := larung.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config_load_failed", "error", err, "path", *configPath)
		os.Exit(1)
	}

	logger := logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	if *callID == "" && *descriptorPath == "" && *eventsFor == "" {
		logger.Error("one of -call, -descriptor or -events is required")
		os.Exit(2)
	}

	app, err := larung.New(cfg, logger)
	if err != nil {
		logger.Error("app_init_failed", "error", err)
		os.Exit(1)
	}

	if *eventsFor != "" {
		stored, err := app.Events(context.Background(), *eventsFor)
		if err != nil {
			logger.Error("events_read_failed", "error", err, "call_id", *eventsFor)
			os.Exit(1)
		}
		for _, ev := range stored {
			fmt.Println(ev.Payload)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drainTimeout := time.Duration(cfg.Worker.DrainTimeoutMS) * time.Millisecond
	lifecycle := runner.NewLifecycleRunner(app, runner.Hooks{
		OnStart: func() {
			go func() {
				defer cancel()
				if *descriptorPath != "" {
					data, err := os.ReadFile(*descriptorPath)
					if err != nil {
						logger.Error("descriptor_read_failed", "error", err, "path", *descriptorPath)
						return
					}
					sess, err := continuity.DecodeSession(data)
					if err != nil {
						logger.Error("descriptor_decode_failed", "error", err)
						return
					}
					app.ResumeUnit(ctx, sess)
					return
				}
				app.ProcessCall(ctx, *callID)
			}()
		},
		OnStop: func() {
			logger.Info("worker stopped")
		},
	}, drainTimeout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("worker_exit_error", "error", err)
		os.Exit(1)
	}
}
