package main

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-subscriber/internal/cli"
	"github.com/tinywideclouds/go-push-subscriber/internal/telemetry"
	"github.com/tinywideclouds/go-push-subscriber/subscriber/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred cleanup runs before exiting.
func run() int {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelWarn
	}
	// stdout belongs to the command output and the interactive view.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "pushsubscriber")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		return 1
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		return 1
	}

	// --- Telemetry ---
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  "pushsubscriber",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.MetricsEnabled,
	})
	if err != nil {
		logger.Warn("Telemetry init failed, metrics disabled", "err", err)
		cfg.MetricsEnabled = false
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Telemetry shutdown failed", "err", err)
			}
		}()
	}

	app := cli.NewApp(cfg, logger, os.Stdin, os.Stdout)
	if err := app.Run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, cli.ErrUsage) {
			return 2
		}
		logger.Error("Command failed", "err", err)
		return 1
	}
	return 0
}
