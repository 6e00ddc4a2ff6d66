// Package main is the entry point for the LimiQuantix VM allocator.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/limiquantix/allocator/internal/config"
	"github.com/limiquantix/allocator/internal/repository/etcd"
	"github.com/limiquantix/allocator/internal/repository/postgres"
	"github.com/limiquantix/allocator/internal/repository/redis"
	"github.com/limiquantix/allocator/internal/scheduler"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	requestPath := flag.String("request", "", "Path to a JSON allocation request")
	watch := flag.Bool("watch", false, "Print placement events from Redis instead of allocating")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		println("LimiQuantix Allocator")
		println("Version:", version)
		println("Commit:", commit)
		println("Build Date:", buildDate)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		println("Failed to load config:", err.Error())
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting LimiQuantix Allocator",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *watch {
		err = runWatch(ctx, cfg, logger)
	} else {
		err = runAllocate(ctx, cfg, *requestPath, logger)
	}
	if err != nil {
		logger.Fatal("Allocator error", zap.Error(err))
	}
}

func runAllocate(ctx context.Context, cfg *config.Config, requestPath string, logger *zap.Logger) error {
	if requestPath == "" {
		return fmt.Errorf("-request is required")
	}
	rf, err := readRequestFile(requestPath)
	if err != nil {
		return err
	}

	db, err := postgres.NewDB(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	store := postgres.NewInventoryRepository(db, logger)

	schedCfg := cfg.Allocator.Config
	if cfg.Allocator.TunablesKey != "" {
		client, err := etcd.NewClient(cfg.Etcd, logger)
		if err != nil {
			return err
		}
		schedCfg, err = client.Apply(ctx, cfg.Allocator.TunablesKey, schedCfg)
		client.Close()
		if err != nil {
			return err
		}
	}

	var opts []scheduler.Option
	if cfg.Redis.Enabled {
		publisher, err := redis.NewPublisher(cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, scheduler.WithPublisher(publisher))
	}

	allocator, err := scheduler.New(store, schedCfg, logger, opts...)
	if err != nil {
		return err
	}

	vm, err := store.GetVM(ctx, rf.VMID)
	if err != nil {
		return err
	}
	req, err := rf.build(vm)
	if err != nil {
		return err
	}

	placement, err := allocateWithRetry(ctx, allocator.Allocate, req,
		cfg.Allocator.MaxAttempts, cfg.Allocator.RetryBackoff, logger)
	if err != nil {
		return err
	}
	return printJSON(placement)
}

func runWatch(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	publisher, err := redis.NewPublisher(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	for event := range publisher.Subscribe(ctx) {
		placement, err := event.Placement()
		if err != nil {
			logger.Warn("Skipping event", zap.String("type", event.Type), zap.Error(err))
			continue
		}
		if err := printJSON(placement); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// setupLogger configures the zap logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	if cfg.Output != "" {
		zapConfig.OutputPaths = []string{cfg.Output}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}

	return logger
}
