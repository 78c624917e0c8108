package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kannan-ms/cloudCostAnalytics/internal/category"
	"github.com/kannan-ms/cloudCostAnalytics/internal/config"
	"github.com/kannan-ms/cloudCostAnalytics/internal/logger"
	"github.com/kannan-ms/cloudCostAnalytics/internal/modelstore"
	"github.com/kannan-ms/cloudCostAnalytics/internal/monitor"
	"github.com/kannan-ms/cloudCostAnalytics/internal/storage"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file (empty = defaults and environment only)")

const usage = `Usage: costanomaly [-config path] <command> [flags]

Commands:
  import   load normalized cost records from JSON lines
  detect   run anomaly detection for a user
  list     list a user's anomalies
  status   change an anomaly's status
  clear    delete a user's anomalies
  train    fit per-category models from stored history
  watch    run detection on an interval and send notifications
`

// app holds the dependencies shared by every command.
type app struct {
	cfg     *config.Config
	store   *storage.Storage
	models  *modelstore.Store
	mapper  *category.Mapper
	monitor *monitor.Monitor
}

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"import": runImport,
	"detect": runDetect,
	"list":   runList,
	"status": runStatus,
	"clear":  runClear,
	"train":  runTrain,
	"watch":  runWatch,
}

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := run(cfg, flag.Arg(0), cmd, flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the shared dependencies and executes one command, releasing them before returning.
func run(cfg *config.Config, name string, cmd command, args []string) error {
	logger.InitWithOptions(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logger.Sync()
	logger.Debug("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	mapper := category.NewMapper(nil)
	artifacts := modelstore.New(cfg.Models.Dir)
	a := &app{
		cfg:     cfg,
		store:   store,
		models:  artifacts,
		mapper:  mapper,
		monitor: monitor.New(store, artifacts, mapper, cfg.MonitorConfig()),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd(ctx, a, args); err != nil {
		logger.Error("%s failed: %v", name, err)
		return err
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
