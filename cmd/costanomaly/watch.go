package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/kannan-ms/cloudCostAnalytics/internal/ingest"
	"github.com/kannan-ms/cloudCostAnalytics/internal/logger"
	"github.com/kannan-ms/cloudCostAnalytics/internal/metrics"
	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
	"github.com/kannan-ms/cloudCostAnalytics/internal/telegram"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	once := fs.Bool("once", false, "Run a single cycle and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg := a.cfg

	var fetcher *ingest.Client
	if cfg.Ingest.SourceURL != "" {
		fetcher = ingest.NewClient(cfg.Ingest.SourceURL, cfg.Ingest.Timeout, cfg.Ingest.MaxRetries, cfg.Ingest.RetryDelayBase)
		logger.Info("Fetching cost records from %s", cfg.Ingest.SourceURL)
	}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		var err error
		telegramClient, err = telegram.NewClient(
			cfg.Telegram.BotToken,
			cfg.Telegram.ChatID,
			models.Severity(cfg.Telegram.MinSeverity),
			cfg.Telegram.MaxRetries,
			cfg.Telegram.RetryDelayBase,
		)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		logger.Info("Telegram client initialized successfully")
		telegramClient.ListenForCommands(ctx)
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: metricsMux(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("Serving metrics on %s/metrics", cfg.Metrics.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	consecutiveFailures := 0
	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Detection cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 && telegramClient != nil {
			if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0
	}

	logger.Info("Starting detection service (interval: %v, mode: %s)", cfg.Watch.Interval, cfg.Detection.Mode)
	handleCycleResult(runCycle(ctx, a, fetcher, telegramClient))
	if *once {
		return nil
	}

	ticker := time.NewTicker(cfg.Watch.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return nil
		case <-ticker.C:
			logger.Debug("Starting scheduled detection cycle")
			handleCycleResult(runCycle(ctx, a, fetcher, telegramClient))
		}
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// runCycle syncs, detects and notifies for every watched user. A user whose
// run fails does not stop the others; the cycle reports the first error.
func runCycle(ctx context.Context, a *app, fetcher *ingest.Client, notifier *telegram.Client) error {
	start := time.Now()

	users := a.cfg.Watch.Users
	if len(users) == 0 {
		var err error
		if users, err = a.store.UserIDs(ctx); err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
	}
	if len(users) == 0 {
		logger.Info("No users to watch")
		return nil
	}

	var firstErr error
	for _, u := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := watchUser(ctx, a, fetcher, notifier, u); err != nil {
			logger.Error("User %s: %v", u, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("user %s: %w", u, err)
			}
		}
	}

	logger.Info("Detection cycle for %d users completed in %v", len(users), time.Since(start))
	return firstErr
}

func watchUser(ctx context.Context, a *app, fetcher *ingest.Client, notifier *telegram.Client, userID string) error {
	if fetcher != nil {
		if err := syncUser(ctx, a, fetcher, userID); err != nil {
			return err
		}
	}

	res, err := a.monitor.Run(ctx, userID)
	if err != nil {
		return err
	}
	if notifier == nil || len(res.Anomalies) == 0 {
		return nil
	}

	sent, err := notifier.SendAnomalies(userID, res.Anomalies)
	switch {
	case err != nil:
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		logger.Error("Failed to send Telegram notification for %s: %v", userID, err)
	case sent:
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
		logger.Info("Sent Telegram digest for user %s", userID)
	default:
		metrics.NotificationsTotal.WithLabelValues("below_severity").Inc()
		logger.Debug("No anomalies for %s at or above notification severity", userID)
	}
	return nil
}

// syncUser fetches records newer than the user's latest stored day.
func syncUser(ctx context.Context, a *app, fetcher *ingest.Client, userID string) error {
	latest, ok, err := a.store.LatestUsageDate(ctx, userID)
	if err != nil {
		return err
	}
	var since time.Time
	if ok {
		since = latest.AddDate(0, 0, 1)
	}

	res, err := fetcher.FetchRecords(ctx, userID, since)
	if err != nil {
		return fmt.Errorf("failed to fetch cost records: %w", err)
	}
	for _, d := range res.Dropped {
		logger.Warn("Dropped malformed upstream record for %s: %v", userID, d)
	}

	fresh := res.Records[:0]
	for _, r := range res.Records {
		if !ok || r.UsageDate.After(latest) {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	n, err := a.store.AddCostRecords(ctx, fresh)
	if err != nil {
		return err
	}
	metrics.ImportedRecordsTotal.Add(float64(n))
	logger.Info("Imported %d new cost records for user %s", n, userID)
	return nil
}
