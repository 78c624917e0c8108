package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kannan-ms/cloudCostAnalytics/internal/ingest"
	"github.com/kannan-ms/cloudCostAnalytics/internal/logger"
	"github.com/kannan-ms/cloudCostAnalytics/internal/metrics"
	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
	"github.com/kannan-ms/cloudCostAnalytics/internal/monitor"
	"github.com/kannan-ms/cloudCostAnalytics/internal/storage"
)

func requireUser(fs *flag.FlagSet, user string) error {
	if user == "" {
		fs.Usage()
		return errors.New("-user is required")
	}
	return nil
}

func runImport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	user := fs.String("user", "", "User ID for records without a user_id")
	file := fs.String("file", "-", "JSON lines file to read (- for stdin)")
	replace := fs.Bool("replace", false, "Delete the user's cost records and anomalies before importing")
	detect := fs.Bool("detect", false, "Run detection for every imported user afterwards")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", *file, err)
		}
		defer f.Close()
		r = f
	}

	res, err := ingest.Decode(r, *user)
	if err != nil {
		return err
	}
	for _, d := range res.Dropped {
		logger.Warn("Dropped malformed record: %v", d)
	}

	users := map[string]bool{}
	for _, rec := range res.Records {
		users[rec.UserID] = true
	}
	if *replace {
		for u := range users {
			if err := clearUser(ctx, a, u); err != nil {
				return err
			}
		}
	}

	n, err := a.store.AddCostRecords(ctx, res.Records)
	if err != nil {
		return err
	}
	metrics.ImportedRecordsTotal.Add(float64(n))
	fmt.Printf("imported %d records for %d users (%d malformed lines dropped)\n", n, len(users), len(res.Dropped))

	if *detect {
		for u := range users {
			result, err := a.monitor.Run(ctx, u)
			if err != nil {
				return fmt.Errorf("detection for %s: %w", u, err)
			}
			printSummary(result)
		}
	}
	return nil
}

func clearUser(ctx context.Context, a *app, userID string) error {
	records, err := a.store.ClearCostRecords(ctx, userID)
	if err != nil {
		return err
	}
	anomalies, err := a.store.ClearAnomalies(ctx, userID)
	if err != nil {
		return err
	}
	logger.Info("Cleared %d cost records and %d anomalies for user %s", records, anomalies, userID)
	return nil
}

func runDetect(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	user := fs.String("user", "", "User ID to run detection for")
	all := fs.Bool("all", false, "Run detection for every user in the store")
	asJSON := fs.Bool("json", false, "Print the full result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	users := []string{*user}
	if *all {
		var err error
		if users, err = a.store.UserIDs(ctx); err != nil {
			return err
		}
	} else if err := requireUser(fs, *user); err != nil {
		return err
	}

	for _, u := range users {
		res, err := a.monitor.Run(ctx, u)
		if err != nil {
			return fmt.Errorf("detection for %s: %w", u, err)
		}
		if *asJSON {
			if err := printJSON(res); err != nil {
				return err
			}
			continue
		}
		printSummary(res)
	}
	return nil
}

func printSummary(res *monitor.Result) {
	fmt.Printf("user %s: %d detected, %d stored", res.UserID, res.TotalDetected, res.Stored)
	for _, t := range []models.AnomalyType{
		models.TypeMLPattern, models.TypeCostSpike, models.TypeNewService, models.TypeContinuousIncrease,
	} {
		if n := res.Breakdown[t]; n > 0 {
			fmt.Printf(" %s=%d", t, n)
		}
	}
	fmt.Println()
	for c, msg := range res.Failed {
		fmt.Printf("  %s failed: %s\n", c, msg)
	}
}

func runList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	user := fs.String("user", "", "User ID")
	status := fs.String("status", "", "Filter by status (new, acknowledged, resolved, ignored)")
	severity := fs.String("severity", "", "Filter by severity (low, medium, high)")
	limit := fs.Int("limit", storage.DefaultListLimit, fmt.Sprintf("Maximum results (1-%d)", storage.MaxListLimit))
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(fs, *user); err != nil {
		return err
	}
	if *status != "" && !models.Status(*status).Valid() {
		return fmt.Errorf("unknown status %q", *status)
	}
	if *severity != "" && !models.Severity(*severity).Valid() {
		return fmt.Errorf("unknown severity %q", *severity)
	}

	anomalies, err := a.store.ListAnomalies(ctx, *user, storage.ListFilter{
		Status:   models.Status(*status),
		Severity: models.Severity(*severity),
		Limit:    *limit,
	})
	if err != nil {
		return err
	}
	return printJSON(anomalies)
}

func runStatus(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	user := fs.String("user", "", "User ID that owns the anomaly")
	id := fs.String("id", "", "Anomaly ID")
	status := fs.String("set", "", "New status (new, acknowledged, resolved, ignored)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(fs, *user); err != nil {
		return err
	}
	if *id == "" || !models.Status(*status).Valid() {
		fs.Usage()
		return errors.New("-id and a valid -set status are required")
	}

	updated, err := a.store.UpdateAnomalyStatus(ctx, *user, *id, models.Status(*status), time.Now())
	switch {
	case errors.Is(err, storage.ErrStatusUnchanged):
		fmt.Printf("anomaly %s is already %s\n", *id, *status)
		return nil
	case errors.Is(err, storage.ErrAnomalyNotFound):
		return fmt.Errorf("anomaly %s not found for user %s", *id, *user)
	case errors.Is(err, models.ErrInvalidTransition):
		return err
	case err != nil:
		return fmt.Errorf("failed to update status: %w", err)
	}
	return printJSON(updated)
}

func runClear(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	user := fs.String("user", "", "User ID")
	records := fs.Bool("records", false, "Also delete the user's cost records")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireUser(fs, *user); err != nil {
		return err
	}
	if *records {
		return clearUser(ctx, a, *user)
	}
	n, err := a.store.ClearAnomalies(ctx, *user)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d anomalies for user %s\n", n, *user)
	return nil
}

func runTrain(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	user := fs.String("user", "", "Train on one user's history (default: all users combined)")
	days := fs.Int("days", 365, "Days of history to train on, counted back from each user's latest record")
	if err := fs.Parse(args); err != nil {
		return err
	}

	users := []string{*user}
	if *user == "" {
		var err error
		if users, err = a.store.UserIDs(ctx); err != nil {
			return err
		}
	}

	var rows []models.DailyServiceCost
	for _, u := range users {
		latest, ok, err := a.store.LatestUsageDate(ctx, u)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		r, err := a.store.DailyServiceCosts(ctx, u, latest.AddDate(0, 0, -*days), latest)
		if err != nil {
			return err
		}
		rows = append(rows, r...)
	}
	if len(rows) == 0 {
		return errors.New("no cost history to train on")
	}

	report, err := a.models.TrainAll(monitor.CategorySeries(a.mapper, rows), a.cfg.Models.Seed)
	if err != nil {
		return err
	}
	fmt.Printf("trained %d categories into %s\n", len(report.Trained), a.models.Dir())
	for c, reason := range report.Skipped {
		fmt.Printf("  skipped %s: %s\n", c, reason)
	}
	return nil
}
