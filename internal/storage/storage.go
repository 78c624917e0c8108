// Package storage provides SQLite-backed persistence for cost records and anomalies.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kannan-ms/cloudCostAnalytics/internal/logger"
	"github.com/kannan-ms/cloudCostAnalytics/internal/models"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const (
	// costScale stores costs as integer micro-units so sums are exact.
	costScale = 6

	DefaultListLimit = 50
	MaxListLimit     = 200
)

var (
	// ErrAnomalyNotFound covers unknown ids and ids owned by another user.
	ErrAnomalyNotFound = errors.New("anomaly not found")
	// ErrStatusUnchanged means the anomaly is already in the requested status.
	ErrStatusUnchanged = errors.New("anomaly already in requested status")
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/cloudcost/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "cloudcost", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cost_records (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			service_name TEXT NOT NULL,
			cost_micros  INTEGER NOT NULL,
			usage_date   TEXT NOT NULL,
			provider     TEXT,
			region       TEXT,
			resource_id  TEXT,
			tags         TEXT NOT NULL DEFAULT '{}',
			created_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cost_records_user_date ON cost_records(user_id, usage_date)`,
		`CREATE TABLE IF NOT EXISTS anomalies (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			service_name    TEXT NOT NULL,
			type            TEXT NOT NULL,
			detected_value  REAL NOT NULL,
			expected_value  REAL NOT NULL,
			threshold       REAL NOT NULL,
			deviation_pct   REAL NOT NULL,
			severity        TEXT NOT NULL,
			anomaly_score   REAL,
			message         TEXT NOT NULL,
			recommendation  TEXT,
			status          TEXT NOT NULL,
			detected_at     INTEGER NOT NULL,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			acknowledged_at INTEGER,
			resolved_at     INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_user_type_detected ON anomalies(user_id, type, detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_user_detected ON anomalies(user_id, detected_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddCostRecords inserts records in a single transaction. Records without an ID get one.
func (s *Storage) AddCostRecords(ctx context.Context, records []models.CostRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cost_records
			(id, user_id, service_name, cost_micros, usage_date, provider, region,
			 resource_id, tags, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for i := range records {
		r := &records[i]
		r.ServiceName = strings.TrimSpace(r.ServiceName)
		if err := r.Validate(); err != nil {
			return 0, fmt.Errorf("invalid cost record %d: %w", i, err)
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		tags, err := json.Marshal(r.Tags)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal tags: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.UserID, r.ServiceName,
			r.Cost.Shift(costScale).Round(0).IntPart(),
			models.Day(r.UsageDate).Format(models.DayLayout),
			r.Provider, r.Region, r.ResourceID, string(tags), now,
		); err != nil {
			return 0, fmt.Errorf("failed to insert cost record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cost records: %w", err)
	}
	return len(records), nil
}

// ClearCostRecords deletes every cost record owned by userID.
func (s *Storage) ClearCostRecords(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cost_records WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cost records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UserIDs lists every user with at least one cost record.
func (s *Storage) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM cost_records ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LatestUsageDate returns the most recent usage day for userID; ok is false without data.
func (s *Storage) LatestUsageDate(ctx context.Context, userID string) (time.Time, bool, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(usage_date) FROM cost_records WHERE user_id = ?`, userID).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest usage date: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	day, err := time.Parse(models.DayLayout, latest.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("malformed latest usage date %q: %w", latest.String, err)
	}
	return day, true, nil
}

// DailyServiceCosts returns per-service daily totals for userID in [from, to], ordered by
// date then service. Rows with an unparseable usage date or a blank service name are dropped.
func (s *Storage) DailyServiceCosts(ctx context.Context, userID string, from, to time.Time) ([]models.DailyServiceCost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT service_name, usage_date, SUM(cost_micros)
		FROM cost_records
		WHERE user_id = ? AND usage_date >= ? AND usage_date <= ?
		GROUP BY service_name, usage_date
		ORDER BY usage_date, service_name`,
		userID, models.Day(from).Format(models.DayLayout), models.Day(to).Format(models.DayLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate cost records: %w", err)
	}
	defer rows.Close()

	var out []models.DailyServiceCost
	dropped := 0
	for rows.Next() {
		var service, day string
		var micros int64
		if err := rows.Scan(&service, &day, &micros); err != nil {
			return nil, fmt.Errorf("failed to scan daily cost: %w", err)
		}
		date, err := time.Parse(models.DayLayout, day)
		if err != nil || strings.TrimSpace(service) == "" {
			dropped++
			continue
		}
		out = append(out, models.DailyServiceCost{
			ServiceName: service,
			Date:        date,
			Cost:        decimal.New(micros, -costScale).InexactFloat64(),
		})
	}
	if dropped > 0 {
		logger.Warn("Dropped %d malformed daily cost rows for user %s", dropped, userID)
	}
	return out, rows.Err()
}

// AnomalyQuery selects a user's anomalies of one type within a time window.
type AnomalyQuery struct {
	UserID string
	Type   models.AnomalyType
	// Since bounds detected_at, or created_at when ByCreatedAt is set.
	Since       time.Time
	ByCreatedAt bool
	// Statuses restricts the result when non-empty.
	Statuses []models.Status
}

func (s *Storage) AnomaliesSince(ctx context.Context, q AnomalyQuery) ([]models.Anomaly, error) {
	column := "detected_at"
	if q.ByCreatedAt {
		column = "created_at"
	}
	query := `SELECT ` + anomalyCols + ` FROM anomalies WHERE user_id = ? AND type = ? AND ` + column + ` >= ?`
	args := []any{q.UserID, string(q.Type), q.Since.UnixNano()}
	if len(q.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(q.Statuses)) + `)`
		for _, st := range q.Statuses {
			args = append(args, string(st))
		}
	}
	return s.queryAnomalies(ctx, query, args...)
}

// InsertAnomalies writes all anomalies in one transaction.
func (s *Storage) InsertAnomalies(ctx context.Context, anomalies []*models.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO anomalies
			(id, user_id, service_name, type, detected_value, expected_value, threshold,
			 deviation_pct, severity, anomaly_score, message, recommendation, status,
			 detected_at, created_at, updated_at, acknowledged_at, resolved_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range anomalies {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("invalid anomaly: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.UserID, a.ServiceName, string(a.Type),
			a.DetectedValue, a.ExpectedValue, a.Threshold, a.DeviationPct,
			string(a.Severity), nullFloat(a.AnomalyScore), a.Message, a.Recommendation,
			string(a.Status), a.DetectedAt.UnixNano(), a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano(),
			nullTime(a.AcknowledgedAt), nullTime(a.ResolvedAt),
		); err != nil {
			return fmt.Errorf("failed to insert anomaly: %w", err)
		}
	}
	return tx.Commit()
}

// ListFilter narrows ListAnomalies. Zero values mean no filter; Limit defaults to 50.
type ListFilter struct {
	Status   models.Status
	Severity models.Severity
	Limit    int
}

// ListAnomalies returns a user's anomalies newest-first.
func (s *Storage) ListAnomalies(ctx context.Context, userID string, f ListFilter) ([]models.Anomaly, error) {
	limit := f.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit < 1 || limit > MaxListLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d", MaxListLimit)
	}
	query := `SELECT ` + anomalyCols + ` FROM anomalies WHERE user_id = ?`
	args := []any{userID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(f.Severity))
	}
	query += ` ORDER BY detected_at DESC, created_at DESC LIMIT ?`
	args = append(args, limit)
	return s.queryAnomalies(ctx, query, args...)
}

// GetAnomaly returns one anomaly owned by userID.
func (s *Storage) GetAnomaly(ctx context.Context, userID, id string) (*models.Anomaly, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+anomalyCols+` FROM anomalies WHERE id = ? AND user_id = ?`, id, userID)
	a, err := scanAnomaly(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAnomalyNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get anomaly: %w", err)
	}
	return a, nil
}

// UpdateAnomalyStatus moves an anomaly owned by userID to status. It returns
// ErrAnomalyNotFound, ErrStatusUnchanged or models.ErrInvalidTransition on refusal.
func (s *Storage) UpdateAnomalyStatus(ctx context.Context, userID, id string, status models.Status, now time.Time) (*models.Anomaly, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx,
		`SELECT `+anomalyCols+` FROM anomalies WHERE id = ? AND user_id = ?`, id, userID)
	a, err := scanAnomaly(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAnomalyNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load anomaly: %w", err)
	}
	if a.Status == status {
		return a, ErrStatusUnchanged
	}
	if err := a.ApplyStatus(status, now); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE anomalies SET status=?, updated_at=?, acknowledged_at=?, resolved_at=?
		WHERE id=? AND user_id=?`,
		string(a.Status), a.UpdatedAt.UnixNano(), nullTime(a.AcknowledgedAt), nullTime(a.ResolvedAt),
		id, userID,
	); err != nil {
		return nil, fmt.Errorf("failed to update anomaly: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}
	return a, nil
}

// ClearAnomalies deletes every anomaly owned by userID.
func (s *Storage) ClearAnomalies(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM anomalies WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear anomalies: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Storage) queryAnomalies(ctx context.Context, query string, args ...any) ([]models.Anomaly, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()
	anomalies := []models.Anomaly{}
	for rows.Next() {
		a, err := scanAnomaly(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		anomalies = append(anomalies, *a)
	}
	return anomalies, rows.Err()
}

const anomalyCols = `id, user_id, service_name, type, detected_value, expected_value, threshold,
	deviation_pct, severity, anomaly_score, message, recommendation, status,
	detected_at, created_at, updated_at, acknowledged_at, resolved_at`

func scanAnomaly(scan func(...any) error) (*models.Anomaly, error) {
	var a models.Anomaly
	var typ, severity, status string
	var score sql.NullFloat64
	var recommendation sql.NullString
	var detectedAt, createdAt, updatedAt int64
	var ackAt, resolvedAt sql.NullInt64
	err := scan(
		&a.ID, &a.UserID, &a.ServiceName, &typ,
		&a.DetectedValue, &a.ExpectedValue, &a.Threshold, &a.DeviationPct,
		&severity, &score, &a.Message, &recommendation, &status,
		&detectedAt, &createdAt, &updatedAt, &ackAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Type = models.AnomalyType(typ)
	a.Severity = models.Severity(severity)
	a.Status = models.Status(status)
	a.Recommendation = recommendation.String
	if score.Valid {
		v := score.Float64
		a.AnomalyScore = &v
	}
	a.DetectedAt = time.Unix(0, detectedAt).UTC()
	a.CreatedAt = time.Unix(0, createdAt)
	a.UpdatedAt = time.Unix(0, updatedAt)
	a.AcknowledgedAt = fromNullTime(ackAt)
	a.ResolvedAt = fromNullTime(resolvedAt)
	return &a, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}
