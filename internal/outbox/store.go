package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pptp-vpn-agent/internal/pptp"
)

const (
	defaultRetention = 7 * 24 * time.Hour
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Entry is one stored report together with its cursor id.
type Entry struct {
	ID     int64             `json:"id"`
	Report pptp.StatusReport `json:"report"`
}

// Store appends reports and serves them back in insertion order. It
// implements pptp.Reporter.
type Store struct {
	db        *sql.DB
	retention time.Duration
	log       *zap.SugaredLogger
}

// NewStore wraps an opened database. A non-positive retention keeps reports
// for seven days.
func NewStore(db *sql.DB, retention time.Duration, logger *zap.SugaredLogger) (*Store, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{db: db, retention: retention, log: logger}, nil
}

// ReportStatus stores report as JSON. Credential passwords are not stored.
func (s *Store) ReportStatus(ctx context.Context, report pptp.StatusReport) error {
	report.Credentials = pptp.RedactCredentials(report.Credentials)
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO status_reports (host, generated_at, updated_ports, payload) VALUES (?, ?, ?, ?)`,
		report.Host, report.GeneratedAt.Unix(), len(report.UpdatedPorts), string(payload),
	)
	if err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	return nil
}

// List returns up to limit reports with an id greater than afterID.
func (s *Store) List(ctx context.Context, afterID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM status_reports WHERE id > ? ORDER BY id ASC LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			entry   Entry
			payload string
		)
		if err := rows.Scan(&entry.ID, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &entry.Report); err != nil {
			return nil, fmt.Errorf("decode report %d: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Cleanup prunes reports older than the retention window.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	return s.cleanupBefore(ctx, time.Now().UTC())
}

func (s *Store) cleanupBefore(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-s.retention).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM status_reports WHERE generated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune reports: %w", err)
	}
	return res.RowsAffected()
}

// Start runs Cleanup every interval until stop is closed.
func (s *Store) Start(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := s.Cleanup(context.Background())
			if err != nil {
				s.log.Warnw("outbox cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Debugw("outbox pruned", "rows", n)
			}
		case <-stop:
			return
		}
	}
}
