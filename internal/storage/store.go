// Package storage provides the embedded readings store. Captured readings
// are persisted locally so an interrupted session loses nothing; after a
// confirmed transmission the corresponding rows are marked transmitted.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/savegress/telecare/pkg/models"
)

// Store is a SQLite-backed readings store
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates the data directory if needed and opens the readings database
func Open(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "readings.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		taken INTEGER NOT NULL,
		reading_values TEXT NOT NULL,
		transmitted_at INTEGER,
		created_at INTEGER DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_readings_device ON readings(device_id, transmitted_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveReading persists one reading
func (s *Store) SaveReading(ctx context.Context, r models.Reading) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (device_id, taken, reading_values) VALUES (?, ?, ?)`,
		r.DeviceID, r.Taken.UTC().Unix(), encodeValues(r.Values),
	)
	if err != nil {
		return fmt.Errorf("failed to save reading: %w", err)
	}
	return nil
}

// Untransmitted returns the readings for a device that have not yet been
// transmitted, oldest first
func (s *Store) Untransmitted(ctx context.Context, deviceID string) ([]models.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, taken, reading_values FROM readings
		 WHERE device_id = ? AND transmitted_at IS NULL
		 ORDER BY taken ASC, id ASC`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []models.Reading
	for rows.Next() {
		var (
			r     models.Reading
			taken int64
			vals  string
		)
		if err := rows.Scan(&r.DeviceID, &taken, &vals); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.Taken = time.Unix(taken, 0).UTC()
		r.Values, err = decodeValues(vals)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkTransmitted stamps the n oldest untransmitted readings of a device
// with the transmission time. The bound keeps a reading saved after the
// transmitted snapshot was taken from being stamped without ever having been
// sent; rows are ordered by insertion, matching the device's buffer order.
func (s *Store) MarkTransmitted(ctx context.Context, deviceID string, n int, when time.Time) error {
	if n <= 0 {
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE readings SET transmitted_at = ?
		 WHERE id IN (
			SELECT id FROM readings
			WHERE device_id = ? AND transmitted_at IS NULL
			ORDER BY id ASC LIMIT ?
		 )`,
		when.UTC().Unix(), deviceID, n,
	)
	if err != nil {
		return fmt.Errorf("failed to mark readings transmitted: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeValues(values []decimal.Decimal) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, ",")
}

func decodeValues(encoded string) ([]decimal.Decimal, error) {
	if encoded == "" {
		return nil, nil
	}
	parts := strings.Split(encoded, ",")
	out := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		v, err := decimal.NewFromString(p)
		if err != nil {
			return nil, fmt.Errorf("failed to decode reading value %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
