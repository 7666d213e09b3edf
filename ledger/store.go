package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Config holds the attendance store settings.
type Config struct {
	Path string `yaml:"path"` // e.g. "./data/attendance.db"
}

// Open opens (creating if needed) the attendance database and ensures the
// schema exists.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = "./data/attendance.db"
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	// modernc.org/sqlite DSN with per-connection PRAGMAs: WAL keeps
	// dashboard/export reads from blocking behind scan writes, and the
	// busy timeout absorbs contention between them.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		cfg.Path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// Single connection: strong safety for SQLite in a long-lived process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := InitSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// InitSchema creates the attendance table if it does not exist. One
// append/update table keyed by an autoincrementing id; the open-session
// lookup scans it by barcode and status.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS attendance (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  barcode TEXT NOT NULL,
  name TEXT,
  section TEXT,
  class TEXT,
  date TEXT,
  in_time TEXT,
  out_time TEXT,
  status TEXT
);
CREATE INDEX IF NOT EXISTS idx_attendance_open
  ON attendance(barcode, status);
`); err != nil {
		return fmt.Errorf("ensure attendance schema: %w", err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first. Consumed by the
// dashboard collaborator for its initial table load.
func Recent(ctx context.Context, db *sql.DB, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := db.QueryContext(ctx, `
SELECT id, barcode, name, section, class, date, in_time,
       COALESCE(out_time, ''), status
FROM attendance ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Barcode, &s.Name, &s.Section,
			&s.Class, &s.Date, &s.InTime, &s.OutTime, &s.Status); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
