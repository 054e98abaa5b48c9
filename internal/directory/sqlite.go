package directory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/natssync/mstress/internal/logging"
	"github.com/natssync/mstress/internal/subject"
	"github.com/natssync/mstress/pkg/errors"
)

// SQLite is a writable directory kept in a local database file.
type SQLite struct {
	db        *sql.DB
	closeOnce sync.Once
}

func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(3)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// modernc.org/sqlite requires explicit PRAGMAs (not query-string params)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS locations (
		location_id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_locations_created_at ON locations(created_at)`)
	return err
}

func (s *SQLite) Clients(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT location_id FROM locations WHERE location_id != ? ORDER BY created_at, location_id`,
		subject.CloudMaster)
	if err != nil {
		return nil, errors.ErrDirectoryUnavailable(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.ErrDirectoryUnavailable(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrDirectoryUnavailable(err)
	}
	return filter(ids), nil
}

// Add registers client. Adding a known client is a no-op.
func (s *SQLite) Add(ctx context.Context, client string) error {
	if err := subject.ValidateClient(client); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO locations (location_id, created_at) VALUES (?, ?)
		ON CONFLICT(location_id) DO NOTHING`,
		client, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	return nil
}

// Remove forgets client and reports whether it was registered.
func (s *SQLite) Remove(ctx context.Context, client string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM locations WHERE location_id = ?`, client)
	if err != nil {
		return false, fmt.Errorf("delete location: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLite) Close() {
	s.closeOnce.Do(func() {
		if err := s.db.Close(); err != nil {
			logging.Warn("directory store: close failed", logging.F("error", err))
		}
	})
}
