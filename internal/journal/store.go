// Package journal keeps a SQLite record of device sessions and their status
// events. Point samples are never written here.
package journal

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/livox.bridge/internal/livox"
	"github.com/banshee-data/livox.bridge/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultListLimit = 100

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

// Store is a session journal backed by a SQLite file.
type Store struct {
	*sql.DB
	path string
}

// Session is one row of the sessions table.
type Session struct {
	ID             string     `json:"id"`
	ConfigPath     string     `json:"config_path"`
	Driver         string     `json:"driver"`
	StartedAt      time.Time  `json:"started_at"`
	StoppedAt      *time.Time `json:"stopped_at,omitempty"`
	Serial         string     `json:"serial"`
	LidarIP        string     `json:"lidar_ip"`
	TotalPoints    uint64     `json:"total_points"`
	EvictedSamples uint64     `json:"evicted_samples"`
}

// Event is one row of the session_events table. SessionID is empty for
// events outside any session, such as a failed start.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
}

// OpenStore opens (creating if needed) the journal at path and applies all
// pending migrations.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}

	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp applies every embedded migration not yet recorded.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version. Version 0 means no
// migrations have been applied.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// newMigrate builds a migrate instance over the embedded migrations. It is
// not closed: closing it would close the shared *sql.DB.
func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// BeginSession inserts a new open session.
func (s *Store) BeginSession(sessionID, configPath, driver string, at time.Time) error {
	_, err := s.Exec(
		`INSERT INTO sessions (id, config_path, driver, started_at) VALUES (?, ?, ?, ?)`,
		sessionID, configPath, driver, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sessionID, err)
	}
	return nil
}

// EndSession closes a session with the final counters and identity taken
// from snap.
func (s *Store) EndSession(sessionID string, at time.Time, snap livox.Snapshot) error {
	res, err := s.Exec(`
		UPDATE sessions
		SET stopped_at = ?, serial = ?, lidar_ip = ?, total_points = ?, evicted_samples = ?
		WHERE id = ?`,
		at.UnixNano(), snap.Serial, snap.LidarIP, int64(snap.TotalPoints), int64(snap.EvictedSamples), sessionID,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return nil
}

// RecordEvent appends an event. An empty sessionID is stored as NULL.
func (s *Store) RecordEvent(sessionID string, at time.Time, kind, message string) error {
	var sid sql.NullString
	if sessionID != "" {
		sid = sql.NullString{String: sessionID, Valid: true}
	}
	_, err := s.Exec(
		`INSERT INTO session_events (session_id, at, kind, message) VALUES (?, ?, ?, ?)`,
		sid, at.UnixNano(), kind, message,
	)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", kind, err)
	}
	return nil
}

// ListSessions returns up to limit sessions, newest first. A non-positive
// limit selects the default of 100.
func (s *Store) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.Query(`
		SELECT id, config_path, driver, started_at, stopped_at, serial, lidar_ip, total_points, evicted_samples
		FROM sessions
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess    Session
			started int64
			stopped sql.NullInt64
			total   int64
			evicted int64
		)
		if err := rows.Scan(&sess.ID, &sess.ConfigPath, &sess.Driver, &started, &stopped,
			&sess.Serial, &sess.LidarIP, &total, &evicted); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartedAt = time.Unix(0, started).UTC()
		if stopped.Valid {
			t := time.Unix(0, stopped.Int64).UTC()
			sess.StoppedAt = &t
		}
		sess.TotalPoints = uint64(total)
		sess.EvictedSamples = uint64(evicted)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListEvents returns up to limit events in insertion order, filtered to
// sessionID unless it is empty.
func (s *Store) ListEvents(sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT id, session_id, at, kind, message FROM session_events`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e   Event
			sid sql.NullString
			at  int64
		)
		if err := rows.Scan(&e.ID, &sid, &at, &e.Kind, &e.Message); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.SessionID = sid.String
		e.At = time.Unix(0, at).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
