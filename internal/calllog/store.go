// Package calllog persists structured per-call records to PostgreSQL and
// exposes a best-effort Logger sink for the call-handling paths. Writes are
// never allowed to fail a webhook response.
package calllog

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Event is one structured record attached to a call.
type Event struct {
	ID        string    `json:"id"`
	CallID    string    `json:"call_id"`
	Kind      string    `json:"kind"` // "event" or "error"
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// CallSummary aggregates a call's records for the browsing API.
type CallSummary struct {
	CallID     string    `json:"call_id"`
	FirstEvent time.Time `json:"first_event"`
	LastEvent  time.Time `json:"last_event"`
	Events     int       `json:"events"`
}

// Store persists call records to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to the call-log database at connStr and applies migrations.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("calllog open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("calllog ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("calllog migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertEvent inserts one call record.
func (s *Store) InsertEvent(ev Event) error {
	_, err := s.db.Exec(
		`INSERT INTO call_events (id, call_id, kind, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.CallID, ev.Kind, ev.Payload, ev.CreatedAt.UTC(),
	)
	return err
}

// ListCalls returns per-call summaries newest first, filtered by an optional
// created_at range. Zero from/to values disable the respective bound.
func (s *Store) ListCalls(limit, offset int, from, to time.Time) ([]CallSummary, int, error) {
	if to.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	var total int
	err := s.db.QueryRow(
		`SELECT COUNT(DISTINCT call_id) FROM call_events WHERE created_at >= $1 AND created_at < $2`,
		from.UTC(), to.UTC(),
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT call_id, MIN(created_at), MAX(created_at), COUNT(*)
		FROM call_events
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY call_id
		ORDER BY MAX(created_at) DESC
		LIMIT $3 OFFSET $4
	`, from.UTC(), to.UTC(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var calls []CallSummary
	for rows.Next() {
		var c CallSummary
		if err = rows.Scan(&c.CallID, &c.FirstEvent, &c.LastEvent, &c.Events); err != nil {
			return nil, 0, err
		}
		calls = append(calls, c)
	}
	return calls, total, rows.Err()
}

// CallEvents returns all records for one call in insertion order.
func (s *Store) CallEvents(callID string) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, call_id, kind, payload, created_at FROM call_events WHERE call_id = $1 ORDER BY created_at ASC`,
		callID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err = rows.Scan(&ev.ID, &ev.CallID, &ev.Kind, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
