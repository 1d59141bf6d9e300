// Package state keeps the publish history of every list in SQLite.
//
// Each update or seed load appends a generation row. status opens the
// database read-only so it never creates or migrates anything.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"grimm.is/setguard/internal/clock"
)

// ErrNoState is returned when a read-only store is opened on a missing file.
var ErrNoState = errors.New("no state database")

// Outcomes
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
)

// Sources
const (
	SourceSeed = "seed"
	SourceFeed = "feed"
)

// Generation is one recorded publish attempt.
type Generation struct {
	ID       int64
	List     string
	Set      string
	Source   string
	Outcome  string
	Count    int
	Capacity int
	Rejected int
	Error    string
	At       time.Time
}

// Options configures the SQLite store.
type Options struct {
	Path     string // Database file path (":memory:" for in-memory)
	ReadOnly bool
	// Retain bounds the rows kept per list. 0 keeps everything.
	Retain int
	Clock  clock.Clock // Optional: time source (defaults to RealClock if nil)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions(path string) Options {
	return Options{Path: path, Retain: 100}
}

// SQLiteStore is the generation history.
type SQLiteStore struct {
	db     *sql.DB
	retain int
	clock  clock.Clock
}

// Open opens or creates the history database.
func Open(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	switch {
	case opts.Path == ":memory:":
	case opts.ReadOnly:
		if _, err := os.Stat(opts.Path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNoState, opts.Path)
		}
		dsn = "file:" + opts.Path + "?mode=ro&_pragma=busy_timeout(5000)"
	default:
		dsn = "file:" + opts.Path + "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// one connection keeps :memory: databases shared across calls
	db.SetMaxOpenConns(1)

	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	s := &SQLiteStore{db: db, retain: opts.Retain, clock: clk}

	if !opts.ReadOnly {
		if err := s.initSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS generations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			list TEXT NOT NULL,
			set_name TEXT NOT NULL,
			source TEXT NOT NULL,
			outcome TEXT NOT NULL,
			count INTEGER NOT NULL,
			capacity INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_generations_list ON generations(list, id);

		-- Survives pruning of generations
		CREATE TABLE IF NOT EXISTS failures (
			list TEXT PRIMARY KEY,
			total INTEGER NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends a generation and prunes old rows of the same list.
func (s *SQLiteStore) Record(g Generation) error {
	if g.At.IsZero() {
		g.At = s.clock.Now()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO generations
		(list, set_name, source, outcome, count, capacity, rejected, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.List, g.Set, g.Source, g.Outcome, g.Count, g.Capacity, g.Rejected, g.Error, g.At.Unix())
	if err != nil {
		return fmt.Errorf("failed to record generation: %w", err)
	}

	if g.Outcome == OutcomeFailed {
		_, err = tx.Exec(`INSERT INTO failures (list, total) VALUES (?, 1)
			ON CONFLICT(list) DO UPDATE SET total = total + 1`, g.List)
		if err != nil {
			return fmt.Errorf("failed to count failure: %w", err)
		}
	}

	if s.retain > 0 {
		_, err = tx.Exec(`DELETE FROM generations WHERE list = ? AND id NOT IN
			(SELECT id FROM generations WHERE list = ? ORDER BY id DESC LIMIT ?)`,
			g.List, g.List, s.retain)
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
	}
	return tx.Commit()
}

// History returns up to limit generations of list, newest first.
func (s *SQLiteStore) History(list string, limit int) ([]Generation, error) {
	rows, err := s.db.Query(`SELECT id, list, set_name, source, outcome, count, capacity, rejected, error, at
		FROM generations WHERE list = ? ORDER BY id DESC LIMIT ?`, list, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Generation
	for rows.Next() {
		var g Generation
		var at int64
		if err := rows.Scan(&g.ID, &g.List, &g.Set, &g.Source, &g.Outcome,
			&g.Count, &g.Capacity, &g.Rejected, &g.Error, &at); err != nil {
			return nil, err
		}
		g.At = time.Unix(at, 0)
		out = append(out, g)
	}
	return out, rows.Err()
}

// LastPublished returns the newest successful generation of list, or nil.
func (s *SQLiteStore) LastPublished(list string) (*Generation, error) {
	var g Generation
	var at int64
	err := s.db.QueryRow(`SELECT id, list, set_name, source, outcome, count, capacity, rejected, error, at
		FROM generations WHERE list = ? AND outcome = ? ORDER BY id DESC LIMIT 1`, list, OutcomePublished).
		Scan(&g.ID, &g.List, &g.Set, &g.Source, &g.Outcome, &g.Count, &g.Capacity, &g.Rejected, &g.Error, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	g.At = time.Unix(at, 0)
	return &g, nil
}

// FailureTotal returns how many failed generations were ever recorded for list.
func (s *SQLiteStore) FailureTotal(list string) (int, error) {
	var total int
	err := s.db.QueryRow(`SELECT total FROM failures WHERE list = ?`, list).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return total, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
