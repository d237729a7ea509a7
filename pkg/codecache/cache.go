// Package codecache persists compiled-code artifacts in a SQLite database
// so that compiled functions survive process restarts. Rows are write-once:
// Put replaces a whole row, and stored blobs are never mutated in place.
package codecache

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/chazu/stackmap/pkg/artifact"
)

// ErrNotFound indicates the requested artifact doesn't exist.
var ErrNotFound = errors.New("artifact not found")

// Cache is a SQLite-backed artifact store keyed by artifact name.
type Cache struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) a cache database at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		name TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Put stores an artifact, replacing any previous artifact with the same
// name.
func (c *Cache) Put(a *artifact.Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	data, err := artifact.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding artifact %q: %w", a.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO artifacts (name, hash, data) VALUES (?, ?, ?)",
		a.Name, hex.EncodeToString(a.Hash[:]), data,
	)
	if err != nil {
		return fmt.Errorf("saving artifact %q: %w", a.Name, err)
	}
	return nil
}

// Get retrieves an artifact by name. Returns ErrNotFound if absent.
func (c *Cache) Get(name string) (*artifact.Artifact, error) {
	var data []byte
	err := c.db.QueryRow("SELECT data FROM artifacts WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying artifact %q: %w", name, err)
	}
	return artifact.Unmarshal(data)
}

// List returns the names of all stored artifacts, sorted.
func (c *Cache) List() ([]string, error) {
	rows, err := c.db.Query("SELECT name FROM artifacts ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing artifacts: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
