// Package history persists match activations and feeds their counts back
// into result scoring, so entries the user picks often rank higher.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aresa/glimpse/internal/log"
	"github.com/aresa/glimpse/internal/protocol"
)

const (
	// boostPerActivation is added to a match's score once per recorded
	// activation, up to boostCap. Plugin-reported relevance still dominates
	// for rarely-used entries.
	boostPerActivation = 5.0
	boostCap           = 50.0
)

// Store is the SQLite-backed activation history. Counts are cached in
// memory so Boost never touches the database on the search path.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.RWMutex
	counts map[string]int
}

// Activation is one recorded activation, newest-first in listings.
type Activation struct {
	ID          string    `json:"id"`
	PluginID    string    `json:"plugin_id"`
	MatchTitle  string    `json:"match_title"`
	ActionTitle string    `json:"action_title"`
	ActivatedAt time.Time `json:"activated_at"`
}

// Open creates the database file (and its parent directory) if needed,
// applies the schema, and warms the count cache.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: log.WithComponent("history"),
		counts: make(map[string]int),
	}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.warmCache(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) bootstrap() error {
	const schema = `
CREATE TABLE IF NOT EXISTS activations (
	id           TEXT PRIMARY KEY,
	plugin_id    TEXT NOT NULL,
	match_title  TEXT NOT NULL,
	action_title TEXT NOT NULL,
	activated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_activations_match
	ON activations(plugin_id, match_title);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply history schema: %w", err)
	}
	return nil
}

func (s *Store) warmCache() error {
	rows, err := s.db.Query(
		`SELECT plugin_id, match_title, COUNT(*) FROM activations GROUP BY plugin_id, match_title`)
	if err != nil {
		return fmt.Errorf("load activation counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pluginID, title string
		var n int
		if err := rows.Scan(&pluginID, &title, &n); err != nil {
			return fmt.Errorf("scan activation count: %w", err)
		}
		s.counts[countKey(pluginID, title)] = n
	}
	return rows.Err()
}

// Record persists one activation. It runs off the router's hot path, so a
// write failure only loses ranking signal and is logged, not returned.
func (s *Store) Record(pluginID, matchTitle, actionTitle string) {
	_, err := s.db.Exec(
		`INSERT INTO activations (id, plugin_id, match_title, action_title) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), pluginID, matchTitle, actionTitle)
	if err != nil {
		s.logger.Error("failed to record activation", "plugin", pluginID, "error", err)
		return
	}

	s.mu.Lock()
	s.counts[countKey(pluginID, matchTitle)]++
	s.mu.Unlock()
	s.logger.Debug("activation recorded", "plugin", pluginID, "match", matchTitle)
}

// Boost raises the match's score according to how often it has been
// activated before. Served entirely from the in-memory cache.
func (s *Store) Boost(pluginID string, m *protocol.Match) {
	s.mu.RLock()
	n := s.counts[countKey(pluginID, m.Title)]
	s.mu.RUnlock()
	if n == 0 {
		return
	}
	boost := float64(n) * boostPerActivation
	if boost > boostCap {
		boost = boostCap
	}
	m.Score += boost
}

// Recent returns the newest activations, most recent first.
func (s *Store) Recent(limit int) ([]Activation, error) {
	rows, err := s.db.Query(
		`SELECT id, plugin_id, match_title, action_title, activated_at
		 FROM activations ORDER BY activated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent activations: %w", err)
	}
	defer rows.Close()

	var out []Activation
	for rows.Next() {
		var a Activation
		if err := rows.Scan(&a.ID, &a.PluginID, &a.MatchTitle, &a.ActionTitle, &a.ActivatedAt); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func countKey(pluginID, title string) string {
	return pluginID + "\x00" + title
}
