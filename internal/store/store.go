package store

import (
	"database/sql"
	"unicode/utf8"

	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/policy"
)

// Store owns all relational reads and writes for the harvester.
type Store struct {
	logger *logger.Logger
	db     *sql.DB
	pol    policy.Policy
}

// New creates a store over an initialized database handle.
func New(log *logger.Logger, db *sql.DB, pol policy.Policy) *Store {
	return &Store{
		logger: log.WithComponent("store"),
		db:     db,
		pol:    pol,
	}
}

// truncateNote bounds last_error and membership note text. Cuts on a
// rune boundary so the driver never sends invalid UTF-8.
func (s *Store) truncateNote(note string) string {
	limit := s.pol.LastErrorLimit
	if limit <= 0 || len(note) <= limit {
		return note
	}
	note = note[:limit]
	for len(note) > 0 && !utf8.ValidString(note) {
		note = note[:len(note)-1]
	}
	return note
}
