// Package sqlite keeps the game on local disk: the last state snapshot and,
// when no memory service is configured, the memories themselves.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"path/filepath"
	"strings"
	"time"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Summarizer writes the diary line stored with a memory.
type Summarizer interface {
	Summarize(ctx context.Context, input game.SaveMemoryInput) string
}

type Store struct {
	db         *sql.DB
	stateKey   string
	summarizer Summarizer
	now        func() time.Time
}

type Option func(*Store)

func WithStateKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.stateKey = key
		}
	}
}

func WithSummarizer(summarizer Summarizer) Option {
	return func(s *Store) { s.summarizer = summarizer }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

const DefaultStateKey = "reality-quest-state-v1"

// Open opens (creating if needed) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, goerr.New("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite db", goerr.V("path", path))
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to ping sqlite db", goerr.V("path", path))
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to apply schema", goerr.V("path", path))
	}

	s := &Store{db: db, stateKey: DefaultStateKey, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
