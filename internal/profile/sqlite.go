// ABOUTME: Read-only SQLite profile source for local development
// ABOUTME: Opens mode=ro with query_only set; this process never writes

package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// SQLiteSource reads profiles from a SQLite file maintained by something
// else (a seed script, a sync job). Connections are read-only twice over:
// the file is opened mode=ro and every session carries query_only.
type SQLiteSource struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteSource opens the profile database at path read-only. The file
// must exist; this source never creates or migrates schema.
func NewSQLiteSource(path string, logger *slog.Logger) (*SQLiteSource, error) {
	// query_only goes in the DSN so every pooled connection gets it, not
	// just the one a PRAGMA exec would land on.
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=query_only(1)")
	if err != nil {
		return nil, fmt.Errorf("opening profile database: %w", err)
	}

	// Fail at startup, not on first request, if the file is absent or has
	// the wrong schema.
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM profiles").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("checking profiles table: %w", err)
	}

	logger = logger.With("component", "profile.sqlite")
	logger.Info("profile database opened", "path", path, "profiles", n)

	return &SQLiteSource{db: db, logger: logger}, nil
}

// Fetch retrieves and sanitizes the subject's profile.
func (s *SQLiteSource) Fetch(ctx context.Context, subject string) (Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx,
		"SELECT locale, currency FROM profiles WHERE subject = ?", subject,
	).Scan(&p.Locale, &p.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("querying profile: %w", err)
	}
	return sanitize(p), nil
}

// Close closes the underlying database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}
