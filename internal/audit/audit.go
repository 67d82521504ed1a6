// ABOUTME: SQLite-backed audit trail of completed capability invocations
// ABOUTME: Records dispatch outcomes and aggregates per-capability usage stats

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OutcomeOK marks an invocation that completed inside its contract. Every
// other outcome value is a failure short code.
const OutcomeOK = "ok"

// Entry is one completed top-level invocation, successful or not. Payload
// content never appears here.
type Entry struct {
	InvocationID  string
	CorrelationID string
	Capability    string
	Subject       string
	Outcome       string
	Duration      time.Duration
	At            time.Time
}

// Filter narrows Stats aggregation. Nil fields match everything.
type Filter struct {
	Capability *string
	Since      *time.Time
	Until      *time.Time
}

// CapabilityStats is the aggregate for a single capability.
type CapabilityStats struct {
	Capability    string `json:"capability"`
	Invocations   int64  `json:"invocations"`
	Faults        int64  `json:"faults"`
	AvgDurationMs int64  `json:"avg_duration_ms"`
}

// Trail is the SQLite-backed invocation log.
type Trail struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTrail opens the audit database at path, creating the file, its parent
// directories, and the schema as needed.
func NewTrail(path string) (*Trail, error) {
	logger := slog.Default().With("component", "audit")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	t := &Trail{db: db, logger: logger}
	if err := t.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	logger.Info("audit trail initialized", "path", path)
	return t, nil
}

func (t *Trail) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS invocations (
			id TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			capability TEXT NOT NULL,
			subject TEXT NOT NULL,
			outcome TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_invocations_capability
			ON invocations(capability);

		CREATE INDEX IF NOT EXISTS idx_invocations_created_at
			ON invocations(created_at);
	`
	_, err := t.db.Exec(schema)
	return err
}

// Record stores one completed invocation.
func (t *Trail) Record(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO invocations (
			id, correlation_id, capability, subject, outcome, duration_ms, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := t.db.ExecContext(ctx, query,
		e.InvocationID,
		e.CorrelationID,
		e.Capability,
		e.Subject,
		e.Outcome,
		e.Duration.Milliseconds(),
		e.At.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting invocation record: %w", err)
	}

	t.logger.Debug("recorded invocation",
		"invocation_id", e.InvocationID,
		"capability", e.Capability,
		"outcome", e.Outcome,
	)
	return nil
}

// Stats aggregates recorded invocations per capability, ordered by
// capability id.
func (t *Trail) Stats(ctx context.Context, filter Filter) ([]CapabilityStats, error) {
	query := `
		SELECT
			capability,
			COUNT(*) as invocations,
			SUM(CASE WHEN outcome <> ? THEN 1 ELSE 0 END) as faults,
			CAST(AVG(duration_ms) AS INTEGER) as avg_duration_ms
		FROM invocations
		WHERE 1=1
	`
	args := []any{OutcomeOK}

	if filter.Capability != nil {
		query += " AND capability = ?"
		args = append(args, *filter.Capability)
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.Until != nil {
		query += " AND created_at < ?"
		args = append(args, filter.Until.UTC().Format(time.RFC3339))
	}

	query += " GROUP BY capability ORDER BY capability"

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying invocation stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []CapabilityStats
	for rows.Next() {
		var cs CapabilityStats
		if err := rows.Scan(&cs.Capability, &cs.Invocations, &cs.Faults, &cs.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		stats = append(stats, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stats rows: %w", err)
	}

	return stats, nil
}

// Ping verifies the trail database is still reachable.
func (t *Trail) Ping(ctx context.Context) error {
	return t.db.PingContext(ctx)
}

// Close releases the underlying database handle.
func (t *Trail) Close() error {
	return t.db.Close()
}
