// Package journal persists the progress of a rewrite run in SQLite. A run
// that dies mid-loop leaves an unfinished row behind, which makes the
// partial-rewrite state detectable on the next invocation, and the recorded
// source-to-new hash mapping survives for audit after the old branch is gone.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    repo_path      TEXT NOT NULL,
    source_branch  TEXT NOT NULL,
    work_branch    TEXT NOT NULL,
    total_commits  INTEGER NOT NULL,
    started_at     INTEGER NOT NULL,
    finished_at    INTEGER,
    swapped        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS rewrites (
    run_id       INTEGER NOT NULL REFERENCES runs(id),
    seq          INTEGER NOT NULL,
    source_hash  TEXT NOT NULL,
    new_hash     TEXT NOT NULL,
    rewritten_at INTEGER NOT NULL,
    PRIMARY KEY (run_id, seq)
);
`

// ErrUnfinishedRun is wrapped by Start when a previous run against the same
// repository never finished.
var ErrUnfinishedRun = errors.New("unfinished rewrite run")

// Run is one recorded rewrite run.
type Run struct {
	ID           int64
	RepoPath     string
	SourceBranch string
	WorkBranch   string
	TotalCommits int
	StartedAt    time.Time
	FinishedAt   time.Time
	Swapped      bool
}

// Store persists runs and per-commit rewrite records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping journal db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ensure journal schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Start records the beginning of a run. It fails with ErrUnfinishedRun when
// an earlier run against the same repository was never finished, unless force
// is set.
func (s *Store) Start(ctx context.Context, repoPath, sourceBranch, workBranch string, totalCommits int, force bool) (int64, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("journal is not configured")
	}
	if !force {
		prev, err := s.UnfinishedRun(ctx, repoPath)
		if err != nil {
			return 0, err
		}
		if prev != nil {
			return 0, fmt.Errorf(
				"%w: run %d (%s -> %s, started %s); inspect the repository and re-run with force-restart",
				ErrUnfinishedRun, prev.ID, prev.SourceBranch, prev.WorkBranch,
				prev.StartedAt.Format(time.RFC3339),
			)
		}
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO runs (repo_path, source_branch, work_branch, total_commits, started_at) VALUES (?, ?, ?, ?, ?)`,
		repoPath, sourceBranch, workBranch, totalCommits, toMillis(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("record run start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record run start: %w", err)
	}
	return id, nil
}

// Record stores one rewritten commit.
func (s *Store) Record(ctx context.Context, runID int64, seq int, sourceHash, newHash string) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("journal is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO rewrites (run_id, seq, source_hash, new_hash, rewritten_at) VALUES (?, ?, ?, ?, ?)`,
		runID, seq, sourceHash, newHash, toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("record rewrite %d/%d: %w", runID, seq, err)
	}
	return nil
}

// Count returns the number of rewrites recorded for the run.
func (s *Store) Count(ctx context.Context, runID int64) (int, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("journal is not configured")
	}
	var count int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rewrites WHERE run_id = ?`, runID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count rewrites: %w", err)
	}
	return count, nil
}

// Finish marks the run as completed, optionally as swapped.
func (s *Store) Finish(ctx context.Context, runID int64, swapped bool) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("journal is not configured")
	}
	swappedInt := 0
	if swapped {
		swappedInt = 1
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, swapped = ? WHERE id = ?`,
		toMillis(time.Now()), swappedInt, runID,
	); err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// UnfinishedRun returns the most recent run against repoPath that has no
// finish timestamp, or nil when none exists.
func (s *Store) UnfinishedRun(ctx context.Context, repoPath string) (*Run, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("journal is not configured")
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, repo_path, source_branch, work_branch, total_commits, started_at
		 FROM runs WHERE repo_path = ? AND finished_at IS NULL
		 ORDER BY id DESC LIMIT 1`,
		repoPath,
	)
	var run Run
	var startedAt int64
	err := row.Scan(&run.ID, &run.RepoPath, &run.SourceBranch, &run.WorkBranch, &run.TotalCommits, &startedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query unfinished run: %w", err)
	}
	run.StartedAt = fromMillis(startedAt)
	return &run, nil
}

// Mapping is one source-to-rewritten hash pair in rewrite order.
type Mapping struct {
	Seq        int
	SourceHash string
	NewHash    string
}

// Mappings returns every recorded rewrite of the run, ordered by sequence.
func (s *Store) Mappings(ctx context.Context, runID int64) ([]Mapping, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("journal is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT seq, source_hash, new_hash FROM rewrites WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rewrites: %w", err)
	}
	defer rows.Close()

	var mappings []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.Seq, &m.SourceHash, &m.NewHash); err != nil {
			return nil, fmt.Errorf("scan rewrite: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rewrites: %w", err)
	}
	return mappings, nil
}
