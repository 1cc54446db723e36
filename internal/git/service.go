// Package git orchestrates the rewrite pipeline: preflight, enumeration,
// work-branch rewrite, verification and the final branch swap. All repository
// state is owned by the backend; the Service owns sequencing, the journal and
// the safety checks between stages.
package git

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/thiagokokada/git-resign/internal/git/backend"
	"github.com/thiagokokada/git-resign/internal/journal"
	"github.com/thiagokokada/git-resign/internal/watch"
)

// Options configure one pipeline run.
type Options struct {
	SourceBranch string
	WorkBranch   string

	// KeepBackup renames the old branch to BackupName during the swap
	// instead of force-deleting it.
	KeepBackup bool
	BackupName string

	// ForceRestart acknowledges an unfinished journal run.
	ForceRestart bool

	// Watch enables the ref watcher for the duration of the rewrite loop.
	Watch bool
}

// Service drives a single rewrite run against one repository.
type Service struct {
	// mu serializes pipeline stages; the pipeline is strictly sequential but
	// the ref watcher callback reads backend state concurrently.
	mu sync.Mutex

	backend backend.Backend
	journal *journal.Store
	opts    Options

	// snapshot of the enumeration, oldest first. Never refreshed during a
	// run.
	commits []*backend.Commit
	// rewritten[i] is the new hash for commits[i].
	rewritten []string

	runID int64
}

// New wires a Service. The journal may be nil, in which case partial-run
// detection and the journaled half of the swap guard are skipped.
func New(b backend.Backend, j *journal.Store, opts Options) (*Service, error) {
	if b == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if opts.SourceBranch == "" || opts.WorkBranch == "" {
		return nil, fmt.Errorf("source and work branch are required")
	}
	if opts.SourceBranch == opts.WorkBranch {
		return nil, fmt.Errorf("source branch and work branch must differ (both %q)", opts.SourceBranch)
	}
	if opts.KeepBackup && opts.BackupName == "" {
		return nil, fmt.Errorf("backup name is required when keeping a backup")
	}
	return &Service{backend: b, journal: j, opts: opts}, nil
}

// Preflight verifies the repository is in a state the pipeline may mutate:
// clean working tree, existing source branch, free work branch (and backup
// name, when one will be created). It performs no mutation.
func (s *Service) Preflight() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes, err := s.backend.LocalChangesStatus()
	if err != nil {
		return err
	}
	if !changes.Clean() {
		return fmt.Errorf(
			"working tree has uncommitted changes (staged=%v, unstaged=%v); commit or stash them first",
			changes.HasStaged, changes.HasWorktree,
		)
	}
	if _, ok, err := s.backend.ResolveBranch(s.opts.SourceBranch); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("source branch %q not found", s.opts.SourceBranch)
	}
	if _, ok, err := s.backend.ResolveBranch(s.opts.WorkBranch); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("work branch %q already exists; delete it or pick another name", s.opts.WorkBranch)
	}
	if s.opts.KeepBackup {
		if _, ok, err := s.backend.ResolveBranch(s.opts.BackupName); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("backup branch %q already exists; delete it or pick another suffix", s.opts.BackupName)
		}
	}
	return nil
}

// Enumerate snapshots the commit list of the source branch, oldest first, and
// returns the number of commits. Merge ancestry is flattened into a single
// linear sequence; each flattened merge is logged.
func (s *Service) Enumerate() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	commits, err := s.backend.ListCommits(s.opts.SourceBranch)
	if err != nil {
		return 0, err
	}
	if len(commits) == 0 {
		return 0, fmt.Errorf("source branch %q has no commits", s.opts.SourceBranch)
	}
	for _, c := range commits {
		if c.IsMerge() {
			slog.Warn("flattening merge commit into linear history",
				slog.String("commit", c.ShortHash()),
				slog.Int("parents", len(c.ParentHashes)),
			)
		}
	}
	s.commits = commits
	s.rewritten = s.rewritten[:0]
	slog.Debug("enumeration complete",
		slog.String("branch", s.opts.SourceBranch),
		slog.Int("commits", len(commits)),
	)
	return len(commits), nil
}

// Rewrite creates the work branch and re-commits every enumerated commit onto
// it, signed, with author metadata and message copied verbatim. Progress is
// logged per commit. On error the work branch keeps the prefix created so
// far; the journal records exactly how far the run got.
func (s *Service) Rewrite(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.commits) == 0 {
		return fmt.Errorf("nothing enumerated; run Enumerate first")
	}
	if err := s.startJournalRun(ctx); err != nil {
		return err
	}

	watcher, err := s.startRefWatcher()
	if err != nil {
		// Watching is advisory; a repository layout fsnotify cannot handle
		// should not stop the rewrite.
		slog.Warn("ref watcher disabled", slog.Any("error", err))
	} else if watcher != nil {
		defer func() { _ = watcher.Close() }()
	}

	session, err := s.backend.BeginRewrite(s.opts.WorkBranch)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	total := len(s.commits)
	for i, src := range s.commits {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("rewrite interrupted after %d of %d commits: %w", i, total, err)
		}
		newHash, err := session.Rewrite(src)
		if err != nil {
			return fmt.Errorf("rewrite %s (%d of %d): %w", src.ShortHash(), i+1, total, err)
		}
		s.rewritten = append(s.rewritten, newHash)
		if err := s.recordJournal(ctx, i, src.Hash, newHash); err != nil {
			return err
		}
		slog.Info("rewrote commit",
			slog.Int("index", i+1),
			slog.Int("total", total),
			slog.String("source", src.ShortHash()),
			slog.String("new", shortHash(newHash)),
		)
	}
	return nil
}

func (s *Service) startJournalRun(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}
	runID, err := s.journal.Start(
		ctx,
		s.backend.RepoPath(),
		s.opts.SourceBranch,
		s.opts.WorkBranch,
		len(s.commits),
		s.opts.ForceRestart,
	)
	if err != nil {
		return err
	}
	s.runID = runID
	return nil
}

func (s *Service) recordJournal(ctx context.Context, seq int, sourceHash, newHash string) error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Record(ctx, s.runID, seq, sourceHash, newHash)
}

// startRefWatcher warns when the source branch moves while the rewrite loop
// is running. The enumeration snapshot is not refreshed; the warning tells
// the operator the rewritten history will not include the new commits.
func (s *Service) startRefWatcher() (*watch.RefWatcher, error) {
	if !s.opts.Watch {
		return nil, nil
	}
	sourceHash, ok, err := s.backend.ResolveBranch(s.opts.SourceBranch)
	if err != nil {
		return nil, fmt.Errorf("resolve %s for watching: %w", s.opts.SourceBranch, err)
	}
	if !ok {
		return nil, fmt.Errorf("resolve %s for watching: branch not found", s.opts.SourceBranch)
	}
	branch := s.opts.SourceBranch
	b := s.backend
	return watch.Start(s.backend.RepoPath(), func() {
		current, ok, err := b.ResolveBranch(branch)
		if err != nil || !ok {
			return
		}
		if current != sourceHash {
			slog.Warn("source branch moved during rewrite; the snapshot does not include the new commits",
				slog.String("branch", branch),
				slog.String("was", shortHash(sourceHash)),
				slog.String("now", shortHash(current)),
			)
		}
	})
}

// Swap replaces the source branch with the rewritten work branch: detach at
// the new tip, move the old branch out of the way (backup rename or force
// delete), rename the work branch to the old name and check it out.
//
// It refuses to run unless every enumerated commit was rewritten, checked
// against both the in-memory count and the journal. There is still no
// atomicity across the delete/rename pair; a crash in between leaves the
// repository with the backup (or nothing) at the old name.
func (s *Service) Swap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureComplete(ctx); err != nil {
		return err
	}
	tip := s.rewritten[len(s.rewritten)-1]

	if err := s.backend.CheckoutDetached(tip); err != nil {
		return err
	}
	if s.opts.KeepBackup {
		slog.Info("keeping old branch as backup",
			slog.String("branch", s.opts.SourceBranch),
			slog.String("backup", s.opts.BackupName),
		)
		if err := s.backend.RenameBranch(s.opts.SourceBranch, s.opts.BackupName); err != nil {
			return err
		}
	} else {
		if err := s.backend.DeleteBranch(s.opts.SourceBranch); err != nil {
			return err
		}
	}
	if err := s.backend.RenameBranch(s.opts.WorkBranch, s.opts.SourceBranch); err != nil {
		return err
	}
	if err := s.backend.SwitchBranch(s.opts.SourceBranch); err != nil {
		return err
	}
	if s.journal != nil {
		if err := s.journal.Finish(ctx, s.runID, true); err != nil {
			return err
		}
	}
	slog.Info("branch swap complete",
		slog.String("branch", s.opts.SourceBranch),
		slog.String("tip", shortHash(tip)),
	)
	return nil
}

// Abort marks the journal run as finished without a swap. Called when the
// operator declines the confirmation prompt.
func (s *Service) Abort(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil || s.runID == 0 {
		return nil
	}
	return s.journal.Finish(ctx, s.runID, false)
}

func (s *Service) ensureComplete(ctx context.Context) error {
	if len(s.commits) == 0 {
		return fmt.Errorf("nothing enumerated; the swap is not reachable before a complete rewrite")
	}
	if len(s.rewritten) != len(s.commits) {
		return fmt.Errorf(
			"rewrite incomplete: %d of %d commits rewritten; refusing to swap",
			len(s.rewritten), len(s.commits),
		)
	}
	if s.journal != nil {
		count, err := s.journal.Count(ctx, s.runID)
		if err != nil {
			return err
		}
		if count != len(s.commits) {
			return fmt.Errorf(
				"journal records %d of %d rewrites; refusing to swap",
				count, len(s.commits),
			)
		}
	}
	return nil
}

func shortHash(hash string) string {
	if len(hash) < 7 {
		return hash
	}
	return hash[:7]
}
