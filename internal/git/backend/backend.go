package backend

import (
	"fmt"

	"github.com/thiagokokada/git-resign/internal/signer"
)

// Backend abstracts the version-control operations the rewrite pipeline
// depends on.
//
// The default implementation shells out to the git executable, which delegates
// signing to git/gpg and may prompt the operator for a passphrase. The native
// implementation rebuilds commits through go-git without touching the working
// tree until the final checkout.
type Backend interface {
	RepoPath() string

	// HeadState reports the current HEAD commit and symbolic name.
	// ok is false on a repository with no commits.
	HeadState() (hash string, headName string, ok bool, err error)

	// LocalChangesStatus inspects tracked files against HEAD. Untracked files
	// are ignored; they survive the rewrite untouched.
	LocalChangesStatus() (LocalChanges, error)

	// ResolveBranch resolves a local branch name to a commit hash.
	// ok is false when the branch does not exist.
	ResolveBranch(name string) (hash string, ok bool, err error)

	// ListCommits returns every commit reachable from the branch, oldest
	// first. The slice is a snapshot; it does not track later ref updates.
	ListCommits(branch string) ([]*Commit, error)

	// BeginRewrite prepares the work branch as an orphan with a cleared stage
	// and returns the session used to append rewritten commits to it.
	BeginRewrite(workBranch string) (RewriteSession, error)

	// SignatureReport lists every commit on the branch in ancestry order with
	// its signature status.
	SignatureReport(branch string) ([]SignatureInfo, error)

	// CommitTreeHash returns the tree hash of a commit.
	CommitTreeHash(commitHash string) (string, error)

	// TreeListing returns the recursive tree listing of a commit, sorted by
	// path. Used to render tree mismatches in the verification report.
	TreeListing(commitHash string) ([]TreeEntry, error)

	CheckoutDetached(commitHash string) error
	DeleteBranch(name string) error
	RenameBranch(from, to string) error
	SwitchBranch(name string) error
}

// RewriteSession appends one signed commit per Rewrite call to the work
// branch prepared by BeginRewrite. Sessions are not safe for concurrent use;
// the pipeline is strictly sequential.
type RewriteSession interface {
	// Rewrite creates a new signed commit whose tree and author metadata are
	// copied from src and whose parent is the previously rewritten commit (or
	// nothing for the first call). Returns the new commit hash.
	Rewrite(src *Commit) (newHash string, err error)

	// Tip returns the hash of the most recently created commit, or "" when no
	// commit has been created yet.
	Tip() string

	Close() error
}

// Kind selects a Backend implementation.
type Kind string

const (
	KindCLI    Kind = "cli"
	KindNative Kind = "native"
)

// Open opens the repository at path with the selected implementation.
func Open(kind Kind, path string, sgn signer.Signer) (Backend, error) {
	switch kind {
	case KindCLI, "":
		return OpenCLI(path, sgn)
	case KindNative:
		return OpenNative(path, sgn)
	}
	return nil, fmt.Errorf("unknown backend %q", kind)
}
