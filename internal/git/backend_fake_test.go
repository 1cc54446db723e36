package git

import (
	"fmt"
	"time"

	gitbackend "github.com/thiagokokada/git-resign/internal/git/backend"
)

// fakeBackend models just enough repository state for the pipeline: branch
// refs, per-branch commit lists and per-commit trees. Rewrites append signed
// copies under deterministic "new-" hashes.
type fakeBackend struct {
	repoPath string
	changes  gitbackend.LocalChanges

	branches map[string]string
	commits  map[string][]*gitbackend.Commit
	trees    map[string]string
	listings map[string][]gitbackend.TreeEntry

	// rewriteErrAt fails the n-th Rewrite call (1-based); 0 never fails.
	rewriteErrAt int

	ops []string
}

func newFakeBackend(source string, commits []*gitbackend.Commit) *fakeBackend {
	f := &fakeBackend{
		repoPath: "/repo",
		branches: map[string]string{},
		commits:  map[string][]*gitbackend.Commit{},
		trees:    map[string]string{},
		listings: map[string][]gitbackend.TreeEntry{},
	}
	if len(commits) > 0 {
		f.branches[source] = commits[len(commits)-1].Hash
		f.commits[source] = commits
	}
	for _, c := range commits {
		f.trees[c.Hash] = c.TreeHash
		f.listings[c.Hash] = []gitbackend.TreeEntry{
			{Mode: "100644", Hash: "blob-" + c.TreeHash, Path: "file.txt"},
		}
	}
	return f
}

func (f *fakeBackend) RepoPath() string { return f.repoPath }

func (f *fakeBackend) HeadState() (string, string, bool, error) {
	for name, hash := range f.branches {
		return hash, name, true, nil
	}
	return "", "", false, nil
}

func (f *fakeBackend) LocalChangesStatus() (gitbackend.LocalChanges, error) {
	return f.changes, nil
}

func (f *fakeBackend) ResolveBranch(name string) (string, bool, error) {
	hash, ok := f.branches[name]
	return hash, ok, nil
}

func (f *fakeBackend) ListCommits(branch string) ([]*gitbackend.Commit, error) {
	commits, ok := f.commits[branch]
	if !ok {
		return nil, fmt.Errorf("branch %q not found", branch)
	}
	return commits, nil
}

func (f *fakeBackend) BeginRewrite(workBranch string) (gitbackend.RewriteSession, error) {
	if _, exists := f.branches[workBranch]; exists {
		return nil, fmt.Errorf("work branch %q already exists", workBranch)
	}
	return &fakeSession{backend: f, work: workBranch}, nil
}

func (f *fakeBackend) SignatureReport(branch string) ([]gitbackend.SignatureInfo, error) {
	commits, ok := f.commits[branch]
	if !ok {
		return nil, fmt.Errorf("branch %q not found", branch)
	}
	infos := make([]gitbackend.SignatureInfo, 0, len(commits))
	for _, c := range commits {
		status := gitbackend.SigStatusNone
		if len(c.Hash) > 4 && c.Hash[:4] == "new-" {
			status = gitbackend.SigStatusGood
		}
		infos = append(infos, gitbackend.SignatureInfo{
			ShortHash: c.ShortHash(),
			Status:    status,
			Signer:    "Test Signer <signer@example.com>",
			Subject:   c.Subject(),
		})
	}
	return infos, nil
}

func (f *fakeBackend) CommitTreeHash(commitHash string) (string, error) {
	tree, ok := f.trees[commitHash]
	if !ok {
		return "", fmt.Errorf("commit %q not found", commitHash)
	}
	return tree, nil
}

func (f *fakeBackend) TreeListing(commitHash string) ([]gitbackend.TreeEntry, error) {
	entries, ok := f.listings[commitHash]
	if !ok {
		return nil, fmt.Errorf("commit %q not found", commitHash)
	}
	return entries, nil
}

func (f *fakeBackend) CheckoutDetached(commitHash string) error {
	f.ops = append(f.ops, "detach "+commitHash)
	return nil
}

func (f *fakeBackend) DeleteBranch(name string) error {
	if _, ok := f.branches[name]; !ok {
		return fmt.Errorf("branch %q not found", name)
	}
	f.ops = append(f.ops, "delete "+name)
	delete(f.branches, name)
	delete(f.commits, name)
	return nil
}

func (f *fakeBackend) RenameBranch(from, to string) error {
	hash, ok := f.branches[from]
	if !ok {
		return fmt.Errorf("branch %q not found", from)
	}
	if _, exists := f.branches[to]; exists {
		return fmt.Errorf("branch %q already exists", to)
	}
	f.ops = append(f.ops, "rename "+from+" "+to)
	delete(f.branches, from)
	f.branches[to] = hash
	f.commits[to] = f.commits[from]
	delete(f.commits, from)
	return nil
}

func (f *fakeBackend) SwitchBranch(name string) error {
	if _, ok := f.branches[name]; !ok {
		return fmt.Errorf("branch %q not found", name)
	}
	f.ops = append(f.ops, "switch "+name)
	return nil
}

type fakeSession struct {
	backend *fakeBackend
	work    string
	tip     string
	calls   int
}

func (s *fakeSession) Rewrite(src *gitbackend.Commit) (string, error) {
	s.calls++
	if s.backend.rewriteErrAt != 0 && s.calls == s.backend.rewriteErrAt {
		return "", fmt.Errorf("gpg: signing failed")
	}
	newHash := "new-" + src.Hash
	dup := &gitbackend.Commit{
		Hash:      newHash,
		TreeHash:  src.TreeHash,
		Author:    src.Author,
		Committer: gitbackend.Signature{Name: "Operator", Email: "operator@example.com", When: time.Now()},
		Message:   src.Message,
	}
	if s.tip != "" {
		dup.ParentHashes = []string{s.tip}
	}
	s.backend.commits[s.work] = append(s.backend.commits[s.work], dup)
	s.backend.branches[s.work] = newHash
	s.backend.trees[newHash] = src.TreeHash
	s.backend.listings[newHash] = s.backend.listings[src.Hash]
	s.tip = newHash
	return newHash, nil
}

func (s *fakeSession) Tip() string { return s.tip }

func (s *fakeSession) Close() error { return nil }
