package backend

import (
	"fmt"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/thiagokokada/git-resign/internal/signer"
)

func newTestEntity(t *testing.T) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity("Test Signer", "", "signer@example.com", nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return entity
}

// newTestRepo builds an in-memory repository with three commits on master,
// authored by two different people with distinct timezones.
func newTestRepo(t *testing.T) (*gitlib.Repository, *native) {
	t.Helper()
	repo, err := gitlib.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	cfg, err := repo.Config()
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	cfg.User.Name = "Operator"
	cfg.User.Email = "operator@example.com"
	if err := repo.SetConfig(cfg); err != nil {
		t.Fatalf("set config: %v", err)
	}

	alice := object.Signature{
		Name:  "Alice",
		Email: "alice@example.com",
		When:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("", 2*60*60)),
	}
	bob := object.Signature{
		Name:  "Bob",
		Email: "bob@example.com",
		When:  time.Date(2024, 3, 2, 11, 0, 0, 0, time.UTC),
	}
	commitFile(t, repo, "a.txt", "first\n", "first commit\n", alice)
	commitFile(t, repo, "b.txt", "second\n", "second commit\n\nwith a body\n", bob)
	alice.When = alice.When.Add(48 * time.Hour)
	commitFile(t, repo, "a.txt", "changed\n", "third commit\n", alice)

	n := newNative(repo, signer.FromEntity(newTestEntity(t)))
	return repo, n
}

func commitFile(t *testing.T, repo *gitlib.Repository, path, content, message string, author object.Signature) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if err := util.WriteFile(wt.Filesystem, path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if _, err := wt.Add(path); err != nil {
		t.Fatalf("add %s: %v", path, err)
	}
	hash, err := wt.Commit(message, &gitlib.CommitOptions{Author: &author, Committer: &author})
	if err != nil {
		t.Fatalf("commit %s: %v", path, err)
	}
	return hash
}

func TestNativeListCommits(t *testing.T) {
	t.Parallel()

	_, n := newTestRepo(t)
	commits, err := n.ListCommits("master")
	if err != nil {
		t.Fatalf("ListCommits: %v", err)
	}
	if len(commits) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(commits))
	}
	if commits[0].Subject() != "first commit" || commits[2].Subject() != "third commit" {
		t.Fatalf("unexpected order: %q .. %q", commits[0].Subject(), commits[2].Subject())
	}
	if len(commits[0].ParentHashes) != 0 {
		t.Fatalf("first commit should be a root, parents=%v", commits[0].ParentHashes)
	}
	if commits[1].ParentHashes[0] != commits[0].Hash {
		t.Fatal("parents must precede children")
	}
	if commits[0].Author.Name != "Alice" || commits[1].Author.Name != "Bob" {
		t.Fatalf("unexpected authors: %q, %q", commits[0].Author.Name, commits[1].Author.Name)
	}
	if _, off := commits[0].Author.When.Zone(); off != 2*60*60 {
		t.Fatalf("author timezone offset lost: %d", off)
	}
	if commits[1].Message != "second commit\n\nwith a body\n" {
		t.Fatalf("unexpected message: %q", commits[1].Message)
	}
}

func TestNativeRewriteAndReport(t *testing.T) {
	t.Parallel()

	repo, n := newTestRepo(t)
	commits, err := n.ListCommits("master")
	if err != nil {
		t.Fatalf("ListCommits: %v", err)
	}

	session, err := n.BeginRewrite("work")
	if err != nil {
		t.Fatalf("BeginRewrite: %v", err)
	}
	var rewritten []string
	for _, src := range commits {
		newHash, err := session.Rewrite(src)
		if err != nil {
			t.Fatalf("Rewrite %s: %v", src.ShortHash(), err)
		}
		rewritten = append(rewritten, newHash)
	}
	if session.Tip() != rewritten[len(rewritten)-1] {
		t.Fatalf("Tip() = %q, want %q", session.Tip(), rewritten[len(rewritten)-1])
	}
	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for i, newHash := range rewritten {
		commit, err := object.GetCommit(repo.Storer, plumbing.NewHash(newHash))
		if err != nil {
			t.Fatalf("read rewritten commit: %v", err)
		}
		if commit.TreeHash.String() != commits[i].TreeHash {
			t.Fatalf("commit %d: tree %s, want %s", i, commit.TreeHash, commits[i].TreeHash)
		}
		if commit.Author.Name != commits[i].Author.Name || commit.Author.Email != commits[i].Author.Email {
			t.Fatalf("commit %d: author %s <%s> not preserved", i, commit.Author.Name, commit.Author.Email)
		}
		if !commit.Author.When.Equal(commits[i].Author.When) {
			t.Fatalf("commit %d: author date %v, want %v", i, commit.Author.When, commits[i].Author.When)
		}
		if commit.Message != commits[i].Message {
			t.Fatalf("commit %d: message %q, want %q", i, commit.Message, commits[i].Message)
		}
		if commit.Committer.Name != "Operator" {
			t.Fatalf("commit %d: committer %q, want the configured operator", i, commit.Committer.Name)
		}
		if commit.PGPSignature == "" {
			t.Fatalf("commit %d: unsigned", i)
		}
		if i == 0 && len(commit.ParentHashes) != 0 {
			t.Fatalf("first rewritten commit has parents: %v", commit.ParentHashes)
		}
		if i > 0 && (len(commit.ParentHashes) != 1 || commit.ParentHashes[0].String() != rewritten[i-1]) {
			t.Fatalf("commit %d: parents %v, want [%s]", i, commit.ParentHashes, rewritten[i-1])
		}
	}

	infos, err := n.SignatureReport("work")
	if err != nil {
		t.Fatalf("SignatureReport: %v", err)
	}
	if len(infos) != len(commits) {
		t.Fatalf("expected %d rows, got %d", len(commits), len(infos))
	}
	for i, info := range infos {
		if info.Status != SigStatusGood {
			t.Fatalf("row %d: status %s, want good", i, info.Status)
		}
		if info.Signer == "" || info.KeyID == "" {
			t.Fatalf("row %d: missing signer identity: %+v", i, info)
		}
	}
	if infos[1].Subject != "second commit" {
		t.Fatalf("unexpected subject: %q", infos[1].Subject)
	}

	// The source branch must be untouched.
	srcHash, ok, err := n.ResolveBranch("master")
	if err != nil || !ok {
		t.Fatalf("ResolveBranch(master) = %v, %v", ok, err)
	}
	if srcHash != commits[len(commits)-1].Hash {
		t.Fatal("source branch moved during rewrite")
	}
}

func TestNativeSignatureReport_UnsignedSource(t *testing.T) {
	t.Parallel()

	_, n := newTestRepo(t)
	infos, err := n.SignatureReport("master")
	if err != nil {
		t.Fatalf("SignatureReport: %v", err)
	}
	for i, info := range infos {
		if info.Status != SigStatusNone {
			t.Fatalf("row %d: status %s, want unsigned", i, info.Status)
		}
	}
}

func TestNativeBeginRewrite_Errors(t *testing.T) {
	t.Parallel()

	_, n := newTestRepo(t)
	if _, err := n.BeginRewrite("master"); err == nil {
		t.Fatal("expected error for existing branch")
	}

	n.sgn = signer.GPGConfig{}
	if _, err := n.BeginRewrite("work"); err == nil {
		t.Fatal("expected error without private key material")
	}
}

func TestNativeTreeListing(t *testing.T) {
	t.Parallel()

	_, n := newTestRepo(t)
	hash, ok, err := n.ResolveBranch("master")
	if err != nil || !ok {
		t.Fatalf("ResolveBranch: %v, %v", ok, err)
	}
	entries, err := n.TreeListing(hash)
	if err != nil {
		t.Fatalf("TreeListing: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Path != "a.txt" || entries[1].Path != "b.txt" {
		t.Fatalf("entries not sorted by path: %+v", entries)
	}
	if entries[0].Mode != "100644" {
		t.Fatalf("unexpected mode: %q", entries[0].Mode)
	}

	treeHash, err := n.CommitTreeHash(hash)
	if err != nil {
		t.Fatalf("CommitTreeHash: %v", err)
	}
	if treeHash == "" || treeHash == hash {
		t.Fatalf("unexpected tree hash: %q", treeHash)
	}
}

func TestNativeBranchOps(t *testing.T) {
	t.Parallel()

	repo, n := newTestRepo(t)
	hash, ok, err := n.ResolveBranch("master")
	if err != nil || !ok {
		t.Fatalf("ResolveBranch: %v, %v", ok, err)
	}
	if _, ok, err := n.ResolveBranch("missing"); err != nil || ok {
		t.Fatalf("ResolveBranch(missing) = %v, %v", ok, err)
	}

	if err := n.RenameBranch("master", "master-unsigned"); err != nil {
		t.Fatalf("RenameBranch: %v", err)
	}
	if _, ok, _ := n.ResolveBranch("master"); ok {
		t.Fatal("old name still resolves after rename")
	}
	moved, ok, err := n.ResolveBranch("master-unsigned")
	if err != nil || !ok || moved != hash {
		t.Fatalf("renamed branch: %q, %v, %v", moved, ok, err)
	}
	// HEAD follows the rename, like git branch -m.
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		t.Fatalf("read HEAD: %v", err)
	}
	if head.Target() != plumbing.NewBranchReferenceName("master-unsigned") {
		t.Fatalf("HEAD points at %s", head.Target())
	}

	if err := n.RenameBranch("missing", "other"); err == nil {
		t.Fatal("expected error renaming a missing branch")
	}

	if err := n.DeleteBranch("master-unsigned"); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
	if _, ok, _ := n.ResolveBranch("master-unsigned"); ok {
		t.Fatal("branch still resolves after delete")
	}
	if err := n.DeleteBranch("master-unsigned"); err == nil {
		t.Fatal("expected error deleting a missing branch")
	}
}

func TestTopoSortOldestFirst(t *testing.T) {
	t.Parallel()

	mk := func(hash string, when time.Time, parents ...string) *Commit {
		return &Commit{
			Hash:         hash,
			ParentHashes: parents,
			Committer:    Signature{When: when},
		}
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Diamond: a <- b, a <- c, {b,c} <- d. Input deliberately shuffled.
	a := mk("aaaa", base)
	b := mk("bbbb", base.Add(2*time.Hour), "aaaa")
	c := mk("cccc", base.Add(1*time.Hour), "aaaa")
	d := mk("dddd", base.Add(3*time.Hour), "bbbb", "cccc")

	sorted, err := topoSortOldestFirst([]*Commit{d, b, a, c})
	if err != nil {
		t.Fatalf("topoSortOldestFirst: %v", err)
	}
	got := make([]string, 0, len(sorted))
	for _, commit := range sorted {
		got = append(got, commit.Hash)
	}
	want := []string{"aaaa", "cccc", "bbbb", "dddd"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestTopoSortOldestFirst_Cycle(t *testing.T) {
	t.Parallel()

	a := &Commit{Hash: "aaaa", ParentHashes: []string{"bbbb"}}
	b := &Commit{Hash: "bbbb", ParentHashes: []string{"aaaa"}}
	if _, err := topoSortOldestFirst([]*Commit{a, b}); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestTopoSortOldestFirst_MissingParentIgnored(t *testing.T) {
	t.Parallel()

	// A shallow history: the parent of the oldest commit is not in the set.
	a := &Commit{Hash: "aaaa", ParentHashes: []string{"0000"}}
	b := &Commit{Hash: "bbbb", ParentHashes: []string{"aaaa"}}
	sorted, err := topoSortOldestFirst([]*Commit{b, a})
	if err != nil {
		t.Fatalf("topoSortOldestFirst: %v", err)
	}
	if sorted[0].Hash != "aaaa" || sorted[1].Hash != "bbbb" {
		t.Fatalf("unexpected order: %v, %v", sorted[0].Hash, sorted[1].Hash)
	}
}
