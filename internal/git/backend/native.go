package backend

import (
	"fmt"
	"path/filepath"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/thiagokokada/git-resign/internal/signer"
)

type native struct {
	repo *gitlib.Repository
	path string
	sgn  signer.Signer
}

// OpenNative opens the repository at repoPath through go-git. The native
// backend rebuilds commits at the object level and only touches the working
// tree on the final checkout, so it never shells out and never prompts; it
// requires a Signer with private key material.
func OpenNative(repoPath string, sgn signer.Signer) (Backend, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	repo, err := gitlib.PlainOpenWithOptions(abs, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	root := abs
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}
	return &native{repo: repo, path: root, sgn: sgn}, nil
}

// newNative wraps an already opened repository. Used by tests running
// against in-memory storage.
func newNative(repo *gitlib.Repository, sgn signer.Signer) *native {
	return &native{repo: repo, sgn: sgn}
}

func (n *native) RepoPath() string {
	if n == nil {
		return ""
	}
	return n.path
}

func (n *native) HeadState() (hash string, headName string, ok bool, err error) {
	if n == nil || n.repo == nil {
		return "", "", false, fmt.Errorf("repository not initialized")
	}
	ref, err := n.repo.Head()
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("resolve HEAD: %w", err)
	}
	headName = "HEAD"
	if sym, symErr := n.repo.Reference(plumbing.HEAD, false); symErr == nil && sym.Type() == plumbing.SymbolicReference {
		headName = sym.Target().Short()
	}
	return ref.Hash().String(), headName, true, nil
}

func (n *native) LocalChangesStatus() (LocalChanges, error) {
	var res LocalChanges
	if n == nil || n.repo == nil {
		return res, fmt.Errorf("repository not initialized")
	}
	wt, err := n.repo.Worktree()
	if err != nil {
		return res, err
	}
	status, err := wt.Status()
	if err != nil {
		return res, fmt.Errorf("worktree status: %w", err)
	}
	for _, st := range status {
		if st.Staging != gitlib.Unmodified && st.Staging != gitlib.Untracked {
			res.HasStaged = true
		}
		if st.Worktree != gitlib.Unmodified && st.Worktree != gitlib.Untracked {
			res.HasWorktree = true
		}
		if res.HasWorktree && res.HasStaged {
			break
		}
	}
	return res, nil
}

func (n *native) ResolveBranch(name string) (string, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false, fmt.Errorf("branch not specified")
	}
	ref, err := n.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("resolve branch %s: %w", name, err)
	}
	return ref.Hash().String(), true, nil
}

func (n *native) CheckoutDetached(commitHash string) error {
	commitHash = strings.TrimSpace(commitHash)
	if commitHash == "" {
		return fmt.Errorf("commit not specified")
	}
	wt, err := n.repo.Worktree()
	if err != nil {
		return err
	}
	if err := wt.Checkout(&gitlib.CheckoutOptions{
		Hash:  plumbing.NewHash(commitHash),
		Force: true,
	}); err != nil {
		return fmt.Errorf("checkout %s: %w", commitHash, err)
	}
	return nil
}

func (n *native) DeleteBranch(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("branch not specified")
	}
	refName := plumbing.NewBranchReferenceName(name)
	if _, err := n.repo.Reference(refName, false); err != nil {
		return fmt.Errorf("delete branch %s: %w", name, err)
	}
	if err := n.repo.Storer.RemoveReference(refName); err != nil {
		return fmt.Errorf("delete branch %s: %w", name, err)
	}
	return nil
}

func (n *native) RenameBranch(from, to string) error {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" || to == "" {
		return fmt.Errorf("branch not specified")
	}
	fromRef := plumbing.NewBranchReferenceName(from)
	toRef := plumbing.NewBranchReferenceName(to)
	ref, err := n.repo.Reference(fromRef, true)
	if err != nil {
		return fmt.Errorf("rename branch %s: %w", from, err)
	}
	if _, err := n.repo.Reference(toRef, false); err == nil {
		return fmt.Errorf("rename branch: %s already exists", to)
	}
	if err := n.repo.Storer.SetReference(plumbing.NewHashReference(toRef, ref.Hash())); err != nil {
		return fmt.Errorf("rename branch %s: %w", from, err)
	}
	// Keep a symbolic HEAD pointing at the old name in step, the way
	// git branch -m does.
	if head, headErr := n.repo.Reference(plumbing.HEAD, false); headErr == nil &&
		head.Type() == plumbing.SymbolicReference && head.Target() == fromRef {
		if err := n.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, toRef)); err != nil {
			return fmt.Errorf("rename branch %s: %w", from, err)
		}
	}
	if err := n.repo.Storer.RemoveReference(fromRef); err != nil {
		return fmt.Errorf("rename branch %s: %w", from, err)
	}
	return nil
}

func (n *native) SwitchBranch(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("branch not specified")
	}
	wt, err := n.repo.Worktree()
	if err != nil {
		return err
	}
	if err := wt.Checkout(&gitlib.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Force:  true,
	}); err != nil {
		return fmt.Errorf("switch branch %s: %w", name, err)
	}
	return nil
}
