package backend

import (
	"fmt"
	"io"
	"sort"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func (n *native) ListCommits(branch string) ([]*Commit, error) {
	objs, err := n.reachableCommits(branch)
	if err != nil {
		return nil, err
	}
	commits := make([]*Commit, 0, len(objs))
	for _, c := range objs {
		commits = append(commits, convertCommit(c))
	}
	return topoSortOldestFirst(commits)
}

// reachableCommits collects every commit reachable from the branch tip into a
// snapshot slice. Order is whatever go-git's iterator yields; callers sort.
func (n *native) reachableCommits(branch string) ([]*object.Commit, error) {
	hash, ok, err := n.ResolveBranch(branch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("branch %q not found", branch)
	}
	iter, err := n.repo.Log(&gitlib.LogOptions{From: plumbing.NewHash(hash)})
	if err != nil {
		return nil, fmt.Errorf("read commits: %w", err)
	}
	defer iter.Close()

	var commits []*object.Commit
	for {
		commit, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("iterate commits: %w", err)
		}
		commits = append(commits, commit)
	}
	return commits, nil
}

func convertCommit(c *object.Commit) *Commit {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return &Commit{
		Hash:         c.Hash.String(),
		TreeHash:     c.TreeHash.String(),
		ParentHashes: parents,
		Author:       Signature{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When},
		Committer:    Signature{Name: c.Committer.Name, Email: c.Committer.Email, When: c.Committer.When},
		Message:      c.Message,
	}
}

// topoSortOldestFirst orders commits so every parent precedes its children,
// matching git log --reverse --topo-order closely enough for the rewrite
// loop: the exact order among independent commits is resolved by committer
// time, then hash, so runs are deterministic.
func topoSortOldestFirst(commits []*Commit) ([]*Commit, error) {
	byHash := make(map[string]*Commit, len(commits))
	for _, c := range commits {
		byHash[c.Hash] = c
	}
	// Pending in-set parent count per commit; parents outside the reachable
	// set (shallow clones) are ignored.
	pending := make(map[string]int, len(commits))
	children := make(map[string][]string, len(commits))
	for _, c := range commits {
		count := 0
		for _, p := range c.ParentHashes {
			if _, ok := byHash[p]; ok {
				count++
				children[p] = append(children[p], c.Hash)
			}
		}
		pending[c.Hash] = count
	}

	ready := make([]*Commit, 0, len(commits))
	for _, c := range commits {
		if pending[c.Hash] == 0 {
			ready = append(ready, c)
		}
	}

	sorted := make([]*Commit, 0, len(commits))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			a, b := ready[i], ready[j]
			if !a.Committer.When.Equal(b.Committer.When) {
				return a.Committer.When.Before(b.Committer.When)
			}
			return a.Hash < b.Hash
		})
		next := ready[0]
		ready = ready[1:]
		sorted = append(sorted, next)
		for _, childHash := range children[next.Hash] {
			pending[childHash]--
			if pending[childHash] == 0 {
				ready = append(ready, byHash[childHash])
			}
		}
	}
	if len(sorted) != len(commits) {
		return nil, fmt.Errorf("commit graph contains a cycle: sorted %d of %d", len(sorted), len(commits))
	}
	return sorted, nil
}
