package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func (n *native) SignatureReport(branch string) ([]SignatureInfo, error) {
	objs, err := n.reachableCommits(branch)
	if err != nil {
		return nil, err
	}
	byHash := make(map[string]*object.Commit, len(objs))
	converted := make([]*Commit, 0, len(objs))
	for _, c := range objs {
		byHash[c.Hash.String()] = c
		converted = append(converted, convertCommit(c))
	}
	ordered, err := topoSortOldestFirst(converted)
	if err != nil {
		return nil, err
	}

	keyring := ""
	if n.sgn != nil {
		keyring, err = n.sgn.ArmoredPublicKey()
		if err != nil {
			return nil, fmt.Errorf("verification keyring: %w", err)
		}
	}

	infos := make([]SignatureInfo, 0, len(ordered))
	for _, c := range ordered {
		infos = append(infos, verifyCommit(byHash[c.Hash], keyring))
	}
	return infos, nil
}

func verifyCommit(c *object.Commit, armoredKeyRing string) SignatureInfo {
	info := SignatureInfo{
		ShortHash: c.Hash.String()[:7],
		Subject:   firstLine(c.Message),
		Status:    SigStatusNone,
	}
	if c.PGPSignature == "" {
		return info
	}
	if armoredKeyRing == "" {
		info.Status = SigStatusCannotCheck
		return info
	}
	entity, err := c.Verify(armoredKeyRing)
	if err != nil {
		info.Status = SigStatusBad
		return info
	}
	info.Status = SigStatusGood
	if entity != nil {
		if entity.PrimaryKey != nil {
			info.KeyID = entity.PrimaryKey.KeyIdString()
		}
		for _, id := range entity.Identities {
			info.Signer = id.Name
			break
		}
	}
	return info
}

func firstLine(message string) string {
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		return message[:idx]
	}
	return message
}

func (n *native) CommitTreeHash(commitHash string) (string, error) {
	commitHash = strings.TrimSpace(commitHash)
	if commitHash == "" {
		return "", fmt.Errorf("commit not specified")
	}
	commit, err := object.GetCommit(n.repo.Storer, plumbing.NewHash(commitHash))
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", commitHash, err)
	}
	return commit.TreeHash.String(), nil
}

func (n *native) TreeListing(commitHash string) ([]TreeEntry, error) {
	commitHash = strings.TrimSpace(commitHash)
	if commitHash == "" {
		return nil, fmt.Errorf("commit not specified")
	}
	commit, err := object.GetCommit(n.repo.Storer, plumbing.NewHash(commitHash))
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", commitHash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", commitHash, err)
	}
	var entries []TreeEntry
	err = tree.Files().ForEach(func(f *object.File) error {
		entries = append(entries, TreeEntry{
			Mode: fmt.Sprintf("%06o", uint32(f.Mode)),
			Hash: f.Hash.String(),
			Path: f.Name,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tree of %s: %w", commitHash, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
