package backend

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	gitlib "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func (n *native) BeginRewrite(workBranch string) (RewriteSession, error) {
	workBranch = strings.TrimSpace(workBranch)
	if workBranch == "" {
		return nil, fmt.Errorf("work branch not specified")
	}
	if _, exists, err := n.ResolveBranch(workBranch); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("work branch %q already exists", workBranch)
	}
	if n.sgn == nil {
		return nil, fmt.Errorf("native backend requires a signing key")
	}
	entity, err := n.sgn.Entity()
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	committer, err := n.committerIdentity()
	if err != nil {
		return nil, err
	}
	// Commits are grafted directly into the object store; the work branch ref
	// appears with the first Rewrite call and the first commit has no parent.
	return &nativeRewriteSession{
		repo:      n.repo,
		ref:       plumbing.NewBranchReferenceName(workBranch),
		entity:    entity,
		committer: committer,
		now:       time.Now,
	}, nil
}

func (n *native) committerIdentity() (Signature, error) {
	cfg, err := n.repo.ConfigScoped(gitconfig.SystemScope)
	if err != nil {
		return Signature{}, fmt.Errorf("read git config: %w", err)
	}
	if cfg.User.Name == "" || cfg.User.Email == "" {
		return Signature{}, fmt.Errorf("committer identity not configured (user.name / user.email)")
	}
	return Signature{Name: cfg.User.Name, Email: cfg.User.Email}, nil
}

type nativeRewriteSession struct {
	repo      *gitlib.Repository
	ref       plumbing.ReferenceName
	entity    *openpgp.Entity
	committer Signature
	tip       string
	now       func() time.Time
}

func (s *nativeRewriteSession) Rewrite(src *Commit) (string, error) {
	if src == nil || strings.TrimSpace(src.TreeHash) == "" {
		return "", fmt.Errorf("source commit not specified")
	}
	commit := &object.Commit{
		Author: object.Signature{
			Name:  src.Author.Name,
			Email: src.Author.Email,
			When:  src.Author.When,
		},
		Committer: object.Signature{
			Name:  s.committer.Name,
			Email: s.committer.Email,
			When:  s.now(),
		},
		Message:  src.Message,
		TreeHash: plumbing.NewHash(src.TreeHash),
	}
	if s.tip != "" {
		commit.ParentHashes = []plumbing.Hash{plumbing.NewHash(s.tip)}
	}

	signature, err := signCommit(commit, s.entity)
	if err != nil {
		return "", fmt.Errorf("sign commit for %s: %w", src.ShortHash(), err)
	}
	commit.PGPSignature = signature

	obj := s.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return "", fmt.Errorf("encode commit for %s: %w", src.ShortHash(), err)
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("store commit for %s: %w", src.ShortHash(), err)
	}
	if err := s.repo.Storer.SetReference(plumbing.NewHashReference(s.ref, hash)); err != nil {
		return "", fmt.Errorf("update %s: %w", s.ref.Short(), err)
	}
	s.tip = hash.String()
	return s.tip, nil
}

// signCommit produces an armored detached signature over the commit payload,
// the same payload git hashes: the encoded commit without its signature.
func signCommit(commit *object.Commit, entity *openpgp.Entity) (string, error) {
	encoded := &plumbing.MemoryObject{}
	if err := commit.EncodeWithoutSignature(encoded); err != nil {
		return "", err
	}
	r, err := encoded.Reader()
	if err != nil {
		return "", err
	}
	var b bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&b, entity, r, nil); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (s *nativeRewriteSession) Tip() string { return s.tip }

func (s *nativeRewriteSession) Close() error { return nil }
