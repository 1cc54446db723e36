package backend

import (
	"fmt"
	"strings"
	"time"
)

func (g *gitCLI) BeginRewrite(workBranch string) (RewriteSession, error) {
	workBranch = strings.TrimSpace(workBranch)
	if workBranch == "" {
		return nil, fmt.Errorf("work branch not specified")
	}
	if _, exists, err := g.ResolveBranch(workBranch); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("work branch %q already exists", workBranch)
	}
	// An orphan checkout keeps the previous index and working tree; clearing
	// tracked files leaves the first rewritten commit with an exact tree and
	// no parent. Untracked files are left alone.
	if _, err := g.runGitCommand(
		[]string{"checkout", "--quiet", "--orphan", workBranch},
		false,
		"git checkout --orphan",
	); err != nil {
		return nil, err
	}
	if err := g.clearTracked(); err != nil {
		return nil, err
	}
	return &cliRewriteSession{repo: g}, nil
}

func (g *gitCLI) clearTracked() error {
	_, err := g.runGitCommand(
		[]string{"rm", "-r", "-f", "--quiet", "--ignore-unmatch", "--", "."},
		false,
		"git rm",
	)
	return err
}

type cliRewriteSession struct {
	repo *gitCLI
	tip  string
}

func (s *cliRewriteSession) Rewrite(src *Commit) (string, error) {
	if src == nil || strings.TrimSpace(src.Hash) == "" {
		return "", fmt.Errorf("source commit not specified")
	}
	// Full-tree materialization, not a patch: clear tracked files first so
	// deletions in src are reflected, then check out src's entire tree into
	// the index and working directory.
	if err := s.repo.clearTracked(); err != nil {
		return "", err
	}
	if _, err := s.repo.runGitCommand(
		[]string{"checkout", "--quiet", src.Hash, "--", "."},
		false,
		"git checkout <commit> -- .",
	); err != nil {
		return "", err
	}
	if _, err := s.repo.runGitCommand([]string{"add", "--all"}, false, "git add"); err != nil {
		return "", err
	}

	signFlag := "-S"
	if s.repo.sgn != nil && s.repo.sgn.KeyID() != "" {
		signFlag = "-S" + s.repo.sgn.KeyID()
	}
	args := []string{
		"commit",
		"--quiet",
		"--allow-empty",
		"--allow-empty-message",
		// The original message must survive byte for byte, including
		// trailing blank lines.
		"--cleanup=verbatim",
		signFlag,
		"--author=" + fmt.Sprintf("%s <%s>", src.Author.Name, src.Author.Email),
		"--date=" + src.Author.When.Format(time.RFC3339),
		"-F", "-",
	}
	// gpg may prompt for a passphrase here; the run blocks until answered.
	if err := s.repo.runGitInteractive(args, strings.NewReader(src.Message), "git commit"); err != nil {
		return "", err
	}

	out, err := s.repo.runGitCommand([]string{"rev-parse", "--verify", "HEAD"}, false, "git rev-parse")
	if err != nil {
		return "", err
	}
	hash := strings.TrimSpace(out)
	if hash == "" {
		return "", fmt.Errorf("git rev-parse returned empty hash after commit")
	}
	s.tip = hash
	return hash, nil
}

func (s *cliRewriteSession) Tip() string { return s.tip }

func (s *cliRewriteSession) Close() error { return nil }
