package backend

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

func (g *gitCLI) HeadState() (hash string, headName string, ok bool, err error) {
	if g == nil || g.path == "" {
		return "", "", false, fmt.Errorf("repository root not set")
	}
	out, err := g.runGitCommand([]string{"rev-parse", "-q", "--verify", "HEAD"}, true, "git rev-parse")
	if err != nil {
		return "", "", false, err
	}
	hash = strings.TrimSpace(out)
	if hash == "" {
		return "", "", false, nil
	}
	ref, err := g.runGitCommand([]string{"symbolic-ref", "-q", "--short", "HEAD"}, true, "git symbolic-ref")
	if err != nil {
		return "", "", false, err
	}
	headName = strings.TrimSpace(ref)
	if headName == "" {
		headName = "HEAD"
	}
	return hash, headName, true, nil
}

func (g *gitCLI) LocalChangesStatus() (LocalChanges, error) {
	var res LocalChanges
	if g == nil || g.path == "" {
		return res, fmt.Errorf("repository root not set")
	}
	out, err := g.runGitCommand([]string{"status", "--porcelain=v2"}, false, "git status")
	if err != nil {
		return res, err
	}
	res, err = parseStatusPorcelainV2(strings.NewReader(out))
	if err != nil {
		return res, fmt.Errorf("parse git status: %w", err)
	}
	return res, nil
}

func parseStatusPorcelainV2(r io.Reader) (LocalChanges, error) {
	var res LocalChanges
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 2 {
			continue
		}
		switch line[0] {
		case '1', '2', 'u':
			if len(line) < 4 {
				continue
			}
			stagedState := line[2]
			worktreeState := line[3]
			if stagedState != '.' {
				res.HasStaged = true
			}
			if worktreeState != '.' && worktreeState != '?' {
				res.HasWorktree = true
			}
		default:
			// '?' untracked, '!' ignored, etc.
		}
		if res.HasWorktree && res.HasStaged {
			break
		}
	}
	return res, scanner.Err()
}

func (g *gitCLI) ResolveBranch(name string) (string, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false, fmt.Errorf("branch not specified")
	}
	out, err := g.runGitCommand(
		[]string{"rev-parse", "-q", "--verify", "refs/heads/" + name},
		true,
		"git rev-parse",
	)
	if err != nil {
		return "", false, err
	}
	hash := strings.TrimSpace(out)
	if hash == "" {
		return "", false, nil
	}
	return hash, true, nil
}

func (g *gitCLI) CheckoutDetached(commitHash string) error {
	commitHash = strings.TrimSpace(commitHash)
	if commitHash == "" {
		return fmt.Errorf("commit not specified")
	}
	_, err := g.runGitCommand(
		[]string{"checkout", "--quiet", "--detach", commitHash},
		false,
		"git checkout --detach",
	)
	return err
}

func (g *gitCLI) DeleteBranch(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("branch not specified")
	}
	_, err := g.runGitCommand([]string{"branch", "--quiet", "-D", "--", name}, false, "git branch -D")
	return err
}

func (g *gitCLI) RenameBranch(from, to string) error {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" || to == "" {
		return fmt.Errorf("branch not specified")
	}
	_, err := g.runGitCommand([]string{"branch", "-m", "--", from, to}, false, "git branch -m")
	return err
}

func (g *gitCLI) SwitchBranch(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("branch not specified")
	}
	_, err := g.runGitCommand([]string{"switch", "--", name}, false, "git switch")
	return err
}
