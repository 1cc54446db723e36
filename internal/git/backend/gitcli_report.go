package backend

import (
	"fmt"
	"strings"
)

func (g *gitCLI) SignatureReport(branch string) ([]SignatureInfo, error) {
	hash, ok, err := g.ResolveBranch(branch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("branch %q not found", branch)
	}
	// One record per line; the subject cannot contain a newline, fields are
	// NUL-separated. %G? asks git to verify each signature through gpg.
	const format = "%h%x00%G?%x00%GS%x00%GK%x00%s"
	out, err := g.runGitCommand(
		[]string{
			"--no-pager",
			"log",
			"--no-color",
			"--reverse",
			"--topo-order",
			"--pretty=tformat:" + format,
			hash,
		},
		false,
		"git log",
	)
	if err != nil {
		return nil, err
	}
	infos, err := parseSignatureReport(out)
	if err != nil {
		return nil, fmt.Errorf("parse signature report: %w", err)
	}
	return infos, nil
}

func parseSignatureReport(out string) ([]SignatureInfo, error) {
	var infos []SignatureInfo
	for _, rawLine := range strings.Split(out, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\x00", 5)
		if len(parts) != 5 {
			return nil, fmt.Errorf("unexpected log line: %q", rawLine)
		}
		status := SigStatusNone
		if s := strings.TrimSpace(parts[1]); s != "" {
			status = SigStatus(s[0])
		}
		infos = append(infos, SignatureInfo{
			ShortHash: strings.TrimSpace(parts[0]),
			Status:    status,
			Signer:    strings.TrimSpace(parts[2]),
			KeyID:     strings.TrimSpace(parts[3]),
			Subject:   parts[4],
		})
	}
	return infos, nil
}

func (g *gitCLI) CommitTreeHash(commitHash string) (string, error) {
	commitHash = strings.TrimSpace(commitHash)
	if commitHash == "" {
		return "", fmt.Errorf("commit not specified")
	}
	out, err := g.runGitCommand(
		[]string{"rev-parse", "--verify", commitHash + "^{tree}"},
		false,
		"git rev-parse",
	)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *gitCLI) TreeListing(commitHash string) ([]TreeEntry, error) {
	commitHash = strings.TrimSpace(commitHash)
	if commitHash == "" {
		return nil, fmt.Errorf("commit not specified")
	}
	out, err := g.runGitCommand(
		[]string{"ls-tree", "-r", "--full-tree", commitHash},
		false,
		"git ls-tree",
	)
	if err != nil {
		return nil, err
	}
	entries, err := parseLsTree(out)
	if err != nil {
		return nil, fmt.Errorf("parse ls-tree: %w", err)
	}
	return entries, nil
}

func parseLsTree(out string) ([]TreeEntry, error) {
	var entries []TreeEntry
	for _, rawLine := range strings.Split(out, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		// "<mode> <type> <hash>\t<path>"
		head, path, found := strings.Cut(line, "\t")
		if !found {
			return nil, fmt.Errorf("unexpected ls-tree line: %q", rawLine)
		}
		fields := strings.Fields(head)
		if len(fields) != 3 {
			return nil, fmt.Errorf("unexpected ls-tree line: %q", rawLine)
		}
		entries = append(entries, TreeEntry{Mode: fields[0], Hash: fields[2], Path: path})
	}
	return entries, nil
}
