package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

func (g *gitCLI) ListCommits(branch string) ([]*Commit, error) {
	hash, ok, err := g.ResolveBranch(branch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("branch %q not found", branch)
	}
	stream, err := startGitLogStream(g.path, hash)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Close() }()

	var commits []*Commit
	for {
		commit, err := stream.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		commits = append(commits, commit)
	}
	return commits, nil
}

type gitLogStream struct {
	cancel context.CancelFunc
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	r      *bufio.Reader

	waitOnce sync.Once
	waitErr  error
}

func startGitLogStream(repoPath string, fromHash string) (*gitLogStream, error) {
	if repoPath == "" {
		return nil, fmt.Errorf("repository root not set")
	}
	fromHash = strings.TrimSpace(fromHash)
	if fromHash == "" {
		return nil, fmt.Errorf("starting commit not specified")
	}
	// NUL-delimited records; commit message cannot contain NUL.
	const format = "%H%n%T%n%P%n%an%n%ae%n%aI%n%cn%n%ce%n%cI%n%B%x00"

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(
		ctx,
		"git",
		"--no-pager",
		"-C",
		repoPath,
		"log",
		"--no-color",
		"--no-decorate",
		// Oldest first, parents before children. Merge ancestry is flattened
		// into a single linear sequence.
		"--reverse",
		"--topo-order",
		"--no-patch",
		// Use tformat to avoid git log adding an extra newline after each record.
		"--pretty=tformat:"+format,
		fromHash,
	)
	var stream gitLogStream
	stream.cancel = cancel
	stream.cmd = cmd
	cmd.Stderr = &stream.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("git log stdout: %w", err)
	}
	stream.stdout = stdout
	stream.r = bufio.NewReader(stdout)
	if err := cmd.Start(); err != nil {
		cancel()
		_ = stdout.Close()
		if stream.stderr.Len() > 0 {
			return nil, fmt.Errorf("git log start: %v: %s", err, strings.TrimSpace(stream.stderr.String()))
		}
		return nil, fmt.Errorf("git log start: %w", err)
	}
	return &stream, nil
}

func (s *gitLogStream) Next() (*Commit, error) {
	rec, err := s.r.ReadBytes(0)
	if err != nil {
		if err == io.EOF {
			if waitErr := s.wait(); waitErr != nil {
				return nil, waitErr
			}
			return nil, io.EOF
		}
		return nil, err
	}
	if len(rec) == 0 {
		return nil, io.EOF
	}
	// Strip trailing NUL.
	rec = rec[:len(rec)-1]
	// git log prints a newline between commits even when the format ends with NUL,
	// so subsequent records can start with '\n'.
	for len(rec) > 0 && (rec[0] == '\n' || rec[0] == '\r') {
		rec = rec[1:]
	}
	if len(rec) == 0 {
		return nil, fmt.Errorf("unexpected empty git log record")
	}
	commit, err := parseGitLogRecord(rec)
	if err != nil {
		return nil, err
	}
	return commit, nil
}

func (s *gitLogStream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	return s.wait()
}

func (s *gitLogStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	if s.waitErr == nil {
		return nil
	}
	if s.stderr.Len() > 0 {
		return fmt.Errorf("git log: %v: %s", s.waitErr, strings.TrimSpace(s.stderr.String()))
	}
	return fmt.Errorf("git log: %w", s.waitErr)
}

func parseGitLogRecord(rec []byte) (*Commit, error) {
	parts := strings.Split(string(rec), "\n")
	if len(parts) < 9 {
		return nil, fmt.Errorf("unexpected git log record: got %d lines", len(parts))
	}
	hashStr := strings.TrimSpace(parts[0])
	if hashStr == "" {
		return nil, fmt.Errorf("missing commit hash")
	}
	treeStr := strings.TrimSpace(parts[1])
	if treeStr == "" {
		return nil, fmt.Errorf("missing tree hash for commit %s", hashStr)
	}
	var parents []string
	parentLine := strings.TrimSpace(parts[2])
	if parentLine != "" {
		parents = append(parents, strings.Fields(parentLine)...)
	}
	authorName := parts[3]
	authorEmail := parts[4]
	// %aI/%cI carry the original timezone offset; time.Parse keeps it.
	authorWhen, err := time.Parse(time.RFC3339, parts[5])
	if err != nil {
		return nil, fmt.Errorf("parse author date of %s: %w", hashStr, err)
	}
	committerName := parts[6]
	committerEmail := parts[7]
	committerWhen, err := time.Parse(time.RFC3339, parts[8])
	if err != nil {
		return nil, fmt.Errorf("parse committer date of %s: %w", hashStr, err)
	}
	message := ""
	if len(parts) > 9 {
		message = strings.Join(parts[9:], "\n")
	}
	return &Commit{
		Hash:         hashStr,
		TreeHash:     treeStr,
		ParentHashes: parents,
		Author:       Signature{Name: authorName, Email: authorEmail, When: authorWhen},
		Committer:    Signature{Name: committerName, Email: committerEmail, When: committerWhen},
		Message:      message,
	}, nil
}
