package git

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/thiagokokada/git-resign/internal/git/backend"
)

// TreeMismatch reports a rewritten commit whose tree differs from its source.
// With both backends the tree is copied wholesale, so a mismatch means the
// repository changed under the run or the backend misbehaved.
type TreeMismatch struct {
	Index      int
	SourceHash string
	NewHash    string
	Diff       string
}

// VerifyResult is the operator-facing report produced between the rewrite
// and the swap.
type VerifyResult struct {
	Rows           []backend.SignatureInfo
	TreeMismatches []TreeMismatch
	MetadataIssues []string
}

// OK reports whether every commit is signed, tree-equal to its source and
// carries the source metadata verbatim.
func (r *VerifyResult) OK() bool {
	if len(r.TreeMismatches) > 0 || len(r.MetadataIssues) > 0 {
		return false
	}
	for _, row := range r.Rows {
		if !row.Status.Signed() {
			return false
		}
	}
	return true
}

// Render writes the report as text for operator inspection.
func (r *VerifyResult) Render(w io.Writer) {
	for _, row := range r.Rows {
		signer := row.Signer
		if signer == "" {
			signer = "-"
		}
		fmt.Fprintf(w, "%s  %-24s  %-20s  %s\n", row.ShortHash, row.Status, signer, row.Subject)
	}
	for _, m := range r.TreeMismatches {
		fmt.Fprintf(w, "\ntree mismatch at commit %d (%s -> %s):\n%s",
			m.Index+1, shortHash(m.SourceHash), shortHash(m.NewHash), m.Diff)
	}
	for _, issue := range r.MetadataIssues {
		fmt.Fprintf(w, "metadata mismatch: %s\n", issue)
	}
	if r.OK() {
		fmt.Fprintf(w, "\nall %d commits signed, trees and metadata match\n", len(r.Rows))
	}
}

// Verify builds the verification report for the rewritten work branch:
// signature status per commit in ancestry order, tree equality against each
// source commit and verbatim-metadata checks. Read-only; the decision to
// proceed stays with the operator (or the caller's confirmation policy).
func (s *Service) Verify() (*VerifyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rewritten) == 0 {
		return nil, fmt.Errorf("nothing rewritten; run Rewrite first")
	}

	rows, err := s.backend.SignatureReport(s.opts.WorkBranch)
	if err != nil {
		return nil, err
	}
	result := &VerifyResult{Rows: rows}

	if len(rows) != len(s.rewritten) {
		result.MetadataIssues = append(result.MetadataIssues, fmt.Sprintf(
			"work branch has %d commits, expected %d", len(rows), len(s.rewritten)))
	}

	for i, src := range s.commits {
		if i >= len(s.rewritten) {
			break
		}
		mismatch, err := s.compareTrees(i, src, s.rewritten[i])
		if err != nil {
			return nil, err
		}
		if mismatch != nil {
			result.TreeMismatches = append(result.TreeMismatches, *mismatch)
		}
	}

	issues, err := s.compareMetadata()
	if err != nil {
		return nil, err
	}
	result.MetadataIssues = append(result.MetadataIssues, issues...)
	return result, nil
}

func (s *Service) compareTrees(index int, src *backend.Commit, newHash string) (*TreeMismatch, error) {
	newTree, err := s.backend.CommitTreeHash(newHash)
	if err != nil {
		return nil, err
	}
	if newTree == src.TreeHash {
		return nil, nil
	}
	diff, err := s.treeDiff(src.Hash, newHash)
	if err != nil {
		return nil, err
	}
	return &TreeMismatch{Index: index, SourceHash: src.Hash, NewHash: newHash, Diff: diff}, nil
}

// treeDiff renders a unified diff of the two recursive tree listings so the
// operator can see which paths diverged, not only that the tree hashes do.
func (s *Service) treeDiff(sourceHash, newHash string) (string, error) {
	sourceEntries, err := s.backend.TreeListing(sourceHash)
	if err != nil {
		return "", err
	}
	newEntries, err := s.backend.TreeListing(newHash)
	if err != nil {
		return "", err
	}
	ud := difflib.UnifiedDiff{
		A:        treeLines(sourceEntries),
		B:        treeLines(newEntries),
		FromFile: "source/" + shortHash(sourceHash),
		ToFile:   "rewritten/" + shortHash(newHash),
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", err
	}
	return text, nil
}

func treeLines(entries []backend.TreeEntry) []string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.String()+"\n")
	}
	return lines
}

// compareMetadata re-reads the work branch and checks author identity,
// author date (instant and timezone offset) and the full message of every
// rewritten commit against its source, verbatim.
func (s *Service) compareMetadata() ([]string, error) {
	rewritten, err := s.backend.ListCommits(s.opts.WorkBranch)
	if err != nil {
		return nil, err
	}
	var issues []string
	n := len(s.commits)
	if len(rewritten) < n {
		n = len(rewritten)
	}
	for i := 0; i < n; i++ {
		src, got := s.commits[i], rewritten[i]
		if got.Author.Name != src.Author.Name || got.Author.Email != src.Author.Email {
			issues = append(issues, fmt.Sprintf(
				"%s: author %q <%s>, want %q <%s>",
				got.ShortHash(), got.Author.Name, got.Author.Email, src.Author.Name, src.Author.Email))
		}
		if !sameInstantAndOffset(got.Author.When, src.Author.When) {
			issues = append(issues, fmt.Sprintf(
				"%s: author date %s, want %s",
				got.ShortHash(), got.Author.When.Format(time.RFC3339), src.Author.When.Format(time.RFC3339)))
		}
		if normalizeMessage(got.Message) != normalizeMessage(src.Message) {
			issues = append(issues, fmt.Sprintf("%s: message differs from %s", got.ShortHash(), src.ShortHash()))
		}
		if i > 0 && len(got.ParentHashes) != 1 {
			issues = append(issues, fmt.Sprintf("%s: expected exactly one parent, got %d",
				got.ShortHash(), len(got.ParentHashes)))
		}
	}
	return issues, nil
}

func sameInstantAndOffset(a, b time.Time) bool {
	if !a.Equal(b) {
		return false
	}
	_, aOff := a.Zone()
	_, bOff := b.Zone()
	return aOff == bOff
}

// normalizeMessage strips the single trailing newline git appends to every
// stored message so the comparison is about content, not the final
// terminator.
func normalizeMessage(message string) string {
	return strings.TrimSuffix(message, "\n")
}
