package backend

import "time"

type Signature struct {
	Name  string
	Email string
	When  time.Time
}

type Commit struct {
	Hash         string
	TreeHash     string
	ParentHashes []string
	Author       Signature
	Committer    Signature
	Message      string
}

// ShortHash returns the abbreviated commit hash used in reports.
func (c *Commit) ShortHash() string {
	if len(c.Hash) < 7 {
		return c.Hash
	}
	return c.Hash[:7]
}

// IsMerge reports whether the commit has more than one parent.
func (c *Commit) IsMerge() bool {
	return len(c.ParentHashes) > 1
}

// Subject returns the first line of the commit message.
func (c *Commit) Subject() string {
	for i := 0; i < len(c.Message); i++ {
		if c.Message[i] == '\n' {
			return c.Message[:i]
		}
	}
	return c.Message
}

type LocalChanges struct {
	HasWorktree bool
	HasStaged   bool
}

// Clean reports whether the working tree matches HEAD for tracked files.
func (lc LocalChanges) Clean() bool {
	return !lc.HasWorktree && !lc.HasStaged
}

// SigStatus mirrors the one-letter signature status git prints for %G?.
type SigStatus byte

const (
	SigStatusGood        SigStatus = 'G'
	SigStatusBad         SigStatus = 'B'
	SigStatusUnknownKey  SigStatus = 'U'
	SigStatusExpired     SigStatus = 'X'
	SigStatusExpiredKey  SigStatus = 'Y'
	SigStatusRevoked     SigStatus = 'R'
	SigStatusCannotCheck SigStatus = 'E'
	SigStatusNone        SigStatus = 'N'
)

func (s SigStatus) String() string {
	switch s {
	case SigStatusGood:
		return "good"
	case SigStatusBad:
		return "bad"
	case SigStatusUnknownKey:
		return "good (unknown validity)"
	case SigStatusExpired:
		return "good (expired)"
	case SigStatusExpiredKey:
		return "good (expired key)"
	case SigStatusRevoked:
		return "good (revoked key)"
	case SigStatusCannotCheck:
		return "cannot check"
	case SigStatusNone:
		return "unsigned"
	}
	return "unknown"
}

// Signed reports whether a signature is present, valid or not.
func (s SigStatus) Signed() bool {
	return s != SigStatusNone
}

// SignatureInfo is one row of the verification report, in ancestry order.
type SignatureInfo struct {
	ShortHash string
	Status    SigStatus
	Signer    string
	KeyID     string
	Subject   string
}

// TreeEntry is one row of a recursive tree listing: mode, object hash and path.
type TreeEntry struct {
	Mode string
	Hash string
	Path string
}

func (e TreeEntry) String() string {
	return e.Mode + " " + e.Hash + "\t" + e.Path
}
