// Package types provides the core data types shared by the agent core.
package types

// Session represents a conversation session bound to a working directory.
type Session struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectID"`
	Directory string          `json:"directory"`
	ParentID  *string         `json:"parentID,omitempty"`
	ForkPoint *string         `json:"forkPoint,omitempty"` // Message ID the fork was cut at
	Title     string          `json:"title"`
	Version   string          `json:"version"`
	Summary   *SessionSummary `json:"summary,omitempty"`
	Time      SessionTime     `json:"time"`
	Revert    *RevertInfo     `json:"revert,omitempty"`

	// BypassMode disables all permission gating for this session.
	// It is only ever set at creation and never inherited by forks.
	BypassMode bool `json:"bypassMode"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ParentID != nil {
		v := *s.ParentID
		c.ParentID = &v
	}
	if s.ForkPoint != nil {
		v := *s.ForkPoint
		c.ForkPoint = &v
	}
	if s.Time.Archived != nil {
		v := *s.Time.Archived
		c.Time.Archived = &v
	}
	if s.Summary != nil {
		sum := *s.Summary
		sum.Diffs = append([]FileDiff(nil), s.Summary.Diffs...)
		c.Summary = &sum
	}
	if s.Revert != nil {
		r := *s.Revert
		c.Revert = &r
	}
	return &c
}

// SessionSummary contains statistics about the most recent turn's changes.
type SessionSummary struct {
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Files     int        `json:"files"`
	Diffs     []FileDiff `json:"diffs,omitempty"`
}

// NewSessionSummary totals a diff list into a summary.
func NewSessionSummary(diffs []FileDiff) *SessionSummary {
	sum := &SessionSummary{Files: len(diffs), Diffs: diffs}
	for _, d := range diffs {
		sum.Additions += d.Additions
		sum.Deletions += d.Deletions
	}
	return sum
}

// FileDiff represents a diff for a single file.
type FileDiff struct {
	File      string `json:"file"`
	Before    string `json:"before"`
	After     string `json:"after"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// SessionTime contains timestamps for a session, in Unix milliseconds.
type SessionTime struct {
	Created  int64  `json:"created"`
	Updated  int64  `json:"updated"`
	Archived *int64 `json:"archived,omitempty"`
}

// RevertInfo marks the position a session has been reverted to.
type RevertInfo struct {
	MessageID string  `json:"messageID"`
	PartID    *string `json:"partID,omitempty"`
	Snapshot  *string `json:"snapshot,omitempty"`
	Diff      *string `json:"diff,omitempty"`
}
