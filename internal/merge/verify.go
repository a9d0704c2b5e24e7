package merge

import (
	"fmt"
	"strings"
)

// Mediator statuses.
const (
	StatusResolved = "RESOLVED"
	StatusFailed   = "FAILED"
)

// minHashLen is the shortest commit hash accepted from the mediator.
const minHashLen = 7

// Report is what the mediator says it did.
type Report struct {
	Status     string
	Message    string
	CommitHash string
}

// PostState is the repository as found after the mediator finished.
type PostState struct {
	// MarkerFiles still contain conflict markers.
	MarkerFiles []string
	// Unresolved are paths git still considers unmerged.
	Unresolved []string
	// PreMergeHead is HEAD before the branch was merged.
	PreMergeHead string
	// Head is HEAD after the mediator finished.
	Head string
	// ReportedCommit is the full hash Report.CommitHash resolves to, or
	// empty when it names no commit.
	ReportedCommit string
	// MergeInProgress reports that MERGE_HEAD still exists.
	MergeInProgress bool
}

// Verdict is the verified outcome of a mediation.
type Verdict struct {
	Resolved bool
	Reason   string
}

// Verify decides whether a mediation succeeded. It depends only on its
// arguments: the mediator's claim counts for nothing unless the repository
// agrees.
func Verify(post PostState, r Report) Verdict {
	if r.Status != StatusResolved {
		reason := "mediator reported " + orNone(r.Status)
		if r.Message != "" {
			reason += ": " + r.Message
		}
		return Verdict{Reason: reason}
	}
	if len(post.MarkerFiles) > 0 {
		return Verdict{Reason: "conflict markers remain in " + strings.Join(post.MarkerFiles, ", ")}
	}
	if len(post.Unresolved) > 0 {
		return Verdict{Reason: "unmerged paths remain: " + strings.Join(post.Unresolved, ", ")}
	}
	if len(strings.TrimSpace(r.CommitHash)) < minHashLen {
		return Verdict{Reason: fmt.Sprintf("reported commit hash %q is missing or too short", r.CommitHash)}
	}
	if post.ReportedCommit == "" {
		return Verdict{Reason: fmt.Sprintf("reported commit %s not found in history", r.CommitHash)}
	}
	if post.ReportedCommit != post.Head {
		return Verdict{Reason: fmt.Sprintf("reported commit %s is not HEAD", r.CommitHash)}
	}
	if post.Head == post.PreMergeHead {
		return Verdict{Reason: "no merge commit was created"}
	}
	if post.MergeInProgress {
		return Verdict{Reason: "merge still in progress (MERGE_HEAD present)"}
	}
	return Verdict{Resolved: true}
}

func orNone(s string) string {
	if s == "" {
		return "no status"
	}
	return s
}
