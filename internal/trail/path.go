package trail

import (
	"fmt"

	"drawdown/internal/domain"
)

type step struct {
	from   domain.Status
	action domain.TrailAction
	to     domain.Status
}

const none domain.Status = ""

var transitions = []step{
	{none, domain.TrailCreated, domain.StatusDraft},
	{domain.StatusDraft, domain.TrailSubmitted, domain.StatusSubmitted},
	{domain.StatusReturnedToRM, domain.TrailResubmitted, domain.StatusSubmitted},
	{domain.StatusSubmitted, domain.TrailLocked, domain.StatusUnderReview},
	{domain.StatusUnderReview, domain.TrailLocked, domain.StatusUnderReview}, // re-lock after release or lapse
	{domain.StatusUnderReview, domain.TrailReleased, domain.StatusUnderReview},
	{domain.StatusUnderReview, domain.TrailReturned, domain.StatusReturnedToRM},
	{domain.StatusUnderReview, domain.TrailApproved, domain.StatusApproved},
	{domain.StatusUnderReview, domain.TrailRejected, domain.StatusRejected},
}

// Allowed reports whether the workflow permits action to move a report from prev to next.
// A nil prev stands for a report that does not exist yet.
func Allowed(prev *domain.Status, action domain.TrailAction, next domain.Status) bool {
	from := none
	if prev != nil {
		from = *prev
	}
	want := step{from, action, next}
	for _, t := range transitions {
		if t == want {
			return true
		}
	}
	return false
}

// Verify checks that entries, in sequence order, form a path through the workflow.
func Verify(entries []domain.TrailEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("empty trail")
	}
	if entries[0].Action != domain.TrailCreated || entries[0].PreviousStatus != nil {
		return fmt.Errorf("trail must start with %s, got %s", domain.TrailCreated, entries[0].Action)
	}
	for i, e := range entries {
		if e.Seq != i+1 {
			return fmt.Errorf("entry %d has seq %d", i+1, e.Seq)
		}
		if i > 0 {
			prior := entries[i-1].NewStatus
			if e.PreviousStatus == nil || *e.PreviousStatus != prior {
				return fmt.Errorf("entry %d: previous status %s contradicts prior new status %s", e.Seq, statusOrNone(e.PreviousStatus), prior)
			}
		}
		if !Allowed(e.PreviousStatus, e.Action, e.NewStatus) {
			return fmt.Errorf("entry %d: %s -> %s via %s is not a workflow transition", e.Seq, statusOrNone(e.PreviousStatus), e.NewStatus, e.Action)
		}
	}
	return nil
}

func statusOrNone(s *domain.Status) string {
	if s == nil {
		return "none"
	}
	return string(*s)
}
