package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"drawdown/internal/blob"
	"drawdown/internal/domain"
	"drawdown/internal/repo"
)

// ReportDetail is a report with everything a reviewer reads alongside it.
type ReportDetail struct {
	Report      domain.Report         `json:"report"`
	Facility    domain.Facility       `json:"facility"`
	Attachments []domain.Attachment   `json:"attachments"`
	Comments    []*domain.CommentNode `json:"comments"`
	Trail       []domain.TrailEntry   `json:"trail"`
	LockActive  bool                  `json:"lock_active"`
}

// GetReport has no side effects; an expired lock is reported as-is and only
// treated as absent by the lock checks.
func (e Engine) GetReport(ctx context.Context, actor domain.Actor, reportID string) (domain.Report, error) {
	return e.load(ctx, actor, domain.ActionRead, reportID)
}

func (e Engine) GetReportDetail(ctx context.Context, actor domain.Actor, reportID string) (ReportDetail, error) {
	rep, err := e.load(ctx, actor, domain.ActionRead, reportID)
	if err != nil {
		return ReportDetail{}, err
	}
	d := ReportDetail{Report: rep, LockActive: e.locks().IsHeld(&rep)}
	if d.Facility, err = e.Facilities.GetFacilityByIBPS(ctx, rep.IBPSNumber); err != nil {
		return ReportDetail{}, err
	}
	if d.Attachments, err = e.Repo.ListAttachments(ctx, rep.ID); err != nil {
		return ReportDetail{}, err
	}
	comments, err := e.Repo.ListComments(ctx, rep.ID)
	if err != nil {
		return ReportDetail{}, err
	}
	d.Comments = domain.BuildCommentTree(comments)
	if d.Trail, err = e.Repo.ListTrail(ctx, rep.ID); err != nil {
		return ReportDetail{}, err
	}
	return d, nil
}

// ListReportsByStatus returns reports in any of the given statuses, most
// recently submitted first.
func (e Engine) ListReportsByStatus(ctx context.Context, actor domain.Actor, statuses ...domain.Status) ([]domain.Report, error) {
	if err := e.authorize(actor, domain.ActionRead); err != nil {
		return nil, err
	}
	for _, s := range statuses {
		if !s.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, s)
		}
	}
	return e.Repo.ListReports(ctx, repo.ReportFilter{Status: statuses, SortBySubmitted: true})
}

// ListReportsForActor is the actor's work queue: an RM sees their own reports,
// a QS sees the review pool plus anything they currently hold, and other
// roles see everything.
func (e Engine) ListReportsForActor(ctx context.Context, actor domain.Actor) ([]domain.Report, error) {
	if err := e.authorize(actor, domain.ActionRead); err != nil {
		return nil, err
	}
	switch actor.Role {
	case domain.RoleRM:
		return e.Repo.ListReports(ctx, repo.ReportFilter{RMUserID: actor.ID})
	case domain.RoleQS:
		reps, err := e.Repo.ListReports(ctx, repo.ReportFilter{
			Status:          []domain.Status{domain.StatusSubmitted, domain.StatusUnderReview},
			SortBySubmitted: true,
		})
		if err != nil {
			return nil, err
		}
		locks := e.locks()
		res := reps[:0]
		for _, r := range reps {
			if holder, ok := locks.HolderOf(&r); ok && holder != actor.ID {
				continue
			}
			res = append(res, r)
		}
		return res, nil
	default:
		return e.Repo.ListReports(ctx, repo.ReportFilter{})
	}
}

func (e Engine) Trail(ctx context.Context, actor domain.Actor, reportID string) ([]domain.TrailEntry, error) {
	if _, err := e.load(ctx, actor, domain.ActionRead, reportID); err != nil {
		return nil, err
	}
	return e.Repo.ListTrail(ctx, reportID)
}

func (e Engine) Comments(ctx context.Context, actor domain.Actor, reportID string) ([]*domain.CommentNode, error) {
	if _, err := e.load(ctx, actor, domain.ActionRead, reportID); err != nil {
		return nil, err
	}
	comments, err := e.Repo.ListComments(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return domain.BuildCommentTree(comments), nil
}

func (e Engine) Attachment(ctx context.Context, actor domain.Actor, attachmentID string) (domain.Attachment, error) {
	if err := e.authorize(actor, domain.ActionRead); err != nil {
		return domain.Attachment{}, err
	}
	return e.Repo.GetAttachment(ctx, attachmentID)
}

// OpenAttachment streams attachment content. The caller closes the reader.
func (e Engine) OpenAttachment(ctx context.Context, actor domain.Actor, attachmentID string) (domain.Attachment, io.ReadCloser, error) {
	a, err := e.Attachment(ctx, actor, attachmentID)
	if err != nil {
		return a, nil, err
	}
	if e.Blobs == nil {
		return a, nil, fmt.Errorf("%w: attachment storage is not configured", domain.ErrUnavailable)
	}
	rc, err := e.Blobs.Open(ctx, a.Locator)
	if errors.Is(err, blob.ErrNotFound) {
		return a, nil, fmt.Errorf("%w: content for attachment %s", domain.ErrNotFound, a.ID)
	}
	if err != nil {
		return a, nil, fmt.Errorf("%w: open attachment %s: %v", domain.ErrUnavailable, a.ID, err)
	}
	return a, rc, nil
}

// IsHeld reports whether the report carries an unexpired review lock.
func (e Engine) IsHeld(ctx context.Context, reportID string) (bool, error) {
	rep, err := e.Repo.GetReport(ctx, reportID)
	if err != nil {
		return false, err
	}
	return e.locks().IsHeld(&rep), nil
}

// HolderOf returns the live lock holder, or "" when the report is unlocked.
func (e Engine) HolderOf(ctx context.Context, reportID string) (string, error) {
	rep, err := e.Repo.GetReport(ctx, reportID)
	if err != nil {
		return "", err
	}
	holder, _ := e.locks().HolderOf(&rep)
	return holder, nil
}

func (e Engine) Facility(ctx context.Context, actor domain.Actor, ibps string) (domain.Facility, error) {
	if err := e.authorize(actor, domain.ActionRead); err != nil {
		return domain.Facility{}, err
	}
	return e.Facilities.GetFacilityByIBPS(ctx, ibps)
}
