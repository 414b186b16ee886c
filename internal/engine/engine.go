package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"drawdown/internal/blob"
	"drawdown/internal/config"
	"drawdown/internal/domain"
	"drawdown/internal/engine/auth"
	"drawdown/internal/lock"
	"drawdown/internal/metrics"
	"drawdown/internal/notify"
	"drawdown/internal/repo"
)

// FacilityLookup resolves the facility a report is filed against.
type FacilityLookup interface {
	GetFacilityByIBPS(ctx context.Context, ibps string) (domain.Facility, error)
}

// Engine runs the report review workflow. Every transition is one
// version-checked write through Repo; nothing is retried.
type Engine struct {
	Repo       repo.Repo
	Locks      lock.Manager
	Perms      auth.Table
	Facilities FacilityLookup
	Blobs      blob.Store
	Notifier   notify.Notifier
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Config     *config.Config
	Now        func() time.Time
}

func New(r repo.Repo, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Repo:       r,
		Locks:      lock.Manager{MaxDuration: cfg.Workflow.MaxLock()},
		Perms:      auth.FromConfig(cfg),
		Facilities: r,
		Blobs:      blob.FS{Dir: cfg.Storage.Dir},
		Notifier:   notify.Nop{},
		Logger:     zap.NewNop(),
		Config:     cfg,
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) locks() lock.Manager {
	m := e.Locks
	if m.Now == nil {
		m.Now = e.now
	}
	return m
}

func (e Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Engine) config() *config.Config {
	if e.Config == nil {
		return config.Default()
	}
	return e.Config
}

func (e Engine) notifier() notify.Notifier {
	if e.Notifier == nil {
		return notify.Nop{}
	}
	return e.Notifier
}

func (e Engine) observe(action domain.Action, start time.Time, err error) {
	e.Metrics.ObserveTransition(action, err, time.Since(start))
	if errors.Is(err, domain.ErrUnavailable) {
		e.logger().Error("store unavailable", zap.String("action", string(action)), zap.Error(err))
	}
}

func (e Engine) authorize(actor domain.Actor, action domain.Action) error {
	if actor.ID == "" {
		return fmt.Errorf("%w: actor identity required", domain.ErrForbidden)
	}
	return e.Perms.Require(actor.Role, action)
}

// load authorizes the action and fetches the report it targets.
func (e Engine) load(ctx context.Context, actor domain.Actor, action domain.Action, reportID string) (domain.Report, error) {
	if err := e.authorize(actor, action); err != nil {
		return domain.Report{}, err
	}
	return e.Repo.GetReport(ctx, reportID)
}

func requireStatus(r domain.Report, action domain.Action, allowed ...domain.Status) error {
	for _, s := range allowed {
		if r.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s report %s in status %s", domain.ErrInvalidTransition, strings.TrimPrefix(string(action), "report."), r.ID, r.Status)
}

func requireOwner(r domain.Report, actor domain.Actor) error {
	if r.RMUserID != actor.ID {
		return fmt.Errorf("%w: report %s belongs to %s", domain.ErrForbidden, r.ID, r.RMUserID)
	}
	return nil
}

// requireHolder checks the review lock for a decision. No live holder means the
// lock must be taken first; a live holder other than actor is a permission failure.
func (e Engine) requireHolder(r domain.Report, actor domain.Actor) error {
	holder, ok := e.locks().HolderOf(&r)
	if !ok {
		return fmt.Errorf("%w: report %s has no active review lock", domain.ErrInvalidTransition, r.ID)
	}
	if holder != actor.ID {
		return fmt.Errorf("%w: report %s is locked by %s", domain.ErrForbidden, r.ID, holder)
	}
	return nil
}

func (e Engine) stamp(r *domain.Report, actor domain.Actor, now time.Time) {
	by := actor.ID
	r.UpdatedAt = &now
	r.UpdatedBy = &by
}

func trailEntry(actor domain.Actor, action domain.TrailAction, prev domain.Status, next domain.Status, comments string, now time.Time) *domain.TrailEntry {
	return &domain.TrailEntry{
		UserID:         actor.ID,
		UserRole:       actor.Role,
		Action:         action,
		PreviousStatus: &prev,
		NewStatus:      next,
		Comments:       comments,
		Timestamp:      now,
	}
}

// CreateReport files a Draft report against an existing facility.
func (e Engine) CreateReport(ctx context.Context, actor domain.Actor, in CreateReportInput) (rep domain.Report, err error) {
	defer func(start time.Time) { e.observe(domain.ActionCreate, start, err) }(time.Now())
	if err := e.authorize(actor, domain.ActionCreate); err != nil {
		return domain.Report{}, err
	}
	in.IBPSNumber = strings.TrimSpace(in.IBPSNumber)
	if err := in.validate(); err != nil {
		return domain.Report{}, err
	}
	facility, err := e.Facilities.GetFacilityByIBPS(ctx, in.IBPSNumber)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Report{}, fmt.Errorf("%w: unknown facility %s", domain.ErrValidation, in.IBPSNumber)
	}
	if err != nil {
		return domain.Report{}, err
	}
	now := e.now()
	rep = domain.Report{
		ID:                     uuid.NewString(),
		FacilityID:             facility.ID,
		IBPSNumber:             facility.IBPSNumber,
		RMUserID:               actor.ID,
		VisitDate:              in.VisitDate.UTC(),
		VisitLatitude:          in.VisitLatitude,
		VisitLongitude:         in.VisitLongitude,
		LocationAddress:        in.LocationAddress,
		PersonMet:              in.PersonMet,
		PersonDesignation:      in.PersonDesignation,
		BQAmount:               in.BQAmount,
		ConstructionLoanAmount: in.ConstructionLoanAmount,
		CustomerContribution:   in.CustomerContribution,
		DrawnFundsToDate:       in.DrawnFundsToDate,
		UndrawnFunds:           in.UndrawnFunds,
		PlotLRNumber:           in.PlotLRNumber,
		ExactLocation:          in.ExactLocation,
		SitePin:                in.SitePin,
		CustomerProfile:        in.CustomerProfile,
		SiteVisitObjectives:    in.SiteVisitObjectives,
		CompletedWorks:         in.CompletedWorks,
		OngoingWorks:           in.OngoingWorks,
		MaterialsOnSite:        in.MaterialsOnSite,
		DefectsNoted:           in.DefectsNoted,
		ProjectName:            in.ProjectName,
		LoanType:               in.LoanType,
		Weather:                in.Weather,
		Temperature:            in.Temperature,
		DrawdownRequestNumber:  in.DrawdownRequestNumber,
		RequestedAmount:        in.RequestedAmount,
		Checklist:              in.Checklist,
		WithinGeofence:         withinGeofence(facility, in.VisitLatitude, in.VisitLongitude),
		Status:                 domain.StatusDraft,
		CreatedAt:              now,
		CreatedBy:              actor.ID,
	}
	atts, err := e.storeUploads(ctx, rep.ID, actor, in.Attachments, now)
	if err != nil {
		return domain.Report{}, err
	}
	entry := domain.TrailEntry{
		UserID:    actor.ID,
		UserRole:  actor.Role,
		Action:    domain.TrailCreated,
		NewStatus: domain.StatusDraft,
		Timestamp: now,
	}
	rep, err = e.Repo.CreateReport(ctx, rep, entry, atts...)
	if err != nil {
		e.discardBlobs(ctx, atts)
		return domain.Report{}, err
	}
	e.logger().Info("report created",
		zap.String("report_id", rep.ID),
		zap.String("ibps_number", rep.IBPSNumber),
		zap.String("actor_id", actor.ID),
		zap.String("requested_amount", rep.RequestedAmount.String()))
	return rep, nil
}

// Submit moves the RM's Draft into the review pool.
func (e Engine) Submit(ctx context.Context, actor domain.Actor, reportID string, uploads ...Upload) (rep domain.Report, err error) {
	defer func(start time.Time) { e.observe(domain.ActionSubmit, start, err) }(time.Now())
	return e.submit(ctx, actor, reportID, domain.ActionSubmit, domain.StatusDraft, domain.TrailSubmitted, "", uploads)
}

// Resubmit returns a report sent back to the RM into the review pool.
func (e Engine) Resubmit(ctx context.Context, actor domain.Actor, reportID, comments string, uploads ...Upload) (rep domain.Report, err error) {
	defer func(start time.Time) { e.observe(domain.ActionResubmit, start, err) }(time.Now())
	return e.submit(ctx, actor, reportID, domain.ActionResubmit, domain.StatusReturnedToRM, domain.TrailResubmitted, comments, uploads)
}

func (e Engine) submit(ctx context.Context, actor domain.Actor, reportID string, action domain.Action, from domain.Status, trailAction domain.TrailAction, comments string, uploads []Upload) (domain.Report, error) {
	rep, err := e.load(ctx, actor, action, reportID)
	if err != nil {
		return rep, err
	}
	if err := requireStatus(rep, action, from); err != nil {
		return rep, err
	}
	if err := requireOwner(rep, actor); err != nil {
		return rep, err
	}
	if err := validateUploads(uploads); err != nil {
		return rep, err
	}
	if e.config().Workflow.RequireAttachments && len(uploads) == 0 {
		n, err := e.Repo.CountAttachments(ctx, rep.ID)
		if err != nil {
			return rep, err
		}
		if n == 0 {
			return rep, fmt.Errorf("%w: report %s needs at least one attachment before submission", domain.ErrInvalidTransition, rep.ID)
		}
	}
	now := e.now()
	atts, err := e.storeUploads(ctx, rep.ID, actor, uploads, now)
	if err != nil {
		return rep, err
	}
	version := rep.Version
	rep.Status = domain.StatusSubmitted
	rep.SubmittedAt = &now
	e.stamp(&rep, actor, now)
	rep, err = e.Repo.Apply(ctx, repo.Mutation{
		Report:          rep,
		ExpectedVersion: version,
		Trail:           trailEntry(actor, trailAction, from, domain.StatusSubmitted, comments, now),
		Attachments:     atts,
	})
	if err != nil {
		e.discardBlobs(ctx, atts)
		return rep, err
	}
	e.logTransition(rep, actor, action, from)
	e.notifyReviewPool(ctx, rep)
	return rep, nil
}

// Lock takes the review lock for d, or the configured default when d is zero.
// Any live lock, the caller's own included, makes it fail with ErrAlreadyLocked.
func (e Engine) Lock(ctx context.Context, actor domain.Actor, reportID string, d time.Duration) (rep domain.Report, err error) {
	defer func(start time.Time) { e.observe(domain.ActionLock, start, err) }(time.Now())
	rep, err = e.load(ctx, actor, domain.ActionLock, reportID)
	if err != nil {
		return rep, err
	}
	if err := requireStatus(rep, domain.ActionLock, domain.StatusSubmitted, domain.StatusUnderReview); err != nil {
		return rep, err
	}
	if d == 0 {
		d = e.config().Workflow.DefaultLock()
	}
	locks := e.locks()
	from, version := rep.Status, rep.Version
	if err := locks.Acquire(&rep, actor.ID, d); err != nil {
		return rep, err
	}
	now := e.now()
	rep.Status = domain.StatusUnderReview
	e.stamp(&rep, actor, now)
	note := "locked until " + rep.LockedUntil.Format(time.RFC3339)
	rep, err = e.Repo.Apply(ctx, repo.Mutation{
		Report:          rep,
		ExpectedVersion: version,
		Trail:           trailEntry(actor, domain.TrailLocked, from, domain.StatusUnderReview, note, now),
	})
	if errors.Is(err, domain.ErrConflict) {
		return rep, e.lockConflict(ctx, reportID, actor, err)
	}
	if err != nil {
		return rep, err
	}
	e.logTransition(rep, actor, domain.ActionLock, from)
	return rep, nil
}

// lockConflict reports a lost lock race as AlreadyLocked when the winner now holds the lock.
func (e Engine) lockConflict(ctx context.Context, reportID string, actor domain.Actor, conflict error) error {
	current, err := e.Repo.GetReport(ctx, reportID)
	if err != nil {
		return conflict
	}
	if holder, ok := e.locks().HolderOf(&current); ok {
		return fmt.Errorf("%w: report %s is locked by %s", domain.ErrAlreadyLocked, reportID, holder)
	}
	return conflict
}

// ReleaseLock gives up the caller's review lock without deciding the report.
func (e Engine) ReleaseLock(ctx context.Context, actor domain.Actor, reportID string) (rep domain.Report, err error) {
	defer func(start time.Time) { e.observe(domain.ActionRelease, start, err) }(time.Now())
	rep, err = e.load(ctx, actor, domain.ActionRelease, reportID)
	if err != nil {
		return rep, err
	}
	if err := requireStatus(rep, domain.ActionRelease, domain.StatusUnderReview); err != nil {
		return rep, err
	}
	version := rep.Version
	if err := e.locks().Release(&rep, actor.ID); err != nil {
		return rep, err
	}
	now := e.now()
	e.stamp(&rep, actor, now)
	rep, err = e.Repo.Apply(ctx, repo.Mutation{
		Report:          rep,
		ExpectedVersion: version,
		Trail:           trailEntry(actor, domain.TrailReleased, domain.StatusUnderReview, domain.StatusUnderReview, "", now),
	})
	if err != nil {
		return rep, err
	}
	e.logTransition(rep, actor, domain.ActionRelease, domain.StatusUnderReview)
	return rep, nil
}

// Return sends the report back to its RM for rework.
func (e Engine) Return(ctx context.Context, actor domain.Actor, reportID, comments string) (rep domain.Report, err error) {
	defer func(start time.Time) { e.observe(domain.ActionReturn, start, err) }(time.Now())
	return e.decide(ctx, actor, reportID, domain.ActionReturn, domain.TrailReturned, domain.StatusReturnedToRM, comments, nil)
}

// Approve accepts the drawdown for amount, or the requested amount when nil.
func (e Engine) Approve(ctx context.Context, actor domain.Actor, reportID string, amount *decimal.Decimal, comments string) (rep domain.Report, err error) {
	defer func(start time.Time) { e.observe(domain.ActionApprove, start, err) }(time.Now())
	return e.decide(ctx, actor, reportID, domain.ActionApprove, domain.TrailApproved, domain.StatusApproved, comments, func(r *domain.Report) error {
		approved := r.RequestedAmount
		if amount != nil {
			approved = *amount
		}
		if !approved.IsPositive() {
			return fmt.Errorf("%w: approved amount must be positive", domain.ErrValidation)
		}
		if approved.GreaterThan(r.RequestedAmount) {
			return fmt.Errorf("%w: approved amount %s exceeds requested %s", domain.ErrValidation, approved, r.RequestedAmount)
		}
		if r.ApprovedAmount != nil {
			return fmt.Errorf("%w: report %s already carries an approved amount", domain.ErrInvalidTransition, r.ID)
		}
		by, at := r.LockedBy, e.now()
		r.ApprovedAmount = &approved
		r.ApprovedBy = by
		r.ApprovedAt = &at
		return nil
	})
}

// Reject closes the report without disbursement.
func (e Engine) Reject(ctx context.Context, actor domain.Actor, reportID, comments string) (rep domain.Report, err error) {
	defer func(start time.Time) { e.observe(domain.ActionReject, start, err) }(time.Now())
	return e.decide(ctx, actor, reportID, domain.ActionReject, domain.TrailRejected, domain.StatusRejected, comments, nil)
}

func (e Engine) decide(ctx context.Context, actor domain.Actor, reportID string, action domain.Action, trailAction domain.TrailAction, to domain.Status, comments string, apply func(*domain.Report) error) (domain.Report, error) {
	rep, err := e.load(ctx, actor, action, reportID)
	if err != nil {
		return rep, err
	}
	if err := requireStatus(rep, action, domain.StatusUnderReview); err != nil {
		return rep, err
	}
	if err := e.requireHolder(rep, actor); err != nil {
		return rep, err
	}
	version, from := rep.Version, rep.Status
	if apply != nil {
		if err := apply(&rep); err != nil {
			return rep, err
		}
	}
	now := e.now()
	lock.Clear(&rep)
	rep.Status = to
	rep.ReviewedAt = &now
	e.stamp(&rep, actor, now)
	next, err := e.Repo.Apply(ctx, repo.Mutation{
		Report:          rep,
		ExpectedVersion: version,
		Trail:           trailEntry(actor, trailAction, from, to, comments, now),
	})
	if err != nil {
		return next, err
	}
	e.logTransition(next, actor, action, from)
	e.notifyActor(ctx, next, comments)
	return next, nil
}

// AddComment appends to the report's discussion. It needs no review lock and
// writes no trail entry.
func (e Engine) AddComment(ctx context.Context, actor domain.Actor, in CommentInput) (c domain.Comment, err error) {
	defer func(start time.Time) { e.observe(domain.ActionComment, start, err) }(time.Now())
	if err := e.authorize(actor, domain.ActionComment); err != nil {
		return domain.Comment{}, err
	}
	in.Text = strings.TrimSpace(in.Text)
	if err := validateStruct(in); err != nil {
		return domain.Comment{}, err
	}
	c = domain.Comment{
		ID:        uuid.NewString(),
		ReportID:  in.ReportID,
		ParentID:  in.ParentID,
		UserID:    actor.ID,
		UserRole:  actor.Role,
		Text:      in.Text,
		CreatedAt: e.now(),
	}
	if err := e.Repo.InsertComment(ctx, c); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

func (e Engine) storeUploads(ctx context.Context, reportID string, actor domain.Actor, uploads []Upload, now time.Time) ([]domain.Attachment, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	if e.Blobs == nil {
		return nil, fmt.Errorf("%w: attachment storage is not configured", domain.ErrValidation)
	}
	atts := make([]domain.Attachment, 0, len(uploads))
	for _, u := range uploads {
		id := uuid.NewString()
		contentType := blob.DetectContentType(u.ContentType, u.Content)
		locator, err := e.Blobs.Put(ctx, blob.Key(reportID, id, u.FileName), u.Content, contentType)
		if err != nil {
			e.discardBlobs(ctx, atts)
			return nil, fmt.Errorf("%w: store attachment %s: %v", domain.ErrUnavailable, u.FileName, err)
		}
		atts = append(atts, domain.Attachment{
			ID:          id,
			ReportID:    reportID,
			FileName:    u.FileName,
			ContentType: contentType,
			SizeBytes:   int64(len(u.Content)),
			Kind:        domain.ClassifyAttachment(u.FileName),
			Locator:     locator,
			Latitude:    u.Latitude,
			Longitude:   u.Longitude,
			TakenAt:     u.TakenAt,
			GeoTagged:   u.Latitude != nil && u.Longitude != nil,
			UploadedBy:  actor.ID,
			CreatedAt:   now,
		})
	}
	return atts, nil
}

// discardBlobs removes content whose metadata never committed.
func (e Engine) discardBlobs(ctx context.Context, atts []domain.Attachment) {
	for _, a := range atts {
		if err := e.Blobs.Delete(ctx, a.Locator); err != nil {
			e.logger().Warn("orphan attachment blob", zap.String("locator", a.Locator), zap.Error(err))
		}
	}
}

func (e Engine) logTransition(r domain.Report, actor domain.Actor, action domain.Action, from domain.Status) {
	e.logger().Info("report transition",
		zap.String("report_id", r.ID),
		zap.String("action", string(action)),
		zap.String("actor_id", actor.ID),
		zap.String("role", string(actor.Role)),
		zap.String("from", string(from)),
		zap.String("to", string(r.Status)),
		zap.Int64("version", r.Version))
}

func (e Engine) notifyReviewPool(ctx context.Context, r domain.Report) {
	if err := e.notifier().NotifyReviewPool(ctx, r.ID, r.IBPSNumber); err != nil {
		e.Metrics.NotificationFailed(notify.KindReviewPool)
		e.logger().Warn("notify review pool failed", zap.String("report_id", r.ID), zap.Error(err))
	}
}

func (e Engine) notifyActor(ctx context.Context, r domain.Report, comments string) {
	if err := e.notifier().NotifyActor(ctx, r.ID, r.RMUserID, r.Status, comments); err != nil {
		e.Metrics.NotificationFailed(notify.KindStatusChange)
		e.logger().Warn("notify actor failed", zap.String("report_id", r.ID), zap.String("actor_id", r.RMUserID), zap.Error(err))
	}
}
