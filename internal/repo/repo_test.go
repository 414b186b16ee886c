package repo_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawdown/internal/db"
	"drawdown/internal/domain"
	"drawdown/internal/migrate"
	"drawdown/internal/repo"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (repo.Repo, domain.Facility) {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn, dialect)
	require.NoError(t, err)
	r := repo.New(conn, dialect)
	lat, long := decimal.RequireFromString("-1.286389"), decimal.RequireFromString("36.817223")
	f, err := r.UpsertFacility(context.Background(), domain.Facility{
		IBPSNumber:          "IBPS-001",
		CustomerName:        "Acme Builders",
		TotalApprovedAmount: decimal.RequireFromString("1000000"),
		SiteLatitude:        &lat,
		SiteLongitude:       &long,
		Milestones: []domain.Milestone{
			{Order: 1, Description: "Foundation", AllocatedAmount: decimal.RequireFromString("200000")},
			{Order: 2, Description: "Walling", AllocatedAmount: decimal.RequireFromString("300000")},
		},
		Tranches: []domain.Tranche{
			{Number: "T1", Amount: decimal.RequireFromString("200000"), RequestDate: t0, Status: "Disbursed"},
		},
		CreatedAt: t0,
	})
	require.NoError(t, err)
	return r, f
}

func draft(f domain.Facility) domain.Report {
	return domain.Report{
		ID:              "r1",
		FacilityID:      f.ID,
		IBPSNumber:      f.IBPSNumber,
		RMUserID:        "rm-1",
		VisitDate:       t0,
		RequestedAmount: decimal.RequireFromString("50000"),
		Checklist:       domain.Checklist{HasQSValuation: true},
		Status:          domain.StatusDraft,
		CreatedAt:       t0,
		CreatedBy:       "rm-1",
	}
}

func created() domain.TrailEntry {
	return domain.TrailEntry{UserID: "rm-1", UserRole: domain.RoleRM, Action: domain.TrailCreated, NewStatus: domain.StatusDraft, Timestamp: t0}
}

func TestCreateAndGetReport(t *testing.T) {
	r, f := newRepo(t)
	ctx := context.Background()
	temp := 24.5
	rep := draft(f)
	rep.Temperature = &temp
	rep.PersonMet = "Site foreman"
	_, err := r.CreateReport(ctx, rep, created(), domain.Attachment{
		FileName: "site.jpg", ContentType: "image/jpeg", SizeBytes: 10, Kind: domain.AttachmentPhoto,
		Locator: "r1/site.jpg", UploadedBy: "rm-1", CreatedAt: t0,
	})
	require.NoError(t, err)

	got, err := r.GetReport(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, domain.StatusDraft, got.Status)
	assert.True(t, got.RequestedAmount.Equal(decimal.NewFromInt(50000)))
	assert.True(t, got.Checklist.HasQSValuation)
	assert.False(t, got.Checklist.HasContractorInvoice)
	assert.Equal(t, "Site foreman", got.PersonMet)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 24.5, *got.Temperature, 0.001)
	assert.Nil(t, got.LockedBy)
	assert.True(t, t0.Equal(got.VisitDate))

	n, err := r.CountAttachments(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := r.ListTrail(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TrailCreated, entries[0].Action)
	assert.Nil(t, entries[0].PreviousStatus)

	_, err = r.GetReport(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyVersionCheck(t *testing.T) {
	r, f := newRepo(t)
	ctx := context.Background()
	rep, err := r.CreateReport(ctx, draft(f), created())
	require.NoError(t, err)

	prev := domain.StatusDraft
	submitted := t0.Add(time.Hour)
	rep.Status = domain.StatusSubmitted
	rep.SubmittedAt = &submitted
	next, err := r.Apply(ctx, repo.Mutation{
		Report:          rep,
		ExpectedVersion: 1,
		Trail:           &domain.TrailEntry{UserID: "rm-1", UserRole: domain.RoleRM, Action: domain.TrailSubmitted, PreviousStatus: &prev, NewStatus: domain.StatusSubmitted, Timestamp: submitted},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Version)

	// a writer still holding version 1 loses and leaves no trace
	stale := rep
	stale.Status = domain.StatusUnderReview
	_, err = r.Apply(ctx, repo.Mutation{
		Report:          stale,
		ExpectedVersion: 1,
		Trail:           &domain.TrailEntry{UserID: "qs-1", UserRole: domain.RoleQS, Action: domain.TrailLocked, NewStatus: domain.StatusUnderReview, Timestamp: submitted},
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := r.GetReport(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, got.Status)
	require.NotNil(t, got.SubmittedAt)
	assert.True(t, submitted.Equal(*got.SubmittedAt))
	entries, err := r.ListTrail(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	missing := rep
	missing.ID = "nope"
	_, err = r.Apply(ctx, repo.Mutation{Report: missing, ExpectedVersion: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyRollsBackOnCancel(t *testing.T) {
	r, f := newRepo(t)
	rep, err := r.CreateReport(context.Background(), draft(f), created())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep.Status = domain.StatusSubmitted
	_, err = r.Apply(ctx, repo.Mutation{Report: rep, ExpectedVersion: 1})
	require.Error(t, err)

	got, err := r.GetReport(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, got.Status)
	assert.Equal(t, int64(1), got.Version)
}

func TestListReportsFilters(t *testing.T) {
	r, f := newRepo(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		rep := draft(f)
		rep.ID = id
		rep.CreatedAt = t0.Add(time.Duration(i) * time.Minute)
		if id == "c" {
			rep.RMUserID = "rm-2"
		}
		_, err := r.CreateReport(ctx, rep, created())
		require.NoError(t, err)
	}
	all, err := r.ListReports(ctx, repo.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	mine, err := r.ListReports(ctx, repo.ReportFilter{RMUserID: "rm-1"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	pool, err := r.ListReports(ctx, repo.ReportFilter{Status: []domain.Status{domain.StatusSubmitted, domain.StatusUnderReview}, SortBySubmitted: true})
	require.NoError(t, err)
	assert.Empty(t, pool)
}

func TestCommentsAndParents(t *testing.T) {
	r, f := newRepo(t)
	ctx := context.Background()
	_, err := r.CreateReport(ctx, draft(f), created())
	require.NoError(t, err)
	other := draft(f)
	other.ID = "r2"
	_, err = r.CreateReport(ctx, other, created())
	require.NoError(t, err)

	require.NoError(t, r.InsertComment(ctx, domain.Comment{ID: "c1", ReportID: "r1", UserID: "qs-1", UserRole: domain.RoleQS, Text: "check slab", CreatedAt: t0}))
	parent := "c1"
	require.NoError(t, r.InsertComment(ctx, domain.Comment{ID: "c2", ReportID: "r1", ParentID: &parent, UserID: "rm-1", UserRole: domain.RoleRM, Text: "done", CreatedAt: t0.Add(time.Minute)}))

	err = r.InsertComment(ctx, domain.Comment{ID: "c3", ReportID: "r2", ParentID: &parent, UserID: "rm-1", UserRole: domain.RoleRM, Text: "wrong thread", CreatedAt: t0})
	assert.ErrorIs(t, err, domain.ErrInvalidParent)
	ghost := "nope"
	err = r.InsertComment(ctx, domain.Comment{ID: "c4", ReportID: "r1", ParentID: &ghost, UserID: "rm-1", UserRole: domain.RoleRM, Text: "orphan", CreatedAt: t0})
	assert.ErrorIs(t, err, domain.ErrInvalidParent)
	err = r.InsertComment(ctx, domain.Comment{ID: "c5", ReportID: "missing", UserID: "rm-1", UserRole: domain.RoleRM, Text: "x", CreatedAt: t0})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	comments, err := r.ListComments(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	require.NotNil(t, comments[1].ParentID)
	assert.Equal(t, "c1", *comments[1].ParentID)
}

func TestFacilityUpsertReplacesSchedule(t *testing.T) {
	r, f := newRepo(t)
	ctx := context.Background()
	got, err := r.GetFacilityByIBPS(ctx, "IBPS-001")
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, 100, got.GeofenceRadiusMeters)
	assert.Len(t, got.Milestones, 2)
	assert.Len(t, got.Tranches, 1)

	f.Milestones = f.Milestones[:1]
	f.CustomerName = "Acme Holdings"
	updated, err := r.UpsertFacility(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, f.ID, updated.ID)

	all, err := r.ListFacilities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Acme Holdings", all[0].CustomerName)
	assert.Len(t, all[0].Milestones, 1)

	_, err = r.GetFacilityByIBPS(ctx, "IBPS-404")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresPlaceholdersAndConflict(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	r := repo.New(conn, db.Postgres)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)UPDATE reports SET status=\$1, .* WHERE id=\$11 AND version=\$12`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM reports WHERE id=\$1`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))
	mock.ExpectRollback()

	_, err = r.Apply(context.Background(), repo.Mutation{Report: domain.Report{ID: "r1", Status: domain.StatusSubmitted}, ExpectedVersion: 3})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnavailableMapping(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	r := repo.New(conn, db.Postgres)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
	_, err = r.Apply(context.Background(), repo.Mutation{Report: domain.Report{ID: "r1"}, ExpectedVersion: 1})
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	mock.ExpectQuery(`FROM reports WHERE id=\$1`).
		WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")})
	_, err = r.GetReport(context.Background(), "r1")
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	mock.ExpectQuery(`FROM reports WHERE id=\$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = r.GetReport(context.Background(), "r1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
