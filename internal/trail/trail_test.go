package trail_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawdown/internal/db"
	"drawdown/internal/domain"
	"drawdown/internal/migrate"
	"drawdown/internal/trail"
)

func status(s domain.Status) *domain.Status { return &s }

func entry(seq int, prev *domain.Status, action domain.TrailAction, next domain.Status) domain.TrailEntry {
	return domain.TrailEntry{Seq: seq, PreviousStatus: prev, Action: action, NewStatus: next}
}

func TestVerifyAcceptsApprovalPath(t *testing.T) {
	entries := []domain.TrailEntry{
		entry(1, nil, domain.TrailCreated, domain.StatusDraft),
		entry(2, status(domain.StatusDraft), domain.TrailSubmitted, domain.StatusSubmitted),
		entry(3, status(domain.StatusSubmitted), domain.TrailLocked, domain.StatusUnderReview),
		entry(4, status(domain.StatusUnderReview), domain.TrailReturned, domain.StatusReturnedToRM),
		entry(5, status(domain.StatusReturnedToRM), domain.TrailResubmitted, domain.StatusSubmitted),
		entry(6, status(domain.StatusSubmitted), domain.TrailLocked, domain.StatusUnderReview),
		entry(7, status(domain.StatusUnderReview), domain.TrailReleased, domain.StatusUnderReview),
		entry(8, status(domain.StatusUnderReview), domain.TrailLocked, domain.StatusUnderReview),
		entry(9, status(domain.StatusUnderReview), domain.TrailApproved, domain.StatusApproved),
	}
	assert.NoError(t, trail.Verify(entries))
}

func TestVerifyRejectsBrokenPaths(t *testing.T) {
	cases := map[string][]domain.TrailEntry{
		"empty": nil,
		"no creation": {
			entry(1, status(domain.StatusDraft), domain.TrailSubmitted, domain.StatusSubmitted),
		},
		"contradicting previous status": {
			entry(1, nil, domain.TrailCreated, domain.StatusDraft),
			entry(2, status(domain.StatusSubmitted), domain.TrailLocked, domain.StatusUnderReview),
		},
		"skipped review": {
			entry(1, nil, domain.TrailCreated, domain.StatusDraft),
			entry(2, status(domain.StatusDraft), domain.TrailApproved, domain.StatusApproved),
		},
		"after terminal": {
			entry(1, nil, domain.TrailCreated, domain.StatusDraft),
			entry(2, status(domain.StatusDraft), domain.TrailSubmitted, domain.StatusSubmitted),
			entry(3, status(domain.StatusSubmitted), domain.TrailLocked, domain.StatusUnderReview),
			entry(4, status(domain.StatusUnderReview), domain.TrailRejected, domain.StatusRejected),
			entry(5, status(domain.StatusRejected), domain.TrailResubmitted, domain.StatusSubmitted),
		},
		"gap in sequence": {
			entry(1, nil, domain.TrailCreated, domain.StatusDraft),
			entry(3, status(domain.StatusDraft), domain.TrailSubmitted, domain.StatusSubmitted),
		},
	}
	for name, entries := range cases {
		assert.Error(t, trail.Verify(entries), name)
	}
}

func TestAppendAssignsSequence(t *testing.T) {
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn, dialect)
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = conn.ExecContext(ctx, `INSERT INTO facilities(id,ibps_number,customer_name,total_approved_amount,created_at) VALUES ('f1','IBPS-001','Acme','1000000',?)`, db.FormatTime(now))
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO reports(id,facility_id,ibps_number,rm_user_id,visit_date,requested_amount,status,created_at,created_by) VALUES ('r1','f1','IBPS-001','rm-1',?,'50000','Draft',?,'rm-1')`, db.FormatTime(now), db.FormatTime(now))
	require.NoError(t, err)

	w := trail.Writer{Dialect: dialect, Now: func() time.Time { return now }}
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	first, err := w.Append(ctx, tx, domain.TrailEntry{ReportID: "r1", UserID: "rm-1", UserRole: domain.RoleRM, Action: domain.TrailCreated, NewStatus: domain.StatusDraft})
	require.NoError(t, err)
	second, err := w.Append(ctx, tx, domain.TrailEntry{ReportID: "r1", UserID: "rm-1", UserRole: domain.RoleRM, Action: domain.TrailSubmitted, PreviousStatus: status(domain.StatusDraft), NewStatus: domain.StatusSubmitted})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, 2, second.Seq)
	assert.NotEmpty(t, first.ID)
	assert.True(t, now.Equal(first.Timestamp))

	tx, err = conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = w.Append(ctx, tx, domain.TrailEntry{UserID: "rm-1"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
