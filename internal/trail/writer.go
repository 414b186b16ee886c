package trail

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"drawdown/internal/db"
	"drawdown/internal/domain"
)

// Writer appends approval-trail entries inside a caller-owned transaction.
type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

// Append assigns the next sequence number for the report and inserts the entry.
// The (report_id, seq) unique key rejects a concurrent writer that read the same max.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, entry domain.TrailEntry) (domain.TrailEntry, error) {
	if entry.ReportID == "" {
		return entry, fmt.Errorf("%w: trail entry without report", domain.ErrValidation)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		entry.Timestamp = now()
	}
	var last int
	if err := tx.QueryRowContext(ctx, w.Dialect.Rebind(`SELECT COALESCE(MAX(seq),0) FROM trail_entries WHERE report_id=?`), entry.ReportID).Scan(&last); err != nil {
		return entry, fmt.Errorf("read trail seq: %w", err)
	}
	entry.Seq = last + 1
	var prev any
	if entry.PreviousStatus != nil {
		prev = string(*entry.PreviousStatus)
	}
	var comments any
	if entry.Comments != "" {
		comments = entry.Comments
	}
	_, err := tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO trail_entries(id,report_id,seq,user_id,user_role,action,previous_status,new_status,comments,ts) VALUES (?,?,?,?,?,?,?,?,?,?)`),
		entry.ID, entry.ReportID, entry.Seq, entry.UserID, string(entry.UserRole), string(entry.Action), prev, string(entry.NewStatus), comments, db.FormatTime(entry.Timestamp))
	if err != nil {
		return entry, fmt.Errorf("append trail: %w", err)
	}
	return entry, nil
}
