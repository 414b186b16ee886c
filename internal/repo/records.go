package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"drawdown/internal/db"
	"drawdown/internal/domain"
)

const attachmentColumns = `id,report_id,file_name,content_type,size_bytes,kind,locator,latitude,longitude,taken_at,geo_tagged,uploaded_by,created_at`

func scanAttachment(row scanner) (domain.Attachment, error) {
	var (
		a         domain.Attachment
		lat, long decimal.NullDecimal
		takenAt   sql.NullString
		createdAt string
	)
	if err := row.Scan(&a.ID, &a.ReportID, &a.FileName, &a.ContentType, &a.SizeBytes, &a.Kind, &a.Locator, &lat, &long, &takenAt, &a.GeoTagged, &a.UploadedBy, &createdAt); err != nil {
		return a, err
	}
	a.Latitude, a.Longitude = decimalPtr(lat), decimalPtr(long)
	var err error
	if a.TakenAt, err = timePtr(takenAt); err != nil {
		return a, err
	}
	a.CreatedAt, err = parseTime(createdAt)
	return a, err
}

func (r Repo) GetAttachment(ctx context.Context, id string) (domain.Attachment, error) {
	a, err := scanAttachment(r.DB.QueryRowContext(ctx, r.q(`SELECT `+attachmentColumns+` FROM attachments WHERE id=?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return a, notFound("attachment", id)
	}
	return a, classify(err)
}

func (r Repo) ListAttachments(ctx context.Context, reportID string) ([]domain.Attachment, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+attachmentColumns+` FROM attachments WHERE report_id=? ORDER BY created_at, id`), reportID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, classify(rows.Err())
}

func (r Repo) CountAttachments(ctx context.Context, reportID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM attachments WHERE report_id=?`), reportID).Scan(&n)
	return n, classify(err)
}

func (r Repo) ListTrail(ctx context.Context, reportID string) ([]domain.TrailEntry, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,report_id,seq,user_id,user_role,action,previous_status,new_status,COALESCE(comments,''),ts
FROM trail_entries WHERE report_id=? ORDER BY seq`), reportID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var res []domain.TrailEntry
	for rows.Next() {
		var (
			e    domain.TrailEntry
			prev sql.NullString
			ts   string
		)
		if err := rows.Scan(&e.ID, &e.ReportID, &e.Seq, &e.UserID, &e.UserRole, &e.Action, &prev, &e.NewStatus, &e.Comments, &ts); err != nil {
			return nil, err
		}
		if prev.Valid {
			s := domain.Status(prev.String)
			e.PreviousStatus = &s
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, classify(rows.Err())
}

func scanComment(row scanner) (domain.Comment, error) {
	var (
		c         domain.Comment
		parent    sql.NullString
		createdAt string
	)
	if err := row.Scan(&c.ID, &c.ReportID, &parent, &c.UserID, &c.UserRole, &c.Text, &createdAt); err != nil {
		return c, err
	}
	c.ParentID = stringPtr(parent)
	var err error
	c.CreatedAt, err = parseTime(createdAt)
	return c, err
}

func (r Repo) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	c, err := scanComment(r.DB.QueryRowContext(ctx, r.q(`SELECT id,report_id,parent_id,user_id,user_role,text,created_at FROM comments WHERE id=?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, notFound("comment", id)
	}
	return c, classify(err)
}

func (r Repo) ListComments(ctx context.Context, reportID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,report_id,parent_id,user_id,user_role,text,created_at FROM comments WHERE report_id=? ORDER BY created_at, id`), reportID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, classify(rows.Err())
}

// InsertComment stores a comment. The parent, when set, must belong to the same
// report; the check runs in the insert transaction.
func (r Repo) InsertComment(ctx context.Context, c domain.Comment) error {
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var exists int
	err = tx.QueryRowContext(ctx, r.q(`SELECT 1 FROM reports WHERE id=?`), c.ReportID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("report", c.ReportID)
	}
	if err != nil {
		return classify(err)
	}
	if c.ParentID != nil {
		var parentReport string
		err := tx.QueryRowContext(ctx, r.q(`SELECT report_id FROM comments WHERE id=?`), *c.ParentID).Scan(&parentReport)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: parent comment %s not found", domain.ErrInvalidParent, *c.ParentID)
		}
		if err != nil {
			return classify(err)
		}
		if parentReport != c.ReportID {
			return fmt.Errorf("%w: parent comment %s belongs to another report", domain.ErrInvalidParent, *c.ParentID)
		}
	}
	if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO comments(id,report_id,parent_id,user_id,user_role,text,created_at) VALUES (?,?,?,?,?,?,?)`),
		c.ID, c.ReportID, nullableStringPtr(c.ParentID), c.UserID, string(c.UserRole), c.Text, db.FormatTime(c.CreatedAt)); err != nil {
		return fmt.Errorf("insert comment: %w", classify(err))
	}
	return classify(tx.Commit())
}
