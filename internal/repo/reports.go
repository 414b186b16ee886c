package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"drawdown/internal/db"
	"drawdown/internal/domain"
)

const reportColumns = `id,facility_id,ibps_number,rm_user_id,visit_date,visit_latitude,visit_longitude,location_address,person_met,person_designation,
bq_amount,construction_loan_amount,customer_contribution,drawn_funds_to_date,undrawn_funds,
plot_lr_number,exact_location,site_pin,customer_profile,site_visit_objectives,completed_works,ongoing_works,materials_on_site,defects_noted,
project_name,loan_type,weather,temperature,drawdown_request_number,requested_amount,
has_qs_valuation,has_interim_certificate,has_customer_instruction,has_contractor_progress_report,has_contractor_invoice,within_geofence,
status,locked_by,locked_until,approved_amount,approved_by,approved_at,submitted_at,reviewed_at,created_at,created_by,updated_at,updated_by,version`

// Mutation is one version-checked write of a report's workflow fields.
// Trail and Attachments land in the same transaction or not at all.
type Mutation struct {
	Report          domain.Report
	ExpectedVersion int64
	Trail           *domain.TrailEntry
	Attachments     []domain.Attachment
}

type ReportFilter struct {
	Status   []domain.Status
	RMUserID string
	LockedBy string
	// SortBySubmitted orders by submission time instead of creation time.
	SortBySubmitted bool
	Limit           int
}

func scanReport(row scanner) (domain.Report, error) {
	var (
		rep                                                         domain.Report
		visitDate, createdAt                                        string
		visitLat, visitLong, bq, loan, contrib, drawn, undrawn      decimal.NullDecimal
		approvedAmount                                              decimal.NullDecimal
		address, personMet, designation, plot, exact, pin           sql.NullString
		profile, objectives, completed, ongoing, materials, defects sql.NullString
		project, loanType, weather, drawdownNo                      sql.NullString
		lockedBy, lockedUntil, approvedBy, approvedAt, submittedAt  sql.NullString
		reviewedAt, updatedAt, updatedBy                            sql.NullString
		temperature                                                 sql.NullFloat64
		withinGeofence                                              sql.NullBool
	)
	err := row.Scan(&rep.ID, &rep.FacilityID, &rep.IBPSNumber, &rep.RMUserID, &visitDate, &visitLat, &visitLong, &address, &personMet, &designation,
		&bq, &loan, &contrib, &drawn, &undrawn,
		&plot, &exact, &pin, &profile, &objectives, &completed, &ongoing, &materials, &defects,
		&project, &loanType, &weather, &temperature, &drawdownNo, &rep.RequestedAmount,
		&rep.Checklist.HasQSValuation, &rep.Checklist.HasInterimCertificate, &rep.Checklist.HasCustomerInstruction,
		&rep.Checklist.HasContractorProgressReport, &rep.Checklist.HasContractorInvoice, &withinGeofence,
		&rep.Status, &lockedBy, &lockedUntil, &approvedAmount, &approvedBy, &approvedAt, &submittedAt, &reviewedAt,
		&createdAt, &rep.CreatedBy, &updatedAt, &updatedBy, &rep.Version)
	if err != nil {
		return rep, err
	}
	rep.VisitLatitude, rep.VisitLongitude = decimalPtr(visitLat), decimalPtr(visitLong)
	rep.BQAmount, rep.ConstructionLoanAmount = decimalPtr(bq), decimalPtr(loan)
	rep.CustomerContribution, rep.DrawnFundsToDate, rep.UndrawnFunds = decimalPtr(contrib), decimalPtr(drawn), decimalPtr(undrawn)
	rep.ApprovedAmount = decimalPtr(approvedAmount)
	rep.LocationAddress, rep.PersonMet, rep.PersonDesignation = address.String, personMet.String, designation.String
	rep.PlotLRNumber, rep.ExactLocation, rep.SitePin = plot.String, exact.String, pin.String
	rep.CustomerProfile, rep.SiteVisitObjectives = profile.String, objectives.String
	rep.CompletedWorks, rep.OngoingWorks, rep.MaterialsOnSite, rep.DefectsNoted = completed.String, ongoing.String, materials.String, defects.String
	rep.ProjectName, rep.LoanType, rep.Weather, rep.DrawdownRequestNumber = project.String, loanType.String, weather.String, drawdownNo.String
	rep.Temperature = floatPtr(temperature)
	rep.WithinGeofence = boolPtr(withinGeofence)
	rep.LockedBy, rep.ApprovedBy, rep.UpdatedBy = stringPtr(lockedBy), stringPtr(approvedBy), stringPtr(updatedBy)

	if rep.VisitDate, err = parseTime(visitDate); err != nil {
		return rep, err
	}
	if rep.CreatedAt, err = parseTime(createdAt); err != nil {
		return rep, err
	}
	if rep.LockedUntil, err = timePtr(lockedUntil); err != nil {
		return rep, err
	}
	if rep.ApprovedAt, err = timePtr(approvedAt); err != nil {
		return rep, err
	}
	if rep.SubmittedAt, err = timePtr(submittedAt); err != nil {
		return rep, err
	}
	if rep.ReviewedAt, err = timePtr(reviewedAt); err != nil {
		return rep, err
	}
	if rep.UpdatedAt, err = timePtr(updatedAt); err != nil {
		return rep, err
	}
	return rep, nil
}

func (r Repo) getReport(ctx context.Context, q queryer, id string) (domain.Report, error) {
	rep, err := scanReport(q.QueryRowContext(ctx, r.q(`SELECT `+reportColumns+` FROM reports WHERE id=?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return rep, notFound("report", id)
	}
	return rep, classify(err)
}

func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	return r.getReport(ctx, r.DB, id)
}

func (r Repo) ListReports(ctx context.Context, f ReportFilter) ([]domain.Report, error) {
	var (
		clauses []string
		args    []any
	)
	if len(f.Status) > 0 {
		marks := make([]string, len(f.Status))
		for i, s := range f.Status {
			marks[i] = "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, "status IN ("+strings.Join(marks, ",")+")")
	}
	if f.RMUserID != "" {
		clauses = append(clauses, "rm_user_id=?")
		args = append(args, f.RMUserID)
	}
	if f.LockedBy != "" {
		clauses = append(clauses, "locked_by=?")
		args = append(args, f.LockedBy)
	}
	query := `SELECT ` + reportColumns + ` FROM reports`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if f.SortBySubmitted {
		query += " ORDER BY submitted_at DESC, id DESC"
	} else {
		query += " ORDER BY created_at DESC, id DESC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, classify(rows.Err())
}

// CreateReport inserts a new report with version 1 together with its creation trail entry.
func (r Repo) CreateReport(ctx context.Context, rep domain.Report, entry domain.TrailEntry, atts ...domain.Attachment) (domain.Report, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return rep, err
	}
	defer tx.Rollback()

	rep.Version = 1
	if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO reports(`+reportColumns+`) VALUES (`+placeholders(49)+`)`),
		rep.ID, rep.FacilityID, rep.IBPSNumber, rep.RMUserID, db.FormatTime(rep.VisitDate), nullableDecimal(rep.VisitLatitude), nullableDecimal(rep.VisitLongitude),
		nullable(rep.LocationAddress), nullable(rep.PersonMet), nullable(rep.PersonDesignation),
		nullableDecimal(rep.BQAmount), nullableDecimal(rep.ConstructionLoanAmount), nullableDecimal(rep.CustomerContribution),
		nullableDecimal(rep.DrawnFundsToDate), nullableDecimal(rep.UndrawnFunds),
		nullable(rep.PlotLRNumber), nullable(rep.ExactLocation), nullable(rep.SitePin), nullable(rep.CustomerProfile), nullable(rep.SiteVisitObjectives),
		nullable(rep.CompletedWorks), nullable(rep.OngoingWorks), nullable(rep.MaterialsOnSite), nullable(rep.DefectsNoted),
		nullable(rep.ProjectName), nullable(rep.LoanType), nullable(rep.Weather), nullableFloat(rep.Temperature),
		nullable(rep.DrawdownRequestNumber), rep.RequestedAmount.String(),
		rep.Checklist.HasQSValuation, rep.Checklist.HasInterimCertificate, rep.Checklist.HasCustomerInstruction,
		rep.Checklist.HasContractorProgressReport, rep.Checklist.HasContractorInvoice, nullableBool(rep.WithinGeofence),
		string(rep.Status), nullableStringPtr(rep.LockedBy), nullableTime(rep.LockedUntil), nullableDecimal(rep.ApprovedAmount),
		nullableStringPtr(rep.ApprovedBy), nullableTime(rep.ApprovedAt), nullableTime(rep.SubmittedAt), nullableTime(rep.ReviewedAt),
		db.FormatTime(rep.CreatedAt), rep.CreatedBy, nullableTime(rep.UpdatedAt), nullableStringPtr(rep.UpdatedBy), rep.Version,
	); err != nil {
		return rep, fmt.Errorf("insert report: %w", classify(err))
	}
	if err := r.insertAttachments(ctx, tx, rep.ID, atts); err != nil {
		return rep, err
	}
	entry.ReportID = rep.ID
	if _, err := r.Trail.Append(ctx, tx, entry); err != nil {
		return rep, classify(err)
	}
	if err := tx.Commit(); err != nil {
		return rep, classify(err)
	}
	return rep, nil
}

// Apply writes the report's workflow fields if the stored version still equals
// ExpectedVersion. A stale version yields ErrConflict and nothing is written.
func (r Repo) Apply(ctx context.Context, m Mutation) (domain.Report, error) {
	rep := m.Report
	tx, err := r.begin(ctx)
	if err != nil {
		return rep, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, r.q(`UPDATE reports SET status=?, locked_by=?, locked_until=?, approved_amount=?, approved_by=?, approved_at=?,
submitted_at=?, reviewed_at=?, updated_at=?, updated_by=?, version=version+1 WHERE id=? AND version=?`),
		string(rep.Status), nullableStringPtr(rep.LockedBy), nullableTime(rep.LockedUntil), nullableDecimal(rep.ApprovedAmount),
		nullableStringPtr(rep.ApprovedBy), nullableTime(rep.ApprovedAt), nullableTime(rep.SubmittedAt), nullableTime(rep.ReviewedAt),
		nullableTime(rep.UpdatedAt), nullableStringPtr(rep.UpdatedBy), rep.ID, m.ExpectedVersion)
	if err != nil {
		return rep, fmt.Errorf("update report: %w", classify(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return rep, classify(err)
	}
	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, r.q(`SELECT 1 FROM reports WHERE id=?`), rep.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return rep, notFound("report", rep.ID)
		}
		if err != nil {
			return rep, classify(err)
		}
		return rep, fmt.Errorf("%w: report %s changed since version %d", domain.ErrConflict, rep.ID, m.ExpectedVersion)
	}
	if err := r.insertAttachments(ctx, tx, rep.ID, m.Attachments); err != nil {
		return rep, err
	}
	if m.Trail != nil {
		entry := *m.Trail
		entry.ReportID = rep.ID
		if _, err := r.Trail.Append(ctx, tx, entry); err != nil {
			return rep, classify(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return rep, classify(err)
	}
	rep.Version = m.ExpectedVersion + 1
	return rep, nil
}

func (r Repo) insertAttachments(ctx context.Context, tx *sql.Tx, reportID string, atts []domain.Attachment) error {
	for _, a := range atts {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO attachments(id,report_id,file_name,content_type,size_bytes,kind,locator,latitude,longitude,taken_at,geo_tagged,uploaded_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`),
			a.ID, reportID, a.FileName, a.ContentType, a.SizeBytes, string(a.Kind), a.Locator,
			nullableDecimal(a.Latitude), nullableDecimal(a.Longitude), nullableTime(a.TakenAt), a.GeoTagged, a.UploadedBy, db.FormatTime(a.CreatedAt)); err != nil {
			return fmt.Errorf("insert attachment %s: %w", a.FileName, classify(err))
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
