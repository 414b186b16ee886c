package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"drawdown/internal/db"
	"drawdown/internal/domain"
)

const facilityColumns = `id,ibps_number,customer_name,total_approved_amount,project_description,site_latitude,site_longitude,geofence_radius_meters,created_at`

func scanFacility(row scanner) (domain.Facility, error) {
	var (
		f         domain.Facility
		desc      sql.NullString
		lat, long decimal.NullDecimal
		createdAt string
	)
	if err := row.Scan(&f.ID, &f.IBPSNumber, &f.CustomerName, &f.TotalApprovedAmount, &desc, &lat, &long, &f.GeofenceRadiusMeters, &createdAt); err != nil {
		return f, err
	}
	f.ProjectDescription = desc.String
	f.SiteLatitude, f.SiteLongitude = decimalPtr(lat), decimalPtr(long)
	var err error
	f.CreatedAt, err = parseTime(createdAt)
	return f, err
}

// GetFacilityByIBPS resolves a facility, with milestones and tranches, by its IBPS number.
func (r Repo) GetFacilityByIBPS(ctx context.Context, ibps string) (domain.Facility, error) {
	f, err := scanFacility(r.DB.QueryRowContext(ctx, r.q(`SELECT `+facilityColumns+` FROM facilities WHERE ibps_number=?`), ibps))
	if errors.Is(err, sql.ErrNoRows) {
		return f, notFound("facility", ibps)
	}
	if err != nil {
		return f, classify(err)
	}
	return r.loadSchedule(ctx, f)
}

func (r Repo) ListFacilities(ctx context.Context) ([]domain.Facility, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+facilityColumns+` FROM facilities ORDER BY ibps_number`)
	if err != nil {
		return nil, classify(err)
	}
	var res []domain.Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, f)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, classify(err)
	}
	for i := range res {
		if res[i], err = r.loadSchedule(ctx, res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// loadSchedule fills milestones and tranches. Rows must be closed by the caller
// first; sqlite runs on a single connection.
func (r Repo) loadSchedule(ctx context.Context, f domain.Facility) (domain.Facility, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT milestone_order,description,allocated_amount,achieved,achieved_at FROM facility_milestones WHERE facility_id=? ORDER BY milestone_order`), f.ID)
	if err != nil {
		return f, classify(err)
	}
	f.Milestones = nil
	for rows.Next() {
		var (
			m          domain.Milestone
			achievedAt sql.NullString
		)
		if err := rows.Scan(&m.Order, &m.Description, &m.AllocatedAmount, &m.Achieved, &achievedAt); err != nil {
			rows.Close()
			return f, err
		}
		if m.AchievedAt, err = timePtr(achievedAt); err != nil {
			rows.Close()
			return f, err
		}
		f.Milestones = append(f.Milestones, m)
	}
	rows.Close()

	rows, err = r.DB.QueryContext(ctx, r.q(`SELECT tranche_number,amount,request_date,disbursement_date,status FROM facility_tranches WHERE facility_id=? ORDER BY request_date, tranche_number`), f.ID)
	if err != nil {
		return f, classify(err)
	}
	defer rows.Close()
	f.Tranches = nil
	for rows.Next() {
		var (
			t            domain.Tranche
			requested    string
			disbursement sql.NullString
		)
		if err := rows.Scan(&t.Number, &t.Amount, &requested, &disbursement, &t.Status); err != nil {
			return f, err
		}
		if t.RequestDate, err = parseTime(requested); err != nil {
			return f, err
		}
		if t.DisbursementDate, err = timePtr(disbursement); err != nil {
			return f, err
		}
		f.Tranches = append(f.Tranches, t)
	}
	return f, classify(rows.Err())
}

// UpsertFacility inserts or replaces a facility keyed by IBPS number. Milestones and
// tranches are replaced wholesale.
func (r Repo) UpsertFacility(ctx context.Context, f domain.Facility) (domain.Facility, error) {
	if f.IBPSNumber == "" {
		return f, fmt.Errorf("%w: ibps_number required", domain.ErrValidation)
	}
	if f.GeofenceRadiusMeters == 0 {
		f.GeofenceRadiusMeters = 100
	}
	tx, err := r.begin(ctx)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx, r.q(`SELECT id FROM facilities WHERE ibps_number=?`), f.IBPSNumber).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		_, err = tx.ExecContext(ctx, r.q(`INSERT INTO facilities(`+facilityColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`),
			f.ID, f.IBPSNumber, f.CustomerName, f.TotalApprovedAmount.String(), nullable(f.ProjectDescription),
			nullableDecimal(f.SiteLatitude), nullableDecimal(f.SiteLongitude), f.GeofenceRadiusMeters, db.FormatTime(f.CreatedAt))
	case err != nil:
		return f, classify(err)
	default:
		f.ID = existingID
		_, err = tx.ExecContext(ctx, r.q(`UPDATE facilities SET customer_name=?, total_approved_amount=?, project_description=?, site_latitude=?, site_longitude=?, geofence_radius_meters=? WHERE id=?`),
			f.CustomerName, f.TotalApprovedAmount.String(), nullable(f.ProjectDescription),
			nullableDecimal(f.SiteLatitude), nullableDecimal(f.SiteLongitude), f.GeofenceRadiusMeters, f.ID)
	}
	if err != nil {
		return f, fmt.Errorf("write facility: %w", classify(err))
	}
	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM facility_milestones WHERE facility_id=?`), f.ID); err != nil {
		return f, classify(err)
	}
	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM facility_tranches WHERE facility_id=?`), f.ID); err != nil {
		return f, classify(err)
	}
	for _, m := range f.Milestones {
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO facility_milestones(facility_id,milestone_order,description,allocated_amount,achieved,achieved_at) VALUES (?,?,?,?,?,?)`),
			f.ID, m.Order, m.Description, m.AllocatedAmount.String(), m.Achieved, nullableTime(m.AchievedAt)); err != nil {
			return f, fmt.Errorf("insert milestone %d: %w", m.Order, classify(err))
		}
	}
	for _, t := range f.Tranches {
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO facility_tranches(facility_id,tranche_number,amount,request_date,disbursement_date,status) VALUES (?,?,?,?,?,?)`),
			f.ID, t.Number, t.Amount.String(), db.FormatTime(t.RequestDate), nullableTime(t.DisbursementDate), t.Status); err != nil {
			return f, fmt.Errorf("insert tranche %s: %w", t.Number, classify(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return f, classify(err)
	}
	return f, nil
}
