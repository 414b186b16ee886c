package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"drawdown/internal/domain"
)

// facilityFile is the YAML import format. Amounts and coordinates are strings
// so they round-trip without float loss.
type facilityFile struct {
	Facilities []facilityDoc `yaml:"facilities"`
}

type facilityDoc struct {
	IBPSNumber           string         `yaml:"ibps_number"`
	CustomerName         string         `yaml:"customer_name"`
	TotalApprovedAmount  string         `yaml:"total_approved_amount"`
	ProjectDescription   string         `yaml:"project_description"`
	SiteLatitude         string         `yaml:"site_latitude"`
	SiteLongitude        string         `yaml:"site_longitude"`
	GeofenceRadiusMeters int            `yaml:"geofence_radius_meters"`
	Milestones           []milestoneDoc `yaml:"milestones"`
	Tranches             []trancheDoc   `yaml:"tranches"`
}

type milestoneDoc struct {
	Description     string     `yaml:"description"`
	AllocatedAmount string     `yaml:"allocated_amount"`
	Achieved        bool       `yaml:"achieved"`
	AchievedAt      *time.Time `yaml:"achieved_at"`
}

type trancheDoc struct {
	Number           string     `yaml:"number"`
	Amount           string     `yaml:"amount"`
	RequestDate      time.Time  `yaml:"request_date"`
	DisbursementDate *time.Time `yaml:"disbursement_date"`
	Status           string     `yaml:"status"`
}

func parseFacilities(data []byte, now time.Time) ([]domain.Facility, error) {
	var file facilityFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid facility yaml: %w", err)
	}
	if len(file.Facilities) == 0 {
		return nil, fmt.Errorf("no facilities in file")
	}
	out := make([]domain.Facility, 0, len(file.Facilities))
	for i, doc := range file.Facilities {
		f, err := doc.toFacility(now)
		if err != nil {
			return nil, fmt.Errorf("facilities[%d]: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func (d facilityDoc) toFacility(now time.Time) (domain.Facility, error) {
	if d.IBPSNumber == "" {
		return domain.Facility{}, fmt.Errorf("ibps_number is required")
	}
	total, err := decimal.NewFromString(d.TotalApprovedAmount)
	if err != nil {
		return domain.Facility{}, fmt.Errorf("total_approved_amount: %w", err)
	}
	f := domain.Facility{
		IBPSNumber:           d.IBPSNumber,
		CustomerName:         d.CustomerName,
		TotalApprovedAmount:  total,
		ProjectDescription:   d.ProjectDescription,
		GeofenceRadiusMeters: d.GeofenceRadiusMeters,
		CreatedAt:            now,
	}
	if f.SiteLatitude, err = optionalDecimal(d.SiteLatitude); err != nil {
		return f, fmt.Errorf("site_latitude: %w", err)
	}
	if f.SiteLongitude, err = optionalDecimal(d.SiteLongitude); err != nil {
		return f, fmt.Errorf("site_longitude: %w", err)
	}
	if (f.SiteLatitude == nil) != (f.SiteLongitude == nil) {
		return f, fmt.Errorf("site_latitude and site_longitude must be given together")
	}
	for i, m := range d.Milestones {
		amount, err := decimal.NewFromString(m.AllocatedAmount)
		if err != nil {
			return f, fmt.Errorf("milestones[%d].allocated_amount: %w", i, err)
		}
		f.Milestones = append(f.Milestones, domain.Milestone{
			Order:           i + 1,
			Description:     m.Description,
			AllocatedAmount: amount,
			Achieved:        m.Achieved,
			AchievedAt:      m.AchievedAt,
		})
	}
	for i, t := range d.Tranches {
		amount, err := decimal.NewFromString(t.Amount)
		if err != nil {
			return f, fmt.Errorf("tranches[%d].amount: %w", i, err)
		}
		status := t.Status
		if status == "" {
			status = "Pending"
		}
		f.Tranches = append(f.Tranches, domain.Tranche{
			Number:           t.Number,
			Amount:           amount,
			RequestDate:      t.RequestDate,
			DisbursementDate: t.DisbursementDate,
			Status:           status,
		})
	}
	return f, nil
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
