package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"drawdown/internal/domain"
	"drawdown/internal/engine"
)

// Request payloads. Money and coordinates travel as decimal strings.

type UploadRequest struct {
	FileName    string     `json:"file_name" maxLength:"255"`
	ContentType string     `json:"content_type,omitempty"`
	Content     []byte     `json:"content" doc:"Base64 file content"`
	Latitude    *string    `json:"latitude,omitempty"`
	Longitude   *string    `json:"longitude,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
}

type CreateReportRequest struct {
	IBPSNumber        string    `json:"ibps_number"`
	VisitDate         time.Time `json:"visit_date"`
	VisitLatitude     *string   `json:"visit_latitude,omitempty"`
	VisitLongitude    *string   `json:"visit_longitude,omitempty"`
	LocationAddress   string    `json:"location_address,omitempty"`
	PersonMet         string    `json:"person_met,omitempty"`
	PersonDesignation string    `json:"person_designation,omitempty"`

	BQAmount               *string `json:"bq_amount,omitempty"`
	ConstructionLoanAmount *string `json:"construction_loan_amount,omitempty"`
	CustomerContribution   *string `json:"customer_contribution,omitempty"`
	DrawnFundsToDate       *string `json:"drawn_funds_to_date,omitempty"`
	UndrawnFunds           *string `json:"undrawn_funds,omitempty"`

	PlotLRNumber        string   `json:"plot_lr_number,omitempty"`
	ExactLocation       string   `json:"exact_location,omitempty"`
	SitePin             string   `json:"site_pin,omitempty"`
	CustomerProfile     string   `json:"customer_profile,omitempty"`
	SiteVisitObjectives string   `json:"site_visit_objectives,omitempty"`
	CompletedWorks      string   `json:"completed_works,omitempty"`
	OngoingWorks        string   `json:"ongoing_works,omitempty"`
	MaterialsOnSite     string   `json:"materials_on_site,omitempty"`
	DefectsNoted        string   `json:"defects_noted,omitempty"`
	ProjectName         string   `json:"project_name,omitempty"`
	LoanType            string   `json:"loan_type,omitempty"`
	Weather             string   `json:"weather,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`

	DrawdownRequestNumber string `json:"drawdown_request_number,omitempty"`
	RequestedAmount       string `json:"requested_amount" example:"50000.00"`

	Checklist   ChecklistRequest `json:"checklist,omitempty"`
	Attachments []UploadRequest  `json:"attachments,omitempty"`
}

type ChecklistRequest struct {
	HasQSValuation              bool `json:"has_qs_valuation,omitempty"`
	HasInterimCertificate       bool `json:"has_interim_certificate,omitempty"`
	HasCustomerInstruction      bool `json:"has_customer_instruction,omitempty"`
	HasContractorProgressReport bool `json:"has_contractor_progress_report,omitempty"`
	HasContractorInvoice        bool `json:"has_contractor_invoice,omitempty"`
}

type SubmitRequest struct {
	Comments    string          `json:"comments,omitempty"`
	Attachments []UploadRequest `json:"attachments,omitempty"`
}

type LockRequest struct {
	DurationMinutes int `json:"duration_minutes,omitempty" minimum:"0" doc:"Zero uses the configured default"`
}

type DecisionRequest struct {
	Comments string `json:"comments,omitempty" maxLength:"2000"`
}

type ApproveRequest struct {
	ApprovedAmount *string `json:"approved_amount,omitempty" doc:"Defaults to the requested amount"`
	Comments       string  `json:"comments,omitempty" maxLength:"2000"`
}

type CommentRequest struct {
	ParentID *string `json:"parent_id,omitempty"`
	Text     string  `json:"text"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"RM,QS,Admin"`
}

// Responses

type ReportResponse struct {
	ID                     string           `json:"id"`
	FacilityID             string           `json:"facility_id"`
	IBPSNumber             string           `json:"ibps_number"`
	RMUserID               string           `json:"rm_user_id"`
	VisitDate              time.Time        `json:"visit_date"`
	VisitLatitude          *string          `json:"visit_latitude,omitempty"`
	VisitLongitude         *string          `json:"visit_longitude,omitempty"`
	LocationAddress        string           `json:"location_address,omitempty"`
	PersonMet              string           `json:"person_met,omitempty"`
	PersonDesignation      string           `json:"person_designation,omitempty"`
	BQAmount               *string          `json:"bq_amount,omitempty"`
	ConstructionLoanAmount *string          `json:"construction_loan_amount,omitempty"`
	CustomerContribution   *string          `json:"customer_contribution,omitempty"`
	DrawnFundsToDate       *string          `json:"drawn_funds_to_date,omitempty"`
	UndrawnFunds           *string          `json:"undrawn_funds,omitempty"`
	PlotLRNumber           string           `json:"plot_lr_number,omitempty"`
	ExactLocation          string           `json:"exact_location,omitempty"`
	SitePin                string           `json:"site_pin,omitempty"`
	CustomerProfile        string           `json:"customer_profile,omitempty"`
	SiteVisitObjectives    string           `json:"site_visit_objectives,omitempty"`
	CompletedWorks         string           `json:"completed_works,omitempty"`
	OngoingWorks           string           `json:"ongoing_works,omitempty"`
	MaterialsOnSite        string           `json:"materials_on_site,omitempty"`
	DefectsNoted           string           `json:"defects_noted,omitempty"`
	ProjectName            string           `json:"project_name,omitempty"`
	LoanType               string           `json:"loan_type,omitempty"`
	Weather                string           `json:"weather,omitempty"`
	Temperature            *float64         `json:"temperature,omitempty"`
	DrawdownRequestNumber  string           `json:"drawdown_request_number,omitempty"`
	RequestedAmount        string           `json:"requested_amount"`
	Checklist              domain.Checklist `json:"checklist"`
	WithinGeofence         *bool            `json:"within_geofence,omitempty"`
	Status                 string           `json:"status"`
	LockedBy               *string          `json:"locked_by,omitempty"`
	LockedUntil            *time.Time       `json:"locked_until,omitempty"`
	ApprovedAmount         *string          `json:"approved_amount,omitempty"`
	ApprovedBy             *string          `json:"approved_by,omitempty"`
	ApprovedAt             *time.Time       `json:"approved_at,omitempty"`
	SubmittedAt            *time.Time       `json:"submitted_at,omitempty"`
	ReviewedAt             *time.Time       `json:"reviewed_at,omitempty"`
	CreatedAt              time.Time        `json:"created_at"`
	CreatedBy              string           `json:"created_by"`
	UpdatedAt              *time.Time       `json:"updated_at,omitempty"`
	UpdatedBy              *string          `json:"updated_by,omitempty"`
	Version                int64            `json:"version"`
}

type AttachmentResponse struct {
	ID          string     `json:"id"`
	ReportID    string     `json:"report_id"`
	FileName    string     `json:"file_name"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	Kind        string     `json:"kind"`
	Latitude    *string    `json:"latitude,omitempty"`
	Longitude   *string    `json:"longitude,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	GeoTagged   bool       `json:"geo_tagged"`
	UploadedBy  string     `json:"uploaded_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

type MilestoneResponse struct {
	Order           int        `json:"order"`
	Description     string     `json:"description"`
	AllocatedAmount string     `json:"allocated_amount"`
	Achieved        bool       `json:"achieved"`
	AchievedAt      *time.Time `json:"achieved_at,omitempty"`
}

type TrancheResponse struct {
	Number           string     `json:"number"`
	Amount           string     `json:"amount"`
	RequestDate      time.Time  `json:"request_date"`
	DisbursementDate *time.Time `json:"disbursement_date,omitempty"`
	Status           string     `json:"status"`
}

type FacilityResponse struct {
	ID                   string              `json:"id"`
	IBPSNumber           string              `json:"ibps_number"`
	CustomerName         string              `json:"customer_name"`
	TotalApprovedAmount  string              `json:"total_approved_amount"`
	ProjectDescription   string              `json:"project_description,omitempty"`
	SiteLatitude         *string             `json:"site_latitude,omitempty"`
	SiteLongitude        *string             `json:"site_longitude,omitempty"`
	GeofenceRadiusMeters int                 `json:"geofence_radius_meters"`
	Milestones           []MilestoneResponse `json:"milestones"`
	Tranches             []TrancheResponse   `json:"tranches"`
}

type ReportDetailResponse struct {
	Report      ReportResponse        `json:"report"`
	Facility    FacilityResponse      `json:"facility"`
	Attachments []AttachmentResponse  `json:"attachments"`
	Comments    []*domain.CommentNode `json:"comments"`
	Trail       []domain.TrailEntry   `json:"trail"`
	LockActive  bool                  `json:"lock_active"`
}

type LockStatusResponse struct {
	ReportID string `json:"report_id"`
	Held     bool   `json:"held"`
	HolderID string `json:"holder_id,omitempty"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimal(field string, s *string) (*decimal.Decimal, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*s))
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a decimal: %q", domain.ErrValidation, field, *s)
	}
	return &d, nil
}

func reportResponse(r domain.Report) ReportResponse {
	return ReportResponse{
		ID:                     r.ID,
		FacilityID:             r.FacilityID,
		IBPSNumber:             r.IBPSNumber,
		RMUserID:               r.RMUserID,
		VisitDate:              r.VisitDate,
		VisitLatitude:          decimalString(r.VisitLatitude),
		VisitLongitude:         decimalString(r.VisitLongitude),
		LocationAddress:        r.LocationAddress,
		PersonMet:              r.PersonMet,
		PersonDesignation:      r.PersonDesignation,
		BQAmount:               decimalString(r.BQAmount),
		ConstructionLoanAmount: decimalString(r.ConstructionLoanAmount),
		CustomerContribution:   decimalString(r.CustomerContribution),
		DrawnFundsToDate:       decimalString(r.DrawnFundsToDate),
		UndrawnFunds:           decimalString(r.UndrawnFunds),
		PlotLRNumber:           r.PlotLRNumber,
		ExactLocation:          r.ExactLocation,
		SitePin:                r.SitePin,
		CustomerProfile:        r.CustomerProfile,
		SiteVisitObjectives:    r.SiteVisitObjectives,
		CompletedWorks:         r.CompletedWorks,
		OngoingWorks:           r.OngoingWorks,
		MaterialsOnSite:        r.MaterialsOnSite,
		DefectsNoted:           r.DefectsNoted,
		ProjectName:            r.ProjectName,
		LoanType:               r.LoanType,
		Weather:                r.Weather,
		Temperature:            r.Temperature,
		DrawdownRequestNumber:  r.DrawdownRequestNumber,
		RequestedAmount:        r.RequestedAmount.String(),
		Checklist:              r.Checklist,
		WithinGeofence:         r.WithinGeofence,
		Status:                 string(r.Status),
		LockedBy:               r.LockedBy,
		LockedUntil:            r.LockedUntil,
		ApprovedAmount:         decimalString(r.ApprovedAmount),
		ApprovedBy:             r.ApprovedBy,
		ApprovedAt:             r.ApprovedAt,
		SubmittedAt:            r.SubmittedAt,
		ReviewedAt:             r.ReviewedAt,
		CreatedAt:              r.CreatedAt,
		CreatedBy:              r.CreatedBy,
		UpdatedAt:              r.UpdatedAt,
		UpdatedBy:              r.UpdatedBy,
		Version:                r.Version,
	}
}

func mapReports(items []domain.Report) []ReportResponse {
	out := make([]ReportResponse, 0, len(items))
	for _, r := range items {
		out = append(out, reportResponse(r))
	}
	return out
}

func attachmentResponse(a domain.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:          a.ID,
		ReportID:    a.ReportID,
		FileName:    a.FileName,
		ContentType: a.ContentType,
		SizeBytes:   a.SizeBytes,
		Kind:        string(a.Kind),
		Latitude:    decimalString(a.Latitude),
		Longitude:   decimalString(a.Longitude),
		TakenAt:     a.TakenAt,
		GeoTagged:   a.GeoTagged,
		UploadedBy:  a.UploadedBy,
		CreatedAt:   a.CreatedAt,
	}
}

func facilityResponse(f domain.Facility) FacilityResponse {
	resp := FacilityResponse{
		ID:                   f.ID,
		IBPSNumber:           f.IBPSNumber,
		CustomerName:         f.CustomerName,
		TotalApprovedAmount:  f.TotalApprovedAmount.String(),
		ProjectDescription:   f.ProjectDescription,
		SiteLatitude:         decimalString(f.SiteLatitude),
		SiteLongitude:        decimalString(f.SiteLongitude),
		GeofenceRadiusMeters: f.GeofenceRadiusMeters,
		Milestones:           make([]MilestoneResponse, 0, len(f.Milestones)),
		Tranches:             make([]TrancheResponse, 0, len(f.Tranches)),
	}
	for _, m := range f.Milestones {
		resp.Milestones = append(resp.Milestones, MilestoneResponse{
			Order:           m.Order,
			Description:     m.Description,
			AllocatedAmount: m.AllocatedAmount.String(),
			Achieved:        m.Achieved,
			AchievedAt:      m.AchievedAt,
		})
	}
	for _, t := range f.Tranches {
		resp.Tranches = append(resp.Tranches, TrancheResponse{
			Number:           t.Number,
			Amount:           t.Amount.String(),
			RequestDate:      t.RequestDate,
			DisbursementDate: t.DisbursementDate,
			Status:           t.Status,
		})
	}
	return resp
}

func detailResponse(d engine.ReportDetail) ReportDetailResponse {
	resp := ReportDetailResponse{
		Report:      reportResponse(d.Report),
		Facility:    facilityResponse(d.Facility),
		Attachments: make([]AttachmentResponse, 0, len(d.Attachments)),
		Comments:    nonNilSlice(d.Comments),
		Trail:       nonNilSlice(d.Trail),
		LockActive:  d.LockActive,
	}
	for _, a := range d.Attachments {
		resp.Attachments = append(resp.Attachments, attachmentResponse(a))
	}
	return resp
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func (u UploadRequest) toUpload() (engine.Upload, error) {
	lat, err := parseDecimal("latitude", u.Latitude)
	if err != nil {
		return engine.Upload{}, err
	}
	long, err := parseDecimal("longitude", u.Longitude)
	if err != nil {
		return engine.Upload{}, err
	}
	return engine.Upload{
		FileName:    u.FileName,
		ContentType: u.ContentType,
		Content:     u.Content,
		Latitude:    lat,
		Longitude:   long,
		TakenAt:     u.TakenAt,
	}, nil
}

func toUploads(in []UploadRequest) ([]engine.Upload, error) {
	out := make([]engine.Upload, 0, len(in))
	for _, u := range in {
		up, err := u.toUpload()
		if err != nil {
			return nil, err
		}
		out = append(out, up)
	}
	return out, nil
}

func (req CreateReportRequest) toInput() (engine.CreateReportInput, error) {
	in := engine.CreateReportInput{
		IBPSNumber:            req.IBPSNumber,
		VisitDate:             req.VisitDate,
		LocationAddress:       req.LocationAddress,
		PersonMet:             req.PersonMet,
		PersonDesignation:     req.PersonDesignation,
		PlotLRNumber:          req.PlotLRNumber,
		ExactLocation:         req.ExactLocation,
		SitePin:               req.SitePin,
		CustomerProfile:       req.CustomerProfile,
		SiteVisitObjectives:   req.SiteVisitObjectives,
		CompletedWorks:        req.CompletedWorks,
		OngoingWorks:          req.OngoingWorks,
		MaterialsOnSite:       req.MaterialsOnSite,
		DefectsNoted:          req.DefectsNoted,
		ProjectName:           req.ProjectName,
		LoanType:              req.LoanType,
		Weather:               req.Weather,
		Temperature:           req.Temperature,
		DrawdownRequestNumber: req.DrawdownRequestNumber,
		Checklist:             domain.Checklist(req.Checklist),
	}
	requested, err := parseDecimal("requested_amount", &req.RequestedAmount)
	if err != nil {
		return in, err
	}
	if requested == nil {
		return in, fmt.Errorf("%w: requested_amount is required", domain.ErrValidation)
	}
	in.RequestedAmount = *requested
	for _, f := range []struct {
		name string
		src  *string
		dst  **decimal.Decimal
	}{
		{"visit_latitude", req.VisitLatitude, &in.VisitLatitude},
		{"visit_longitude", req.VisitLongitude, &in.VisitLongitude},
		{"bq_amount", req.BQAmount, &in.BQAmount},
		{"construction_loan_amount", req.ConstructionLoanAmount, &in.ConstructionLoanAmount},
		{"customer_contribution", req.CustomerContribution, &in.CustomerContribution},
		{"drawn_funds_to_date", req.DrawnFundsToDate, &in.DrawnFundsToDate},
		{"undrawn_funds", req.UndrawnFunds, &in.UndrawnFunds},
	} {
		if *f.dst, err = parseDecimal(f.name, f.src); err != nil {
			return in, err
		}
	}
	if in.Attachments, err = toUploads(req.Attachments); err != nil {
		return in, err
	}
	return in, nil
}
