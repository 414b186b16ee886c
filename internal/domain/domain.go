package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft        Status = "Draft"
	StatusSubmitted    Status = "Submitted"
	StatusUnderReview  Status = "UnderReview"
	StatusReturnedToRM Status = "ReturnedToRM"
	StatusApproved     Status = "Approved"
	StatusRejected     Status = "Rejected"
)

// Statuses lists every status a report may hold.
var Statuses = []Status{
	StatusDraft, StatusSubmitted, StatusUnderReview, StatusReturnedToRM, StatusApproved, StatusRejected,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

type Role string

const (
	RoleRM    Role = "RM"
	RoleQS    Role = "QS"
	RoleAdmin Role = "Admin"
)

// Action names a workflow operation; it is also the permission id.
type Action string

const (
	ActionCreate   Action = "report.create"
	ActionSubmit   Action = "report.submit"
	ActionResubmit Action = "report.resubmit"
	ActionLock     Action = "report.lock"
	ActionRelease  Action = "report.release"
	ActionComment  Action = "report.comment"
	ActionReturn   Action = "report.return"
	ActionApprove  Action = "report.approve"
	ActionReject   Action = "report.reject"
	ActionRead     Action = "report.read"
)

// Actions lists every known permission id.
var Actions = []Action{
	ActionCreate, ActionSubmit, ActionResubmit, ActionLock, ActionRelease,
	ActionComment, ActionReturn, ActionApprove, ActionReject, ActionRead,
}

// TrailAction is the verb recorded in the approval trail.
type TrailAction string

const (
	TrailCreated     TrailAction = "Created"
	TrailSubmitted   TrailAction = "Submitted"
	TrailResubmitted TrailAction = "Resubmitted"
	TrailLocked      TrailAction = "Locked"
	TrailReleased    TrailAction = "Released"
	TrailReturned    TrailAction = "Returned"
	TrailApproved    TrailAction = "Approved"
	TrailRejected    TrailAction = "Rejected"
)

type Actor struct {
	ID   string
	Role Role
}

type Report struct {
	ID         string    `json:"id"`
	FacilityID string    `json:"facility_id"`
	IBPSNumber string    `json:"ibps_number"`
	RMUserID   string    `json:"rm_user_id"`
	VisitDate  time.Time `json:"visit_date"`

	VisitLatitude     *decimal.Decimal `json:"visit_latitude,omitempty"`
	VisitLongitude    *decimal.Decimal `json:"visit_longitude,omitempty"`
	LocationAddress   string           `json:"location_address,omitempty"`
	PersonMet         string           `json:"person_met,omitempty"`
	PersonDesignation string           `json:"person_designation,omitempty"`

	BQAmount               *decimal.Decimal `json:"bq_amount,omitempty"`
	ConstructionLoanAmount *decimal.Decimal `json:"construction_loan_amount,omitempty"`
	CustomerContribution   *decimal.Decimal `json:"customer_contribution,omitempty"`
	DrawnFundsToDate       *decimal.Decimal `json:"drawn_funds_to_date,omitempty"`
	UndrawnFunds           *decimal.Decimal `json:"undrawn_funds,omitempty"`

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

	DrawdownRequestNumber string          `json:"drawdown_request_number,omitempty"`
	RequestedAmount       decimal.Decimal `json:"requested_amount"`

	Checklist Checklist `json:"checklist"`

	WithinGeofence *bool `json:"within_geofence,omitempty"`

	Status         Status           `json:"status"`
	LockedBy       *string          `json:"locked_by,omitempty"`
	LockedUntil    *time.Time       `json:"locked_until,omitempty"`
	ApprovedAmount *decimal.Decimal `json:"approved_amount,omitempty"`
	ApprovedBy     *string          `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time       `json:"approved_at,omitempty"`
	SubmittedAt    *time.Time       `json:"submitted_at,omitempty"`
	ReviewedAt     *time.Time       `json:"reviewed_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	CreatedBy string     `json:"created_by"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	UpdatedBy *string    `json:"updated_by,omitempty"`
	Version   int64      `json:"version"`
}

// Checklist records which supporting documents the RM says were provided.
type Checklist struct {
	HasQSValuation              bool `json:"has_qs_valuation"`
	HasInterimCertificate       bool `json:"has_interim_certificate"`
	HasCustomerInstruction      bool `json:"has_customer_instruction"`
	HasContractorProgressReport bool `json:"has_contractor_progress_report"`
	HasContractorInvoice        bool `json:"has_contractor_invoice"`
}

type AttachmentKind string

const (
	AttachmentPhoto               AttachmentKind = "Photo"
	AttachmentValuationReport     AttachmentKind = "ValuationReport"
	AttachmentInterimCertificate  AttachmentKind = "InterimCertificate"
	AttachmentDrawdownInstruction AttachmentKind = "DrawdownInstruction"
	AttachmentOther               AttachmentKind = "Other"
)

type Attachment struct {
	ID          string           `json:"id"`
	ReportID    string           `json:"report_id"`
	FileName    string           `json:"file_name"`
	ContentType string           `json:"content_type"`
	SizeBytes   int64            `json:"size_bytes"`
	Kind        AttachmentKind   `json:"kind"`
	Locator     string           `json:"locator"`
	Latitude    *decimal.Decimal `json:"latitude,omitempty"`
	Longitude   *decimal.Decimal `json:"longitude,omitempty"`
	TakenAt     *time.Time       `json:"taken_at,omitempty"`
	GeoTagged   bool             `json:"geo_tagged"`
	UploadedBy  string           `json:"uploaded_by"`
	CreatedAt   time.Time        `json:"created_at"`
}

type Comment struct {
	ID        string    `json:"id"`
	ReportID  string    `json:"report_id"`
	ParentID  *string   `json:"parent_id,omitempty"`
	UserID    string    `json:"user_id"`
	UserRole  Role      `json:"user_role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// CommentNode is a comment with its replies, built from the flat parent-pointer rows.
type CommentNode struct {
	Comment
	Replies []*CommentNode `json:"replies,omitempty"`
}

type TrailEntry struct {
	ID             string      `json:"id"`
	ReportID       string      `json:"report_id"`
	Seq            int         `json:"seq"`
	UserID         string      `json:"user_id"`
	UserRole       Role        `json:"user_role"`
	Action         TrailAction `json:"action"`
	PreviousStatus *Status     `json:"previous_status,omitempty"`
	NewStatus      Status      `json:"new_status"`
	Comments       string      `json:"comments,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

type Facility struct {
	ID                   string           `json:"id"`
	IBPSNumber           string           `json:"ibps_number"`
	CustomerName         string           `json:"customer_name"`
	TotalApprovedAmount  decimal.Decimal  `json:"total_approved_amount"`
	ProjectDescription   string           `json:"project_description,omitempty"`
	SiteLatitude         *decimal.Decimal `json:"site_latitude,omitempty"`
	SiteLongitude        *decimal.Decimal `json:"site_longitude,omitempty"`
	GeofenceRadiusMeters int              `json:"geofence_radius_meters"`
	Milestones           []Milestone      `json:"milestones,omitempty"`
	Tranches             []Tranche        `json:"tranches,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
}

type Milestone struct {
	Order           int             `json:"order"`
	Description     string          `json:"description"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
	Achieved        bool            `json:"achieved"`
	AchievedAt      *time.Time      `json:"achieved_at,omitempty"`
}

type Tranche struct {
	Number           string          `json:"number"`
	Amount           decimal.Decimal `json:"amount"`
	RequestDate      time.Time       `json:"request_date"`
	DisbursementDate *time.Time      `json:"disbursement_date,omitempty"`
	Status           string          `json:"status"`
}
