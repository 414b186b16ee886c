package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"drawdown/internal/domain"
)

var validate = validator.New()

// Upload is attachment content supplied with a create or submit call.
type Upload struct {
	FileName    string           `validate:"required,max=255"`
	ContentType string           `validate:"max=127"`
	Content     []byte           `validate:"min=1"`
	Latitude    *decimal.Decimal `validate:"-"`
	Longitude   *decimal.Decimal `validate:"-"`
	TakenAt     *time.Time
}

type CreateReportInput struct {
	IBPSNumber        string           `validate:"required,max=64"`
	VisitDate         time.Time        `validate:"required"`
	VisitLatitude     *decimal.Decimal `validate:"-"`
	VisitLongitude    *decimal.Decimal `validate:"-"`
	LocationAddress   string           `validate:"max=500"`
	PersonMet         string           `validate:"max=200"`
	PersonDesignation string           `validate:"max=200"`

	BQAmount               *decimal.Decimal `validate:"-"`
	ConstructionLoanAmount *decimal.Decimal `validate:"-"`
	CustomerContribution   *decimal.Decimal `validate:"-"`
	DrawnFundsToDate       *decimal.Decimal `validate:"-"`
	UndrawnFunds           *decimal.Decimal `validate:"-"`

	PlotLRNumber        string `validate:"max=100"`
	ExactLocation       string `validate:"max=500"`
	SitePin             string `validate:"max=100"`
	CustomerProfile     string `validate:"max=4000"`
	SiteVisitObjectives string `validate:"max=4000"`
	CompletedWorks      string `validate:"max=4000"`
	OngoingWorks        string `validate:"max=4000"`
	MaterialsOnSite     string `validate:"max=4000"`
	DefectsNoted        string `validate:"max=4000"`
	ProjectName         string `validate:"max=200"`
	LoanType            string `validate:"max=100"`
	Weather             string `validate:"max=100"`
	Temperature         *float64

	DrawdownRequestNumber string          `validate:"max=64"`
	RequestedAmount       decimal.Decimal `validate:"-"`

	Checklist   domain.Checklist
	Attachments []Upload `validate:"dive"`
}

type CommentInput struct {
	ReportID string  `validate:"required"`
	ParentID *string `validate:"omitempty,min=1"`
	Text     string  `validate:"required,max=2000"`
}

func (in CreateReportInput) validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if !in.RequestedAmount.IsPositive() {
		return fmt.Errorf("%w: requested amount must be positive", domain.ErrValidation)
	}
	for name, amount := range map[string]*decimal.Decimal{
		"bq_amount":                in.BQAmount,
		"construction_loan_amount": in.ConstructionLoanAmount,
		"customer_contribution":    in.CustomerContribution,
		"drawn_funds_to_date":      in.DrawnFundsToDate,
		"undrawn_funds":            in.UndrawnFunds,
	} {
		if amount != nil && amount.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative", domain.ErrValidation, name)
		}
	}
	if err := validateCoordinates(in.VisitLatitude, in.VisitLongitude); err != nil {
		return err
	}
	return validateUploads(in.Attachments)
}

func validateUploads(uploads []Upload) error {
	for _, u := range uploads {
		if err := validateStruct(u); err != nil {
			return err
		}
		if err := validateCoordinates(u.Latitude, u.Longitude); err != nil {
			return err
		}
	}
	return nil
}

var (
	maxLatitude  = decimal.NewFromInt(90)
	maxLongitude = decimal.NewFromInt(180)
)

func validateCoordinates(lat, long *decimal.Decimal) error {
	if (lat == nil) != (long == nil) {
		return fmt.Errorf("%w: latitude and longitude must be given together", domain.ErrValidation)
	}
	if lat == nil {
		return nil
	}
	if lat.Abs().GreaterThan(maxLatitude) || long.Abs().GreaterThan(maxLongitude) {
		return fmt.Errorf("%w: coordinates %s,%s out of range", domain.ErrValidation, lat, long)
	}
	return nil
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(msgs, "; "))
}

func describeField(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must not be empty", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
