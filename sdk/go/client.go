package drawdownsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal drawdown review API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID and Role are sent as dev headers when no token is set.
	ActorID    string
	Role       string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// As returns a copy of the client acting as the given dev identity.
func (c *Client) As(actorID, role string) *Client {
	cp := *c
	cp.BearerToken = ""
	cp.ActorID = actorID
	cp.Role = role
	return &cp
}

// Report is the API report model (partial).
type Report struct {
	ID              string     `json:"id"`
	IBPSNumber      string     `json:"ibps_number"`
	RMUserID        string     `json:"rm_user_id"`
	Status          string     `json:"status"`
	RequestedAmount string     `json:"requested_amount"`
	ApprovedAmount  *string    `json:"approved_amount,omitempty"`
	ApprovedBy      *string    `json:"approved_by,omitempty"`
	LockedBy        *string    `json:"locked_by,omitempty"`
	LockedUntil     *time.Time `json:"locked_until,omitempty"`
	WithinGeofence  *bool      `json:"within_geofence,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	Version         int64      `json:"version"`
}

type TrailEntry struct {
	Seq            int       `json:"seq"`
	UserID         string    `json:"user_id"`
	UserRole       string    `json:"user_role"`
	Action         string    `json:"action"`
	PreviousStatus *string   `json:"previous_status,omitempty"`
	NewStatus      string    `json:"new_status"`
	Comments       string    `json:"comments,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type Comment struct {
	ID       string     `json:"id"`
	ReportID string     `json:"report_id"`
	ParentID *string    `json:"parent_id,omitempty"`
	UserID   string     `json:"user_id"`
	Text     string     `json:"text"`
	Replies  []*Comment `json:"replies,omitempty"`
}

type Attachment struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Kind        string `json:"kind"`
}

// ReportDetail is a report with its attachments, comments and trail.
type ReportDetail struct {
	Report      Report       `json:"report"`
	Attachments []Attachment `json:"attachments"`
	Comments    []*Comment   `json:"comments"`
	Trail       []TrailEntry `json:"trail"`
	LockActive  bool         `json:"lock_active"`
}

// Upload is file content to attach; Content is sent base64 encoded.
type Upload struct {
	FileName    string  `json:"file_name"`
	ContentType string  `json:"content_type,omitempty"`
	Content     []byte  `json:"content"`
	Latitude    *string `json:"latitude,omitempty"`
	Longitude   *string `json:"longitude,omitempty"`
}

// NewReport carries the fields a report is created with. Amounts are decimal strings.
type NewReport struct {
	IBPSNumber      string    `json:"ibps_number"`
	VisitDate       time.Time `json:"visit_date"`
	VisitLatitude   *string   `json:"visit_latitude,omitempty"`
	VisitLongitude  *string   `json:"visit_longitude,omitempty"`
	PersonMet       string    `json:"person_met,omitempty"`
	ProjectName     string    `json:"project_name,omitempty"`
	RequestedAmount string    `json:"requested_amount"`
	Attachments     []Upload  `json:"attachments,omitempty"`
}

type LockStatus struct {
	ReportID string `json:"report_id"`
	Held     bool   `json:"held"`
	HolderID string `json:"holder_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

func (c *Client) CreateReport(ctx context.Context, in NewReport) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, "reports", in, &resp)
	return resp, err
}

func (c *Client) GetReport(ctx context.Context, id string) (ReportDetail, error) {
	var resp ReportDetail
	err := c.do(ctx, http.MethodGet, reportPath(id, ""), nil, &resp)
	return resp, err
}

// ListReports returns reports in the given statuses, or the caller's work
// queue when none are given.
func (c *Client) ListReports(ctx context.Context, statuses ...string) ([]Report, error) {
	endpoint := "reports"
	if len(statuses) > 0 {
		endpoint += "?status=" + url.QueryEscape(strings.Join(statuses, ","))
	}
	var resp []Report
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Submit(ctx context.Context, id string, uploads ...Upload) (Report, error) {
	return c.transition(ctx, id, "submit", withUploads(map[string]any{}, uploads))
}

func (c *Client) Resubmit(ctx context.Context, id, comments string, uploads ...Upload) (Report, error) {
	return c.transition(ctx, id, "resubmit", withUploads(map[string]any{"comments": comments}, uploads))
}

func withUploads(body map[string]any, uploads []Upload) map[string]any {
	if len(uploads) > 0 {
		body["attachments"] = uploads
	}
	return body
}

// Lock takes the review lock; zero minutes uses the server default.
func (c *Client) Lock(ctx context.Context, id string, minutes int) (Report, error) {
	return c.transition(ctx, id, "lock", map[string]any{"duration_minutes": minutes})
}

func (c *Client) ReleaseLock(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodDelete, reportPath(id, "lock"), nil, &resp)
	return resp, err
}

func (c *Client) LockStatus(ctx context.Context, id string) (LockStatus, error) {
	var resp LockStatus
	err := c.do(ctx, http.MethodGet, reportPath(id, "lock"), nil, &resp)
	return resp, err
}

func (c *Client) Return(ctx context.Context, id, comments string) (Report, error) {
	return c.transition(ctx, id, "return", map[string]any{"comments": comments})
}

// Approve approves amount, or the requested amount when amount is empty.
func (c *Client) Approve(ctx context.Context, id, amount, comments string) (Report, error) {
	body := map[string]any{"comments": comments}
	if amount != "" {
		body["approved_amount"] = amount
	}
	return c.transition(ctx, id, "approve", body)
}

func (c *Client) Reject(ctx context.Context, id, comments string) (Report, error) {
	return c.transition(ctx, id, "reject", map[string]any{"comments": comments})
}

func (c *Client) Trail(ctx context.Context, id string) ([]TrailEntry, error) {
	var resp []TrailEntry
	err := c.do(ctx, http.MethodGet, reportPath(id, "trail"), nil, &resp)
	return resp, err
}

func (c *Client) AddComment(ctx context.Context, reportID, parentID, text string) (Comment, error) {
	body := map[string]any{"text": text}
	if parentID != "" {
		body["parent_id"] = parentID
	}
	var resp Comment
	err := c.do(ctx, http.MethodPost, reportPath(reportID, "comments"), body, &resp)
	return resp, err
}

func (c *Client) Comments(ctx context.Context, reportID string) ([]*Comment, error) {
	var resp []*Comment
	err := c.do(ctx, http.MethodGet, reportPath(reportID, "comments"), nil, &resp)
	return resp, err
}

func (c *Client) transition(ctx context.Context, id, action string, body any) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, reportPath(id, action), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
		req.Header.Set("X-Actor-Role", c.Role)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code, apiErr.Message = envelope.Error.Code, envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func reportPath(id, action string) string {
	p := "reports/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
