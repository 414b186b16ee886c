package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"drawdown/internal/blob"
	"drawdown/internal/config"
	"drawdown/internal/db"
	"drawdown/internal/domain"
	"drawdown/internal/engine"
	"drawdown/internal/engine/auth"
	"drawdown/internal/metrics"
	"drawdown/internal/migrate"
	"drawdown/internal/repo"
	drawdownsdk "drawdown/sdk/go"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn, dialect)
	require.NoError(t, err)
	r := repo.New(conn, dialect)
	_, err = r.UpsertFacility(ctx, domain.Facility{
		IBPSNumber:          "IBPS-001",
		CustomerName:        "Acme Builders",
		TotalApprovedAmount: decimal.RequireFromString("1000000"),
		CreatedAt:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	cfg := config.Default()
	e := engine.New(r, cfg)
	e.Blobs = blob.FS{Dir: t.TempDir()}
	m := metrics.New()
	e.Metrics = m
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowDevHeaders: true},
		Metrics:  m,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newReport() drawdownsdk.NewReport {
	return drawdownsdk.NewReport{
		IBPSNumber:      "IBPS-001",
		VisitDate:       time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC),
		PersonMet:       "Site foreman",
		RequestedAmount: "50000",
		Attachments: []drawdownsdk.Upload{
			{FileName: "site.jpg", Content: []byte("\xff\xd8\xff\xe0 jpeg body")},
		},
	}
}

func apiErr(t *testing.T, err error) *drawdownsdk.APIError {
	t.Helper()
	var ae *drawdownsdk.APIError
	require.True(t, errors.As(err, &ae), "expected api error, got %v", err)
	return ae
}

func TestReviewFlow(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	base := drawdownsdk.New(srv.URL)
	rm := base.As("rm-1", "RM")
	qsA := base.As("qs-a", "QS")
	qsB := base.As("qs-b", "QS")

	rep, err := rm.CreateReport(ctx, newReport())
	require.NoError(t, err)
	assert.Equal(t, "Draft", rep.Status)
	assert.Equal(t, "50000", rep.RequestedAmount)

	rep, err = rm.Submit(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, "Submitted", rep.Status)

	pool, err := qsA.ListReports(ctx, "Submitted")
	require.NoError(t, err)
	require.Len(t, pool, 1)

	rep, err = qsA.Lock(ctx, rep.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "UnderReview", rep.Status)

	_, err = qsB.Lock(ctx, rep.ID, 0)
	ae := apiErr(t, err)
	assert.Equal(t, http.StatusConflict, ae.StatusCode)
	assert.Equal(t, "already_locked", ae.Code)

	_, err = qsA.Lock(ctx, rep.ID, 60)
	ae = apiErr(t, err)
	assert.Equal(t, http.StatusConflict, ae.StatusCode)
	assert.Equal(t, "already_locked", ae.Code)

	status, err := qsB.LockStatus(ctx, rep.ID)
	require.NoError(t, err)
	assert.True(t, status.Held)
	assert.Equal(t, "qs-a", status.HolderID)

	_, err = qsB.Approve(ctx, rep.ID, "", "")
	ae = apiErr(t, err)
	assert.Equal(t, http.StatusForbidden, ae.StatusCode)

	rep, err = qsA.Approve(ctx, rep.ID, "45000", "Works verified")
	require.NoError(t, err)
	assert.Equal(t, "Approved", rep.Status)
	require.NotNil(t, rep.ApprovedAmount)
	assert.Equal(t, "45000", *rep.ApprovedAmount)

	entries, err := rm.Trail(ctx, rep.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "Approved", entries[3].Action)
	assert.Equal(t, "UnderReview", *entries[3].PreviousStatus)

	detail, err := rm.GetReport(ctx, rep.ID)
	require.NoError(t, err)
	require.Len(t, detail.Attachments, 1)
	assert.Equal(t, "Photo", detail.Attachments[0].Kind)
	assert.False(t, detail.LockActive)
}

func TestReturnResubmitAndComments(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	base := drawdownsdk.New(srv.URL)
	rm := base.As("rm-1", "RM")
	qs := base.As("qs-a", "QS")

	rep, err := rm.CreateReport(ctx, newReport())
	require.NoError(t, err)
	_, err = rm.Submit(ctx, rep.ID)
	require.NoError(t, err)
	_, err = qs.Lock(ctx, rep.ID, 30)
	require.NoError(t, err)

	root, err := qs.AddComment(ctx, rep.ID, "", "Missing interim certificate")
	require.NoError(t, err)
	_, err = rm.AddComment(ctx, rep.ID, root.ID, "Will upload")
	require.NoError(t, err)
	_, err = rm.AddComment(ctx, rep.ID, "no-such-comment", "orphan")
	ae := apiErr(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, ae.StatusCode)
	assert.Equal(t, "invalid_parent", ae.Code)

	rep, err = qs.Return(ctx, rep.ID, "See comments")
	require.NoError(t, err)
	assert.Equal(t, "ReturnedToRM", rep.Status)

	rep, err = rm.Resubmit(ctx, rep.ID, "Uploaded", drawdownsdk.Upload{FileName: "interim.pdf", Content: []byte("%PDF-1.4")})
	require.NoError(t, err)
	assert.Equal(t, "Submitted", rep.Status)

	tree, err := qs.Comments(ctx, rep.ID)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Replies, 1)

	_, err = qs.Lock(ctx, rep.ID, 0)
	require.NoError(t, err)
	_, err = qs.ReleaseLock(ctx, rep.ID)
	require.NoError(t, err)
	_, err = qs.ReleaseLock(ctx, rep.ID)
	ae = apiErr(t, err)
	assert.Equal(t, http.StatusForbidden, ae.StatusCode)
	assert.Equal(t, "not_lock_holder", ae.Code)
}

func TestErrorEnvelopes(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	base := drawdownsdk.New(srv.URL)
	rm := base.As("rm-1", "RM")

	_, err := base.ListReports(ctx)
	assert.Equal(t, http.StatusUnauthorized, apiErr(t, err).StatusCode)

	in := newReport()
	in.RequestedAmount = "lots"
	_, err = rm.CreateReport(ctx, in)
	ae := apiErr(t, err)
	assert.Equal(t, http.StatusBadRequest, ae.StatusCode)
	assert.Equal(t, "validation_error", ae.Code)

	in = newReport()
	in.Attachments = nil
	rep, err := rm.CreateReport(ctx, in)
	require.NoError(t, err)
	_, err = rm.Submit(ctx, rep.ID)
	ae = apiErr(t, err)
	assert.Equal(t, http.StatusConflict, ae.StatusCode)
	assert.Equal(t, "invalid_transition", ae.Code)

	_, err = rm.Lock(ctx, rep.ID, 0)
	ae = apiErr(t, err)
	assert.Equal(t, http.StatusForbidden, ae.StatusCode)
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(ae.Body), &envelope))
	assert.Equal(t, "report.lock", envelope.Error.Details["action"])

	_, err = rm.GetReport(ctx, "missing")
	ae = apiErr(t, err)
	assert.Equal(t, http.StatusNotFound, ae.StatusCode)
	assert.Equal(t, "not_found", ae.Code)
}

func TestJWTAuthentication(t *testing.T) {
	srv := newTestServer(t)
	token, err := SignToken(testSecret, "qs-a", domain.RoleQS, time.Hour)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var who WhoAmIResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&who))
	assert.Equal(t, "qs-a", who.ActorID)
	assert.Equal(t, "QS", who.Role)
	assert.Equal(t, "jwt", who.Source)
	assert.Contains(t, who.Permissions, "report.approve")

	forged, err := SignToken("other-secret", "qs-a", domain.RoleQS, time.Hour)
	require.NoError(t, err)
	req, err = http.NewRequest(http.MethodGet, srv.URL+"/v1/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	res2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res2.StatusCode)
}

func TestHealthMetricsAndContent(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	rm := drawdownsdk.New(srv.URL).As("rm-1", "RM")
	rep, err := rm.CreateReport(ctx, newReport())
	require.NoError(t, err)
	detail, err := rm.GetReport(ctx, rep.ID)
	require.NoError(t, err)
	require.Len(t, detail.Attachments, 1)

	res, err := http.Get(srv.URL + "/v1/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "drawdown_transitions_total")

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/v1/attachments/%s/content", srv.URL, detail.Attachments[0].ID), nil)
	require.NoError(t, err)
	req.Header.Set("X-Actor-Id", "qs-a")
	req.Header.Set("X-Actor-Role", "QS")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image/jpeg", res.Header.Get("Content-Type"))
	assert.True(t, strings.Contains(res.Header.Get("Content-Disposition"), "site.jpg"))
	content, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("\xff\xd8\xff\xe0 jpeg body"), content)
}

func TestHandleErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: x", domain.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: x", domain.ErrForbidden), http.StatusForbidden, "forbidden"},
		{auth.ForbiddenError{Role: domain.RoleRM, Action: domain.ActionApprove}, http.StatusForbidden, "forbidden"},
		{fmt.Errorf("%w: x", domain.ErrNotLockHolder), http.StatusForbidden, "not_lock_holder"},
		{fmt.Errorf("%w: x", domain.ErrAlreadyLocked), http.StatusConflict, "already_locked"},
		{fmt.Errorf("%w: x", domain.ErrConflict), http.StatusConflict, "conflict"},
		{fmt.Errorf("%w: x", domain.ErrInvalidTransition), http.StatusConflict, "invalid_transition"},
		{fmt.Errorf("%w: x", domain.ErrValidation), http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("%w: x", domain.ErrInvalidParent), http.StatusUnprocessableEntity, "invalid_parent"},
		{fmt.Errorf("%w: x", domain.ErrUnavailable), http.StatusServiceUnavailable, "unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		se := handleError(tc.err)
		ae, ok := se.(*apiError)
		require.True(t, ok)
		assert.Equal(t, tc.status, ae.GetStatus(), tc.err.Error())
		assert.Equal(t, tc.code, ae.Body.Code, tc.err.Error())
	}
}

func TestTransitionEndpointsTargetPathReport(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	base := drawdownsdk.New(srv.URL)
	rm := base.As("rm-1", "RM")
	qs := base.As("qs-a", "QS")

	other, err := rm.CreateReport(ctx, newReport())
	require.NoError(t, err)
	rep, err := rm.CreateReport(ctx, newReport())
	require.NoError(t, err)

	steps := []struct {
		name   string
		run    func(id string) (drawdownsdk.Report, error)
		status string
	}{
		{"submit", func(id string) (drawdownsdk.Report, error) { return rm.Submit(ctx, id) }, "Submitted"},
		{"lock", func(id string) (drawdownsdk.Report, error) { return qs.Lock(ctx, id, 30) }, "UnderReview"},
		{"return", func(id string) (drawdownsdk.Report, error) { return qs.Return(ctx, id, "redo") }, "ReturnedToRM"},
		{"resubmit", func(id string) (drawdownsdk.Report, error) { return rm.Resubmit(ctx, id, "done") }, "Submitted"},
		{"relock", func(id string) (drawdownsdk.Report, error) { return qs.Lock(ctx, id, 0) }, "UnderReview"},
		{"reject", func(id string) (drawdownsdk.Report, error) { return qs.Reject(ctx, id, "no") }, "Rejected"},
	}
	for _, step := range steps {
		got, err := step.run(rep.ID)
		require.NoError(t, err, step.name)
		assert.Equal(t, rep.ID, got.ID, step.name)
		assert.Equal(t, step.status, got.Status, step.name)
	}

	c, err := qs.AddComment(ctx, rep.ID, "", "closed")
	require.NoError(t, err)
	assert.Equal(t, rep.ID, c.ReportID)

	_, err = rm.Submit(ctx, other.ID)
	require.NoError(t, err)
	_, err = qs.Lock(ctx, other.ID, 0)
	require.NoError(t, err)
	approved, err := qs.Approve(ctx, other.ID, "", "ok")
	require.NoError(t, err)
	assert.Equal(t, other.ID, approved.ID)
	assert.Equal(t, "Approved", approved.Status)

	untouched, err := rm.GetReport(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rejected", untouched.Report.Status)
}

func TestInternalErrorsAreLoggedNotEchoed(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	defer zap.ReplaceGlobals(zap.New(core))()

	se := handleError(errors.New(`pq: relation "reports" does not exist`))
	ae, ok := se.(*apiError)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, ae.GetStatus())
	assert.Equal(t, "internal error", ae.Body.Message)
	assert.Empty(t, ae.Body.Details)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "unhandled api error", entries[0].Message)
	assert.Contains(t, entries[0].ContextMap()["error"], "relation")
}
