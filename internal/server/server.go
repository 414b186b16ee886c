package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"drawdown/internal/domain"
	"drawdown/internal/engine"
	"drawdown/internal/engine/auth"
	"drawdown/internal/metrics"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_locked"`
	Message string         `json:"message" example:"report r1 is locked by qs-a"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope returned by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the drawdown review API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema/request validation errors are bad requests.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler())
	}
	hcfg := huma.DefaultConfig("Drawdown Review API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.Engine)
	registerFacilities(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerTransitions(group, cfg.Engine)
	registerLocks(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerAttachments(group, cfg.Engine)
	if cfg.Auth.AllowDevHeaders {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

var statusByCode = map[string]int{
	"not_found":          http.StatusNotFound,
	"forbidden":          http.StatusForbidden,
	"not_lock_holder":    http.StatusForbidden,
	"already_locked":     http.StatusConflict,
	"conflict":           http.StatusConflict,
	"invalid_transition": http.StatusConflict,
	"validation_error":   http.StatusBadRequest,
	"invalid_parent":     http.StatusUnprocessableEntity,
	"unavailable":        http.StatusServiceUnavailable,
}

// handleError maps engine errors onto the envelope. Unclassified errors are
// logged through the global zap logger and never echoed to the client.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{
			"role":   string(fe.Role),
			"action": string(fe.Action),
		})
	}
	code := domain.ErrorCode(err)
	if status, ok := statusByCode[code]; ok {
		return newAPIError(status, code, err.Error(), nil)
	}
	zap.L().Error("unhandled api error", zap.Error(err))
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var transitionErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusServiceUnavailable,
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Drawdown API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string
	}, error) {
		return &struct {
			Body map[string]string
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		perms := []string{}
		for _, a := range e.Perms.Actions(principal.Role) {
			perms = append(perms, string(a))
		}
		return &struct {
			Body WhoAmIResponse
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Role:        string(principal.Role),
			Permissions: perms,
			Source:      principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest
	}) (*struct {
		Body DevLoginResponse
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, domain.Role(input.Body.Role), 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func registerFacilities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-facility",
		Method:      http.MethodGet,
		Path:        "/facilities/{ibps_number}",
		Summary:     "Get facility with milestones and tranches",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IBPSNumber string `path:"ibps_number"`
	}) (*struct {
		Body FacilityResponse
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.Facility(ctx, actor, input.IBPSNumber)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FacilityResponse
		}{Body: facilityResponse(f)}, nil
	})
}

type reportPath struct {
	ReportID string `path:"report_id"`
}

type reportOutput struct {
	Body ReportResponse
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "File a site-visit report",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateReportRequest
	}) (*reportOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := input.Body.toInput()
		if err != nil {
			return nil, handleError(err)
		}
		rep, err := e.CreateReport(ctx, actor, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &reportOutput{Body: reportResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List reports",
		Description: "Without status, returns the caller's work queue.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" doc:"Comma-separated statuses"`
	}) (*struct {
		Body []ReportResponse
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var (
			reps []domain.Report
			err  error
		)
		if strings.TrimSpace(input.Status) == "" {
			reps, err = e.ListReportsForActor(ctx, actor)
		} else {
			var statuses []domain.Status
			for _, s := range strings.Split(input.Status, ",") {
				if s = strings.TrimSpace(s); s != "" {
					statuses = append(statuses, domain.Status(s))
				}
			}
			reps, err = e.ListReportsByStatus(ctx, actor, statuses...)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ReportResponse
		}{Body: mapReports(reps)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}",
		Summary:     "Get report with attachments, comments and trail",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body ReportDetailResponse
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.GetReportDetail(ctx, actor, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportDetailResponse
		}{Body: detailResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report-trail",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}/trail",
		Summary:     "Approval trail in sequence order",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body []domain.TrailEntry
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.Trail(ctx, actor, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TrailEntry
		}{Body: nonNilSlice(entries)}, nil
	})
}

func registerTransitions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-report",
		Method:      http.MethodPost,
		Path:        "/reports/{report_id}/submit",
		Summary:     "Submit a draft for review",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ReportID string        `path:"report_id"`
		Body     SubmitRequest `required:"false"`
	}) (*reportOutput, error) {
		return submitHandler(ctx, input.ReportID, input.Body, func(actor domain.Actor, uploads []engine.Upload) (domain.Report, error) {
			return e.Submit(ctx, actor, input.ReportID, uploads...)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "resubmit-report",
		Method:      http.MethodPost,
		Path:        "/reports/{report_id}/resubmit",
		Summary:     "Resubmit a returned report",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ReportID string        `path:"report_id"`
		Body     SubmitRequest `required:"false"`
	}) (*reportOutput, error) {
		return submitHandler(ctx, input.ReportID, input.Body, func(actor domain.Actor, uploads []engine.Upload) (domain.Report, error) {
			return e.Resubmit(ctx, actor, input.ReportID, input.Body.Comments, uploads...)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "return-report",
		Method:      http.MethodPost,
		Path:        "/reports/{report_id}/return",
		Summary:     "Return a report to its RM",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ReportID string          `path:"report_id"`
		Body     DecisionRequest `required:"false"`
	}) (*reportOutput, error) {
		return decisionHandler(ctx, func(actor domain.Actor) (domain.Report, error) {
			return e.Return(ctx, actor, input.ReportID, input.Body.Comments)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-report",
		Method:      http.MethodPost,
		Path:        "/reports/{report_id}/approve",
		Summary:     "Approve the drawdown",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ReportID string         `path:"report_id"`
		Body     ApproveRequest `required:"false"`
	}) (*reportOutput, error) {
		return decisionHandler(ctx, func(actor domain.Actor) (domain.Report, error) {
			amount, err := parseDecimal("approved_amount", input.Body.ApprovedAmount)
			if err != nil {
				return domain.Report{}, err
			}
			return e.Approve(ctx, actor, input.ReportID, amount, input.Body.Comments)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-report",
		Method:      http.MethodPost,
		Path:        "/reports/{report_id}/reject",
		Summary:     "Reject the drawdown",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ReportID string          `path:"report_id"`
		Body     DecisionRequest `required:"false"`
	}) (*reportOutput, error) {
		return decisionHandler(ctx, func(actor domain.Actor) (domain.Report, error) {
			return e.Reject(ctx, actor, input.ReportID, input.Body.Comments)
		})
	})
}

func submitHandler(ctx context.Context, reportID string, body SubmitRequest, run func(domain.Actor, []engine.Upload) (domain.Report, error)) (*reportOutput, error) {
	actor, authErr := actorFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	uploads, err := toUploads(body.Attachments)
	if err != nil {
		return nil, handleError(err)
	}
	rep, err := run(actor, uploads)
	if err != nil {
		return nil, handleError(err)
	}
	return &reportOutput{Body: reportResponse(rep)}, nil
}

func decisionHandler(ctx context.Context, run func(domain.Actor) (domain.Report, error)) (*reportOutput, error) {
	actor, authErr := actorFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	rep, err := run(actor)
	if err != nil {
		return nil, handleError(err)
	}
	return &reportOutput{Body: reportResponse(rep)}, nil
}

func registerLocks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "lock-report",
		Method:      http.MethodPost,
		Path:        "/reports/{report_id}/lock",
		Summary:     "Take the review lock",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ReportID string      `path:"report_id"`
		Body     LockRequest `required:"false"`
	}) (*reportOutput, error) {
		return decisionHandler(ctx, func(actor domain.Actor) (domain.Report, error) {
			return e.Lock(ctx, actor, input.ReportID, time.Duration(input.Body.DurationMinutes)*time.Minute)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-lock",
		Method:      http.MethodDelete,
		Path:        "/reports/{report_id}/lock",
		Summary:     "Release the review lock",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *reportPath) (*reportOutput, error) {
		return decisionHandler(ctx, func(actor domain.Actor) (domain.Report, error) {
			return e.ReleaseLock(ctx, actor, input.ReportID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-lock",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}/lock",
		Summary:     "Current lock holder",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body LockStatusResponse
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Perms.Require(actor.Role, domain.ActionRead); err != nil {
			return nil, handleError(err)
		}
		holder, err := e.HolderOf(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LockStatusResponse
		}{Body: LockStatusResponse{ReportID: input.ReportID, Held: holder != "", HolderID: holder}}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/reports/{report_id}/comments",
		Summary:       "Comment on a report",
		DefaultStatus: http.StatusCreated,
		Errors:        append([]int{http.StatusUnprocessableEntity}, transitionErrors...),
	}, func(ctx context.Context, input *struct {
		ReportID string `path:"report_id"`
		Body     CommentRequest
	}) (*struct {
		Body domain.Comment
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, actor, engine.CommentInput{
			ReportID: input.ReportID,
			ParentID: input.Body.ParentID,
			Text:     input.Body.Text,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}/comments",
		Summary:     "Comment threads",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*struct {
		Body []*domain.CommentNode
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tree, err := e.Comments(ctx, actor, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []*domain.CommentNode
		}{Body: nonNilSlice(tree)}, nil
	})
}

func registerAttachments(api huma.API, e engine.Engine) {
	type attachmentPath struct {
		AttachmentID string `path:"attachment_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-attachment",
		Method:      http.MethodGet,
		Path:        "/attachments/{attachment_id}",
		Summary:     "Attachment metadata",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *attachmentPath) (*struct {
		Body AttachmentResponse
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Attachment(ctx, actor, input.AttachmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AttachmentResponse
		}{Body: attachmentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-attachment-content",
		Method:      http.MethodGet,
		Path:        "/attachments/{attachment_id}/content",
		Summary:     "Download attachment content",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *attachmentPath) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, rc, err := e.OpenAttachment(ctx, actor, input.AttachmentID)
		if err != nil {
			return nil, handleError(err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, handleError(fmt.Errorf("%w: read attachment %s: %v", domain.ErrUnavailable, a.ID, err))
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        a.ContentType,
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", a.FileName),
			Body:               data,
		}, nil
	})
}
