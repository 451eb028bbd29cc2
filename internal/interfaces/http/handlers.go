package http

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/budget-approval/internal/application/workflow"
	"github.com/garyjia/budget-approval/internal/domain/entity"
	domainwf "github.com/garyjia/budget-approval/internal/domain/workflow"
	"github.com/garyjia/budget-approval/pkg/utils"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{
		deps:   deps,
		logger: logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// SubmitRequestBody is the payload of POST /api/v1/requests
type SubmitRequestBody struct {
	ProjectID      string          `json:"project_id" binding:"required"`
	ProjectNumber  string          `json:"project_number"`
	ProjectTitle   string          `json:"project_title"`
	Category       string          `json:"category" binding:"required"`
	RequestorName  string          `json:"requestor_name" binding:"required"`
	RequestorEmail string          `json:"requestor_email" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Purpose        string          `json:"purpose"`
	Justification  string          `json:"justification"`
	InvoiceNumber  string          `json:"invoice_number"`
}

// ActionBody is the payload of forward and approval commands
type ActionBody struct {
	Actor   string `json:"actor"`
	Remarks string `json:"remarks"`
}

// RejectBody is the payload of POST /api/v1/requests/:id/reject
type RejectBody struct {
	Stage   string `json:"stage"`
	Actor   string `json:"actor"`
	Remarks string `json:"remarks"`
}

// RequestResponse is a budget request with its display label
type RequestResponse struct {
	*entity.BudgetRequest
	StageLabel string `json:"stage_label"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy, details := true, interface{}(nil)
	if h.deps.Health != nil {
		healthy, details = h.deps.Health()
	}

	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: details,
	}
	status := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, Response{
		Success: healthy,
		Data:    response,
	})
}

// SubmitRequest handles POST /api/v1/requests
func (h *Handlers) SubmitRequest(c *gin.Context) {
	var body SubmitRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.logger.Error("Invalid submit payload", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
			Code:    domainwf.Kind(domainwf.ErrInvalidRequest),
		})
		return
	}

	req, err := h.deps.Workflow.Submit(c.Request.Context(), workflow.SubmitRequest{
		Project: entity.ProjectRef{
			ID:       utils.SanitizeString(body.ProjectID),
			Number:   utils.SanitizeString(body.ProjectNumber),
			Title:    utils.SanitizeString(body.ProjectTitle),
			Category: entity.ProjectCategory(body.Category),
		},
		Requestor: entity.Requestor{
			Name:  utils.SanitizeString(body.RequestorName),
			Email: utils.SanitizeString(body.RequestorEmail),
		},
		Amount:        body.Amount,
		Purpose:       utils.SanitizeString(body.Purpose),
		Justification: utils.SanitizeString(body.Justification),
		InvoiceNumber: utils.SanitizeString(body.InvoiceNumber),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    h.toRequestResponse(req),
	})
}

// ListRequests handles GET /api/v1/requests with optional stage, requestor
// or completed filters. At most one filter applies.
func (h *Handlers) ListRequests(c *gin.Context) {
	ctx := c.Request.Context()
	stage := c.Query("stage")
	requestor := c.Query("requestor")
	completedParam := c.Query("completed")

	filters := 0
	for _, f := range []string{stage, requestor, completedParam} {
		if f != "" {
			filters++
		}
	}
	if filters > 1 {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "stage, requestor and completed filters cannot be combined",
			Code:    domainwf.Kind(domainwf.ErrInvalidRequest),
		})
		return
	}

	var (
		requests []*entity.BudgetRequest
		err      error
	)

	switch {
	case stage != "":
		requests, err = h.deps.Query.ListByStage(ctx, domainwf.Stage(stage))
	case requestor != "":
		requests, err = h.deps.Query.ListByRequestor(ctx, requestor)
	case completedParam != "":
		completed, parseErr := strconv.ParseBool(completedParam)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   "completed must be a boolean",
				Code:    domainwf.Kind(domainwf.ErrInvalidRequest),
			})
			return
		}
		if completed {
			requests, err = h.deps.Query.ListCompleted(ctx)
		} else {
			requests, err = h.deps.Query.ListAll(ctx)
		}
	default:
		requests, err = h.deps.Query.ListAll(ctx)
	}

	if err != nil {
		h.writeError(c, err)
		return
	}

	responses := make([]RequestResponse, 0, len(requests))
	for _, req := range requests {
		responses = append(responses, h.toRequestResponse(req))
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    responses,
	})
}

// GetRequest handles GET /api/v1/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	id := c.Param("id")

	req, err := h.deps.Query.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if req == nil {
		h.writeError(c, &domainwf.TransitionError{Op: "get", RequestID: id, Err: domainwf.ErrNotFound})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    h.toRequestResponse(req),
	})
}

// ForwardRequest handles POST /api/v1/requests/:id/forward
func (h *Handlers) ForwardRequest(c *gin.Context) {
	var body ActionBody
	if !h.bindBody(c, &body) {
		return
	}

	req, err := h.deps.Workflow.Forward(c.Request.Context(), c.Param("id"), body.Actor, body.Remarks)
	h.writeCommandResult(c, req, err)
}

// ApproveRequest handles POST /api/v1/requests/:id/approvals/:stage
func (h *Handlers) ApproveRequest(c *gin.Context) {
	var body ActionBody
	if !h.bindBody(c, &body) {
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")

	var (
		req *entity.BudgetRequest
		err error
	)
	switch domainwf.Stage(c.Param("stage")) {
	case domainwf.StageReviewer1:
		req, err = h.deps.Workflow.ApproveStage1(ctx, id, body.Actor, body.Remarks)
	case domainwf.StageReviewer2:
		req, err = h.deps.Workflow.ApproveStage2(ctx, id, body.Actor, body.Remarks)
	case domainwf.StageFinalAuthority:
		req, err = h.deps.Workflow.ApproveFinal(ctx, id, body.Actor, body.Remarks)
	default:
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "approval stage must be reviewer1, reviewer2 or finalAuthority",
			Code:    "invalid_stage",
		})
		return
	}

	h.writeCommandResult(c, req, err)
}

// RejectRequest handles POST /api/v1/requests/:id/reject
func (h *Handlers) RejectRequest(c *gin.Context) {
	var body RejectBody
	if !h.bindBody(c, &body) {
		return
	}

	stage := domainwf.Stage(body.Stage)
	if !stage.IsValid() {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "unknown stage " + strconv.Quote(body.Stage),
			Code:    "invalid_stage",
		})
		return
	}

	req, err := h.deps.Workflow.Reject(c.Request.Context(), c.Param("id"), stage, body.Actor, body.Remarks)
	h.writeCommandResult(c, req, err)
}

// Summary handles GET /api/v1/summary
func (h *Handlers) Summary(c *gin.Context) {
	summary, err := h.deps.Query.Summary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    summary,
	})
}

// ExportRequests handles GET /api/v1/reports/requests.xlsx
func (h *Handlers) ExportRequests(c *gin.Context) {
	ctx := c.Request.Context()

	requests, err := h.deps.Query.ListAll(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}

	// Render fully before writing so a failed export still gets a JSON error
	var buf bytes.Buffer
	if err := h.deps.Exporter.Export(ctx, &buf, requests); err != nil {
		h.writeError(c, err)
		return
	}

	filename := "budget-requests-" + time.Now().UTC().Format("20060102") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, h.deps.Exporter.ContentType(), buf.Bytes())
}

func (h *Handlers) bindBody(c *gin.Context, body interface{}) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		h.logger.Error("Invalid request body", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
			Code:    domainwf.Kind(domainwf.ErrInvalidRequest),
		})
		return false
	}
	return true
}

func (h *Handlers) writeCommandResult(c *gin.Context, req *entity.BudgetRequest, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    h.toRequestResponse(req),
	})
}

func (h *Handlers) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(status, Response{
			Success: false,
			Error:   "internal error",
			Code:    domainwf.Kind(err),
		})
		return
	}

	c.JSON(status, Response{
		Success: false,
		Error:   err.Error(),
		Code:    errorCode(err),
	})
}

func (h *Handlers) toRequestResponse(req *entity.BudgetRequest) RequestResponse {
	return RequestResponse{
		BudgetRequest: req,
		StageLabel:    h.deps.Query.StageLabel(req),
	}
}

// statusFor maps workflow failures onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domainwf.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainwf.ErrStageMismatch),
		errors.Is(err, domainwf.ErrNotPending),
		errors.Is(err, domainwf.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, domainwf.ErrMissingRemarks),
		errors.Is(err, domainwf.ErrInvalidRequest),
		errors.Is(err, domainwf.ErrInvalidStage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	if errors.Is(err, domainwf.ErrInvalidStage) {
		return "invalid_stage"
	}
	return domainwf.Kind(err)
}
