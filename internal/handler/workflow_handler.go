package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/service"
	"github.com/noah-isme/campus-results-api/pkg/response"
)

type workflowService interface {
	Submit(ctx context.Context, principal *models.JWTClaims, id string) (*models.Result, error)
	SubmitBatch(ctx context.Context, principal *models.JWTClaims, req service.BatchScopeRequest) (*service.BatchOutcome, error)
	Return(ctx context.Context, principal *models.JWTClaims, id string) (*models.Result, error)
	Publish(ctx context.Context, principal *models.JWTClaims, id string) (*models.Result, error)
	PublishBatch(ctx context.Context, principal *models.JWTClaims, req service.BatchScopeRequest) (*service.BatchOutcome, error)
	Archive(ctx context.Context, principal *models.JWTClaims, id string) (*models.Result, error)
	LockSemester(ctx context.Context, principal *models.JWTClaims, req service.LockSemesterRequest) (*service.LockSemesterOutcome, error)
	AuditCorrection(ctx context.Context, principal *models.JWTClaims, id string, req service.AuditCorrectionRequest, ipAddress string) (*models.Result, error)
}

// WorkflowHandler exposes result state transitions.
type WorkflowHandler struct {
	workflow workflowService
}

// NewWorkflowHandler constructs the handler.
func NewWorkflowHandler(workflow workflowService) *WorkflowHandler {
	return &WorkflowHandler{workflow: workflow}
}

type transitionFunc func(ctx context.Context, principal *models.JWTClaims, id string) (*models.Result, error)

func (h *WorkflowHandler) single(c *gin.Context, fn transitionFunc, message string) {
	result, err := fn(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, message, result)
}

// Submit godoc
// @Summary Submit a draft result
// @Tags Workflow
// @Produce json
// @Param id path string true "Result ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /results/{id}/submit [post]
func (h *WorkflowHandler) Submit(c *gin.Context) {
	h.single(c, h.workflow.Submit, "result submitted")
}

// Return godoc
// @Summary Send a submitted result back to draft
// @Tags Workflow
// @Produce json
// @Param id path string true "Result ID"
// @Success 200 {object} response.Envelope
// @Router /results/{id}/return [post]
func (h *WorkflowHandler) Return(c *gin.Context) {
	h.single(c, h.workflow.Return, "result returned to draft")
}

// Publish godoc
// @Summary Publish a submitted result
// @Tags Workflow
// @Produce json
// @Param id path string true "Result ID"
// @Success 200 {object} response.Envelope
// @Router /results/{id}/publish [patch]
func (h *WorkflowHandler) Publish(c *gin.Context) {
	h.single(c, h.workflow.Publish, "result published")
}

// Archive godoc
// @Summary Archive a published result
// @Tags Workflow
// @Produce json
// @Param id path string true "Result ID"
// @Success 200 {object} response.Envelope
// @Router /results/{id}/archive [patch]
func (h *WorkflowHandler) Archive(c *gin.Context) {
	h.single(c, h.workflow.Archive, "result archived")
}

// SubmitBatch godoc
// @Summary Submit every draft of one evaluation
// @Tags Workflow
// @Accept json
// @Produce json
// @Param payload body service.BatchScopeRequest true "Evaluation scope"
// @Success 200 {object} response.Envelope
// @Router /results/submit-batch [post]
func (h *WorkflowHandler) SubmitBatch(c *gin.Context) {
	var req service.BatchScopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	outcome, err := h.workflow.SubmitBatch(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "results submitted", outcome)
}

// PublishBatch godoc
// @Summary Publish every submitted result of one evaluation
// @Tags Workflow
// @Accept json
// @Produce json
// @Param payload body service.BatchScopeRequest true "Evaluation scope"
// @Success 200 {object} response.Envelope
// @Router /results/publish-batch [patch]
func (h *WorkflowHandler) PublishBatch(c *gin.Context) {
	var req service.BatchScopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	outcome, err := h.workflow.PublishBatch(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "results published", outcome)
}

// LockSemester godoc
// @Summary Lock a semester and generate final transcripts
// @Tags Workflow
// @Accept json
// @Produce json
// @Param payload body service.LockSemesterRequest true "Period"
// @Success 200 {object} response.Envelope
// @Router /results/lock-semester [patch]
func (h *WorkflowHandler) LockSemester(c *gin.Context) {
	var req service.LockSemesterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	outcome, err := h.workflow.LockSemester(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "semester locked", outcome)
}

// AuditCorrection godoc
// @Summary Correct a released result with an audit entry
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Result ID"
// @Param payload body service.AuditCorrectionRequest true "Correction"
// @Success 200 {object} response.Envelope
// @Router /results/audit/{id} [patch]
func (h *WorkflowHandler) AuditCorrection(c *gin.Context) {
	var req service.AuditCorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.workflow.AuditCorrection(c.Request.Context(), claimsFromContext(c), c.Param("id"), req, c.ClientIP())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "correction recorded", result)
}
