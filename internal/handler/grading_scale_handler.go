package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/service"
	"github.com/noah-isme/campus-results-api/pkg/response"
)

type gradingScaleService interface {
	List(ctx context.Context, principal *models.JWTClaims, campusID string) ([]models.GradingScale, error)
	Get(ctx context.Context, principal *models.JWTClaims, id string) (*models.GradingScale, error)
	Create(ctx context.Context, principal *models.JWTClaims, req service.CreateGradingScaleRequest) (*models.GradingScale, error)
	Update(ctx context.Context, principal *models.JWTClaims, id string, req service.UpdateGradingScaleRequest) (*models.GradingScale, error)
	Evaluate(ctx context.Context, principal *models.JWTClaims, id string, score, maxScore float64) (*service.ScaleEvaluation, error)
}

// GradingScaleHandler exposes the campus grading scale registry.
type GradingScaleHandler struct {
	scales gradingScaleService
}

// NewGradingScaleHandler constructs the handler.
func NewGradingScaleHandler(scales gradingScaleService) *GradingScaleHandler {
	return &GradingScaleHandler{scales: scales}
}

// List godoc
// @Summary List active grading scales
// @Tags GradingScales
// @Produce json
// @Param campusId query string false "Campus (global roles)"
// @Success 200 {object} response.Envelope
// @Router /results/grading-scales [get]
func (h *GradingScaleHandler) List(c *gin.Context) {
	scales, err := h.scales.List(c.Request.Context(), claimsFromContext(c), c.Query("campusId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "grading scales retrieved", scales)
}

// Get godoc
// @Summary Get a grading scale
// @Tags GradingScales
// @Produce json
// @Param id path string true "Scale ID"
// @Success 200 {object} response.Envelope
// @Router /results/grading-scales/{id} [get]
func (h *GradingScaleHandler) Get(c *gin.Context) {
	scale, err := h.scales.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "grading scale retrieved", scale)
}

// Create godoc
// @Summary Create a grading scale
// @Tags GradingScales
// @Accept json
// @Produce json
// @Param payload body service.CreateGradingScaleRequest true "Scale"
// @Success 201 {object} response.Envelope
// @Router /results/grading-scales [post]
func (h *GradingScaleHandler) Create(c *gin.Context) {
	var req service.CreateGradingScaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	scale, err := h.scales.Create(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "grading scale created", scale)
}

// Update godoc
// @Summary Update a grading scale
// @Tags GradingScales
// @Accept json
// @Produce json
// @Param id path string true "Scale ID"
// @Param payload body service.UpdateGradingScaleRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Router /results/grading-scales/{id} [patch]
func (h *GradingScaleHandler) Update(c *gin.Context) {
	var req service.UpdateGradingScaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	scale, err := h.scales.Update(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "grading scale updated", scale)
}

// Evaluate godoc
// @Summary Project a score onto a grading scale
// @Tags GradingScales
// @Produce json
// @Param id path string true "Scale ID"
// @Param score query number true "Raw score"
// @Param maxScore query number true "Maximum score"
// @Success 200 {object} response.Envelope
// @Router /results/grading-scales/{id}/evaluate [get]
func (h *GradingScaleHandler) Evaluate(c *gin.Context) {
	score, err := queryFloat(c, "score")
	if err != nil {
		response.Error(c, err)
		return
	}
	maxScore, err := queryFloat(c, "maxScore")
	if err != nil {
		response.Error(c, err)
		return
	}
	eval, err := h.scales.Evaluate(c.Request.Context(), claimsFromContext(c), c.Param("id"), score, maxScore)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "score evaluated", eval)
}
