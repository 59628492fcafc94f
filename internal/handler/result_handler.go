package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/service"
	"github.com/noah-isme/campus-results-api/pkg/response"
)

type resultService interface {
	Create(ctx context.Context, principal *models.JWTClaims, req service.CreateResultRequest) (*models.Result, error)
	Update(ctx context.Context, principal *models.JWTClaims, id string, req service.UpdateResultRequest) (*models.Result, error)
	Delete(ctx context.Context, principal *models.JWTClaims, id string) error
	Get(ctx context.Context, principal *models.JWTClaims, id string) (*models.Result, error)
	List(ctx context.Context, principal *models.JWTClaims, filter models.ResultFilter) ([]models.Result, *models.Pagination, error)
}

// ResultHandler exposes result capture and read endpoints.
type ResultHandler struct {
	results resultService
}

// NewResultHandler constructs the handler.
func NewResultHandler(results resultService) *ResultHandler {
	return &ResultHandler{results: results}
}

// Create godoc
// @Summary Create a draft result
// @Tags Results
// @Accept json
// @Produce json
// @Param payload body service.CreateResultRequest true "Result payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /results [post]
func (h *ResultHandler) Create(c *gin.Context) {
	var req service.CreateResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.results.Create(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "result created", result)
}

// List godoc
// @Summary List results
// @Tags Results
// @Produce json
// @Param campusId query string false "Campus filter (global roles)"
// @Param studentId query string false "Student"
// @Param classId query string false "Class"
// @Param subjectId query string false "Subject"
// @Param teacherId query string false "Teacher"
// @Param academicYear query string false "Academic year"
// @Param semester query string false "Semester"
// @Param evaluationType query string false "Evaluation type"
// @Param status query string false "Comma separated statuses"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /results [get]
func (h *ResultHandler) List(c *gin.Context) {
	filter, err := parseResultFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	results, pagination, err := h.results.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, "results retrieved", results, pagination)
}

// Get godoc
// @Summary Get a result with its audit trail
// @Tags Results
// @Produce json
// @Param id path string true "Result ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /results/{id} [get]
func (h *ResultHandler) Get(c *gin.Context) {
	result, err := h.results.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "result retrieved", result)
}

// Update godoc
// @Summary Update a draft or submitted result
// @Tags Results
// @Accept json
// @Produce json
// @Param id path string true "Result ID"
// @Param payload body service.UpdateResultRequest true "Editable fields"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /results/{id} [put]
func (h *ResultHandler) Update(c *gin.Context) {
	var req service.UpdateResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.results.Update(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "result updated", result)
}

// Delete godoc
// @Summary Soft delete a result
// @Tags Results
// @Produce json
// @Param id path string true "Result ID"
// @Success 200 {object} response.Envelope
// @Router /results/{id} [delete]
func (h *ResultHandler) Delete(c *gin.Context) {
	if err := h.results.Delete(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "result deleted", gin.H{"id": c.Param("id")})
}

func parseResultFilter(c *gin.Context) (models.ResultFilter, error) {
	page, err := queryInt(c, "page")
	if err != nil {
		return models.ResultFilter{}, err
	}
	size, err := queryInt(c, "limit")
	if err != nil {
		return models.ResultFilter{}, err
	}
	if size == 0 {
		if size, err = queryInt(c, "pageSize"); err != nil {
			return models.ResultFilter{}, err
		}
	}
	filter := models.ResultFilter{
		CampusID:        c.Query("campusId"),
		StudentID:       c.Query("studentId"),
		ClassID:         firstQuery(c, "classId", "class"),
		SubjectID:       firstQuery(c, "subjectId", "subject"),
		TeacherID:       c.Query("teacherId"),
		AcademicYear:    c.Query("academicYear"),
		Semester:        models.Semester(c.Query("semester")),
		EvaluationType:  models.EvaluationType(c.Query("evaluationType")),
		EvaluationTitle: c.Query("evaluationTitle"),
		Page:            page,
		PageSize:        size,
		SortBy:          c.Query("sortBy"),
		SortOrder:       c.Query("sortOrder"),
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Statuses = append(filter.Statuses, models.ResultStatus(strings.ToUpper(part)))
			}
		}
	}
	return filter, nil
}
