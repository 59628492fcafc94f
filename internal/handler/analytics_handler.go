package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/service"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
	"github.com/noah-isme/campus-results-api/pkg/response"
)

type analyticsService interface {
	Transcript(ctx context.Context, principal *models.JWTClaims, studentID, academicYear string) (*models.StudentTranscript, error)
	ClassDistribution(ctx context.Context, principal *models.JWTClaims, query service.DistributionQuery) (*models.ClassDistribution, bool, error)
	RetakeList(ctx context.Context, principal *models.JWTClaims, query service.RetakeQuery) ([]models.RetakeStudent, error)
	CampusOverview(ctx context.Context, principal *models.JWTClaims, query service.OverviewQuery) (*models.CampusOverview, bool, error)
	VerifyResult(ctx context.Context, token string) (*models.ResultVerification, error)
	SystemMetrics() models.AnalyticsSystemMetrics
}

// AnalyticsHandler exposes read-side analytics and public result verification.
type AnalyticsHandler struct {
	analytics analyticsService
}

// NewAnalyticsHandler constructs the analytics handler.
func NewAnalyticsHandler(analytics analyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// Statistics godoc
// @Summary Score distribution of a class
// @Tags Analytics
// @Produce json
// @Param classId path string true "Class ID"
// @Param subjectId query string false "Subject"
// @Param evaluationTitle query string false "Evaluation title"
// @Param academicYear query string false "Academic year"
// @Param semester query string false "Semester"
// @Success 200 {object} response.Envelope
// @Router /results/statistics/{classId} [get]
func (h *AnalyticsHandler) Statistics(c *gin.Context) {
	if h.analytics == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	start := time.Now()
	dist, hit, err := h.analytics.ClassDistribution(c.Request.Context(), claimsFromContext(c), service.DistributionQuery{
		ClassID:         c.Param("classId"),
		SubjectID:       firstQuery(c, "subjectId", "subject"),
		EvaluationTitle: c.Query("evaluationTitle"),
		AcademicYear:    c.Query("academicYear"),
		Semester:        models.Semester(c.Query("semester")),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := withCacheMeta(c, hit)
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, "class statistics retrieved", dist, nil, meta)
}

// RetakeList godoc
// @Summary Students eligible for a retake in a class
// @Tags Analytics
// @Produce json
// @Param classId path string true "Class ID"
// @Param subjectId query string false "Subject"
// @Param academicYear query string false "Academic year"
// @Param semester query string false "Semester"
// @Success 200 {object} response.Envelope
// @Router /results/retake-list/{classId} [get]
func (h *AnalyticsHandler) RetakeList(c *gin.Context) {
	if h.analytics == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	students, err := h.analytics.RetakeList(c.Request.Context(), claimsFromContext(c), service.RetakeQuery{
		ClassID:      c.Param("classId"),
		SubjectID:    firstQuery(c, "subjectId", "subject"),
		AcademicYear: c.Query("academicYear"),
		Semester:     models.Semester(c.Query("semester")),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, "retake list retrieved", students, nil, map[string]interface{}{"total": len(students)})
}

// Overview godoc
// @Summary Faceted campus overview
// @Tags Analytics
// @Produce json
// @Param campusId query string false "Campus (global roles)"
// @Param academicYear query string false "Academic year"
// @Param semester query string false "Semester"
// @Success 200 {object} response.Envelope
// @Router /results/campus/overview [get]
func (h *AnalyticsHandler) Overview(c *gin.Context) {
	if h.analytics == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	start := time.Now()
	overview, hit, err := h.analytics.CampusOverview(c.Request.Context(), claimsFromContext(c), service.OverviewQuery{
		CampusID:     c.Query("campusId"),
		AcademicYear: c.Query("academicYear"),
		Semester:     models.Semester(c.Query("semester")),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := withCacheMeta(c, hit)
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, "campus overview retrieved", overview, nil, meta)
}

// Transcript godoc
// @Summary On-the-fly transcript of a student
// @Tags Analytics
// @Produce json
// @Param studentId path string true "Student ID"
// @Param academicYear query string false "Academic year"
// @Success 200 {object} response.Envelope
// @Router /results/transcript/{studentId} [get]
func (h *AnalyticsHandler) Transcript(c *gin.Context) {
	if h.analytics == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	transcript, err := h.analytics.Transcript(c.Request.Context(), claimsFromContext(c), c.Param("studentId"), c.Query("academicYear"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "transcript retrieved", transcript)
}

// Verify godoc
// @Summary Public authenticity check of a published result
// @Tags Analytics
// @Produce json
// @Param token path string true "Verification token"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /results/verify/{token} [get]
func (h *AnalyticsHandler) Verify(c *gin.Context) {
	if h.analytics == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	verification, err := h.analytics.VerifyResult(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "result verified", verification)
}

// System godoc
// @Summary Process level instrumentation snapshot
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /results/analytics/system [get]
func (h *AnalyticsHandler) System(c *gin.Context) {
	if h.analytics == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	response.OK(c, "system metrics retrieved", h.analytics.SystemMetrics())
}
