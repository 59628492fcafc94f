package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/service"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
	"github.com/noah-isme/campus-results-api/pkg/response"
)

const defaultImportMaxFileSize = 5 << 20

type ingestionService interface {
	CreateBulk(ctx context.Context, principal *models.JWTClaims, req service.BulkCreateRequest) (*service.BulkOutcome, error)
	ImportCSV(ctx context.Context, principal *models.JWTClaims, req service.BulkCreateRequest, src io.Reader) (*service.BulkOutcome, error)
	ExportCSV(ctx context.Context, principal *models.JWTClaims, filter models.ResultFilter) ([]byte, error)
}

// IngestionHandler exposes bulk capture, CSV import and CSV export.
type IngestionHandler struct {
	ingestion   ingestionService
	maxFileSize int64
}

// NewIngestionHandler constructs the handler. maxFileSize caps uploads in bytes.
func NewIngestionHandler(ingestion ingestionService, maxFileSize int64) *IngestionHandler {
	if maxFileSize <= 0 {
		maxFileSize = defaultImportMaxFileSize
	}
	return &IngestionHandler{ingestion: ingestion, maxFileSize: maxFileSize}
}

// Bulk godoc
// @Summary Record one evaluation for many students
// @Tags Ingestion
// @Accept json
// @Produce json
// @Param payload body service.BulkCreateRequest true "Bulk payload"
// @Success 201 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Router /results/bulk [post]
func (h *IngestionHandler) Bulk(c *gin.Context) {
	var req service.BulkCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	outcome, err := h.ingestion.CreateBulk(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondBulk(c, outcome)
}

// UploadCSV godoc
// @Summary Import one evaluation from a CSV file
// @Tags Ingestion
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV with studentId and score columns"
// @Param classId formData string true "Class"
// @Param subjectId formData string true "Subject"
// @Param evaluationType formData string true "Evaluation type"
// @Param evaluationTitle formData string true "Evaluation title"
// @Param academicYear formData string true "Academic year"
// @Param semester formData string true "Semester"
// @Param maxScore formData number true "Maximum score"
// @Success 201 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Router /results/upload-csv [post]
func (h *IngestionHandler) UploadCSV(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}
	if header.Size > h.maxFileSize {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", h.maxFileSize)))
		return
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "only .csv files are accepted"))
		return
	}
	req, err := bulkEnvelopeFromForm(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer file.Close()

	outcome, err := h.ingestion.ImportCSV(c.Request.Context(), claimsFromContext(c), req, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondBulk(c, outcome)
}

// Export godoc
// @Summary Export results as CSV
// @Tags Ingestion
// @Produce text/csv
// @Param class query string false "Class"
// @Param subject query string false "Subject"
// @Param academicYear query string false "Academic year"
// @Param semester query string false "Semester"
// @Success 200 {file} file
// @Router /results/export [get]
func (h *IngestionHandler) Export(c *gin.Context) {
	filter, err := parseResultFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	data, err := h.ingestion.ExportCSV(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("results-%s.csv", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

func respondBulk(c *gin.Context, outcome *service.BulkOutcome) {
	if outcome.HasErrors() {
		response.MultiStatus(c, fmt.Sprintf("%d results created, %d skipped", outcome.Inserted, outcome.Skipped), outcome)
		return
	}
	response.Created(c, fmt.Sprintf("%d results created", outcome.Inserted), outcome)
}

func bulkEnvelopeFromForm(c *gin.Context) (service.BulkCreateRequest, error) {
	req := service.BulkCreateRequest{
		CampusID:        c.PostForm("campusId"),
		ClassID:         c.PostForm("classId"),
		SubjectID:       c.PostForm("subjectId"),
		TeacherID:       c.PostForm("teacherId"),
		EvaluationType:  models.EvaluationType(strings.ToUpper(c.PostForm("evaluationType"))),
		EvaluationTitle: c.PostForm("evaluationTitle"),
		AcademicYear:    c.PostForm("academicYear"),
		Semester:        models.Semester(c.PostForm("semester")),
	}
	if raw := strings.TrimSpace(c.PostForm("maxScore")); raw != "" {
		v, err := parseFinite(raw)
		if err != nil {
			return req, appErrors.Clone(appErrors.ErrValidation, "maxScore must be a number")
		}
		req.MaxScore = v
	}
	if raw := strings.TrimSpace(c.PostForm("coefficient")); raw != "" {
		v, err := parseFinite(raw)
		if err != nil {
			return req, appErrors.Clone(appErrors.ErrValidation, "coefficient must be a number")
		}
		req.Coefficient = &v
	}
	if raw := strings.TrimSpace(c.PostForm("gradingScaleId")); raw != "" {
		req.GradingScaleID = &raw
	}
	if raw := strings.TrimSpace(c.PostForm("examPeriod")); raw != "" {
		period := models.ExamPeriod(raw)
		req.ExamPeriod = &period
	}
	return req, nil
}
