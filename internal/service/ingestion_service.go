package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-results-api/internal/models"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
	"github.com/noah-isme/campus-results-api/pkg/export"
)

const (
	maxBulkRows    = 1000
	exportPageSize = 100
)

var exportColumns = export.Columns(
	"reference", "studentId", "classId", "subjectId", "teacherId", "academicYear", "semester",
	"evaluationType", "evaluationTitle", "score", "maxScore", "coefficient", "normalizedScore",
	"gradeBand", "examAttendance", "status", "isRetakeEligible", "publishedAt",
)

type bulkResultRepository interface {
	BulkCreate(ctx context.Context, results []models.Result) ([]models.Result, error)
	List(ctx context.Context, filter models.ResultFilter) ([]models.Result, int, error)
}

type rosterReader interface {
	FindClass(ctx context.Context, id string) (*models.Class, error)
	ListClassStudentIDs(ctx context.Context, classID string) ([]string, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// BulkEntry is one student row of a bulk evaluation.
type BulkEntry struct {
	StudentID      string                `json:"studentId"`
	Score          *float64              `json:"score"`
	Coefficient    *float64              `json:"coefficient"`
	TeacherRemarks *string               `json:"teacherRemarks"`
	ExamAttendance models.ExamAttendance `json:"examAttendance"`
	Strengths      *string               `json:"strengths"`
	Improvements   *string               `json:"improvements"`
}

// BulkCreateRequest describes one evaluation recorded for many students.
type BulkCreateRequest struct {
	CampusID        string                `json:"campusId"`
	ClassID         string                `json:"classId" validate:"required,uuid"`
	SubjectID       string                `json:"subjectId" validate:"required,uuid"`
	TeacherID       string                `json:"teacherId" validate:"omitempty,uuid"`
	EvaluationType  models.EvaluationType `json:"evaluationType" validate:"required,evaluation_type"`
	EvaluationTitle string                `json:"evaluationTitle" validate:"required,max=200"`
	AcademicYear    string                `json:"academicYear" validate:"required,academic_year"`
	Semester        models.Semester       `json:"semester" validate:"required,semester"`
	MaxScore        float64               `json:"maxScore" validate:"gte=1"`
	Coefficient     *float64              `json:"coefficient" validate:"omitempty,gt=0"`
	GradingScaleID  *string               `json:"gradingScaleId" validate:"omitempty,uuid"`
	ExamPeriod      *models.ExamPeriod    `json:"examPeriod" validate:"omitempty,exam_period"`
	Results         []BulkEntry           `json:"results" validate:"required,min=1"`
}

// BulkRowError reports why one entry was not stored.
type BulkRowError struct {
	Index     int    `json:"index"`
	StudentID string `json:"studentId,omitempty"`
	Error     string `json:"error"`
}

// BulkOutcome is the multi-status summary of a bulk ingestion.
type BulkOutcome struct {
	Inserted int            `json:"inserted"`
	Skipped  int            `json:"skipped"`
	Errors   []BulkRowError `json:"errors"`
}

// HasErrors reports whether any entry was rejected.
func (o *BulkOutcome) HasErrors() bool {
	return o != nil && len(o.Errors) > 0
}

// IngestionService records evaluations in bulk and moves them in and out of CSV.
type IngestionService struct {
	repo      bulkResultRepository
	roster    rosterReader
	scales    scaleResolver
	csv       datasetRenderer
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewIngestionService constructs the service.
func NewIngestionService(repo bulkResultRepository, roster rosterReader, scales scaleResolver, csv datasetRenderer, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *IngestionService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	return &IngestionService{repo: repo, roster: roster, scales: scales, csv: csv, cache: cache, validator: validate, logger: logger}
}

// CreateBulk validates every entry, inserts the valid ones unordered and
// reports per-row failures instead of failing the batch.
func (s *IngestionService) CreateBulk(ctx context.Context, principal *models.JWTClaims, req BulkCreateRequest) (*BulkOutcome, error) {
	return s.ingest(ctx, principal, req, nil)
}

// ImportCSV parses a header-rowed CSV stream of studentId, score and the
// optional per-row columns, then ingests it like CreateBulk.
func (s *IngestionService) ImportCSV(ctx context.Context, principal *models.JWTClaims, req BulkCreateRequest, src io.Reader) (*BulkOutcome, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	records, err := export.ReadCSV(src, []string{"studentId", "score"}, maxBulkRows)
	if err != nil {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid csv file",
			[]FieldError{{Field: "file", Message: err.Error()}})
	}
	if len(records) == 0 {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid csv file",
			[]FieldError{{Field: "file", Message: "no data rows"}})
	}

	parseErrors := make(map[int]string)
	req.Results = make([]BulkEntry, len(records))
	for i, rec := range records {
		entry, err := parseRecord(rec)
		if err != nil {
			parseErrors[i] = fmt.Sprintf("line %d: %s", rec.Line, err.Error())
		}
		req.Results[i] = entry
	}
	return s.ingest(ctx, principal, req, parseErrors)
}

func parseRecord(rec export.Record) (BulkEntry, error) {
	entry := BulkEntry{
		StudentID:      rec.Get("studentId"),
		ExamAttendance: models.ExamAttendance(strings.ToLower(rec.Get("examAttendance"))),
		TeacherRemarks: optionalString(rec.Get("teacherRemarks")),
		Strengths:      optionalString(rec.Get("strengths")),
		Improvements:   optionalString(rec.Get("improvements")),
	}
	if raw := rec.Get("score"); raw != "" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil || !isFinite(score) {
			return entry, fmt.Errorf("score %q is not a number", raw)
		}
		entry.Score = &score
	}
	if raw := rec.Get("coefficient"); raw != "" {
		coefficient, err := strconv.ParseFloat(raw, 64)
		if err != nil || !isFinite(coefficient) || coefficient <= 0 {
			return entry, fmt.Errorf("coefficient %q must be a positive number", raw)
		}
		entry.Coefficient = &coefficient
	}
	return entry, nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (s *IngestionService) ingest(ctx context.Context, principal *models.JWTClaims, req BulkCreateRequest, parseErrors map[int]string) (*BulkOutcome, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid bulk payload")
	}
	if len(req.Results) > maxBulkRows {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid bulk payload",
			[]FieldError{{Field: "results", Message: fmt.Sprintf("must contain at most %d entries", maxBulkRows)}})
	}
	title := strings.TrimSpace(req.EvaluationTitle)
	if title == "" {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid bulk payload",
			[]FieldError{{Field: "evaluationTitle", Message: "is required"}})
	}
	if !isFinite(req.MaxScore) || (req.Coefficient != nil && !isFinite(*req.Coefficient)) {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid bulk payload",
			[]FieldError{{Field: "maxScore", Message: "must be a finite number"}})
	}
	campus, err := campusFor(principal, req.CampusID)
	if err != nil {
		return nil, err
	}
	teacherID, err := resolveTeacher(principal, req.TeacherID)
	if err != nil {
		return nil, err
	}
	enrolled, err := s.enrolledStudents(ctx, campus, req.ClassID)
	if err != nil {
		return nil, err
	}
	scale, err := s.scales.Resolve(ctx, campus, req.GradingScaleID)
	if err != nil {
		return nil, err
	}

	outcome := &BulkOutcome{Errors: []BulkRowError{}}
	seen := make(map[string]struct{}, len(req.Results))
	indexByID := make(map[string]int, len(req.Results))
	rows := make([]models.Result, 0, len(req.Results))
	for i, entry := range req.Results {
		if msg, ok := parseErrors[i]; ok {
			outcome.Errors = append(outcome.Errors, BulkRowError{Index: i, StudentID: entry.StudentID, Error: msg})
			continue
		}
		if msg := s.checkEntry(entry, req.MaxScore, enrolled, seen); msg != "" {
			outcome.Errors = append(outcome.Errors, BulkRowError{Index: i, StudentID: entry.StudentID, Error: msg})
			continue
		}
		seen[entry.StudentID] = struct{}{}

		row := models.Result{
			ID:              uuid.NewString(),
			CampusID:        campus,
			StudentID:       entry.StudentID,
			ClassID:         req.ClassID,
			SubjectID:       req.SubjectID,
			TeacherID:       teacherID,
			AcademicYear:    req.AcademicYear,
			Semester:        req.Semester,
			EvaluationType:  req.EvaluationType,
			EvaluationTitle: title,
			Score:           *entry.Score,
			MaxScore:        req.MaxScore,
			Coefficient:     firstPositive(entry.Coefficient, req.Coefficient),
			ExamPeriod:      req.ExamPeriod,
			ExamAttendance:  entry.ExamAttendance,
			TeacherRemarks:  entry.TeacherRemarks,
			Strengths:       entry.Strengths,
			Improvements:    entry.Improvements,
			Status:          models.ResultStatusDraft,
			CreatedBy:       principal.UserID,
		}
		if row.ExamAttendance == "" {
			row.ExamAttendance = models.AttendancePresent
		}
		applyScoring(&row, scale, s.logger)
		indexByID[row.ID] = i
		rows = append(rows, row)
	}

	inserted, err := s.repo.BulkCreate(ctx, rows)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to insert results")
	}
	stored := make(map[string]struct{}, len(inserted))
	for _, r := range inserted {
		stored[r.ID] = struct{}{}
	}
	for _, row := range rows {
		if _, ok := stored[row.ID]; ok {
			continue
		}
		outcome.Errors = append(outcome.Errors, BulkRowError{
			Index:     indexByID[row.ID],
			StudentID: row.StudentID,
			Error:     "a result already exists for this evaluation",
		})
	}
	outcome.Inserted = len(inserted)
	outcome.Skipped = len(req.Results) - outcome.Inserted

	if outcome.Inserted > 0 {
		s.cache.InvalidateCampus(ctx, campus)
	}
	s.logger.Info("bulk results ingested",
		zap.String("campus_id", campus),
		zap.String("class_id", req.ClassID),
		zap.String("evaluation_title", title),
		zap.Int("inserted", outcome.Inserted),
		zap.Int("skipped", outcome.Skipped))
	return outcome, nil
}

func (s *IngestionService) checkEntry(entry BulkEntry, maxScore float64, enrolled, seen map[string]struct{}) string {
	if _, err := uuid.Parse(entry.StudentID); err != nil {
		return "studentId must be a valid UUID"
	}
	if _, ok := enrolled[entry.StudentID]; !ok {
		return "student is not enrolled in the class"
	}
	if _, dup := seen[entry.StudentID]; dup {
		return "student appears more than once in the batch"
	}
	if entry.Score == nil {
		return "score is required"
	}
	if !isFinite(*entry.Score) || *entry.Score < 0 || *entry.Score > maxScore {
		return fmt.Sprintf("score must be within [0, %g]", maxScore)
	}
	if entry.Coefficient != nil && (!isFinite(*entry.Coefficient) || *entry.Coefficient <= 0) {
		return "coefficient must be positive"
	}
	if err := s.validator.Var(string(entry.ExamAttendance), "omitempty,exam_attendance"); err != nil {
		return "examAttendance must be one of present, absent, excused"
	}
	return ""
}

func (s *IngestionService) enrolledStudents(ctx context.Context, campusID, classID string) (map[string]struct{}, error) {
	class, err := s.roster.FindClass(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid bulk payload",
				[]FieldError{{Field: "classId", Message: "class not found"}})
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if class.CampusID != campusID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "class belongs to another campus")
	}
	ids, err := s.roster.ListClassStudentIDs(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class roster")
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func firstPositive(values ...*float64) float64 {
	for _, v := range values {
		if v != nil && *v > 0 {
			return *v
		}
	}
	return 1
}

// ExportCSV renders every result matching filter that the principal may see.
// Teachers only export their own rows.
func (s *IngestionService) ExportCSV(ctx context.Context, principal *models.JWTClaims, filter models.ResultFilter) ([]byte, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	campus, err := ResolveCampusScope(principal, filter.CampusID)
	if err != nil {
		return nil, err
	}
	filter.CampusID = campus
	if principal.Role == models.RoleTeacher {
		filter.TeacherID = principal.UserID
	}
	filter.SortBy, filter.SortOrder = "reference", "asc"
	filter.PageSize = exportPageSize

	rows := make([]map[string]string, 0)
	for page := 1; ; page++ {
		filter.Page = page
		results, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list results")
		}
		for _, r := range results {
			rows = append(rows, exportRow(r))
		}
		if len(results) == 0 || len(rows) >= total {
			break
		}
	}

	data, err := s.csv.Render(export.Dataset{Columns: exportColumns, Rows: rows})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
	}
	return data, nil
}

func exportRow(r models.Result) map[string]string {
	row := map[string]string{
		"reference":        r.Reference,
		"studentId":        r.StudentID,
		"classId":          r.ClassID,
		"subjectId":        r.SubjectID,
		"teacherId":        r.TeacherID,
		"academicYear":     r.AcademicYear,
		"semester":         string(r.Semester),
		"evaluationType":   string(r.EvaluationType),
		"evaluationTitle":  r.EvaluationTitle,
		"score":            strconv.FormatFloat(r.Score, 'f', -1, 64),
		"maxScore":         strconv.FormatFloat(r.MaxScore, 'f', -1, 64),
		"coefficient":      strconv.FormatFloat(r.Coefficient, 'f', -1, 64),
		"normalizedScore":  strconv.FormatFloat(r.NormalizedScore, 'f', 2, 64),
		"examAttendance":   string(r.ExamAttendance),
		"status":           string(r.Status),
		"isRetakeEligible": strconv.FormatBool(r.IsRetakeEligible),
	}
	if r.GradeBand != nil {
		row["gradeBand"] = r.GradeBand.Label
	}
	if r.PublishedAt != nil {
		row["publishedAt"] = r.PublishedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	return row
}
