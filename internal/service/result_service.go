package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/repository"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
)

type resultRepository interface {
	Create(ctx context.Context, result *models.Result) error
	FindByID(ctx context.Context, id string) (*models.Result, error)
	ListAudit(ctx context.Context, resultID string) ([]models.AuditEntry, error)
	List(ctx context.Context, filter models.ResultFilter) ([]models.Result, int, error)
	Mutate(ctx context.Context, id string, fn repository.MutateFunc) (*models.Result, error)
}

type scaleResolver interface {
	Resolve(ctx context.Context, campusID string, id *string) (*models.GradingScale, error)
}

type classReader interface {
	FindClass(ctx context.Context, id string) (*models.Class, error)
}

// CreateResultRequest is the payload of a single draft.
type CreateResultRequest struct {
	CampusID             string                `json:"campusId"`
	StudentID            string                `json:"studentId" validate:"required,uuid"`
	ClassID              string                `json:"classId" validate:"required,uuid"`
	SubjectID            string                `json:"subjectId" validate:"required,uuid"`
	TeacherID            string                `json:"teacherId" validate:"omitempty,uuid"`
	Score                *float64              `json:"score" validate:"required,gte=0"`
	MaxScore             float64               `json:"maxScore" validate:"gte=1"`
	Coefficient          *float64              `json:"coefficient" validate:"omitempty,gt=0"`
	EvaluationType       models.EvaluationType `json:"evaluationType" validate:"required,evaluation_type"`
	EvaluationTitle      string                `json:"evaluationTitle" validate:"required,max=200"`
	AcademicYear         string                `json:"academicYear" validate:"required,academic_year"`
	Semester             models.Semester       `json:"semester" validate:"required,semester"`
	GradingScaleID       *string               `json:"gradingScaleId" validate:"omitempty,uuid"`
	ExamDate             *time.Time            `json:"examDate"`
	ExamPeriod           *models.ExamPeriod    `json:"examPeriod" validate:"omitempty,exam_period"`
	ExamWeek             *int                  `json:"examWeek" validate:"omitempty,min=1,max=53"`
	ExamMonth            *int                  `json:"examMonth" validate:"omitempty,min=1,max=12"`
	ExamAttendance       models.ExamAttendance `json:"examAttendance" validate:"omitempty,exam_attendance"`
	SpecialCircumstances *string               `json:"specialCircumstances"`
	TeacherRemarks       *string               `json:"teacherRemarks"`
	Strengths            *string               `json:"strengths"`
	Improvements         *string               `json:"improvements"`
	RetakeOf             *string               `json:"retakeOf" validate:"omitempty,uuid"`
}

// UpdateResultRequest lists the editable fields of a draft or submitted result.
type UpdateResultRequest struct {
	Score                *float64               `json:"score" validate:"omitempty,gte=0"`
	MaxScore             *float64               `json:"maxScore" validate:"omitempty,gte=1"`
	Coefficient          *float64               `json:"coefficient" validate:"omitempty,gt=0"`
	TeacherRemarks       *string                `json:"teacherRemarks"`
	ClassManagerRemarks  *string                `json:"classManagerRemarks"`
	Strengths            *string                `json:"strengths"`
	Improvements         *string                `json:"improvements"`
	GradingScaleID       *string                `json:"gradingScaleId" validate:"omitempty,uuid"`
	EvaluationTitle      *string                `json:"evaluationTitle" validate:"omitempty,min=1,max=200"`
	ExamDate             *time.Time             `json:"examDate"`
	ExamPeriod           *models.ExamPeriod     `json:"examPeriod" validate:"omitempty,exam_period"`
	ExamAttendance       *models.ExamAttendance `json:"examAttendance" validate:"omitempty,exam_attendance"`
	SpecialCircumstances *string                `json:"specialCircumstances"`
}

// ResultService owns result capture, edits and reads.
type ResultService struct {
	repo      resultRepository
	scales    scaleResolver
	classes   classReader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewResultService constructs the service.
func NewResultService(repo resultRepository, scales scaleResolver, classes classReader, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ResultService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultService{repo: repo, scales: scales, classes: classes, cache: cache, validator: validate, logger: logger, now: time.Now}
}

// Create stores a new DRAFT result with its computed scores and reference.
func (s *ResultService) Create(ctx context.Context, principal *models.JWTClaims, req CreateResultRequest) (*models.Result, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid result payload")
	}
	if *req.Score > req.MaxScore {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid result payload",
			[]FieldError{{Field: "score", Message: "must be within [0, maxScore]"}})
	}
	title := strings.TrimSpace(req.EvaluationTitle)
	if title == "" {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid result payload",
			[]FieldError{{Field: "evaluationTitle", Message: "is required"}})
	}
	if req.RetakeOf != nil && req.EvaluationType != models.EvaluationRetake {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid result payload",
			[]FieldError{{Field: "retakeOf", Message: "only RETAKE evaluations may reference an original"}})
	}
	campus, err := campusFor(principal, req.CampusID)
	if err != nil {
		return nil, err
	}
	teacherID, err := resolveTeacher(principal, req.TeacherID)
	if err != nil {
		return nil, err
	}
	if err := s.checkClass(ctx, campus, req.ClassID); err != nil {
		return nil, err
	}
	scale, err := s.scales.Resolve(ctx, campus, req.GradingScaleID)
	if err != nil {
		return nil, err
	}

	coefficient := 1.0
	if req.Coefficient != nil {
		coefficient = *req.Coefficient
	}
	attendance := req.ExamAttendance
	if attendance == "" {
		attendance = models.AttendancePresent
	}
	result := &models.Result{
		CampusID:             campus,
		StudentID:            req.StudentID,
		ClassID:              req.ClassID,
		SubjectID:            req.SubjectID,
		TeacherID:            teacherID,
		AcademicYear:         req.AcademicYear,
		Semester:             req.Semester,
		EvaluationType:       req.EvaluationType,
		EvaluationTitle:      title,
		Score:                *req.Score,
		MaxScore:             req.MaxScore,
		Coefficient:          coefficient,
		ExamDate:             req.ExamDate,
		ExamPeriod:           req.ExamPeriod,
		ExamWeek:             req.ExamWeek,
		ExamMonth:            req.ExamMonth,
		ExamAttendance:       attendance,
		SpecialCircumstances: req.SpecialCircumstances,
		TeacherRemarks:       req.TeacherRemarks,
		Strengths:            req.Strengths,
		Improvements:         req.Improvements,
		RetakeOf:             req.RetakeOf,
		Status:               models.ResultStatusDraft,
		CreatedBy:            principal.UserID,
	}
	if result.RetakeOf != nil {
		if err := s.checkRetakeOriginal(ctx, result); err != nil {
			return nil, err
		}
	}
	applyScoring(result, scale, s.logger)

	if err := s.repo.Create(ctx, result); err != nil {
		return nil, mapResultError(err, "failed to create result")
	}
	s.cache.InvalidateCampus(ctx, campus)
	s.logger.Info("result created", zap.String("result_id", result.ID), zap.String("reference", result.Reference), zap.String("campus_id", campus))
	return result, nil
}

// Update edits a result the principal may modify and recomputes its scores.
func (s *ResultService) Update(ctx context.Context, principal *models.JWTClaims, id string, req UpdateResultRequest) (*models.Result, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid result payload")
	}
	if req.EvaluationTitle != nil && strings.TrimSpace(*req.EvaluationTitle) == "" {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid result payload",
			[]FieldError{{Field: "evaluationTitle", Message: "is required"}})
	}
	if req.ClassManagerRemarks != nil && !principal.Role.IsManager() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only managers may set class manager remarks")
	}

	updated, err := s.repo.Mutate(ctx, id, func(ctx context.Context, _ repository.ResultTx, result *models.Result) error {
		if ok, reason := CanModify(principal, result); !ok {
			return appErrors.Clone(appErrors.ErrForbidden, reason)
		}
		applyResultPatch(result, req, principal)
		if result.Score > result.MaxScore {
			return appErrors.WithDetails(appErrors.ErrValidation, "invalid result payload",
				[]FieldError{{Field: "score", Message: "must be within [0, maxScore]"}})
		}
		scale, err := s.scales.Resolve(ctx, result.CampusID, result.GradingScaleID)
		if err != nil {
			return err
		}
		applyScoring(result, scale, s.logger)
		return nil
	})
	if err != nil {
		return nil, mapResultError(err, "failed to update result")
	}
	s.cache.InvalidateCampus(ctx, updated.CampusID)
	return updated, nil
}

func applyResultPatch(result *models.Result, req UpdateResultRequest, principal *models.JWTClaims) {
	if req.Score != nil {
		result.Score = *req.Score
	}
	if req.MaxScore != nil {
		result.MaxScore = *req.MaxScore
	}
	if req.Coefficient != nil {
		result.Coefficient = *req.Coefficient
	}
	if req.TeacherRemarks != nil {
		result.TeacherRemarks = req.TeacherRemarks
	}
	if req.ClassManagerRemarks != nil {
		result.ClassManagerRemarks = req.ClassManagerRemarks
		managerID := principal.UserID
		result.ClassManagerID = &managerID
	}
	if req.Strengths != nil {
		result.Strengths = req.Strengths
	}
	if req.Improvements != nil {
		result.Improvements = req.Improvements
	}
	if req.GradingScaleID != nil {
		result.GradingScaleID = req.GradingScaleID
	}
	if req.EvaluationTitle != nil {
		result.EvaluationTitle = strings.TrimSpace(*req.EvaluationTitle)
	}
	if req.ExamDate != nil {
		result.ExamDate = req.ExamDate
	}
	if req.ExamPeriod != nil {
		result.ExamPeriod = req.ExamPeriod
	}
	if req.ExamAttendance != nil {
		result.ExamAttendance = *req.ExamAttendance
	}
	if req.SpecialCircumstances != nil {
		result.SpecialCircumstances = req.SpecialCircumstances
	}
}

func (s *ResultService) checkRetakeOriginal(ctx context.Context, retake *models.Result) error {
	original, err := s.repo.FindByID(ctx, *retake.RetakeOf)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load original result")
	}
	if err != nil || !retakeMatches(retake, original) {
		return appErrors.WithDetails(appErrors.ErrValidation, "invalid result payload",
			[]FieldError{{Field: "retakeOf", Message: "must reference a live result of the same student, subject and period"}})
	}
	return nil
}

// retakeMatches reports whether original is a live result that retake may
// supersede.
func retakeMatches(retake, original *models.Result) bool {
	return original != nil && !original.IsDeleted &&
		original.ID != retake.ID &&
		original.CampusID == retake.CampusID &&
		original.StudentID == retake.StudentID &&
		original.SubjectID == retake.SubjectID &&
		original.AcademicYear == retake.AcademicYear &&
		original.Semester == retake.Semester
}

// Delete soft-deletes a result. Non-global principals may only delete
// unlocked drafts.
func (s *ResultService) Delete(ctx context.Context, principal *models.JWTClaims, id string) error {
	if err := requireStaff(principal); err != nil {
		return err
	}
	deleted, err := s.repo.Mutate(ctx, id, func(ctx context.Context, _ repository.ResultTx, result *models.Result) error {
		if !inScope(principal, result.CampusID) {
			return appErrors.Clone(appErrors.ErrForbidden, "result belongs to another campus")
		}
		if !principal.Role.IsGlobal() {
			if result.PeriodLocked {
				return appErrors.Clone(appErrors.ErrForbidden, "semester is locked")
			}
			if result.Status != models.ResultStatusDraft {
				return appErrors.Clone(appErrors.ErrForbidden, "only draft results can be deleted")
			}
			if principal.Role == models.RoleTeacher && result.TeacherID != principal.UserID {
				return appErrors.Clone(appErrors.ErrForbidden, "result belongs to another teacher")
			}
		}
		now := s.now().UTC()
		deletedBy := principal.UserID
		result.IsDeleted = true
		result.DeletedAt = &now
		result.DeletedBy = &deletedBy
		return nil
	})
	if err != nil {
		return mapResultError(err, "failed to delete result")
	}
	s.cache.InvalidateCampus(ctx, deleted.CampusID)
	s.logger.Info("result deleted", zap.String("result_id", id), zap.String("deleted_by", principal.UserID))
	return nil
}

// Get returns a result with its audit trail. Students only see their own
// released results; anything else reads as not found.
func (s *ResultService) Get(ctx context.Context, principal *models.JWTClaims, id string) (*models.Result, error) {
	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}
	result, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapResultError(err, "failed to load result")
	}
	if principal.Role == models.RoleStudent {
		if result.StudentID != principal.UserID || !result.Status.IsReleased() {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "result not found")
		}
	}
	if !inScope(principal, result.CampusID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "result belongs to another campus")
	}
	audit, err := s.repo.ListAudit(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit log")
	}
	result.AuditLog = audit
	return result, nil
}

// List pages through results visible to the principal.
func (s *ResultService) List(ctx context.Context, principal *models.JWTClaims, filter models.ResultFilter) ([]models.Result, *models.Pagination, error) {
	if err := requirePrincipal(principal); err != nil {
		return nil, nil, err
	}
	campus, err := ResolveCampusScope(principal, filter.CampusID)
	if err != nil {
		return nil, nil, err
	}
	filter.CampusID = campus
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	if principal.Role == models.RoleStudent {
		filter.StudentID = principal.UserID
		statuses := releasedOnly(filter.Statuses)
		if len(statuses) == 0 {
			return []models.Result{}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize}, nil
		}
		filter.Statuses = statuses
	}
	results, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list results")
	}
	if results == nil {
		results = []models.Result{}
	}
	return results, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// releasedOnly narrows a requested status set to released states; an empty
// request means every released state.
func releasedOnly(requested []models.ResultStatus) []models.ResultStatus {
	if len(requested) == 0 {
		return []models.ResultStatus{models.ResultStatusPublished, models.ResultStatusArchived}
	}
	out := make([]models.ResultStatus, 0, len(requested))
	for _, st := range requested {
		if st.IsReleased() {
			out = append(out, st)
		}
	}
	return out
}

// CanModify reports whether principal may edit result through the regular
// update path, with the refusal reason otherwise.
func CanModify(principal *models.JWTClaims, result *models.Result) (bool, string) {
	switch {
	case principal == nil:
		return false, "authentication required"
	case result.IsDeleted:
		return false, "result is deleted"
	case !inScope(principal, result.CampusID):
		return false, "result belongs to another campus"
	case result.PeriodLocked && !principal.Role.IsGlobal():
		return false, "semester is locked"
	case result.Status.IsReleased():
		return false, "released results change only through audited corrections"
	case result.Status == models.ResultStatusSubmitted:
		if principal.Role.IsManager() {
			return true, ""
		}
		return false, "submitted results can only be edited by managers"
	case result.Status == models.ResultStatusDraft:
		if principal.Role.IsManager() {
			return true, ""
		}
		if principal.Role == models.RoleTeacher && result.TeacherID == principal.UserID {
			return true, ""
		}
		return false, "only the owning teacher or a manager may edit this draft"
	}
	return false, "result cannot be modified"
}

func resolveTeacher(principal *models.JWTClaims, requested string) (string, error) {
	if principal.Role == models.RoleTeacher {
		if requested != "" && requested != principal.UserID {
			return "", appErrors.Clone(appErrors.ErrForbidden, "teachers may only record their own results")
		}
		return principal.UserID, nil
	}
	if requested == "" {
		return "", appErrors.WithDetails(appErrors.ErrValidation, "invalid result payload",
			[]FieldError{{Field: "teacherId", Message: "is required"}})
	}
	return requested, nil
}

func (s *ResultService) checkClass(ctx context.Context, campusID, classID string) error {
	class, err := s.classes.FindClass(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.WithDetails(appErrors.ErrValidation, "invalid result payload",
				[]FieldError{{Field: "classId", Message: "class not found"}})
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if class.CampusID != campusID {
		return appErrors.Clone(appErrors.ErrForbidden, "class belongs to another campus")
	}
	return nil
}

// mapResultError passes domain errors through and translates storage errors.
func mapResultError(err error, message string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "result not found")
	case errors.Is(err, repository.ErrDuplicate):
		return appErrors.Clone(appErrors.ErrConflict, "a result already exists for this evaluation")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
}
