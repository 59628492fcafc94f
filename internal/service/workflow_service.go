package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/repository"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
	"github.com/noah-isme/campus-results-api/pkg/jobs"
)

const (
	// RiskJobType tags dropout-risk jobs on the worker queue.
	RiskJobType = "dropout_risk"

	minAuditReasonLength = 10
	maxLockConcurrency   = 10
)

type workflowRepository interface {
	Mutate(ctx context.Context, id string, fn repository.MutateFunc) (*models.Result, error)
	ListIDs(ctx context.Context, filter models.ResultFilter) ([]string, error)
	LockPeriod(ctx context.Context, campusID, academicYear string, semester models.Semester) ([]models.LockedRow, error)
}

type transcriptGenerator interface {
	GenerateForStudent(ctx context.Context, input GenerateTranscriptInput) (*models.FinalTranscript, bool, error)
	AssignRanks(ctx context.Context, classID, academicYear string, semester models.Semester) error
}

type jobScheduler interface {
	TryEnqueue(job jobs.Job) error
}

// RiskJobPayload identifies the result whose publication triggered a risk run.
type RiskJobPayload struct {
	ResultID  string
	StudentID string
	CampusID  string
}

// BatchScopeRequest selects one evaluation of one class and subject.
type BatchScopeRequest struct {
	CampusID        string          `json:"campusId"`
	ClassID         string          `json:"classId" validate:"required"`
	SubjectID       string          `json:"subjectId" validate:"required"`
	EvaluationTitle string          `json:"evaluationTitle" validate:"required"`
	AcademicYear    string          `json:"academicYear" validate:"required,academic_year"`
	Semester        models.Semester `json:"semester" validate:"required,semester"`
}

// LockSemesterRequest targets a period, optionally narrowed to one campus.
type LockSemesterRequest struct {
	CampusID     string          `json:"campusId"`
	AcademicYear string          `json:"academicYear" validate:"required,academic_year"`
	Semester     models.Semester `json:"semester" validate:"required,semester"`
}

// AuditCorrectionRequest is a post-publication correction.
type AuditCorrectionRequest struct {
	Score          *float64 `json:"score" validate:"omitempty,gte=0"`
	TeacherRemarks *string  `json:"teacherRemarks"`
	Reason         string   `json:"reason"`
}

// BatchError reports one failed row of a batch operation.
type BatchError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BatchOutcome summarises a bulk transition.
type BatchOutcome struct {
	Matched int          `json:"matched"`
	Updated int          `json:"updated"`
	Errors  []BatchError `json:"errors"`
}

// LockSemesterOutcome summarises a semester closure.
type LockSemesterOutcome struct {
	Locked    int          `json:"locked"`
	Students  int          `json:"students"`
	Generated int          `json:"generated"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Errors    []BatchError `json:"errors"`
}

// WorkflowService drives result state transitions.
type WorkflowService struct {
	repo        workflowRepository
	scales      scaleResolver
	transcripts transcriptGenerator
	risk        jobScheduler
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	concurrency int
	now         func() time.Time
	newToken    func() string
}

// WorkflowConfig tunes semester closure.
type WorkflowConfig struct {
	LockConcurrency int
}

// NewWorkflowService constructs the controller. risk may be nil.
func NewWorkflowService(repo workflowRepository, scales scaleResolver, transcripts transcriptGenerator, risk jobScheduler, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg WorkflowConfig) *WorkflowService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LockConcurrency <= 0 || cfg.LockConcurrency > maxLockConcurrency {
		cfg.LockConcurrency = maxLockConcurrency
	}
	return &WorkflowService{
		repo:        repo,
		scales:      scales,
		transcripts: transcripts,
		risk:        risk,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		concurrency: cfg.LockConcurrency,
		now:         time.Now,
		newToken:    uuid.NewString,
	}
}

// Submit moves a draft to SUBMITTED. Teachers may only submit their own.
func (s *WorkflowService) Submit(ctx context.Context, principal *models.JWTClaims, id string) (*models.Result, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	result, err := s.repo.Mutate(ctx, id, s.submitFn(principal))
	if err != nil {
		return nil, mapResultError(err, "failed to submit result")
	}
	s.afterTransition(ctx, models.ResultStatusSubmitted, result.CampusID, 1)
	return result, nil
}

func (s *WorkflowService) submitFn(principal *models.JWTClaims) repository.MutateFunc {
	return func(ctx context.Context, _ repository.ResultTx, result *models.Result) error {
		if err := guardResult(principal, result); err != nil {
			return err
		}
		if principal.Role == models.RoleTeacher && result.TeacherID != principal.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "teachers may only submit their own results")
		}
		return s.transition(result, models.ResultStatusSubmitted, principal)
	}
}

// SubmitBatch submits every draft of one evaluation.
func (s *WorkflowService) SubmitBatch(ctx context.Context, principal *models.JWTClaims, req BatchScopeRequest) (*BatchOutcome, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	filter, err := s.batchFilter(principal, req, models.ResultStatusDraft)
	if err != nil {
		return nil, err
	}
	if principal.Role == models.RoleTeacher {
		filter.TeacherID = principal.UserID
	}
	outcome, err := s.runBatch(ctx, filter, s.submitFn(principal))
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, models.ResultStatusSubmitted, filter.CampusID, outcome.Updated)
	return outcome, nil
}

// Return sends a submitted result back to DRAFT for correction.
func (s *WorkflowService) Return(ctx context.Context, principal *models.JWTClaims, id string) (*models.Result, error) {
	if err := requireManager(principal); err != nil {
		return nil, err
	}
	result, err := s.repo.Mutate(ctx, id, func(ctx context.Context, _ repository.ResultTx, result *models.Result) error {
		if err := guardResult(principal, result); err != nil {
			return err
		}
		return s.transition(result, models.ResultStatusDraft, principal)
	})
	if err != nil {
		return nil, mapResultError(err, "failed to return result")
	}
	s.afterTransition(ctx, models.ResultStatusDraft, result.CampusID, 1)
	return result, nil
}

// Publish releases a submitted result. For a RETAKE the original is checked
// and share-locked in the same transaction as the state change.
func (s *WorkflowService) Publish(ctx context.Context, principal *models.JWTClaims, id string) (*models.Result, error) {
	if err := requireManager(principal); err != nil {
		return nil, err
	}
	result, err := s.repo.Mutate(ctx, id, s.publishFn(principal))
	if err != nil {
		return nil, mapResultError(err, "failed to publish result")
	}
	s.afterTransition(ctx, models.ResultStatusPublished, result.CampusID, 1)
	s.scheduleRisk(result)
	return result, nil
}

func (s *WorkflowService) publishFn(principal *models.JWTClaims) repository.MutateFunc {
	return func(ctx context.Context, tx repository.ResultTx, result *models.Result) error {
		if err := guardResult(principal, result); err != nil {
			return err
		}
		if result.EvaluationType == models.EvaluationRetake && result.RetakeOf != nil {
			exists, err := tx.OriginalExists(ctx, result)
			if err != nil {
				return err
			}
			if !exists {
				return appErrors.Clone(appErrors.ErrValidation, "retake must reference a live result of the same student, subject and period")
			}
		}
		if err := s.transition(result, models.ResultStatusPublished, principal); err != nil {
			return err
		}
		if result.VerificationToken == nil || *result.VerificationToken == "" {
			token := s.newToken()
			result.VerificationToken = &token
		}
		return s.snapshotBand(ctx, result)
	}
}

// snapshotBand freezes the grade band from the scale in force at publication.
// An explicit scale that is no longer usable keeps the band computed on write.
func (s *WorkflowService) snapshotBand(ctx context.Context, result *models.Result) error {
	scale, err := s.scales.Resolve(ctx, result.CampusID, result.GradingScaleID)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Code == appErrors.ErrValidation.Code {
			s.logger.Warn("grading scale unavailable at publish, keeping stored band",
				zap.String("result_id", result.ID), zap.Error(err))
			return nil
		}
		return err
	}
	if scale == nil {
		return nil
	}
	result.GradeBand = ResolveBand(scale, projectOntoScale(scale, result.Score, result.MaxScore))
	return nil
}

// PublishBatch publishes every submitted result of one evaluation, minting a
// token on each.
func (s *WorkflowService) PublishBatch(ctx context.Context, principal *models.JWTClaims, req BatchScopeRequest) (*BatchOutcome, error) {
	if err := requireManager(principal); err != nil {
		return nil, err
	}
	filter, err := s.batchFilter(principal, req, models.ResultStatusSubmitted)
	if err != nil {
		return nil, err
	}
	ids, err := s.repo.ListIDs(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to select results")
	}
	outcome := &BatchOutcome{Matched: len(ids), Errors: []BatchError{}}
	publish := s.publishFn(principal)
	for _, id := range ids {
		result, err := s.repo.Mutate(ctx, id, publish)
		if err != nil {
			outcome.Errors = append(outcome.Errors, BatchError{ID: id, Error: appErrors.FromError(mapResultError(err, "failed to publish result")).Message})
			continue
		}
		outcome.Updated++
		s.scheduleRisk(result)
	}
	s.afterTransition(ctx, models.ResultStatusPublished, filter.CampusID, outcome.Updated)
	return outcome, nil
}

// Archive moves a published result to ARCHIVED.
func (s *WorkflowService) Archive(ctx context.Context, principal *models.JWTClaims, id string) (*models.Result, error) {
	if err := requireManager(principal); err != nil {
		return nil, err
	}
	result, err := s.repo.Mutate(ctx, id, func(ctx context.Context, _ repository.ResultTx, result *models.Result) error {
		if err := guardResult(principal, result); err != nil {
			return err
		}
		return s.transition(result, models.ResultStatusArchived, principal)
	})
	if err != nil {
		return nil, mapResultError(err, "failed to archive result")
	}
	s.afterTransition(ctx, models.ResultStatusArchived, result.CampusID, 1)
	return result, nil
}

// LockSemester latches the released results of a period and regenerates the
// final transcript of every affected student with bounded parallelism.
func (s *WorkflowService) LockSemester(ctx context.Context, principal *models.JWTClaims, req LockSemesterRequest) (*LockSemesterOutcome, error) {
	if err := requireManager(principal); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid lock request")
	}
	campus, err := ResolveCampusScope(principal, req.CampusID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.LockPeriod(ctx, campus, req.AcademicYear, req.Semester)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock semester")
	}
	targets := lockTargets(rows)
	outcome := &LockSemesterOutcome{Locked: len(rows), Students: len(targets), Errors: []BatchError{}}

	var (
		mu      sync.Mutex
		classes = make(map[string]struct{})
		g       errgroup.Group
	)
	g.SetLimit(s.concurrency)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			_, written, err := s.transcripts.GenerateForStudent(ctx, GenerateTranscriptInput{
				StudentID:    target.StudentID,
				ClassID:      target.ClassID,
				CampusID:     target.CampusID,
				AcademicYear: req.AcademicYear,
				Semester:     req.Semester,
				GeneratedBy:  principal.UserID,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				outcome.Failed++
				outcome.Errors = append(outcome.Errors, BatchError{ID: target.StudentID, Error: appErrors.FromError(err).Message})
				s.logger.Warn("transcript generation failed", zap.String("student_id", target.StudentID), zap.Error(err))
				s.metrics.RecordTranscript("failed")
			case written:
				outcome.Generated++
				classes[target.ClassID] = struct{}{}
				s.metrics.RecordTranscript("generated")
			default:
				outcome.Skipped++
				s.metrics.RecordTranscript("skipped")
			}
			return nil
		})
	}
	_ = g.Wait()

	for classID := range classes {
		if err := s.transcripts.AssignRanks(ctx, classID, req.AcademicYear, req.Semester); err != nil {
			s.logger.Warn("class ranking failed", zap.String("class_id", classID), zap.Error(err))
			outcome.Errors = append(outcome.Errors, BatchError{ID: classID, Error: "class ranking failed"})
		}
	}
	s.cache.InvalidateCampus(ctx, campus)
	s.logger.Info("semester locked",
		zap.String("campus_id", campus),
		zap.String("academic_year", req.AcademicYear),
		zap.String("semester", string(req.Semester)),
		zap.Int("locked", outcome.Locked),
		zap.Int("generated", outcome.Generated),
		zap.Int("failed", outcome.Failed))
	return outcome, nil
}

// lockTargets picks one (student, campus) entry per student, using the class
// holding most of the student's locked rows.
func lockTargets(rows []models.LockedRow) []models.LockedRow {
	type key struct{ student, campus string }
	counts := make(map[key]map[string]int)
	var order []key
	for _, row := range rows {
		k := key{row.StudentID, row.CampusID}
		if _, ok := counts[k]; !ok {
			counts[k] = make(map[string]int)
			order = append(order, k)
		}
		counts[k][row.ClassID]++
	}
	targets := make([]models.LockedRow, 0, len(order))
	for _, k := range order {
		var best string
		for classID, n := range counts[k] {
			if best == "" || n > counts[k][best] || (n == counts[k][best] && classID < best) {
				best = classID
			}
		}
		targets = append(targets, models.LockedRow{StudentID: k.student, ClassID: best, CampusID: k.campus})
	}
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].StudentID < targets[j].StudentID })
	return targets
}

// AuditCorrection changes a released result, appending one audit entry per
// changed field before the change is written.
func (s *WorkflowService) AuditCorrection(ctx context.Context, principal *models.JWTClaims, id string, req AuditCorrectionRequest, ipAddress string) (*models.Result, error) {
	if err := requireGlobal(principal); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid correction payload")
	}
	reason := strings.TrimSpace(req.Reason)
	if len([]rune(reason)) < minAuditReasonLength {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid correction payload",
			[]FieldError{{Field: "reason", Message: fmt.Sprintf("must be at least %d characters", minAuditReasonLength)}})
	}
	if req.Score == nil && req.TeacherRemarks == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to correct")
	}
	var ip *string
	if ipAddress != "" {
		ip = &ipAddress
	}

	result, err := s.repo.Mutate(ctx, id, func(ctx context.Context, tx repository.ResultTx, result *models.Result) error {
		if result.Status == models.ResultStatusDraft {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "draft results are edited directly")
		}
		if req.Score != nil && (*req.Score < 0 || *req.Score > result.MaxScore) {
			return appErrors.WithDetails(appErrors.ErrValidation, "invalid correction payload",
				[]FieldError{{Field: "score", Message: "must be within [0, maxScore]"}})
		}
		now := s.now().UTC()
		entry := func(field string, oldValue, newValue interface{}) *models.AuditEntry {
			return &models.AuditEntry{
				ResultID:   result.ID,
				ModifiedBy: principal.UserID,
				ModifiedAt: now,
				Field:      field,
				OldValue:   models.NewAuditValue(oldValue),
				NewValue:   models.NewAuditValue(newValue),
				Reason:     reason,
				IPAddress:  ip,
			}
		}
		changed := false
		if req.Score != nil && *req.Score != result.Score {
			if err := tx.AppendAudit(ctx, entry("score", result.Score, *req.Score)); err != nil {
				return err
			}
			result.Score = *req.Score
			changed = true
		}
		if req.TeacherRemarks != nil && stringValue(result.TeacherRemarks) != *req.TeacherRemarks {
			if err := tx.AppendAudit(ctx, entry("teacherRemarks", result.TeacherRemarks, *req.TeacherRemarks)); err != nil {
				return err
			}
			remarks := *req.TeacherRemarks
			result.TeacherRemarks = &remarks
		}
		if !changed {
			return nil
		}
		scale, err := s.scales.Resolve(ctx, result.CampusID, result.GradingScaleID)
		if err != nil {
			var appErr *appErrors.Error
			if !errors.As(err, &appErr) || appErr.Code != appErrors.ErrValidation.Code {
				return err
			}
			scale = nil
		}
		applyScoring(result, scale, s.logger)
		return nil
	})
	if err != nil {
		return nil, mapResultError(err, "failed to apply correction")
	}
	s.cache.InvalidateCampus(ctx, result.CampusID)
	s.logger.Info("audited correction applied", zap.String("result_id", id), zap.String("modified_by", principal.UserID))
	return result, nil
}

func (s *WorkflowService) transition(result *models.Result, to models.ResultStatus, principal *models.JWTClaims) error {
	if !models.CanTransition(result.Status, to) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move result from %s to %s", result.Status, to))
	}
	now := s.now().UTC()
	actor := principal.UserID
	switch to {
	case models.ResultStatusSubmitted:
		result.SubmittedAt = &now
		result.SubmittedBy = &actor
	case models.ResultStatusPublished:
		if result.PublishedAt == nil {
			result.PublishedAt = &now
		}
		result.PublishedBy = &actor
	case models.ResultStatusArchived:
		result.ArchivedAt = &now
		result.ArchivedBy = &actor
	}
	result.Status = to
	return nil
}

// guardResult enforces tenant scope and the semester latch.
func guardResult(principal *models.JWTClaims, result *models.Result) error {
	if !inScope(principal, result.CampusID) {
		return appErrors.Clone(appErrors.ErrForbidden, "result belongs to another campus")
	}
	if result.PeriodLocked && !principal.Role.IsGlobal() {
		return appErrors.Clone(appErrors.ErrForbidden, "semester is locked")
	}
	return nil
}

func (s *WorkflowService) batchFilter(principal *models.JWTClaims, req BatchScopeRequest, status models.ResultStatus) (models.ResultFilter, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.ResultFilter{}, validationError(err, "invalid batch scope")
	}
	campus, err := campusFor(principal, req.CampusID)
	if err != nil {
		return models.ResultFilter{}, err
	}
	return models.ResultFilter{
		CampusID:        campus,
		ClassID:         req.ClassID,
		SubjectID:       req.SubjectID,
		EvaluationTitle: strings.TrimSpace(req.EvaluationTitle),
		AcademicYear:    req.AcademicYear,
		Semester:        req.Semester,
		Statuses:        []models.ResultStatus{status},
	}, nil
}

func (s *WorkflowService) runBatch(ctx context.Context, filter models.ResultFilter, fn repository.MutateFunc) (*BatchOutcome, error) {
	ids, err := s.repo.ListIDs(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to select results")
	}
	outcome := &BatchOutcome{Matched: len(ids), Errors: []BatchError{}}
	for _, id := range ids {
		if _, err := s.repo.Mutate(ctx, id, fn); err != nil {
			outcome.Errors = append(outcome.Errors, BatchError{ID: id, Error: appErrors.FromError(mapResultError(err, "transition failed")).Message})
			continue
		}
		outcome.Updated++
	}
	return outcome, nil
}

func (s *WorkflowService) afterTransition(ctx context.Context, status models.ResultStatus, campusID string, count int) {
	if count == 0 {
		return
	}
	s.metrics.RecordTransition(status, count)
	s.cache.InvalidateCampus(ctx, campusID)
}

// scheduleRisk queues a best-effort dropout-risk run; a full queue only logs.
func (s *WorkflowService) scheduleRisk(result *models.Result) {
	if s.risk == nil || result == nil {
		return
	}
	job := jobs.Job{
		ID:      result.ID,
		Type:    RiskJobType,
		Payload: RiskJobPayload{ResultID: result.ID, StudentID: result.StudentID, CampusID: result.CampusID},
	}
	if err := s.risk.TryEnqueue(job); err != nil {
		s.logger.Warn("dropout risk not scheduled", zap.String("result_id", result.ID), zap.Error(err))
	}
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
