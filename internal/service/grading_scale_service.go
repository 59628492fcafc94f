package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/repository"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
)

type gradingScaleRepository interface {
	ListActive(ctx context.Context, campusID string) ([]models.GradingScale, error)
	FindByID(ctx context.Context, id string) (*models.GradingScale, error)
	FindForCampus(ctx context.Context, campusID string) (*models.GradingScale, error)
	Create(ctx context.Context, scale *models.GradingScale) error
	Update(ctx context.Context, scale *models.GradingScale) error
}

// CreateGradingScaleRequest is the payload for a new scale.
type CreateGradingScaleRequest struct {
	CampusID    string               `json:"campusId"`
	Name        string               `json:"name" validate:"required,max=100"`
	Description *string              `json:"description"`
	System      models.GradingSystem `json:"system" validate:"required,grading_system"`
	MaxScore    float64              `json:"maxScore" validate:"gt=0"`
	PassMark    float64              `json:"passMark" validate:"gte=0"`
	Bands       []models.GradeBand   `json:"bands"`
	IsDefault   bool                 `json:"isDefault"`
}

// UpdateGradingScaleRequest carries the editable attributes; nil fields are untouched.
type UpdateGradingScaleRequest struct {
	Name        *string            `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string            `json:"description"`
	PassMark    *float64           `json:"passMark" validate:"omitempty,gte=0"`
	Bands       []models.GradeBand `json:"bands"`
	IsDefault   *bool              `json:"isDefault"`
	IsActive    *bool              `json:"isActive"`
}

// ScaleEvaluation is the outcome of probing a scale with a raw score.
type ScaleEvaluation struct {
	ScaleID    string            `json:"scaleId"`
	ScaleScore float64           `json:"scaleScore"`
	ScoreOn20  float64           `json:"scoreOn20"`
	Band       *models.GradeBand `json:"band"`
	Passing    bool              `json:"passing"`
}

// GradingScaleService is the campus grading-scale registry.
type GradingScaleService struct {
	repo      gradingScaleRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGradingScaleService constructs the registry.
func NewGradingScaleService(repo gradingScaleRepository, validate *validator.Validate, logger *zap.Logger) *GradingScaleService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradingScaleService{repo: repo, validator: validate, logger: logger}
}

// List returns the active scales of the principal's campus.
func (s *GradingScaleService) List(ctx context.Context, principal *models.JWTClaims, campusID string) ([]models.GradingScale, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	campus, err := campusFor(principal, campusID)
	if err != nil {
		return nil, err
	}
	scales, err := s.repo.ListActive(ctx, campus)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grading scales")
	}
	return scales, nil
}

// Get returns a scale visible to the principal.
func (s *GradingScaleService) Get(ctx context.Context, principal *models.JWTClaims, id string) (*models.GradingScale, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	return s.load(ctx, principal, id)
}

// Create validates and stores a scale, demoting any previous default.
func (s *GradingScaleService) Create(ctx context.Context, principal *models.JWTClaims, req CreateGradingScaleRequest) (*models.GradingScale, error) {
	if err := requireManager(principal); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid grading scale payload")
	}
	campus, err := campusFor(principal, req.CampusID)
	if err != nil {
		return nil, err
	}
	scale := &models.GradingScale{
		CampusID:    campus,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		System:      req.System,
		MaxScore:    req.MaxScore,
		PassMark:    req.PassMark,
		Bands:       req.Bands,
		IsDefault:   req.IsDefault,
		IsActive:    true,
		CreatedBy:   principal.UserID,
	}
	if err := ValidateScale(scale); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, scale); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "grading scale name already used in campus")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create grading scale")
	}
	s.logger.Info("grading scale created", zap.String("scale_id", scale.ID), zap.String("campus_id", campus), zap.Bool("default", scale.IsDefault))
	return scale, nil
}

// Update applies editable attributes and re-validates the scale.
func (s *GradingScaleService) Update(ctx context.Context, principal *models.JWTClaims, id string, req UpdateGradingScaleRequest) (*models.GradingScale, error) {
	if err := requireManager(principal); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid grading scale payload")
	}
	scale, err := s.load(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		scale.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		scale.Description = req.Description
	}
	if req.PassMark != nil {
		scale.PassMark = *req.PassMark
	}
	if req.Bands != nil {
		scale.Bands = req.Bands
	}
	if req.IsDefault != nil {
		scale.IsDefault = *req.IsDefault
	}
	if req.IsActive != nil {
		scale.IsActive = *req.IsActive
	}
	if !scale.IsActive {
		scale.IsDefault = false
	}
	if err := ValidateScale(scale); err != nil {
		return nil, err
	}
	updatedBy := principal.UserID
	scale.UpdatedBy = &updatedBy
	if err := s.repo.Update(ctx, scale); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "grading scale name already used in campus")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update grading scale")
	}
	return scale, nil
}

// GetForCampus returns the default active scale, else the oldest active one,
// else nil.
func (s *GradingScaleService) GetForCampus(ctx context.Context, campusID string) (*models.GradingScale, error) {
	scale, err := s.repo.FindForCampus(ctx, campusID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve campus grading scale")
	}
	return scale, nil
}

// Resolve returns the explicit scale when id is set, else the campus scale.
// An explicit scale must be active and belong to campusID.
func (s *GradingScaleService) Resolve(ctx context.Context, campusID string, id *string) (*models.GradingScale, error) {
	if id == nil || *id == "" {
		return s.GetForCampus(ctx, campusID)
	}
	scale, err := s.repo.FindByID(ctx, *id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "grading scale not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grading scale")
	}
	if scale.CampusID != campusID || !scale.IsActive {
		return nil, appErrors.Clone(appErrors.ErrValidation, "grading scale not usable on this campus")
	}
	return scale, nil
}

// Evaluate projects score/maxScore onto the scale and reports band and pass state.
func (s *GradingScaleService) Evaluate(ctx context.Context, principal *models.JWTClaims, id string, score, maxScore float64) (*ScaleEvaluation, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	if maxScore <= 0 || score < 0 || score > maxScore {
		return nil, appErrors.Clone(appErrors.ErrValidation, "score must be within [0, maxScore] and maxScore positive")
	}
	scale, err := s.load(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	onScale := projectOntoScale(scale, score, maxScore)
	return &ScaleEvaluation{
		ScaleID:    scale.ID,
		ScaleScore: onScale,
		ScoreOn20:  ConvertTo(scale, onScale, 20),
		Band:       ResolveBand(scale, onScale),
		Passing:    IsPassing(scale, onScale),
	}, nil
}

func (s *GradingScaleService) load(ctx context.Context, principal *models.JWTClaims, id string) (*models.GradingScale, error) {
	scale, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grading scale not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grading scale")
	}
	if !inScope(principal, scale.CampusID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "grading scale belongs to another campus")
	}
	return scale, nil
}

// ValidateScale canonicalises numeric attributes to 4 dp and checks band
// well-formedness. Violations are reported as a validation failure with details.
func ValidateScale(scale *models.GradingScale) error {
	scale.MaxScore = round4(scale.MaxScore)
	scale.PassMark = round4(scale.PassMark)

	var details []FieldError
	if scale.MaxScore <= 0 {
		details = append(details, FieldError{Field: "maxScore", Message: "must be greater than 0"})
	}
	if scale.PassMark < 0 || scale.PassMark > scale.MaxScore {
		details = append(details, FieldError{Field: "passMark", Message: "must be within [0, maxScore]"})
	}
	for i := range scale.Bands {
		band := &scale.Bands[i]
		band.Min = round4(band.Min)
		band.Max = round4(band.Max)
		field := fmt.Sprintf("bands[%d]", i)
		if strings.TrimSpace(band.Label) == "" {
			details = append(details, FieldError{Field: field + ".label", Message: "is required"})
		}
		if band.Min >= band.Max {
			details = append(details, FieldError{Field: field, Message: "min must be lower than max"})
		}
		if band.Min < 0 || band.Max > scale.MaxScore {
			details = append(details, FieldError{Field: field, Message: "must lie within [0, maxScore]"})
		}
		if band.ECTSGrade != nil && !validECTS(*band.ECTSGrade) {
			details = append(details, FieldError{Field: field + ".ectsGrade", Message: "must be one of A, B, C, D, E, FX, F"})
		}
		if i > 0 {
			prev := scale.Bands[i-1]
			if band.Min < prev.Min {
				details = append(details, FieldError{Field: field, Message: "bands must be sorted by min"})
			} else if band.Min <= prev.Max {
				details = append(details, FieldError{Field: field, Message: "overlaps the previous band"})
			}
		}
	}
	if len(details) > 0 {
		return appErrors.WithDetails(appErrors.ErrValidation, "invalid grading scale", details)
	}
	return nil
}

func validECTS(grade string) bool {
	for _, g := range models.ECTSGrades {
		if g == grade {
			return true
		}
	}
	return false
}

// ResolveBand returns a copy of the band whose closed interval holds score.
func ResolveBand(scale *models.GradingScale, score float64) *models.GradeBand {
	if scale == nil {
		return nil
	}
	value := round4(score)
	for _, band := range scale.Bands {
		if value >= round4(band.Min) && value <= round4(band.Max) {
			b := band
			return &b
		}
	}
	return nil
}

// ConvertTo rescales a score on the scale's axis onto targetMax.
func ConvertTo(scale *models.GradingScale, score, targetMax float64) float64 {
	if scale == nil || scale.MaxScore <= 0 {
		return 0
	}
	return round2(score / scale.MaxScore * targetMax)
}

// IsPassing compares score with the pass mark after 4 dp canonicalisation.
func IsPassing(scale *models.GradingScale, score float64) bool {
	if scale == nil {
		return round4(score) >= passThreshold
	}
	return round4(score) >= round4(scale.PassMark)
}
