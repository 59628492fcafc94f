package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-results-api/internal/models"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
	"github.com/noah-isme/campus-results-api/pkg/signing"
)

type finalTranscriptRepository interface {
	UpsertDraft(ctx context.Context, transcript *models.FinalTranscript) (bool, error)
	AssignClassRanks(ctx context.Context, classID, academicYear string, semester models.Semester) error
	FindByID(ctx context.Context, id string) (*models.FinalTranscript, error)
	List(ctx context.Context, filter models.TranscriptFilter) ([]models.FinalTranscript, error)
	Mutate(ctx context.Context, id string, fn func(*models.FinalTranscript) error) (*models.FinalTranscript, error)
	FindByToken(ctx context.Context, token string) (*models.TranscriptVerificationRow, error)
}

type resultAggregator interface {
	Aggregate(ctx context.Context, filter models.AggregateFilter) ([]models.Result, error)
}

type subjectReader interface {
	FindSubjects(ctx context.Context, ids []string) (map[string]models.Subject, error)
}

type linkSigner interface {
	Generate(subjectID string) (string, time.Time, error)
	Verify(token string) (string, time.Time, error)
}

// GenerateTranscriptInput identifies one bulletin to (re)build.
type GenerateTranscriptInput struct {
	StudentID    string
	ClassID      string
	CampusID     string
	AcademicYear string
	Semester     models.Semester
	GeneratedBy  string
}

// ValidateTranscriptRequest carries the optional pedagogical verdict.
type ValidateTranscriptRequest struct {
	Decision            *string `json:"decision" validate:"omitempty,max=200"`
	GeneralAppreciation *string `json:"generalAppreciation" validate:"omitempty,max=2000"`
}

// SignTranscriptRequest is a parent's acknowledgement.
type SignTranscriptRequest struct {
	SignedBy string                 `json:"signedBy" validate:"required,max=200"`
	Method   models.SignatureMethod `json:"method" validate:"omitempty,signature_method"`
}

// SignatureLink is a signed, expiring token for the public sign endpoint.
type SignatureLink struct {
	TranscriptID string    `json:"transcriptId"`
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// TranscriptService generates and moves final transcripts through their workflow.
type TranscriptService struct {
	repo        finalTranscriptRepository
	results     resultAggregator
	subjects    subjectReader
	signer      linkSigner
	requireLink bool
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
	newToken    func() string
}

// NewTranscriptService constructs the service. signer may be nil when links
// are not required.
func NewTranscriptService(repo finalTranscriptRepository, results resultAggregator, subjects subjectReader, signer linkSigner, requireLink bool, validate *validator.Validate, logger *zap.Logger) *TranscriptService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptService{
		repo:        repo,
		results:     results,
		subjects:    subjects,
		signer:      signer,
		requireLink: requireLink,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
		newToken:    uuid.NewString,
	}
}

// GenerateForStudent aggregates the student's released results of the period
// and upserts the DRAFT bulletin. written is false when a validated or sealed
// transcript already exists.
func (s *TranscriptService) GenerateForStudent(ctx context.Context, input GenerateTranscriptInput) (*models.FinalTranscript, bool, error) {
	results, err := s.results.Aggregate(ctx, models.AggregateFilter{
		CampusID:          input.CampusID,
		StudentID:         input.StudentID,
		AcademicYear:      input.AcademicYear,
		Semester:          input.Semester,
		Statuses:          releasedStatuses,
		ExcludeSuperseded: true,
	})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate results")
	}
	subjects, err := s.subjects.FindSubjects(ctx, subjectIDs(results))
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subjects")
	}
	lines, general := buildTranscriptSubjects(results, subjects)
	transcript := &models.FinalTranscript{
		CampusID:       input.CampusID,
		StudentID:      input.StudentID,
		ClassID:        input.ClassID,
		AcademicYear:   input.AcademicYear,
		Semester:       input.Semester,
		Subjects:       lines,
		GeneralAverage: general,
		GeneratedBy:    input.GeneratedBy,
	}
	written, err := s.repo.UpsertDraft(ctx, transcript)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store transcript")
	}
	return transcript, written, nil
}

// AssignRanks ranks the draft transcripts of a class period.
func (s *TranscriptService) AssignRanks(ctx context.Context, classID, academicYear string, semester models.Semester) error {
	if err := s.repo.AssignClassRanks(ctx, classID, academicYear, semester); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rank class")
	}
	return nil
}

// Validate moves a DRAFT transcript to VALIDATED and mints its token.
func (s *TranscriptService) Validate(ctx context.Context, principal *models.JWTClaims, id string, req ValidateTranscriptRequest) (*models.FinalTranscript, error) {
	if err := requireManager(principal); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid validation payload")
	}
	transcript, err := s.repo.Mutate(ctx, id, func(t *models.FinalTranscript) error {
		if !inScope(principal, t.CampusID) {
			return appErrors.Clone(appErrors.ErrForbidden, "transcript belongs to another campus")
		}
		if t.Status != models.TranscriptStatusDraft {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "only draft transcripts can be validated")
		}
		if req.Decision != nil {
			decision := strings.TrimSpace(*req.Decision)
			t.Decision = &decision
		}
		if req.GeneralAppreciation != nil {
			appreciation := strings.TrimSpace(*req.GeneralAppreciation)
			t.GeneralAppreciation = &appreciation
		}
		now := s.now().UTC()
		validatedBy := principal.UserID
		t.Status = models.TranscriptStatusValidated
		t.ValidatedAt = &now
		t.ValidatedBy = &validatedBy
		if t.VerificationToken == nil || *t.VerificationToken == "" {
			token := s.newToken()
			t.VerificationToken = &token
		}
		return nil
	})
	if err != nil {
		return nil, mapTranscriptError(err, "failed to validate transcript")
	}
	s.logger.Info("transcript validated", zap.String("transcript_id", id), zap.String("validated_by", principal.UserID))
	return transcript, nil
}

// Seal freezes a VALIDATED transcript.
func (s *TranscriptService) Seal(ctx context.Context, principal *models.JWTClaims, id string) (*models.FinalTranscript, error) {
	if err := requireManager(principal); err != nil {
		return nil, err
	}
	transcript, err := s.repo.Mutate(ctx, id, func(t *models.FinalTranscript) error {
		if !inScope(principal, t.CampusID) {
			return appErrors.Clone(appErrors.ErrForbidden, "transcript belongs to another campus")
		}
		if t.Status != models.TranscriptStatusValidated {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "only validated transcripts can be sealed")
		}
		now := s.now().UTC()
		sealer := principal.UserID
		t.Status = models.TranscriptStatusSealed
		t.SealedAt = &now
		t.SealedBy = &sealer
		return nil
	})
	if err != nil {
		return nil, mapTranscriptError(err, "failed to seal transcript")
	}
	return transcript, nil
}

// Sign records the parent signature on a validated or sealed transcript.
// linkToken is checked whenever supplied and is mandatory when links are required.
func (s *TranscriptService) Sign(ctx context.Context, id string, req SignTranscriptRequest, linkToken, ipAddress string) (*models.FinalTranscript, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid signature payload")
	}
	if err := s.checkLink(id, linkToken); err != nil {
		return nil, err
	}
	method := req.Method
	if method == "" {
		method = models.SignatureClick
	}
	transcript, err := s.repo.Mutate(ctx, id, func(t *models.FinalTranscript) error {
		if t.Status != models.TranscriptStatusValidated && t.Status != models.TranscriptStatusSealed {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "transcript is not validated yet")
		}
		if t.ParentSignature != nil {
			return appErrors.Clone(appErrors.ErrConflict, "transcript already signed")
		}
		t.ParentSignature = &models.ParentSignature{
			SignedAt:  s.now().UTC(),
			SignedBy:  strings.TrimSpace(req.SignedBy),
			IPAddress: ipAddress,
			Method:    method,
		}
		return nil
	})
	if err != nil {
		return nil, mapTranscriptError(err, "failed to sign transcript")
	}
	return transcript, nil
}

func (s *TranscriptService) checkLink(id, token string) error {
	if token == "" {
		if s.requireLink {
			return appErrors.Clone(appErrors.ErrForbidden, "signature link required")
		}
		return nil
	}
	if s.signer == nil {
		return appErrors.Clone(appErrors.ErrForbidden, "signature links are not configured")
	}
	subject, _, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, signing.ErrExpiredLink) {
			return appErrors.Clone(appErrors.ErrForbidden, "signature link expired")
		}
		return appErrors.Clone(appErrors.ErrForbidden, "invalid signature link")
	}
	if subject != id {
		return appErrors.Clone(appErrors.ErrForbidden, "signature link does not match transcript")
	}
	return nil
}

// SignatureLink issues a signed link for a validated transcript of the campus.
func (s *TranscriptService) SignatureLink(ctx context.Context, principal *models.JWTClaims, id string) (*SignatureLink, error) {
	if err := requireManager(principal); err != nil {
		return nil, err
	}
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "signature links are not configured")
	}
	transcript, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapTranscriptError(err, "failed to load transcript")
	}
	if !inScope(principal, transcript.CampusID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "transcript belongs to another campus")
	}
	if transcript.Status == models.TranscriptStatusDraft {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "transcript is not validated yet")
	}
	token, expiresAt, err := s.signer.Generate(id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign link")
	}
	return &SignatureLink{TranscriptID: id, Token: token, ExpiresAt: expiresAt}, nil
}

// ListForStudent returns stored transcripts of a student. Students only see
// their own validated or sealed bulletins.
func (s *TranscriptService) ListForStudent(ctx context.Context, principal *models.JWTClaims, studentID, academicYear string, semester models.Semester) ([]models.FinalTranscript, error) {
	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}
	campus, err := ResolveCampusScope(principal, "")
	if err != nil {
		return nil, err
	}
	filter := models.TranscriptFilter{CampusID: campus, StudentID: studentID, AcademicYear: academicYear, Semester: semester}
	if principal.Role == models.RoleStudent {
		if studentID != principal.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only read their own transcripts")
		}
		filter.Statuses = []models.TranscriptStatus{models.TranscriptStatusValidated, models.TranscriptStatusSealed}
	}
	transcripts, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list transcripts")
	}
	if transcripts == nil {
		transcripts = []models.FinalTranscript{}
	}
	return transcripts, nil
}

// Verify resolves a public transcript token; anything but a validated or
// sealed transcript reads as not found.
func (s *TranscriptService) Verify(ctx context.Context, token string) (*models.TranscriptVerification, error) {
	if strings.TrimSpace(token) == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "transcript not found")
	}
	row, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, mapTranscriptError(err, "failed to verify transcript")
	}
	return &models.TranscriptVerification{
		IsAuthentic:    true,
		Student:        models.VerifiedStudent{FirstName: row.StudentFirstName, LastName: row.StudentLastName, Matricule: row.Matricule},
		Class:          models.VerifiedClass{Name: row.ClassName},
		AcademicYear:   row.AcademicYear,
		Semester:       row.Semester,
		GeneralAverage: row.GeneralAverage,
		Decision:       row.Decision,
		Status:         row.Status,
		ValidatedAt:    row.ValidatedAt,
	}, nil
}

func mapTranscriptError(err error, message string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "transcript not found")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
}
