package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/service"
	"github.com/noah-isme/campus-results-api/pkg/response"
)

type transcriptService interface {
	ListForStudent(ctx context.Context, principal *models.JWTClaims, studentID, academicYear string, semester models.Semester) ([]models.FinalTranscript, error)
	Validate(ctx context.Context, principal *models.JWTClaims, id string, req service.ValidateTranscriptRequest) (*models.FinalTranscript, error)
	Seal(ctx context.Context, principal *models.JWTClaims, id string) (*models.FinalTranscript, error)
	Sign(ctx context.Context, id string, req service.SignTranscriptRequest, linkToken, ipAddress string) (*models.FinalTranscript, error)
	SignatureLink(ctx context.Context, principal *models.JWTClaims, id string) (*service.SignatureLink, error)
	Verify(ctx context.Context, token string) (*models.TranscriptVerification, error)
}

// TranscriptHandler exposes stored final transcripts.
type TranscriptHandler struct {
	transcripts transcriptService
}

// NewTranscriptHandler constructs the handler.
func NewTranscriptHandler(transcripts transcriptService) *TranscriptHandler {
	return &TranscriptHandler{transcripts: transcripts}
}

// ListForStudent godoc
// @Summary List stored final transcripts of a student
// @Tags Transcripts
// @Produce json
// @Param id path string true "Student ID"
// @Param academicYear query string false "Academic year"
// @Param semester query string false "Semester"
// @Success 200 {object} response.Envelope
// @Router /results/final-transcripts/{id} [get]
func (h *TranscriptHandler) ListForStudent(c *gin.Context) {
	transcripts, err := h.transcripts.ListForStudent(c.Request.Context(), claimsFromContext(c), c.Param("id"),
		c.Query("academicYear"), models.Semester(c.Query("semester")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "final transcripts retrieved", transcripts)
}

// Validate godoc
// @Summary Validate a draft final transcript
// @Tags Transcripts
// @Accept json
// @Produce json
// @Param id path string true "Transcript ID"
// @Param payload body service.ValidateTranscriptRequest false "Decision"
// @Success 200 {object} response.Envelope
// @Router /results/final-transcripts/{id}/validate [post]
func (h *TranscriptHandler) Validate(c *gin.Context) {
	var req service.ValidateTranscriptRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, invalidPayload(err))
			return
		}
	}
	transcript, err := h.transcripts.Validate(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "final transcript validated", transcript)
}

// Seal godoc
// @Summary Seal a validated final transcript
// @Tags Transcripts
// @Produce json
// @Param id path string true "Transcript ID"
// @Success 200 {object} response.Envelope
// @Router /results/final-transcripts/{id}/seal [post]
func (h *TranscriptHandler) Seal(c *gin.Context) {
	transcript, err := h.transcripts.Seal(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "final transcript sealed", transcript)
}

// Sign godoc
// @Summary Record a parent signature
// @Tags Transcripts
// @Accept json
// @Produce json
// @Param id path string true "Transcript ID"
// @Param token query string false "Signed link token"
// @Param payload body service.SignTranscriptRequest true "Signature"
// @Success 200 {object} response.Envelope
// @Router /results/final-transcripts/{id}/sign [post]
func (h *TranscriptHandler) Sign(c *gin.Context) {
	var req service.SignTranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	transcript, err := h.transcripts.Sign(c.Request.Context(), c.Param("id"), req, c.Query("token"), c.ClientIP())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "final transcript signed", transcript)
}

// SignatureLink godoc
// @Summary Issue a signed parent signature link
// @Tags Transcripts
// @Produce json
// @Param id path string true "Transcript ID"
// @Success 200 {object} response.Envelope
// @Router /results/final-transcripts/{id}/signature-link [get]
func (h *TranscriptHandler) SignatureLink(c *gin.Context) {
	link, err := h.transcripts.SignatureLink(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "signature link issued", link)
}

// Verify godoc
// @Summary Verify a final transcript token
// @Tags Transcripts
// @Produce json
// @Param token path string true "Verification token"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /results/final-transcripts/verify/{token} [get]
func (h *TranscriptHandler) Verify(c *gin.Context) {
	verification, err := h.transcripts.Verify(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "transcript verified", verification)
}
