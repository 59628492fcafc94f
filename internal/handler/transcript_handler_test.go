package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/service"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
)

type fakeTranscriptSrv struct {
	signReq   service.SignTranscriptRequest
	linkToken string
	ip        string
	semester  models.Semester
}

func (f *fakeTranscriptSrv) ListForStudent(_ context.Context, _ *models.JWTClaims, studentID, _ string, semester models.Semester) ([]models.FinalTranscript, error) {
	f.semester = semester
	return []models.FinalTranscript{{ID: "ft-1", StudentID: studentID}}, nil
}

func (f *fakeTranscriptSrv) Validate(_ context.Context, _ *models.JWTClaims, id string, _ service.ValidateTranscriptRequest) (*models.FinalTranscript, error) {
	return &models.FinalTranscript{ID: id}, nil
}

func (f *fakeTranscriptSrv) Seal(_ context.Context, _ *models.JWTClaims, id string) (*models.FinalTranscript, error) {
	return &models.FinalTranscript{ID: id}, nil
}

func (f *fakeTranscriptSrv) Sign(_ context.Context, id string, req service.SignTranscriptRequest, linkToken, ipAddress string) (*models.FinalTranscript, error) {
	f.signReq = req
	f.linkToken = linkToken
	f.ip = ipAddress
	return &models.FinalTranscript{ID: id}, nil
}

func (f *fakeTranscriptSrv) SignatureLink(_ context.Context, _ *models.JWTClaims, id string) (*service.SignatureLink, error) {
	return &service.SignatureLink{TranscriptID: id, Token: "signed"}, nil
}

func (f *fakeTranscriptSrv) Verify(_ context.Context, token string) (*models.TranscriptVerification, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "transcript not found")
	}
	return &models.TranscriptVerification{IsAuthentic: true}, nil
}

func TestSignForwardsLinkTokenAndClientIP(t *testing.T) {
	srv := &fakeTranscriptSrv{}
	handler := NewTranscriptHandler(srv)

	c, rec := testContext(http.MethodPost, "/results/final-transcripts/ft-1/sign?token=abc.def", []byte(`{"signedBy":"Parent Name","method":"click"}`), nil)
	c.Params = gin.Params{{Key: "id", Value: "ft-1"}}
	c.Request.RemoteAddr = "203.0.113.9:443"
	handler.Sign(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc.def", srv.linkToken)
	assert.Equal(t, "203.0.113.9", srv.ip)
	assert.Equal(t, "Parent Name", srv.signReq.SignedBy)
}

func TestTranscriptVerify(t *testing.T) {
	handler := NewTranscriptHandler(&fakeTranscriptSrv{})

	c, rec := testContext(http.MethodGet, "/results/final-transcripts/verify/bad", nil, nil)
	c.Params = gin.Params{{Key: "token", Value: "bad"}}
	handler.Verify(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	c, rec = testContext(http.MethodGet, "/results/final-transcripts/verify/good", nil, nil)
	c.Params = gin.Params{{Key: "token", Value: "good"}}
	handler.Verify(c)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListForStudentPassesSemester(t *testing.T) {
	srv := &fakeTranscriptSrv{}
	handler := NewTranscriptHandler(srv)

	c, rec := testContext(http.MethodGet, "/results/final-transcripts/student/s1?semester=S2", nil, teacherClaims)
	c.Params = gin.Params{{Key: "id", Value: "s1"}}
	handler.ListForStudent(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.SemesterS2, srv.semester)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), "ft-1")
}

func TestReadyReportsDegradedDependency(t *testing.T) {
	handler := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	c, rec := testContext(http.MethodGet, "/ready", nil, nil)
	handler.Ready(c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestReadyAllHealthy(t *testing.T) {
	handler := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": func(context.Context) error { return nil },
	})

	c, rec := testContext(http.MethodGet, "/ready", nil, nil)
	handler.Ready(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)
}
