package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/service"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
)

type fakeWorkflowSrv struct {
	publishErr error
	correction service.AuditCorrectionRequest
	ip         string
	batch      service.BatchScopeRequest
}

func (f *fakeWorkflowSrv) Submit(_ context.Context, _ *models.JWTClaims, id string) (*models.Result, error) {
	return &models.Result{ID: id, Status: models.ResultStatusSubmitted}, nil
}

func (f *fakeWorkflowSrv) SubmitBatch(_ context.Context, _ *models.JWTClaims, req service.BatchScopeRequest) (*service.BatchOutcome, error) {
	f.batch = req
	return &service.BatchOutcome{}, nil
}

func (f *fakeWorkflowSrv) Return(_ context.Context, _ *models.JWTClaims, id string) (*models.Result, error) {
	return &models.Result{ID: id, Status: models.ResultStatusDraft}, nil
}

func (f *fakeWorkflowSrv) Publish(_ context.Context, _ *models.JWTClaims, id string) (*models.Result, error) {
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	return &models.Result{ID: id, Status: models.ResultStatusPublished}, nil
}

func (f *fakeWorkflowSrv) PublishBatch(_ context.Context, _ *models.JWTClaims, req service.BatchScopeRequest) (*service.BatchOutcome, error) {
	f.batch = req
	return &service.BatchOutcome{}, nil
}

func (f *fakeWorkflowSrv) Archive(_ context.Context, _ *models.JWTClaims, id string) (*models.Result, error) {
	return &models.Result{ID: id, Status: models.ResultStatusArchived}, nil
}

func (f *fakeWorkflowSrv) LockSemester(_ context.Context, _ *models.JWTClaims, _ service.LockSemesterRequest) (*service.LockSemesterOutcome, error) {
	return &service.LockSemesterOutcome{}, nil
}

func (f *fakeWorkflowSrv) AuditCorrection(_ context.Context, _ *models.JWTClaims, id string, req service.AuditCorrectionRequest, ipAddress string) (*models.Result, error) {
	f.correction = req
	f.ip = ipAddress
	return &models.Result{ID: id}, nil
}

func TestSubmitUsesPathID(t *testing.T) {
	handler := NewWorkflowHandler(&fakeWorkflowSrv{})

	c, rec := testContext(http.MethodPost, "/results/res-1/submit", nil, teacherClaims)
	c.Params = gin.Params{{Key: "id", Value: "res-1"}}
	handler.Submit(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), `"status":"SUBMITTED"`)
}

func TestPublishMapsInvalidTransition(t *testing.T) {
	handler := NewWorkflowHandler(&fakeWorkflowSrv{publishErr: appErrors.Clone(appErrors.ErrInvalidTransition, "only submitted results can be published")})

	c, rec := testContext(http.MethodPatch, "/results/res-1/publish", nil, teacherClaims)
	c.Params = gin.Params{{Key: "id", Value: "res-1"}}
	handler.Publish(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, envelope.Code)
	assert.Equal(t, "only submitted results can be published", envelope.Message)
}

func TestAuditCorrectionForwardsClientIP(t *testing.T) {
	srv := &fakeWorkflowSrv{}
	handler := NewWorkflowHandler(srv)

	c, rec := testContext(http.MethodPatch, "/results/res-1/audit", []byte(`{"score":15,"reason":"grading error on exercise 3"}`), teacherClaims)
	c.Params = gin.Params{{Key: "id", Value: "res-1"}}
	c.Request.RemoteAddr = "10.0.0.7:5555"
	handler.AuditCorrection(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10.0.0.7", srv.ip)
	require.NotNil(t, srv.correction.Score)
	assert.Equal(t, 15.0, *srv.correction.Score)
	assert.Equal(t, "grading error on exercise 3", srv.correction.Reason)
}

func TestAuditCorrectionMalformedBody(t *testing.T) {
	handler := NewWorkflowHandler(&fakeWorkflowSrv{})

	c, rec := testContext(http.MethodPatch, "/results/res-1/audit", []byte(`[`), teacherClaims)
	c.Params = gin.Params{{Key: "id", Value: "res-1"}}
	handler.AuditCorrection(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitBatchBindsScope(t *testing.T) {
	srv := &fakeWorkflowSrv{}
	handler := NewWorkflowHandler(srv)

	body := []byte(`{"classId":"c1","subjectId":"sub1","evaluationTitle":"Quiz 1","academicYear":"2024-2025","semester":"S1"}`)
	c, rec := testContext(http.MethodPost, "/results/submit-batch", body, teacherClaims)
	handler.SubmitBatch(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", srv.batch.ClassID)
	assert.Equal(t, "Quiz 1", srv.batch.EvaluationTitle)
	assert.Equal(t, models.SemesterS1, srv.batch.Semester)
}
