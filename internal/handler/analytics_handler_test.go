package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-results-api/internal/middleware"
	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/service"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
)

type fakeAnalyticsSrv struct {
	distQuery service.DistributionQuery
	hit       bool
	verifyErr error
}

func (f *fakeAnalyticsSrv) Transcript(_ context.Context, _ *models.JWTClaims, studentID, _ string) (*models.StudentTranscript, error) {
	return &models.StudentTranscript{}, nil
}

func (f *fakeAnalyticsSrv) ClassDistribution(_ context.Context, _ *models.JWTClaims, query service.DistributionQuery) (*models.ClassDistribution, bool, error) {
	f.distQuery = query
	return &models.ClassDistribution{Count: 6, Mean: 11.17}, f.hit, nil
}

func (f *fakeAnalyticsSrv) RetakeList(_ context.Context, _ *models.JWTClaims, _ service.RetakeQuery) ([]models.RetakeStudent, error) {
	return []models.RetakeStudent{{}, {}}, nil
}

func (f *fakeAnalyticsSrv) CampusOverview(_ context.Context, _ *models.JWTClaims, _ service.OverviewQuery) (*models.CampusOverview, bool, error) {
	return &models.CampusOverview{}, f.hit, nil
}

func (f *fakeAnalyticsSrv) VerifyResult(_ context.Context, token string) (*models.ResultVerification, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &models.ResultVerification{IsAuthentic: true}, nil
}

func (f *fakeAnalyticsSrv) SystemMetrics() models.AnalyticsSystemMetrics {
	return models.AnalyticsSystemMetrics{}
}

func TestStatisticsReportsCacheHit(t *testing.T) {
	srv := &fakeAnalyticsSrv{hit: true}
	handler := NewAnalyticsHandler(srv)

	c, rec := testContext(http.MethodGet, "/results/statistics/c1?subjectId=sub1&evaluationTitle=Quiz%201&semester=S1", nil, teacherClaims)
	c.Params = gin.Params{{Key: "classId", Value: "c1"}}
	middleware.WithResponseMeta()(c)
	handler.Statistics(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", srv.distQuery.ClassID)
	assert.Equal(t, "sub1", srv.distQuery.SubjectID)
	assert.Equal(t, "Quiz 1", srv.distQuery.EvaluationTitle)

	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, true, envelope.Meta["cache_hit"])
	assert.Contains(t, string(envelope.Data), "11.17")
}

func TestRetakeListReportsTotal(t *testing.T) {
	handler := NewAnalyticsHandler(&fakeAnalyticsSrv{})

	c, rec := testContext(http.MethodGet, "/results/retake-list/c1", nil, teacherClaims)
	c.Params = gin.Params{{Key: "classId", Value: "c1"}}
	handler.RetakeList(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeEnvelope(t, rec).Meta["total"])
}

func TestVerifyIsPublicAndCollapsesToNotFound(t *testing.T) {
	handler := NewAnalyticsHandler(&fakeAnalyticsSrv{verifyErr: appErrors.Clone(appErrors.ErrNotFound, "result not found")})

	c, rec := testContext(http.MethodGet, "/results/verify/abc", nil, nil)
	c.Params = gin.Params{{Key: "token", Value: "abc"}}
	handler.Verify(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.False(t, envelope.Success)
	assert.Equal(t, "NOT_FOUND", envelope.Code)
}

func TestVerifySuccess(t *testing.T) {
	handler := NewAnalyticsHandler(&fakeAnalyticsSrv{})

	c, rec := testContext(http.MethodGet, "/results/verify/tok", nil, nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}
	handler.Verify(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), `"isAuthentic":true`)
}
