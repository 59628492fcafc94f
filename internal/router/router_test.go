package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-results-api/internal/handler"
	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/service"
)

const secret = "router-secret"

func newEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	require.NotPanics(t, func() {
		Register(r, Handlers{
			Results:     handler.NewResultHandler(nil),
			Workflow:    handler.NewWorkflowHandler(nil),
			Ingestion:   handler.NewIngestionHandler(nil, 0),
			Scales:      handler.NewGradingScaleHandler(nil),
			Transcripts: handler.NewTranscriptHandler(nil),
			Analytics:   handler.NewAnalyticsHandler(nil),
		}, Options{
			Auth:   service.NewAuthService(zap.NewNop(), service.AuthConfig{AccessTokenSecret: secret}),
			Logger: zap.NewNop(),
		})
		RegisterOps(r, handler.NewMetricsHandler(nil, nil))
	})
	return r
}

func bearer(t *testing.T, role models.UserRole) string {
	t.Helper()
	claims := models.JWTClaims{
		UserID:   "u1",
		Role:     role,
		CampusID: "campus-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + token
}

func serve(r *gin.Engine, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRegisterMountsResultRoutes(t *testing.T) {
	r := newEngine(t)

	mounted := make(map[string]bool)
	for _, route := range r.Routes() {
		mounted[route.Method+" "+route.Path] = true
	}
	for _, want := range []string{
		"POST /api/v1/results",
		"POST /api/v1/results/bulk",
		"POST /api/v1/results/upload-csv",
		"GET /api/v1/results/:id",
		"PATCH /api/v1/results/:id/publish",
		"PATCH /api/v1/results/lock-semester",
		"PATCH /api/v1/results/audit/:id",
		"GET /api/v1/results/statistics/:classId",
		"GET /api/v1/results/verify/:token",
		"POST /api/v1/results/final-transcripts/:id/sign",
		"GET /api/v1/results/grading-scales/:id/evaluate",
		"GET /ready",
	} {
		assert.True(t, mounted[want], want)
	}
}

func TestSecuredRoutesRequireToken(t *testing.T) {
	r := newEngine(t)

	rec := serve(r, http.MethodGet, "/api/v1/results", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoleGuards(t *testing.T) {
	r := newEngine(t)

	rec := serve(r, http.MethodPatch, "/api/v1/results/r1/publish", bearer(t, models.RoleTeacher))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(r, http.MethodPatch, "/api/v1/results/audit/r1", bearer(t, models.RoleCampusManager))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(r, http.MethodPost, "/api/v1/results/bulk", bearer(t, models.RoleStudent))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPublicVerifySkipsAuthentication(t *testing.T) {
	r := newEngine(t)

	rec := serve(r, http.MethodGet, "/api/v1/results/verify/abc", "")
	assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
}
