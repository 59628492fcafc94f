package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/campus-results-api/internal/models"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
	err    error
}

func (s stubValidator) ValidateToken(string) (*models.JWTClaims, error) {
	return s.claims, s.err
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.POST("/results/:id", handlers...)
	return r
}

func perform(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/results/s1", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestJWT(t *testing.T) {
	teacher := &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher, CampusID: "campus-1"}
	cases := map[string]struct {
		header    string
		validator stubValidator
		want      int
	}{
		"missing header":     {"", stubValidator{claims: teacher}, http.StatusUnauthorized},
		"wrong scheme":       {"Basic abc", stubValidator{claims: teacher}, http.StatusUnauthorized},
		"empty token":        {"Bearer  ", stubValidator{claims: teacher}, http.StatusUnauthorized},
		"rejected token":     {"Bearer abc", stubValidator{err: appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")}, http.StatusUnauthorized},
		"unknown role":       {"Bearer abc", stubValidator{claims: &models.JWTClaims{UserID: "x", Role: "JANITOR", CampusID: "c"}}, http.StatusUnauthorized},
		"campusless teacher": {"Bearer abc", stubValidator{claims: &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}}, http.StatusUnauthorized},
		"campusless admin":   {"Bearer abc", stubValidator{claims: &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}}, http.StatusNoContent},
		"valid teacher":      {"bearer abc", stubValidator{claims: teacher}, http.StatusNoContent},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := perform(newRouter(JWT(tc.validator)), tc.header)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	var seen *models.JWTClaims
	r := newRouter(OptionalJWT(stubValidator{err: appErrors.ErrUnauthorized}), func(c *gin.Context) {
		if v, ok := c.Get(ContextUserKey); ok {
			seen = v.(*models.JWTClaims)
		}
	})

	rec := perform(r, "Bearer broken")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, seen)
}

func withClaims(claims *models.JWTClaims) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims != nil {
			c.Set(ContextUserKey, claims)
		}
		c.Next()
	}
}

func TestRBAC(t *testing.T) {
	cases := map[string]struct {
		claims *models.JWTClaims
		guard  gin.HandlerFunc
		want   int
	}{
		"no principal":          {nil, RequireManager(), http.StatusUnauthorized},
		"teacher not manager":   {&models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}, RequireManager(), http.StatusForbidden},
		"campus manager":        {&models.JWTClaims{UserID: "m1", Role: models.RoleCampusManager}, RequireManager(), http.StatusNoContent},
		"teacher is staff":      {&models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}, RequireStaff(), http.StatusNoContent},
		"student self":          {&models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, RBAC(SelfAccess, string(models.RoleAdmin)), http.StatusNoContent},
		"student other":         {&models.JWTClaims{UserID: "s2", Role: models.RoleStudent}, RBAC(SelfAccess, string(models.RoleAdmin)), http.StatusForbidden},
		"teacher id match only": {&models.JWTClaims{UserID: "s1", Role: models.RoleTeacher}, RBAC(SelfAccess), http.StatusForbidden},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := perform(newRouter(withClaims(tc.claims), tc.guard), "")
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

type recordingObserver struct {
	path   string
	status int
}

func (r *recordingObserver) ObserveHTTPRequest(_ string, path string, status int, _ time.Duration) {
	r.path = path
	r.status = status
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	obs := &recordingObserver{}
	rec := perform(newRouter(Metrics(obs)), "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "/results/:id", obs.path)
	assert.Equal(t, http.StatusNoContent, obs.status)
}

func TestAuditLogsSuccessfulWrites(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	claims := &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher, CampusID: "campus-1"}

	rec := perform(newRouter(withClaims(claims), Audit(zap.New(core), "result.update")), "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	entries := logs.FilterMessage("result_write").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "result.update", fields["action"])
	assert.Equal(t, "s1", fields["resource_id"])
	assert.Equal(t, "t1", fields["user_id"])
}

func TestAuditSkipsFailures(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := newRouter(Audit(zap.New(core), "result.update"), func(c *gin.Context) {
		c.AbortWithStatus(http.StatusConflict)
	})

	rec := perform(r, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, logs.Len())
}

func TestSetCacheHitWritesHeaderAndMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	SetCacheHit(c, true)

	assert.Equal(t, "HIT", rec.Header().Get(CacheHeader))
	assert.Equal(t, true, ExtractMeta(c)["cache_hit"])
}
