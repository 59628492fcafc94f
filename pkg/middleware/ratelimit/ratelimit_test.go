package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterRejectsOverBudget(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := New(2, time.Hour)
	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestLimiterSweepEvictsIdleVisitors(t *testing.T) {
	limiter := New(5, time.Second)
	current := time.Now()
	limiter.now = func() time.Time { return current }

	require.True(t, limiter.Allow("a"))
	current = current.Add(2 * time.Minute)
	require.True(t, limiter.Allow("b"))

	assert.Equal(t, 1, limiter.Sweep())
	_, stillThere := limiter.visitors["b"]
	assert.True(t, stillThere)
}
