package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-results-api/internal/middleware"
	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/service"
)

type fakeIngestionSrv struct {
	outcome  *service.BulkOutcome
	envelope service.BulkCreateRequest
	uploaded string
	filter   models.ResultFilter
}

func (f *fakeIngestionSrv) CreateBulk(_ context.Context, _ *models.JWTClaims, req service.BulkCreateRequest) (*service.BulkOutcome, error) {
	f.envelope = req
	return f.outcome, nil
}

func (f *fakeIngestionSrv) ImportCSV(_ context.Context, _ *models.JWTClaims, req service.BulkCreateRequest, src io.Reader) (*service.BulkOutcome, error) {
	f.envelope = req
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	f.uploaded = string(data)
	return f.outcome, nil
}

func (f *fakeIngestionSrv) ExportCSV(_ context.Context, _ *models.JWTClaims, filter models.ResultFilter) ([]byte, error) {
	f.filter = filter
	return []byte("reference,studentId\nRES-2025-00001,s1\n"), nil
}

func multipartContext(t *testing.T, filename, content string, fields map[string]string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/results/upload-csv", body)
	c.Request.Header.Set("Content-Type", writer.FormDataContentType())
	c.Set(middleware.ContextUserKey, teacherClaims)
	return c, rec
}

func TestBulkReturnsCreatedWhenClean(t *testing.T) {
	srv := &fakeIngestionSrv{outcome: &service.BulkOutcome{Inserted: 2, Errors: []service.BulkRowError{}}}
	handler := NewIngestionHandler(srv, 0)

	c, rec := testContext(http.MethodPost, "/results/bulk", []byte(`{"classId":"c","results":[{"studentId":"s1","score":12}]}`), teacherClaims)
	handler.Bulk(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, srv.envelope.Results, 1)
	assert.Equal(t, "s1", srv.envelope.Results[0].StudentID)
}

func TestBulkReturnsMultiStatusOnRowErrors(t *testing.T) {
	srv := &fakeIngestionSrv{outcome: &service.BulkOutcome{
		Inserted: 1, Skipped: 1,
		Errors: []service.BulkRowError{{Index: 1, StudentID: "s2", Error: "score must be within [0, 20]"}},
	}}
	handler := NewIngestionHandler(srv, 0)

	c, rec := testContext(http.MethodPost, "/results/bulk", []byte(`{"results":[]}`), teacherClaims)
	handler.Bulk(c)

	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.True(t, envelope.Success)
	assert.Contains(t, string(envelope.Data), `"skipped":1`)
}

func TestUploadCSVForwardsEnvelopeAndFile(t *testing.T) {
	srv := &fakeIngestionSrv{outcome: &service.BulkOutcome{Inserted: 1, Errors: []service.BulkRowError{}}}
	handler := NewIngestionHandler(srv, 1024)

	c, rec := multipartContext(t, "quiz.csv", "studentId,score\ns1,12\n", map[string]string{
		"classId": "c1", "subjectId": "sub1", "evaluationType": "cc", "evaluationTitle": "Quiz 2",
		"academicYear": "2024-2025", "semester": "S1", "maxScore": "20", "coefficient": "2",
	})
	handler.UploadCSV(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "c1", srv.envelope.ClassID)
	assert.Equal(t, models.EvaluationCC, srv.envelope.EvaluationType)
	assert.Equal(t, 20.0, srv.envelope.MaxScore)
	require.NotNil(t, srv.envelope.Coefficient)
	assert.Equal(t, 2.0, *srv.envelope.Coefficient)
	assert.True(t, strings.HasPrefix(srv.uploaded, "studentId,score"))
}

func TestUploadCSVRejects(t *testing.T) {
	cases := map[string]struct {
		filename string
		content  string
		fields   map[string]string
	}{
		"too large":       {"big.csv", strings.Repeat("x", 2048), nil},
		"not csv":         {"grades.xlsx", "studentId,score\n", nil},
		"bad max score":   {"quiz.csv", "studentId,score\n", map[string]string{"maxScore": "twenty"}},
		"infinite max":    {"quiz.csv", "studentId,score\n", map[string]string{"maxScore": "Inf"}},
		"nan coefficient": {"quiz.csv", "studentId,score\n", map[string]string{"coefficient": "NaN"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := &fakeIngestionSrv{}
			handler := NewIngestionHandler(srv, 1024)

			c, rec := multipartContext(t, tc.filename, tc.content, tc.fields)
			handler.UploadCSV(c)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, srv.uploaded)
		})
	}
}

func TestExportWritesCSV(t *testing.T) {
	srv := &fakeIngestionSrv{}
	handler := NewIngestionHandler(srv, 0)

	c, rec := testContext(http.MethodGet, "/results/export?class=c1&subject=sub1&academicYear=2024-2025&semester=S2", nil, teacherClaims)
	handler.Export(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), "RES-2025-00001")
	assert.Equal(t, "c1", srv.filter.ClassID)
	assert.Equal(t, "sub1", srv.filter.SubjectID)
	assert.Equal(t, models.SemesterS2, srv.filter.Semester)
}
