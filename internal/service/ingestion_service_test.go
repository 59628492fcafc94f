package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-results-api/internal/models"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
)

const (
	bulkClassID   = "11111111-1111-4111-8111-111111111111"
	bulkSubjectID = "22222222-2222-4222-8222-222222222222"
	stuA          = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
	stuB          = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"
	stuC          = "cccccccc-cccc-4ccc-8ccc-cccccccccccc"
	stuD          = "dddddddd-dddd-4ddd-8ddd-dddddddddddd"
	stuE          = "eeeeeeee-eeee-4eee-8eee-eeeeeeeeeeee"
)

type mockBulkRepo struct {
	existing map[string]bool
	received []models.Result
	listed   []models.Result
	filter   models.ResultFilter
}

func (m *mockBulkRepo) BulkCreate(ctx context.Context, results []models.Result) ([]models.Result, error) {
	m.received = append(m.received, results...)
	var inserted []models.Result
	for i, r := range results {
		if m.existing[r.StudentID] {
			continue
		}
		r.Reference = models.FormatReference(2025, int64(i+1))
		inserted = append(inserted, r)
	}
	return inserted, nil
}

func (m *mockBulkRepo) List(ctx context.Context, filter models.ResultFilter) ([]models.Result, int, error) {
	m.filter = filter
	if filter.Page > 1 {
		return nil, len(m.listed), nil
	}
	return m.listed, len(m.listed), nil
}

type stubScaleResolver struct {
	scale *models.GradingScale
	err   error
}

func (s *stubScaleResolver) Resolve(ctx context.Context, campusID string, id *string) (*models.GradingScale, error) {
	return s.scale, s.err
}

func bulkDirectory() *mockDirectory {
	return &mockDirectory{
		classes: map[string]*models.Class{bulkClassID: {ID: bulkClassID, CampusID: "campus-1", Name: "L2 Maths"}},
		members: map[string][]string{bulkClassID: {stuA, stuB, stuD, stuE}},
	}
}

func bulkRequest(entries ...BulkEntry) BulkCreateRequest {
	return BulkCreateRequest{
		ClassID:         bulkClassID,
		SubjectID:       bulkSubjectID,
		EvaluationType:  models.EvaluationCC,
		EvaluationTitle: "Quiz 2",
		AcademicYear:    "2024-2025",
		Semester:        models.SemesterS1,
		MaxScore:        20,
		Results:         entries,
	}
}

func score(v float64) *float64 { return &v }

func TestCreateBulkReportsPerRowOutcome(t *testing.T) {
	repo := &mockBulkRepo{existing: map[string]bool{stuB: true}}
	svc := NewIngestionService(repo, bulkDirectory(), &stubScaleResolver{}, nil, nil, nil, zap.NewNop())

	outcome, err := svc.CreateBulk(context.Background(), teacher(), bulkRequest(
		BulkEntry{StudentID: stuA, Score: score(14)},
		BulkEntry{StudentID: stuB, Score: score(12)},
		BulkEntry{StudentID: stuC, Score: score(10)},
		BulkEntry{StudentID: "not-a-uuid", Score: score(10)},
		BulkEntry{StudentID: stuA, Score: score(9)},
		BulkEntry{StudentID: stuD, Score: score(25)},
		BulkEntry{StudentID: stuE, Score: score(8), ExamAttendance: models.AttendanceAbsent},
	))
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Inserted)
	assert.Equal(t, 5, outcome.Skipped)
	require.Len(t, outcome.Errors, 5)
	assert.Equal(t, 2, outcome.Errors[0].Index)
	assert.Contains(t, outcome.Errors[0].Error, "not enrolled")
	assert.Equal(t, 3, outcome.Errors[1].Index)
	assert.Contains(t, outcome.Errors[2].Error, "more than once")
	assert.Contains(t, outcome.Errors[3].Error, "within [0, 20]")
	assert.Equal(t, 1, outcome.Errors[4].Index)
	assert.Equal(t, stuB, outcome.Errors[4].StudentID)

	require.Len(t, repo.received, 3)
	for _, r := range repo.received {
		assert.Equal(t, "teacher-1", r.TeacherID)
		assert.Equal(t, "campus-1", r.CampusID)
		assert.Equal(t, models.ResultStatusDraft, r.Status)
		assert.NotEmpty(t, r.ID)
	}
	assert.Equal(t, 0.0, repo.received[2].Score)
	assert.True(t, repo.received[2].IsRetakeEligible)
	assert.Equal(t, 14.0, repo.received[0].NormalizedScore)
	assert.Equal(t, 1.0, repo.received[0].Coefficient)
}

func TestCreateBulkRejectsForeignClass(t *testing.T) {
	dir := bulkDirectory()
	dir.classes[bulkClassID].CampusID = "campus-9"
	svc := NewIngestionService(&mockBulkRepo{}, dir, &stubScaleResolver{}, nil, nil, nil, zap.NewNop())

	_, err := svc.CreateBulk(context.Background(), teacher(), bulkRequest(BulkEntry{StudentID: stuA, Score: score(10)}))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestCreateBulkValidatesEnvelope(t *testing.T) {
	svc := NewIngestionService(&mockBulkRepo{}, bulkDirectory(), &stubScaleResolver{}, nil, nil, nil, zap.NewNop())

	req := bulkRequest(BulkEntry{StudentID: stuA, Score: score(10)})
	req.AcademicYear = "2024/25"
	_, err := svc.CreateBulk(context.Background(), teacher(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.CreateBulk(context.Background(), student(stuA), bulkRequest(BulkEntry{StudentID: stuA, Score: score(10)}))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestImportCSV(t *testing.T) {
	repo := &mockBulkRepo{}
	svc := NewIngestionService(repo, bulkDirectory(), &stubScaleResolver{}, nil, nil, nil, zap.NewNop())

	src := "studentId,score,coefficient,teacherRemarks\n" +
		stuA + ",15,2,Solid work\n" +
		stuB + ",abc,,\n" +
		stuD + ",11,,\n"
	outcome, err := svc.ImportCSV(context.Background(), teacher(), bulkRequest(), strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Inserted)
	assert.Equal(t, 1, outcome.Skipped)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, 1, outcome.Errors[0].Index)
	assert.Contains(t, outcome.Errors[0].Error, "line 3")

	require.Len(t, repo.received, 2)
	assert.Equal(t, 2.0, repo.received[0].Coefficient)
	assert.Equal(t, 15.0, repo.received[0].WeightedNormalizedScore/2)
	require.NotNil(t, repo.received[0].TeacherRemarks)
	assert.Equal(t, "Solid work", *repo.received[0].TeacherRemarks)
}

func TestCreateBulkRejectsNonFiniteNumbers(t *testing.T) {
	repo := &mockBulkRepo{}
	svc := NewIngestionService(repo, bulkDirectory(), &stubScaleResolver{}, nil, nil, nil, zap.NewNop())

	outcome, err := svc.CreateBulk(context.Background(), teacher(), bulkRequest(
		BulkEntry{StudentID: stuA, Score: score(math.NaN())},
		BulkEntry{StudentID: stuB, Score: score(math.Inf(1))},
		BulkEntry{StudentID: stuD, Score: score(12), Coefficient: score(math.NaN())},
		BulkEntry{StudentID: stuE, Score: score(12)},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Inserted)
	require.Len(t, outcome.Errors, 3)
	assert.Equal(t, 0, outcome.Errors[0].Index)
	assert.Equal(t, 1, outcome.Errors[1].Index)
	assert.Equal(t, 2, outcome.Errors[2].Index)
	require.Len(t, repo.received, 1)
	assert.Equal(t, stuE, repo.received[0].StudentID)
	assert.Equal(t, 12.0, repo.received[0].NormalizedScore)

	req := bulkRequest(BulkEntry{StudentID: stuA, Score: score(10)})
	req.MaxScore = math.Inf(1)
	_, err = svc.CreateBulk(context.Background(), teacher(), req)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestImportCSVRejectsNonFiniteAndCitesSourceLines(t *testing.T) {
	repo := &mockBulkRepo{}
	svc := NewIngestionService(repo, bulkDirectory(), &stubScaleResolver{}, nil, nil, nil, zap.NewNop())

	src := "studentId,score,teacherRemarks\n" +
		stuA + ",NaN,\n" +
		"\n" +
		stuB + ",12,\"Careful\nwork\"\n" +
		stuD + ",Inf,\n"
	outcome, err := svc.ImportCSV(context.Background(), teacher(), bulkRequest(), strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Inserted)
	require.Len(t, outcome.Errors, 2)
	assert.Equal(t, 0, outcome.Errors[0].Index)
	assert.Contains(t, outcome.Errors[0].Error, "line 2")
	assert.Equal(t, 2, outcome.Errors[1].Index)
	assert.Contains(t, outcome.Errors[1].Error, "line 6")

	require.Len(t, repo.received, 1)
	assert.Equal(t, stuB, repo.received[0].StudentID)
	require.NotNil(t, repo.received[0].TeacherRemarks)
	assert.Equal(t, "Careful\nwork", *repo.received[0].TeacherRemarks)
}

func TestImportCSVMissingColumn(t *testing.T) {
	svc := NewIngestionService(&mockBulkRepo{}, bulkDirectory(), &stubScaleResolver{}, nil, nil, nil, zap.NewNop())

	_, err := svc.ImportCSV(context.Background(), teacher(), bulkRequest(), strings.NewReader("studentId\n"+stuA+"\n"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestExportCSVScopesTeacher(t *testing.T) {
	repo := &mockBulkRepo{listed: []models.Result{{
		Reference: "RES-2025-00001", StudentID: stuA, Score: 14, MaxScore: 20, Coefficient: 1,
		NormalizedScore: 14, Status: models.ResultStatusPublished, ExamAttendance: models.AttendancePresent,
		GradeBand: &models.GradeBand{Label: "Bien"},
	}}}
	svc := NewIngestionService(repo, bulkDirectory(), &stubScaleResolver{}, nil, nil, nil, zap.NewNop())

	data, err := svc.ExportCSV(context.Background(), teacher(), models.ResultFilter{ClassID: bulkClassID})
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", repo.filter.TeacherID)
	assert.Equal(t, "campus-1", repo.filter.CampusID)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "reference,studentId"))
	assert.Contains(t, lines[1], "RES-2025-00001")
	assert.Contains(t, lines[1], "14.00")
	assert.Contains(t, lines[1], "Bien")
}
