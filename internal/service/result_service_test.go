package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-results-api/internal/models"
	"github.com/noah-isme/campus-results-api/internal/repository"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
)

// mockResultStore is an in-memory results table shared by result and workflow tests.
type mockResultStore struct {
	mu      sync.Mutex
	rows    map[string]*models.Result
	audit   map[string][]models.AuditEntry
	seq     int
	lockErr error
}

func newResultStore(rows ...models.Result) *mockResultStore {
	store := &mockResultStore{rows: make(map[string]*models.Result), audit: make(map[string][]models.AuditEntry)}
	for i := range rows {
		r := rows[i]
		store.rows[r.ID] = &r
	}
	return store
}

func (m *mockResultStore) get(id string) *models.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil
	}
	copied := *r
	return &copied
}

func (m *mockResultStore) Create(ctx context.Context, result *models.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if !r.IsDeleted && r.StudentID == result.StudentID && r.SubjectID == result.SubjectID &&
			r.EvaluationType == result.EvaluationType && r.EvaluationTitle == result.EvaluationTitle &&
			r.AcademicYear == result.AcademicYear && r.Semester == result.Semester {
			return repository.ErrDuplicate
		}
	}
	m.seq++
	result.ID = fmt.Sprintf("res-%d", m.seq)
	result.Reference = models.FormatReference(2025, int64(m.seq))
	copied := *result
	m.rows[result.ID] = &copied
	return nil
}

func (m *mockResultStore) FindByID(ctx context.Context, id string) (*models.Result, error) {
	r := m.get(id)
	if r == nil || r.IsDeleted {
		return nil, sql.ErrNoRows
	}
	return r, nil
}

func (m *mockResultStore) ListAudit(ctx context.Context, resultID string) ([]models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AuditEntry(nil), m.audit[resultID]...), nil
}

func (m *mockResultStore) List(ctx context.Context, filter models.ResultFilter) ([]models.Result, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Result
	for _, r := range m.rows {
		if matchesFilter(r, filter) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *mockResultStore) ListIDs(ctx context.Context, filter models.ResultFilter) ([]string, error) {
	results, _, _ := m.List(ctx, filter)
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids, nil
}

func matchesFilter(r *models.Result, f models.ResultFilter) bool {
	if r.IsDeleted {
		return false
	}
	if (f.CampusID != "" && r.CampusID != f.CampusID) || (f.StudentID != "" && r.StudentID != f.StudentID) ||
		(f.ClassID != "" && r.ClassID != f.ClassID) || (f.TeacherID != "" && r.TeacherID != f.TeacherID) ||
		(f.SubjectID != "" && r.SubjectID != f.SubjectID) || (f.EvaluationTitle != "" && r.EvaluationTitle != f.EvaluationTitle) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if r.Status == st {
			return true
		}
	}
	return false
}

func (m *mockResultStore) Mutate(ctx context.Context, id string, fn repository.MutateFunc) (*models.Result, error) {
	current := m.get(id)
	if current == nil || current.IsDeleted {
		return nil, sql.ErrNoRows
	}
	tx := &mockResultTx{store: m}
	if err := fn(ctx, tx, current); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id] = current
	for _, e := range tx.pending {
		m.audit[e.ResultID] = append(m.audit[e.ResultID], e)
	}
	copied := *current
	return &copied, nil
}

func (m *mockResultStore) LockPeriod(ctx context.Context, campusID, academicYear string, semester models.Semester) ([]models.LockedRow, error) {
	if m.lockErr != nil {
		return nil, m.lockErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.LockedRow
	ids := make([]string, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := m.rows[id]
		if r.IsDeleted || !r.Status.IsReleased() || r.AcademicYear != academicYear || r.Semester != semester {
			continue
		}
		if campusID != "" && r.CampusID != campusID {
			continue
		}
		r.PeriodLocked = true
		rows = append(rows, models.LockedRow{StudentID: r.StudentID, ClassID: r.ClassID, CampusID: r.CampusID})
	}
	return rows, nil
}

type mockResultTx struct {
	store   *mockResultStore
	pending []models.AuditEntry
}

func (t *mockResultTx) OriginalExists(ctx context.Context, retake *models.Result) (bool, error) {
	if retake.RetakeOf == nil {
		return false, nil
	}
	return retakeMatches(retake, t.store.get(*retake.RetakeOf)), nil
}

func (t *mockResultTx) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	t.pending = append(t.pending, *entry)
	return nil
}

func createRequest(scoreValue float64) CreateResultRequest {
	return CreateResultRequest{
		StudentID:       stuA,
		ClassID:         bulkClassID,
		SubjectID:       bulkSubjectID,
		Score:           score(scoreValue),
		MaxScore:        20,
		EvaluationType:  models.EvaluationCC,
		EvaluationTitle: "Quiz 1",
		AcademicYear:    "2024-2025",
		Semester:        models.SemesterS1,
	}
}

func newResultService(store *mockResultStore, scale *models.GradingScale) *ResultService {
	return NewResultService(store, &stubScaleResolver{scale: scale}, bulkDirectory(), nil, nil, zap.NewNop())
}

func TestCreateResultComputesScores(t *testing.T) {
	store := newResultStore()
	svc := newResultService(store, nil)

	result, err := svc.Create(context.Background(), teacher(), createRequest(14))
	require.NoError(t, err)
	assert.Equal(t, "res-1", result.ID)
	assert.Equal(t, "RES-2025-00001", result.Reference)
	assert.Equal(t, "teacher-1", result.TeacherID)
	assert.Equal(t, "campus-1", result.CampusID)
	assert.Equal(t, models.ResultStatusDraft, result.Status)
	assert.Equal(t, 14.0, result.NormalizedScore)
	assert.Equal(t, 14.0, result.WeightedNormalizedScore)
	assert.Equal(t, 1.0, result.Coefficient)
	assert.False(t, result.IsRetakeEligible)
	assert.Nil(t, result.GradeBand)
	assert.Nil(t, result.VerificationToken)
}

func TestCreateResultWithScale(t *testing.T) {
	svc := newResultService(newResultStore(), frenchScale())

	req := createRequest(31)
	req.MaxScore = 40
	req.Coefficient = score(3)
	result, err := svc.Create(context.Background(), teacher(), req)
	require.NoError(t, err)
	assert.Equal(t, 15.5, result.NormalizedScore)
	assert.Equal(t, 46.5, result.WeightedNormalizedScore)
	require.NotNil(t, result.GradeBand)
	assert.Equal(t, "Bien", result.GradeBand.Label)
	require.NotNil(t, result.GradingScaleID)
	assert.Equal(t, "scale-1", *result.GradingScaleID)
}

func TestCreateResultCoercesAbsentScore(t *testing.T) {
	svc := newResultService(newResultStore(), nil)

	req := createRequest(12)
	req.ExamAttendance = models.AttendanceAbsent
	result, err := svc.Create(context.Background(), teacher(), req)
	require.NoError(t, err)
	assert.Zero(t, result.Score)
	assert.Zero(t, result.NormalizedScore)
	assert.True(t, result.IsRetakeEligible)
}

func TestCreateResultBoundaries(t *testing.T) {
	svc := newResultService(newResultStore(), nil)

	result, err := svc.Create(context.Background(), teacher(), createRequest(20))
	require.NoError(t, err)
	assert.Equal(t, 20.0, result.NormalizedScore)

	zero := createRequest(0)
	zero.EvaluationTitle = "Quiz 0"
	result, err = svc.Create(context.Background(), teacher(), zero)
	require.NoError(t, err)
	assert.Zero(t, result.NormalizedScore)
}

func TestCreateResultRejects(t *testing.T) {
	original := "99999999-9999-4999-8999-999999999999"
	cases := map[string]struct {
		principal *models.JWTClaims
		mutate    func(r *CreateResultRequest)
		want      *appErrors.Error
	}{
		"score above max":      {teacher(), func(r *CreateResultRequest) { r.Score = score(21) }, appErrors.ErrValidation},
		"bad year":             {teacher(), func(r *CreateResultRequest) { r.AcademicYear = "2024" }, appErrors.ErrValidation},
		"blank title":          {teacher(), func(r *CreateResultRequest) { r.EvaluationTitle = "   " }, appErrors.ErrValidation},
		"missing student":      {teacher(), func(r *CreateResultRequest) { r.StudentID = "" }, appErrors.ErrValidation},
		"retake on non retake": {teacher(), func(r *CreateResultRequest) { r.RetakeOf = &original }, appErrors.ErrValidation},
		"other teacher":        {teacher(), func(r *CreateResultRequest) { r.TeacherID = original }, appErrors.ErrForbidden},
		"manager without teacher": {manager(), func(r *CreateResultRequest) {}, appErrors.ErrValidation},
		"student principal":       {student(stuA), func(r *CreateResultRequest) {}, appErrors.ErrForbidden},
		"unknown class":           {teacher(), func(r *CreateResultRequest) { r.ClassID = original }, appErrors.ErrValidation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newResultService(newResultStore(), nil)
			req := createRequest(10)
			tc.mutate(&req)
			_, err := svc.Create(context.Background(), tc.principal, req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestCreateRetakeRequiresMatchingOriginal(t *testing.T) {
	const (
		originalID      = "90000000-0000-4000-8000-000000000001"
		otherStudentID  = "90000000-0000-4000-8000-000000000002"
		otherSemesterID = "90000000-0000-4000-8000-000000000003"
		missingID       = "90000000-0000-4000-8000-000000000009"
	)
	original := models.Result{
		ID: originalID, CampusID: "campus-1", StudentID: stuA, ClassID: bulkClassID, SubjectID: bulkSubjectID,
		TeacherID: "teacher-1", EvaluationType: models.EvaluationExam, EvaluationTitle: "Final",
		AcademicYear: "2024-2025", Semester: models.SemesterS1, Score: 6, MaxScore: 20,
		Status: models.ResultStatusPublished,
	}
	otherStudent := original
	otherStudent.ID = otherStudentID
	otherStudent.StudentID = stuB
	otherSemester := original
	otherSemester.ID = otherSemesterID
	otherSemester.Semester = models.SemesterS2
	svc := newResultService(newResultStore(original, otherStudent, otherSemester), nil)

	retake := func(target string) CreateResultRequest {
		req := createRequest(13)
		req.EvaluationType = models.EvaluationRetake
		req.EvaluationTitle = "Final retake"
		req.RetakeOf = &target
		return req
	}

	for _, target := range []string{otherStudentID, otherSemesterID, missingID} {
		_, err := svc.Create(context.Background(), teacher(), retake(target))
		assert.True(t, errors.Is(err, appErrors.ErrValidation), "target %s: %v", target, err)
	}

	created, err := svc.Create(context.Background(), teacher(), retake(originalID))
	require.NoError(t, err)
	require.NotNil(t, created.RetakeOf)
	assert.Equal(t, originalID, *created.RetakeOf)
}

func TestCreateResultDuplicateIsConflict(t *testing.T) {
	svc := newResultService(newResultStore(), nil)

	_, err := svc.Create(context.Background(), teacher(), createRequest(10))
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), teacher(), createRequest(12))
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestCanModify(t *testing.T) {
	draft := &models.Result{CampusID: "campus-1", TeacherID: "teacher-1", Status: models.ResultStatusDraft}
	submitted := &models.Result{CampusID: "campus-1", TeacherID: "teacher-1", Status: models.ResultStatusSubmitted}
	published := &models.Result{CampusID: "campus-1", TeacherID: "teacher-1", Status: models.ResultStatusPublished}
	locked := &models.Result{CampusID: "campus-1", TeacherID: "teacher-1", Status: models.ResultStatusDraft, PeriodLocked: true}
	foreign := &models.Result{CampusID: "campus-9", TeacherID: "teacher-1", Status: models.ResultStatusDraft}
	otherTeacher := &models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher, CampusID: "campus-1"}

	cases := []struct {
		name      string
		principal *models.JWTClaims
		result    *models.Result
		want      bool
	}{
		{"owner edits draft", teacher(), draft, true},
		{"other teacher on draft", otherTeacher, draft, false},
		{"manager on draft", manager(), draft, true},
		{"teacher on submitted", teacher(), submitted, false},
		{"manager on submitted", manager(), submitted, true},
		{"admin on published", admin(), published, false},
		{"teacher on locked", teacher(), locked, false},
		{"manager on locked", manager(), locked, false},
		{"admin on locked", admin(), locked, true},
		{"manager on foreign campus", manager(), foreign, false},
		{"no principal", nil, draft, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := CanModify(tc.principal, tc.result)
			assert.Equal(t, tc.want, ok)
			if !ok {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestUpdateResult(t *testing.T) {
	store := newResultStore(models.Result{
		ID: "res-1", CampusID: "campus-1", TeacherID: "teacher-1", StudentID: stuA,
		Status: models.ResultStatusDraft, Score: 8, MaxScore: 20, NormalizedScore: 8, Coefficient: 1, IsRetakeEligible: true,
	})
	svc := newResultService(store, nil)

	updated, err := svc.Update(context.Background(), teacher(), "res-1", UpdateResultRequest{Score: score(16)})
	require.NoError(t, err)
	assert.Equal(t, 16.0, updated.NormalizedScore)
	assert.False(t, updated.IsRetakeEligible)

	remarks := "Needs follow-up"
	_, err = svc.Update(context.Background(), teacher(), "res-1", UpdateResultRequest{ClassManagerRemarks: &remarks})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	updated, err = svc.Update(context.Background(), manager(), "res-1", UpdateResultRequest{ClassManagerRemarks: &remarks})
	require.NoError(t, err)
	require.NotNil(t, updated.ClassManagerID)
	assert.Equal(t, "mgr-1", *updated.ClassManagerID)

	_, err = svc.Update(context.Background(), teacher(), "res-1", UpdateResultRequest{Score: score(25)})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Equal(t, 16.0, store.get("res-1").Score)

	_, err = svc.Update(context.Background(), teacher(), "missing", UpdateResultRequest{Score: score(5)})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestUpdateResultRejectsBlankTitle(t *testing.T) {
	store := newResultStore(models.Result{
		ID: "res-1", CampusID: "campus-1", TeacherID: "teacher-1", StudentID: stuA, EvaluationTitle: "Quiz 1",
		Status: models.ResultStatusDraft, Score: 8, MaxScore: 20, NormalizedScore: 8, Coefficient: 1,
	})
	svc := newResultService(store, nil)

	blank := "   "
	_, err := svc.Update(context.Background(), teacher(), "res-1", UpdateResultRequest{EvaluationTitle: &blank})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Equal(t, "Quiz 1", store.get("res-1").EvaluationTitle)

	renamed := "  Quiz 1 bis "
	updated, err := svc.Update(context.Background(), teacher(), "res-1", UpdateResultRequest{EvaluationTitle: &renamed})
	require.NoError(t, err)
	assert.Equal(t, "Quiz 1 bis", updated.EvaluationTitle)
}

func TestLockedResultRejectsNonGlobalEdits(t *testing.T) {
	store := newResultStore(models.Result{
		ID: "res-1", CampusID: "campus-1", TeacherID: "teacher-1", Status: models.ResultStatusDraft,
		Score: 8, MaxScore: 20, PeriodLocked: true,
	})
	svc := newResultService(store, nil)

	_, err := svc.Update(context.Background(), teacher(), "res-1", UpdateResultRequest{Score: score(12)})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	_, err = svc.Update(context.Background(), manager(), "res-1", UpdateResultRequest{Score: score(12)})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	assert.True(t, errors.Is(svc.Delete(context.Background(), teacher(), "res-1"), appErrors.ErrForbidden))

	_, err = svc.Update(context.Background(), admin(), "res-1", UpdateResultRequest{Score: score(12)})
	require.NoError(t, err)
}

func TestDeleteResult(t *testing.T) {
	store := newResultStore(
		models.Result{ID: "res-1", CampusID: "campus-1", TeacherID: "teacher-1", Status: models.ResultStatusDraft},
		models.Result{ID: "res-2", CampusID: "campus-1", TeacherID: "teacher-1", Status: models.ResultStatusSubmitted},
		models.Result{ID: "res-3", CampusID: "campus-1", TeacherID: "teacher-2", Status: models.ResultStatusDraft},
	)
	svc := newResultService(store, nil)
	ctx := context.Background()

	require.NoError(t, svc.Delete(ctx, teacher(), "res-1"))
	deleted := store.get("res-1")
	assert.True(t, deleted.IsDeleted)
	require.NotNil(t, deleted.DeletedBy)
	assert.Equal(t, "teacher-1", *deleted.DeletedBy)

	assert.True(t, errors.Is(svc.Delete(ctx, teacher(), "res-2"), appErrors.ErrForbidden))
	assert.True(t, errors.Is(svc.Delete(ctx, teacher(), "res-3"), appErrors.ErrForbidden))
	assert.True(t, errors.Is(svc.Delete(ctx, teacher(), "res-1"), appErrors.ErrNotFound))
	require.NoError(t, svc.Delete(ctx, admin(), "res-2"))
}

func TestGetResultStudentVisibility(t *testing.T) {
	store := newResultStore(
		models.Result{ID: "res-1", CampusID: "campus-1", StudentID: stuA, Status: models.ResultStatusPublished},
		models.Result{ID: "res-2", CampusID: "campus-1", StudentID: stuA, Status: models.ResultStatusDraft},
		models.Result{ID: "res-3", CampusID: "campus-1", StudentID: stuB, Status: models.ResultStatusPublished},
	)
	store.audit["res-1"] = []models.AuditEntry{{ID: "a1", ResultID: "res-1", Field: "score"}}
	svc := newResultService(store, nil)
	ctx := context.Background()

	result, err := svc.Get(ctx, student(stuA), "res-1")
	require.NoError(t, err)
	require.Len(t, result.AuditLog, 1)

	_, err = svc.Get(ctx, student(stuA), "res-2")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	_, err = svc.Get(ctx, student(stuA), "res-3")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	foreignManager := &models.JWTClaims{UserID: "mgr-9", Role: models.RoleCampusManager, CampusID: "campus-9"}
	_, err = svc.Get(ctx, foreignManager, "res-2")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestListResultsRestrictsStudents(t *testing.T) {
	store := newResultStore(
		models.Result{ID: "res-1", CampusID: "campus-1", StudentID: stuA, Status: models.ResultStatusPublished},
		models.Result{ID: "res-2", CampusID: "campus-1", StudentID: stuA, Status: models.ResultStatusDraft},
		models.Result{ID: "res-3", CampusID: "campus-1", StudentID: stuB, Status: models.ResultStatusArchived},
	)
	svc := newResultService(store, nil)

	results, page, err := svc.List(context.Background(), student(stuA), models.ResultFilter{StudentID: stuB})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "res-1", results[0].ID)
	assert.Equal(t, 1, page.TotalCount)
	assert.Equal(t, 20, page.PageSize)

	results, _, err = svc.List(context.Background(), student(stuA), models.ResultFilter{Statuses: []models.ResultStatus{models.ResultStatusDraft}})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, _, err = svc.List(context.Background(), manager(), models.ResultFilter{})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}
