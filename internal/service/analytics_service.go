package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-results-api/internal/models"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
	"github.com/noah-isme/campus-results-api/pkg/jobs"
)

const (
	riskWindow      = 10
	histogramBucket = 2.0
	histogramSize   = 10
)

// AnalyticsRepository describes the result reads required by AnalyticsService.
type AnalyticsRepository interface {
	Aggregate(ctx context.Context, filter models.AggregateFilter) ([]models.Result, error)
	RecentScores(ctx context.Context, studentID, campusID string, limit int) ([]models.ScorePoint, error)
	SetDropoutRisk(ctx context.Context, id string, score int) error
	FindByToken(ctx context.Context, token string) (*models.VerificationRow, error)
	Facets(ctx context.Context, column, campusID, academicYear string, semester models.Semester) ([]models.FacetCount, error)
	OverviewAggregate(ctx context.Context, campusID, academicYear string, semester models.Semester) (*models.OverviewAggregate, error)
}

type analyticsDirectory interface {
	FindClass(ctx context.Context, id string) (*models.Class, error)
	FindStudent(ctx context.Context, id string) (*models.Student, error)
	FindStudents(ctx context.Context, ids []string) (map[string]models.Student, error)
	FindSubjects(ctx context.Context, ids []string) (map[string]models.Subject, error)
}

// DistributionQuery selects one evaluation of a class.
type DistributionQuery struct {
	ClassID         string
	SubjectID       string
	EvaluationTitle string
	AcademicYear    string
	Semester        models.Semester
}

// RetakeQuery narrows a class retake list.
type RetakeQuery struct {
	ClassID      string
	SubjectID    string
	AcademicYear string
	Semester     models.Semester
}

// OverviewQuery selects the campus and period of an overview.
type OverviewQuery struct {
	CampusID     string
	AcademicYear string
	Semester     models.Semester
}

// AnalyticsService computes read-side aggregates over results with cache integration.
type AnalyticsService struct {
	repo                AnalyticsRepository
	directory           analyticsDirectory
	cache               *CacheService
	metrics             *MetricsService
	logger              *zap.Logger
	verificationBaseURL string
}

// NewAnalyticsService constructs an analytics service.
func NewAnalyticsService(repo AnalyticsRepository, directory analyticsDirectory, cache *CacheService, metrics *MetricsService, logger *zap.Logger, verificationBaseURL string) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{
		repo:                repo,
		directory:           directory,
		cache:               cache,
		metrics:             metrics,
		logger:              logger,
		verificationBaseURL: strings.TrimRight(verificationBaseURL, "/"),
	}
}

// Transcript computes per-semester averages of a student without storing them.
func (s *AnalyticsService) Transcript(ctx context.Context, principal *models.JWTClaims, studentID, academicYear string) (*models.StudentTranscript, error) {
	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}
	if principal.Role == models.RoleStudent && studentID != principal.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only read their own transcript")
	}
	student, err := s.directory.FindStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !inScope(principal, student.CampusID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student belongs to another campus")
	}

	start := time.Now()
	results, err := s.repo.Aggregate(ctx, models.AggregateFilter{
		CampusID:          student.CampusID,
		StudentID:         studentID,
		AcademicYear:      academicYear,
		Statuses:          releasedStatuses,
		ExcludeSuperseded: true,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate results")
	}
	s.metrics.ObserveDBQuery("analytics_transcript", time.Since(start))

	subjects, err := s.directory.FindSubjects(ctx, subjectIDs(results))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subjects")
	}

	type period struct {
		year     string
		semester models.Semester
	}
	grouped := make(map[period][]models.Result)
	var periods []period
	for _, r := range results {
		key := period{r.AcademicYear, r.Semester}
		if _, ok := grouped[key]; !ok {
			periods = append(periods, key)
		}
		grouped[key] = append(grouped[key], r)
	}
	sort.Slice(periods, func(i, j int) bool {
		if periods[i].year != periods[j].year {
			return periods[i].year > periods[j].year
		}
		return semesterOrder(periods[i].semester) < semesterOrder(periods[j].semester)
	})

	transcript := &models.StudentTranscript{
		StudentID:           studentID,
		Student:             student,
		VerificationBaseURL: s.verificationBaseURL,
		Semesters:           make([]models.SemesterTranscript, 0, len(periods)),
	}
	for _, p := range periods {
		lines, general := buildTranscriptSubjects(grouped[p], subjects)
		transcript.Semesters = append(transcript.Semesters, models.SemesterTranscript{
			AcademicYear:   p.year,
			Semester:       p.semester,
			Subjects:       lines,
			GeneralAverage: general,
		})
	}
	return transcript, nil
}

func semesterOrder(s models.Semester) int {
	switch s {
	case models.SemesterS1:
		return 0
	case models.SemesterS2:
		return 1
	default:
		return 2
	}
}

// ClassDistribution returns score statistics of one evaluation. The boolean
// indicates whether data originated from cache.
func (s *AnalyticsService) ClassDistribution(ctx context.Context, principal *models.JWTClaims, query DistributionQuery) (*models.ClassDistribution, bool, error) {
	if err := requireStaff(principal); err != nil {
		return nil, false, err
	}
	class, err := s.scopedClass(ctx, principal, query.ClassID)
	if err != nil {
		return nil, false, err
	}
	cacheKey := analyticsCacheKey("distribution", class.CampusID, class.ID, query.SubjectID, query.EvaluationTitle, query.AcademicYear, string(query.Semester))
	var cached models.ClassDistribution
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, true, nil
	}

	start := time.Now()
	results, err := s.repo.Aggregate(ctx, models.AggregateFilter{
		CampusID:          class.CampusID,
		ClassID:           class.ID,
		SubjectID:         query.SubjectID,
		EvaluationTitle:   query.EvaluationTitle,
		AcademicYear:      query.AcademicYear,
		Semester:          query.Semester,
		ExcludeStatuses:   []models.ResultStatus{models.ResultStatusArchived},
		ExcludeAbsent:     true,
		ExcludeSuperseded: true,
	})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate results")
	}
	s.metrics.ObserveDBQuery("analytics_distribution", time.Since(start))

	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = scoreOn20(r)
	}
	dist := Distribution(scores)
	dist.ClassID = class.ID
	dist.SubjectID = query.SubjectID
	dist.EvaluationTitle = query.EvaluationTitle
	dist.AcademicYear = query.AcademicYear
	dist.Semester = query.Semester

	if err := s.cache.Set(ctx, cacheKey, dist, 0); err != nil {
		s.logger.Warn("cache class distribution", zap.Error(err))
	}
	return &dist, false, nil
}

// Distribution computes count, mean, extrema, population standard deviation,
// passing rate and the /20 histogram of scores.
func Distribution(scores []float64) models.ClassDistribution {
	dist := models.ClassDistribution{Histogram: make([]models.HistogramBucket, histogramSize)}
	for i := range dist.Histogram {
		from := float64(i) * histogramBucket
		to := from + histogramBucket
		label := fmt.Sprintf("[%g,%g)", from, to)
		if i == histogramSize-1 {
			label = fmt.Sprintf("[%g,%g]", from, to)
		}
		dist.Histogram[i] = models.HistogramBucket{From: from, To: to, Label: label}
	}
	n := len(scores)
	dist.Count = n
	if n == 0 {
		return dist
	}

	var sum float64
	passing := 0
	min, max := scores[0], scores[0]
	for _, v := range scores {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		if v >= passThreshold {
			passing++
		}
		idx := int(math.Floor(v / histogramBucket))
		if idx < 0 {
			idx = 0
		}
		if idx >= histogramSize {
			idx = histogramSize - 1
		}
		dist.Histogram[idx].Count++
	}
	mean := sum / float64(n)
	var variance float64
	for _, v := range scores {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(n)

	dist.Mean = round2(mean)
	dist.Min = round2(min)
	dist.Max = round2(max)
	dist.StdDev = round2(math.Sqrt(variance))
	dist.PassingRate = round1(float64(passing) / float64(n) * 100)
	return dist
}

// RetakeList groups retake-eligible released originals per student, lowest
// score first.
func (s *AnalyticsService) RetakeList(ctx context.Context, principal *models.JWTClaims, query RetakeQuery) ([]models.RetakeStudent, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	class, err := s.scopedClass(ctx, principal, query.ClassID)
	if err != nil {
		return nil, err
	}
	results, err := s.repo.Aggregate(ctx, models.AggregateFilter{
		CampusID:          class.CampusID,
		ClassID:           class.ID,
		SubjectID:         query.SubjectID,
		AcademicYear:      query.AcademicYear,
		Semester:          query.Semester,
		Statuses:          releasedStatuses,
		RetakeEligible:    true,
		OnlyOriginals:     true,
		ExcludeSuperseded: true,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate results")
	}

	byStudent := make(map[string]*models.RetakeStudent)
	var ids []string
	for _, r := range results {
		entry, ok := byStudent[r.StudentID]
		if !ok {
			entry = &models.RetakeStudent{StudentID: r.StudentID}
			byStudent[r.StudentID] = entry
			ids = append(ids, r.StudentID)
		}
		score := scoreOn20(r)
		entry.Results = append(entry.Results, models.RetakeRow{
			ResultID:        r.ID,
			SubjectID:       r.SubjectID,
			EvaluationType:  r.EvaluationType,
			EvaluationTitle: r.EvaluationTitle,
			Score:           r.Score,
			MaxScore:        r.MaxScore,
			NormalizedScore: score,
			Color:           RetakeColor(score),
		})
	}

	students, err := s.directory.FindStudents(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load students")
	}
	list := make([]models.RetakeStudent, 0, len(ids))
	for _, id := range ids {
		entry := byStudent[id]
		sort.SliceStable(entry.Results, func(i, j int) bool {
			return entry.Results[i].NormalizedScore < entry.Results[j].NormalizedScore
		})
		entry.Lowest = entry.Results[0].NormalizedScore
		if st, ok := students[id]; ok {
			entry.FirstName, entry.LastName, entry.Matricule = st.FirstName, st.LastName, st.Matricule
		}
		list = append(list, *entry)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Lowest != list[j].Lowest {
			return list[i].Lowest < list[j].Lowest
		}
		return list[i].StudentID < list[j].StudentID
	})
	return list, nil
}

// RetakeColor maps a /20 score onto its display colour.
func RetakeColor(score float64) string {
	switch {
	case score < 7:
		return "red"
	case score < 10:
		return "orange"
	case score < 14:
		return "blue"
	default:
		return "green"
	}
}

// CampusOverview returns faceted counts and released-row aggregates.
func (s *AnalyticsService) CampusOverview(ctx context.Context, principal *models.JWTClaims, query OverviewQuery) (*models.CampusOverview, bool, error) {
	if err := requireManager(principal); err != nil {
		return nil, false, err
	}
	campus, err := ResolveCampusScope(principal, query.CampusID)
	if err != nil {
		return nil, false, err
	}
	cacheKey := analyticsCacheKey("overview", campus, query.AcademicYear, string(query.Semester))
	var cached models.CampusOverview
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, true, nil
	}

	start := time.Now()
	overview := &models.CampusOverview{CampusID: campus, AcademicYear: query.AcademicYear, Semester: query.Semester}
	facets := []struct {
		column string
		target *map[string]int
	}{
		{"status", &overview.ByStatus},
		{"evaluation_type", &overview.ByEvaluationType},
		{"exam_period", &overview.ByExamPeriod},
	}
	for _, f := range facets {
		counts, err := s.repo.Facets(ctx, f.column, campus, query.AcademicYear, query.Semester)
		if err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count results")
		}
		m := make(map[string]int, len(counts))
		for _, c := range counts {
			m[c.Key] = c.Count
		}
		*f.target = m
	}
	agg, err := s.repo.OverviewAggregate(ctx, campus, query.AcademicYear, query.Semester)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate results")
	}
	s.metrics.ObserveDBQuery("analytics_overview", time.Since(start))

	overview.AverageScore = agg.AverageScore
	if agg.Graded > 0 {
		rate := round1(float64(agg.Passing) / float64(agg.Graded) * 100)
		overview.PassingRate = &rate
	}
	overview.TotalPublished = agg.TotalPublished
	overview.RetakeEligible = agg.RetakeEligible
	overview.AtRisk = agg.AtRisk
	overview.AbsentStudents = agg.AbsentStudents

	if err := s.cache.Set(ctx, cacheKey, overview, 0); err != nil {
		s.logger.Warn("cache campus overview", zap.Error(err))
	}
	return overview, false, nil
}

// VerifyResult resolves a public result token. Unknown, draft and deleted
// results are indistinguishable.
func (s *AnalyticsService) VerifyResult(ctx context.Context, token string) (*models.ResultVerification, error) {
	if strings.TrimSpace(token) == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "result not found")
	}
	row, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "result not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify result")
	}
	return &models.ResultVerification{
		IsAuthentic:     true,
		Student:         models.VerifiedStudent{FirstName: row.StudentFirstName, LastName: row.StudentLastName, Matricule: row.Matricule},
		Subject:         models.VerifiedSubject{Name: row.SubjectName, Code: row.SubjectCode},
		Class:           models.VerifiedClass{Name: row.ClassName},
		AcademicYear:    row.AcademicYear,
		Semester:        row.Semester,
		EvaluationType:  row.EvaluationType,
		EvaluationTitle: row.EvaluationTitle,
		ExamPeriod:      row.ExamPeriod,
		ScoreOn20:       row.NormalizedScore,
		GradeBand:       row.GradeBand,
		PublishedAt:     row.PublishedAt,
	}, nil
}

// HandleRiskJob is the dropout-risk queue handler. Errors are returned so the
// queue retries.
func (s *AnalyticsService) HandleRiskJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(RiskJobPayload)
	if !ok {
		s.logger.Warn("dropout risk job without payload", zap.String("job_id", job.ID))
		return nil
	}
	score, err := s.ComputeDropoutRisk(ctx, payload.StudentID, payload.CampusID)
	if err == nil {
		err = s.repo.SetDropoutRisk(ctx, payload.ResultID, score)
	}
	s.metrics.RecordRiskJob(err)
	if err != nil {
		s.logger.Warn("dropout risk computation failed",
			zap.String("result_id", payload.ResultID),
			zap.String("student_id", payload.StudentID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err))
		return err
	}
	return nil
}

// ComputeDropoutRisk scores a student from their most recent released results.
func (s *AnalyticsService) ComputeDropoutRisk(ctx context.Context, studentID, campusID string) (int, error) {
	points, err := s.repo.RecentScores(ctx, studentID, campusID, riskWindow)
	if err != nil {
		return 0, err
	}
	// points are newest first; the trend runs oldest to newest.
	scores := make([]float64, len(points))
	for i, p := range points {
		v := normalizeScore(p.Score, p.MaxScore)
		if p.NormalizedScore != nil {
			v = *p.NormalizedScore
		}
		scores[len(points)-1-i] = v
	}
	return DropoutRisk(scores), nil
}

// DropoutRisk combines trend, level and failure rate of chronologically
// ordered /20 scores into a 0-100 score.
func DropoutRisk(scores []float64) int {
	n := len(scores)
	if n < 2 {
		return 0
	}
	var sumY float64
	for _, v := range scores {
		sumY += v
	}
	meanX := float64(n-1) / 2
	meanY := sumY / float64(n)
	var num, den float64
	fails := 0
	for i, v := range scores {
		dx := float64(i) - meanX
		num += dx * (v - meanY)
		den += dx * dx
		if v < passThreshold {
			fails++
		}
	}
	slope := num / den

	risk := 0
	switch {
	case slope < -1:
		risk += 40
	case slope < 0:
		risk += 20
	}
	switch {
	case meanY < 7:
		risk += 40
	case meanY < 10:
		risk += 25
	case meanY < 12:
		risk += 10
	}
	risk += int(math.Round(float64(fails) / float64(n) * 20))
	if risk > 100 {
		risk = 100
	}
	return risk
}

// SystemMetrics returns system instrumentation snapshot.
func (s *AnalyticsService) SystemMetrics() models.AnalyticsSystemMetrics {
	if s.metrics == nil {
		return models.AnalyticsSystemMetrics{}
	}
	return s.metrics.Snapshot()
}

func (s *AnalyticsService) scopedClass(ctx context.Context, principal *models.JWTClaims, classID string) (*models.Class, error) {
	class, err := s.directory.FindClass(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if !inScope(principal, class.CampusID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "class belongs to another campus")
	}
	return class, nil
}
