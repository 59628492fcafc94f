package models

import "time"

// HistogramBucket counts normalised scores in [From, To), the last bucket closed.
type HistogramBucket struct {
	From  float64 `json:"from"`
	To    float64 `json:"to"`
	Label string  `json:"label"`
	Count int     `json:"count"`
}

// ClassDistribution summarises one evaluation across a class.
type ClassDistribution struct {
	ClassID         string            `json:"classId"`
	SubjectID       string            `json:"subjectId"`
	EvaluationTitle string            `json:"evaluationTitle"`
	AcademicYear    string            `json:"academicYear"`
	Semester        Semester          `json:"semester"`
	Count           int               `json:"count"`
	Mean            float64           `json:"mean"`
	Min             float64           `json:"min"`
	Max             float64           `json:"max"`
	StdDev          float64           `json:"stdDev"`
	PassingRate     float64           `json:"passingRate"`
	Histogram       []HistogramBucket `json:"histogram"`
}

// RetakeRow is a single result qualifying a student for a retake.
type RetakeRow struct {
	ResultID        string         `json:"resultId"`
	SubjectID       string         `json:"subjectId"`
	EvaluationType  EvaluationType `json:"evaluationType"`
	EvaluationTitle string         `json:"evaluationTitle"`
	Score           float64        `json:"score"`
	MaxScore        float64        `json:"maxScore"`
	NormalizedScore float64        `json:"normalizedScore"`
	Color           string         `json:"color"`
}

// RetakeStudent groups retake rows per student.
type RetakeStudent struct {
	StudentID string      `json:"studentId"`
	FirstName string      `json:"firstName,omitempty"`
	LastName  string      `json:"lastName,omitempty"`
	Matricule string      `json:"matricule,omitempty"`
	Lowest    float64     `json:"lowestScore"`
	Results   []RetakeRow `json:"results"`
}

// FacetCount is one bucket of a grouped count.
type FacetCount struct {
	Key   string `db:"key" json:"key"`
	Count int    `db:"count" json:"count"`
}

// OverviewAggregate holds the published-row aggregates of a campus overview.
type OverviewAggregate struct {
	TotalPublished int      `db:"total_published"`
	Graded         int      `db:"graded"`
	AverageScore   *float64 `db:"average_score"`
	Passing        int      `db:"passing"`
	RetakeEligible int      `db:"retake_eligible"`
	AtRisk         int      `db:"at_risk"`
	AbsentStudents int      `db:"absent_students"`
}

// CampusOverview is the faceted summary of results in scope.
type CampusOverview struct {
	CampusID         string         `json:"campusId,omitempty"`
	AcademicYear     string         `json:"academicYear,omitempty"`
	Semester         Semester       `json:"semester,omitempty"`
	ByStatus         map[string]int `json:"byStatus"`
	ByEvaluationType map[string]int `json:"byEvaluationType"`
	ByExamPeriod     map[string]int `json:"byExamPeriod"`
	AverageScore     *float64       `json:"averageScore"`
	PassingRate      *float64       `json:"passingRate"`
	TotalPublished   int            `json:"totalPublished"`
	RetakeEligible   int            `json:"retakeEligible"`
	AtRisk           int            `json:"atRisk"`
	AbsentStudents   int            `json:"absentStudents"`
}

// SemesterTranscript is an on-the-fly aggregate of one period.
type SemesterTranscript struct {
	AcademicYear   string              `json:"academicYear"`
	Semester       Semester            `json:"semester"`
	Subjects       []TranscriptSubject `json:"subjects"`
	GeneralAverage *float64            `json:"generalAverage"`
}

// StudentTranscript lists computed semesters for a student.
type StudentTranscript struct {
	StudentID           string               `json:"studentId"`
	Student             *Student             `json:"student,omitempty"`
	VerificationBaseURL string               `json:"verificationBaseUrl"`
	Semesters           []SemesterTranscript `json:"semesters"`
}

// VerifiedStudent is the only student data exposed publicly.
type VerifiedStudent struct {
	FirstName string `json:"first"`
	LastName  string `json:"last"`
	Matricule string `json:"matricule"`
}

// VerifiedSubject is the only subject data exposed publicly.
type VerifiedSubject struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// VerifiedClass is the only class data exposed publicly.
type VerifiedClass struct {
	Name string `json:"name"`
}

// ResultVerification is the whitelisted public view of a released result.
type ResultVerification struct {
	IsAuthentic     bool            `json:"isAuthentic"`
	Student         VerifiedStudent `json:"student"`
	Subject         VerifiedSubject `json:"subject"`
	Class           VerifiedClass   `json:"class"`
	AcademicYear    string          `json:"academicYear"`
	Semester        Semester        `json:"semester"`
	EvaluationType  EvaluationType  `json:"evaluationType"`
	EvaluationTitle string          `json:"evaluationTitle"`
	ExamPeriod      *ExamPeriod     `json:"examPeriod,omitempty"`
	ScoreOn20       float64         `json:"scoreOn20"`
	GradeBand       *GradeBand      `json:"gradeBand,omitempty"`
	PublishedAt     *time.Time      `json:"publishedAt,omitempty"`
}

// VerificationRow is the joined storage row behind a result verification.
type VerificationRow struct {
	StudentFirstName string         `db:"student_first_name"`
	StudentLastName  string         `db:"student_last_name"`
	Matricule        string         `db:"matricule"`
	SubjectName      string         `db:"subject_name"`
	SubjectCode      string         `db:"subject_code"`
	ClassName        string         `db:"class_name"`
	AcademicYear     string         `db:"academic_year"`
	Semester         Semester       `db:"semester"`
	EvaluationType   EvaluationType `db:"evaluation_type"`
	EvaluationTitle  string         `db:"evaluation_title"`
	ExamPeriod       *ExamPeriod    `db:"exam_period"`
	NormalizedScore  float64        `db:"normalized_score"`
	GradeBand        *GradeBand     `db:"grade_band"`
	PublishedAt      *time.Time     `db:"published_at"`
}

// TranscriptVerificationRow is the joined storage row behind a transcript check.
type TranscriptVerificationRow struct {
	StudentFirstName string           `db:"student_first_name"`
	StudentLastName  string           `db:"student_last_name"`
	Matricule        string           `db:"matricule"`
	ClassName        string           `db:"class_name"`
	AcademicYear     string           `db:"academic_year"`
	Semester         Semester         `db:"semester"`
	GeneralAverage   *float64         `db:"general_average"`
	Decision         *string          `db:"decision"`
	Status           TranscriptStatus `db:"status"`
	ValidatedAt      *time.Time       `db:"validated_at"`
}

// AnalyticsSystemMetrics summarises process level metrics.
type AnalyticsSystemMetrics struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	DBQueryCount             uint64    `json:"dbQueryCount"`
	AverageDBQueryDurationMs float64   `json:"averageDbQueryDurationMs"`
	ResultsPublished         uint64    `json:"resultsPublished"`
	TranscriptsGenerated     uint64    `json:"transcriptsGenerated"`
	RiskJobsFailed           uint64    `json:"riskJobsFailed"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
