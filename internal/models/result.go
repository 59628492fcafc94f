package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ResultStatus is the workflow state of a Result.
type ResultStatus string

const (
	ResultStatusDraft     ResultStatus = "DRAFT"
	ResultStatusSubmitted ResultStatus = "SUBMITTED"
	ResultStatusPublished ResultStatus = "PUBLISHED"
	ResultStatusArchived  ResultStatus = "ARCHIVED"
)

// resultTransitions is the complete set of allowed (from, to) moves.
var resultTransitions = map[ResultStatus]map[ResultStatus]bool{
	ResultStatusDraft:     {ResultStatusSubmitted: true},
	ResultStatusSubmitted: {ResultStatusPublished: true, ResultStatusDraft: true},
	ResultStatusPublished: {ResultStatusArchived: true},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to ResultStatus) bool {
	return resultTransitions[from][to]
}

// IsReleased is true once the result has been made public.
func (s ResultStatus) IsReleased() bool {
	return s == ResultStatusPublished || s == ResultStatusArchived
}

// Semester identifies a business period within an academic year.
type Semester string

const (
	SemesterS1     Semester = "S1"
	SemesterS2     Semester = "S2"
	SemesterAnnual Semester = "Annual"
)

// EvaluationType classifies a graded event.
type EvaluationType string

const (
	EvaluationCC        EvaluationType = "CC"
	EvaluationExam      EvaluationType = "EXAM"
	EvaluationRetake    EvaluationType = "RETAKE"
	EvaluationProject   EvaluationType = "PROJECT"
	EvaluationPractical EvaluationType = "PRACTICAL"
)

// ExamPeriod narrows when an evaluation took place.
type ExamPeriod string

const (
	ExamPeriodMidterm    ExamPeriod = "Midterm"
	ExamPeriodFinal      ExamPeriod = "Final"
	ExamPeriodQuiz       ExamPeriod = "Quiz"
	ExamPeriodAssignment ExamPeriod = "Assignment"
	ExamPeriodProject    ExamPeriod = "Project"
	ExamPeriodPractical  ExamPeriod = "Practical"
)

// ExamAttendance records whether the student sat the evaluation.
type ExamAttendance string

const (
	AttendancePresent ExamAttendance = "present"
	AttendanceAbsent  ExamAttendance = "absent"
	AttendanceExcused ExamAttendance = "excused"
)

// Result is one graded evaluation of one student.
type Result struct {
	ID                      string         `db:"id" json:"id"`
	Reference               string         `db:"reference" json:"reference"`
	CampusID                string         `db:"campus_id" json:"campusId"`
	StudentID               string         `db:"student_id" json:"studentId"`
	ClassID                 string         `db:"class_id" json:"classId"`
	SubjectID               string         `db:"subject_id" json:"subjectId"`
	TeacherID               string         `db:"teacher_id" json:"teacherId"`
	AcademicYear            string         `db:"academic_year" json:"academicYear"`
	Semester                Semester       `db:"semester" json:"semester"`
	EvaluationType          EvaluationType `db:"evaluation_type" json:"evaluationType"`
	EvaluationTitle         string         `db:"evaluation_title" json:"evaluationTitle"`
	Score                   float64        `db:"score" json:"score"`
	MaxScore                float64        `db:"max_score" json:"maxScore"`
	Coefficient             float64        `db:"coefficient" json:"coefficient"`
	NormalizedScore         float64        `db:"normalized_score" json:"normalizedScore"`
	WeightedNormalizedScore float64        `db:"weighted_normalized_score" json:"weightedNormalizedScore"`
	GradingScaleID          *string        `db:"grading_scale_id" json:"gradingScaleId,omitempty"`
	GradeBand               *GradeBand     `db:"grade_band" json:"gradeBand,omitempty"`
	ExamDate                *time.Time     `db:"exam_date" json:"examDate,omitempty"`
	ExamPeriod              *ExamPeriod    `db:"exam_period" json:"examPeriod,omitempty"`
	ExamWeek                *int           `db:"exam_week" json:"examWeek,omitempty"`
	ExamMonth               *int           `db:"exam_month" json:"examMonth,omitempty"`
	ExamAttendance          ExamAttendance `db:"exam_attendance" json:"examAttendance"`
	SpecialCircumstances    *string        `db:"special_circumstances" json:"specialCircumstances,omitempty"`
	TeacherRemarks          *string        `db:"teacher_remarks" json:"teacherRemarks,omitempty"`
	ClassManagerRemarks     *string        `db:"class_manager_remarks" json:"classManagerRemarks,omitempty"`
	ClassManagerID          *string        `db:"class_manager_id" json:"classManagerId,omitempty"`
	Strengths               *string        `db:"strengths" json:"strengths,omitempty"`
	Improvements            *string        `db:"improvements" json:"improvements,omitempty"`
	Status                  ResultStatus   `db:"status" json:"status"`
	PeriodLocked            bool           `db:"period_locked" json:"periodLocked"`
	RetakeOf                *string        `db:"retake_of" json:"retakeOf,omitempty"`
	IsRetakeEligible        bool           `db:"is_retake_eligible" json:"isRetakeEligible"`
	VerificationToken       *string        `db:"verification_token" json:"verificationToken,omitempty"`
	DropoutRiskScore        *int           `db:"dropout_risk_score" json:"dropoutRiskScore,omitempty"`
	SubmittedAt             *time.Time     `db:"submitted_at" json:"submittedAt,omitempty"`
	SubmittedBy             *string        `db:"submitted_by" json:"submittedBy,omitempty"`
	PublishedAt             *time.Time     `db:"published_at" json:"publishedAt,omitempty"`
	PublishedBy             *string        `db:"published_by" json:"publishedBy,omitempty"`
	ArchivedAt              *time.Time     `db:"archived_at" json:"archivedAt,omitempty"`
	ArchivedBy              *string        `db:"archived_by" json:"archivedBy,omitempty"`
	IsDeleted               bool           `db:"is_deleted" json:"-"`
	DeletedAt               *time.Time     `db:"deleted_at" json:"-"`
	DeletedBy               *string        `db:"deleted_by" json:"-"`
	CreatedBy               string         `db:"created_by" json:"createdBy"`
	CreatedAt               time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt               time.Time      `db:"updated_at" json:"updatedAt"`
	AuditLog                []AuditEntry   `db:"-" json:"auditLog,omitempty"`
}

// ResultFilter captures list criteria. CampusID empty means every campus.
type ResultFilter struct {
	CampusID        string
	StudentID       string
	ClassID         string
	SubjectID       string
	TeacherID       string
	AcademicYear    string
	Semester        Semester
	EvaluationType  EvaluationType
	EvaluationTitle string
	Statuses        []ResultStatus
	Page            int
	PageSize        int
	SortBy          string
	SortOrder       string
}

// AggregateFilter selects the rows fed into averages and analytics.
type AggregateFilter struct {
	CampusID          string
	StudentID         string
	ClassID           string
	SubjectID         string
	EvaluationTitle   string
	AcademicYear      string
	Semester          Semester
	Statuses          []ResultStatus
	ExcludeStatuses   []ResultStatus
	ExcludeAbsent     bool
	RetakeEligible    bool
	OnlyOriginals     bool
	ExcludeSuperseded bool
}

// LockedRow identifies a result latched by a semester lock.
type LockedRow struct {
	StudentID string `db:"student_id"`
	ClassID   string `db:"class_id"`
	CampusID  string `db:"campus_id"`
}

// ScorePoint is one normalised score used by risk scoring.
type ScorePoint struct {
	ResultID        string     `db:"id"`
	Score           float64    `db:"score"`
	MaxScore        float64    `db:"max_score"`
	NormalizedScore *float64   `db:"normalized_score"`
	PublishedAt     *time.Time `db:"published_at"`
}

// GradeBand is one closed interval of a grading scale.
type GradeBand struct {
	Min         float64  `json:"min"`
	Max         float64  `json:"max"`
	Label       string   `json:"label"`
	LetterGrade *string  `json:"letterGrade,omitempty"`
	GPA         *float64 `json:"gpa,omitempty"`
	ECTSGrade   *string  `json:"ectsGrade,omitempty"`
	ECTSCredits *float64 `json:"ectsCredits,omitempty"`
	Color       *string  `json:"color,omitempty"`
}

// Value marshals the band snapshot to JSON for persistence.
func (b GradeBand) Value() (driver.Value, error) {
	return jsonValue(b, "grade band")
}

// Scan unmarshals a JSON band snapshot.
func (b *GradeBand) Scan(value interface{}) error {
	_, err := scanJSON(value, b, "grade band")
	return err
}

// AuditEntry is an immutable record of a post-publication correction.
type AuditEntry struct {
	ID         string     `db:"id" json:"id"`
	ResultID   string     `db:"result_id" json:"resultId"`
	ModifiedBy string     `db:"modified_by" json:"modifiedBy"`
	ModifiedAt time.Time  `db:"modified_at" json:"modifiedAt"`
	Field      string     `db:"field" json:"field"`
	OldValue   AuditValue `db:"old_value" json:"oldValue"`
	NewValue   AuditValue `db:"new_value" json:"newValue"`
	Reason     string     `db:"reason" json:"reason"`
	IPAddress  *string    `db:"ip_address" json:"ipAddress,omitempty"`
}

// AuditValue holds a JSON encoded field value captured by an audit entry.
type AuditValue json.RawMessage

// NewAuditValue encodes v; unencodable input is recorded as null.
func NewAuditValue(v interface{}) AuditValue {
	data, err := json.Marshal(v)
	if err != nil {
		return AuditValue("null")
	}
	return AuditValue(data)
}

// MarshalJSON emits the stored JSON verbatim.
func (v AuditValue) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return []byte(v), nil
}

// UnmarshalJSON keeps a copy of the raw JSON.
func (v *AuditValue) UnmarshalJSON(data []byte) error {
	*v = append((*v)[0:0], data...)
	return nil
}

// Value persists the JSON text.
func (v AuditValue) Value() (driver.Value, error) {
	if len(v) == 0 {
		return "null", nil
	}
	return string(v), nil
}

// Scan reads the JSON text back.
func (v *AuditValue) Scan(value interface{}) error {
	switch t := value.(type) {
	case nil:
		*v = AuditValue("null")
	case []byte:
		*v = append(AuditValue(nil), t...)
	case string:
		*v = AuditValue(t)
	default:
		return fmt.Errorf("unsupported type %T for audit value", value)
	}
	return nil
}

// FormatReference renders the human reference for seq in year.
func FormatReference(year int, seq int64) string {
	return fmt.Sprintf("RES-%d-%05d", year, seq)
}
