package models

import (
	"database/sql/driver"
	"time"
)

// TranscriptStatus is the workflow state of a final transcript.
type TranscriptStatus string

const (
	TranscriptStatusDraft     TranscriptStatus = "DRAFT"
	TranscriptStatusValidated TranscriptStatus = "VALIDATED"
	TranscriptStatusSealed    TranscriptStatus = "SEALED"
)

// SignatureMethod is how a parent acknowledged a transcript.
type SignatureMethod string

const (
	SignatureClick     SignatureMethod = "click"
	SignatureOTP       SignatureMethod = "otp"
	SignatureBiometric SignatureMethod = "biometric"
)

// FinalTranscript is the stored per-semester bulletin of a student.
type FinalTranscript struct {
	ID                  string             `db:"id" json:"id"`
	CampusID            string             `db:"campus_id" json:"campusId"`
	StudentID           string             `db:"student_id" json:"studentId"`
	ClassID             string             `db:"class_id" json:"classId"`
	AcademicYear        string             `db:"academic_year" json:"academicYear"`
	Semester            Semester           `db:"semester" json:"semester"`
	Subjects            TranscriptSubjects `db:"subjects" json:"subjects"`
	GeneralAverage      *float64           `db:"general_average" json:"generalAverage"`
	ClassRank           *int               `db:"class_rank" json:"classRank,omitempty"`
	ClassTotal          *int               `db:"class_total" json:"classTotal,omitempty"`
	Decision            *string            `db:"decision" json:"decision,omitempty"`
	GeneralAppreciation *string            `db:"general_appreciation" json:"generalAppreciation,omitempty"`
	Status              TranscriptStatus   `db:"status" json:"status"`
	GeneratedBy         string             `db:"generated_by" json:"generatedBy"`
	GeneratedAt         time.Time          `db:"generated_at" json:"generatedAt"`
	ValidatedBy         *string            `db:"validated_by" json:"validatedBy,omitempty"`
	ValidatedAt         *time.Time         `db:"validated_at" json:"validatedAt,omitempty"`
	SealedBy            *string            `db:"sealed_by" json:"sealedBy,omitempty"`
	SealedAt            *time.Time         `db:"sealed_at" json:"sealedAt,omitempty"`
	ParentSignature     *ParentSignature   `db:"parent_signature" json:"parentSignature,omitempty"`
	VerificationToken   *string            `db:"verification_token" json:"verificationToken,omitempty"`
	CreatedAt           time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time          `db:"updated_at" json:"updatedAt"`
}

// TranscriptSubject is the per-subject aggregate embedded in a transcript.
type TranscriptSubject struct {
	SubjectID   string               `json:"subjectId"`
	SubjectName string               `json:"subjectName,omitempty"`
	SubjectCode string               `json:"subjectCode,omitempty"`
	Coefficient float64              `json:"coefficient"`
	Average     float64              `json:"average"`
	Evaluations []EvaluationSnapshot `json:"evaluations"`
}

// EvaluationSnapshot is a frozen copy of one result inside a transcript.
type EvaluationSnapshot struct {
	ResultID        string         `json:"resultId"`
	EvaluationType  EvaluationType `json:"evaluationType"`
	EvaluationTitle string         `json:"evaluationTitle"`
	ExamPeriod      *ExamPeriod    `json:"examPeriod,omitempty"`
	Score           float64        `json:"score"`
	MaxScore        float64        `json:"maxScore"`
	NormalizedScore float64        `json:"normalizedScore"`
	Coefficient     float64        `json:"coefficient"`
	GradeBand       *GradeBand     `json:"gradeBand,omitempty"`
	TeacherRemarks  *string        `json:"teacherRemarks,omitempty"`
}

// TranscriptSubjects is the jsonb encoded subject list.
type TranscriptSubjects []TranscriptSubject

// Value marshals subjects to JSON for persistence.
func (s TranscriptSubjects) Value() (driver.Value, error) {
	if s == nil {
		s = TranscriptSubjects{}
	}
	return jsonValue([]TranscriptSubject(s), "transcript subjects")
}

// Scan unmarshals JSON subjects.
func (s *TranscriptSubjects) Scan(value interface{}) error {
	var subjects []TranscriptSubject
	ok, err := scanJSON(value, &subjects, "transcript subjects")
	if err != nil {
		return err
	}
	if !ok {
		subjects = []TranscriptSubject{}
	}
	*s = subjects
	return nil
}

// ParentSignature records a parent's acknowledgement.
type ParentSignature struct {
	SignedAt  time.Time       `json:"signedAt"`
	SignedBy  string          `json:"signedBy"`
	IPAddress string          `json:"ipAddress,omitempty"`
	Method    SignatureMethod `json:"method"`
}

// Value marshals the signature to JSON for persistence.
func (p ParentSignature) Value() (driver.Value, error) {
	return jsonValue(p, "parent signature")
}

// Scan unmarshals a JSON signature.
func (p *ParentSignature) Scan(value interface{}) error {
	_, err := scanJSON(value, p, "parent signature")
	return err
}

// TranscriptFilter narrows stored transcript listings.
type TranscriptFilter struct {
	CampusID     string
	StudentID    string
	AcademicYear string
	Semester     Semester
	Statuses     []TranscriptStatus
}

// TranscriptVerification is the public projection of a validated transcript.
type TranscriptVerification struct {
	IsAuthentic    bool             `json:"isAuthentic"`
	Student        VerifiedStudent  `json:"student"`
	Class          VerifiedClass    `json:"class"`
	AcademicYear   string           `json:"academicYear"`
	Semester       Semester         `json:"semester"`
	GeneralAverage *float64         `json:"generalAverage"`
	Decision       *string          `json:"decision,omitempty"`
	Status         TranscriptStatus `json:"status"`
	ValidatedAt    *time.Time       `json:"validatedAt,omitempty"`
}
