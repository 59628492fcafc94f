package models

import (
	"database/sql/driver"
	"time"
)

// GradingSystem names the scoring axis of a scale.
type GradingSystem string

const (
	GradingNumeric20  GradingSystem = "NUMERIC_20"
	GradingNumeric100 GradingSystem = "NUMERIC_100"
	GradingLetter     GradingSystem = "LETTER"
	GradingGPA        GradingSystem = "GPA"
)

// ECTSGrades lists the accepted ECTS grade labels.
var ECTSGrades = []string{"A", "B", "C", "D", "E", "FX", "F"}

// GradingScale is a named campus scale with ordered bands.
type GradingScale struct {
	ID          string        `db:"id" json:"id"`
	CampusID    string        `db:"campus_id" json:"campusId"`
	Name        string        `db:"name" json:"name"`
	Description *string       `db:"description" json:"description,omitempty"`
	System      GradingSystem `db:"system" json:"system"`
	MaxScore    float64       `db:"max_score" json:"maxScore"`
	PassMark    float64       `db:"pass_mark" json:"passMark"`
	Bands       GradeBands    `db:"bands" json:"bands"`
	IsDefault   bool          `db:"is_default" json:"isDefault"`
	IsActive    bool          `db:"is_active" json:"isActive"`
	CreatedBy   string        `db:"created_by" json:"createdBy"`
	UpdatedBy   *string       `db:"updated_by" json:"updatedBy,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updatedAt"`
}

// GradeBands is the jsonb encoded band list of a scale.
type GradeBands []GradeBand

// Value marshals the bands to JSON for persistence.
func (b GradeBands) Value() (driver.Value, error) {
	if b == nil {
		b = GradeBands{}
	}
	return jsonValue([]GradeBand(b), "grade bands")
}

// Scan unmarshals JSON bands.
func (b *GradeBands) Scan(value interface{}) error {
	var bands []GradeBand
	ok, err := scanJSON(value, &bands, "grade bands")
	if err != nil {
		return err
	}
	if !ok {
		bands = []GradeBand{}
	}
	*b = bands
	return nil
}
