package models

// Subject is the read-only projection of a taught subject.
type Subject struct {
	ID          string   `db:"id" json:"id"`
	Name        string   `db:"name" json:"name"`
	Code        string   `db:"code" json:"code"`
	Coefficient *float64 `db:"coefficient" json:"coefficient,omitempty"`
}
