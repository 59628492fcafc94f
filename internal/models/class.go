package models

// Class is the read-only projection of a campus class.
type Class struct {
	ID       string `db:"id" json:"id"`
	CampusID string `db:"campus_id" json:"campusId"`
	Name     string `db:"name" json:"name"`
}
