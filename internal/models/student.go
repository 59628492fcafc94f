package models

// Student is the read-only projection of a campus student record.
type Student struct {
	ID        string `db:"id" json:"id"`
	CampusID  string `db:"campus_id" json:"campusId"`
	FirstName string `db:"first_name" json:"firstName"`
	LastName  string `db:"last_name" json:"lastName"`
	Matricule string `db:"matricule" json:"matricule"`
}
