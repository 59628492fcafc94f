package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin         UserRole = "ADMIN"
	RoleDirector      UserRole = "DIRECTOR"
	RoleCampusManager UserRole = "CAMPUS_MANAGER"
	RoleTeacher       UserRole = "TEACHER"
	RoleStudent       UserRole = "STUDENT"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleDirector, RoleCampusManager, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// IsGlobal is true for roles with cross-campus reach.
func (r UserRole) IsGlobal() bool {
	return r == RoleAdmin || r == RoleDirector
}

// IsManager is true for roles allowed to publish, archive and validate.
func (r UserRole) IsManager() bool {
	return r.IsGlobal() || r == RoleCampusManager
}

// ManagerRoles lists every role that counts as a manager.
var ManagerRoles = []UserRole{RoleAdmin, RoleDirector, RoleCampusManager}

// GlobalRoles lists the cross-campus roles.
var GlobalRoles = []UserRole{RoleAdmin, RoleDirector}

// JWTClaims represents the JWT payload for access tokens. It is the request
// principal: UserID is the teacher id for TEACHER and the student id for STUDENT.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	CampusID string   `json:"campus_id,omitempty"`
	jwt.RegisteredClaims
}
