package service

import (
	"github.com/noah-isme/campus-results-api/internal/models"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
)

// requirePrincipal fails with Unauthorized when no principal is attached.
func requirePrincipal(p *models.JWTClaims) error {
	if p == nil || p.UserID == "" || !p.Role.Valid() {
		return appErrors.ErrUnauthorized
	}
	return nil
}

// requireManager allows ADMIN, DIRECTOR and CAMPUS_MANAGER.
func requireManager(p *models.JWTClaims) error {
	if err := requirePrincipal(p); err != nil {
		return err
	}
	if !p.Role.IsManager() {
		return appErrors.Clone(appErrors.ErrForbidden, "manager role required")
	}
	return nil
}

// requireGlobal allows ADMIN and DIRECTOR.
func requireGlobal(p *models.JWTClaims) error {
	if err := requirePrincipal(p); err != nil {
		return err
	}
	if !p.Role.IsGlobal() {
		return appErrors.Clone(appErrors.ErrForbidden, "administrator or director role required")
	}
	return nil
}

// requireStaff allows managers and teachers.
func requireStaff(p *models.JWTClaims) error {
	if err := requirePrincipal(p); err != nil {
		return err
	}
	if !p.Role.IsManager() && p.Role != models.RoleTeacher {
		return appErrors.ErrForbidden
	}
	return nil
}

// ResolveCampusScope turns a principal and an optional requested campus into
// the campus filter to apply. An empty result means no restriction and is only
// ever returned for global roles.
func ResolveCampusScope(p *models.JWTClaims, requested string) (string, error) {
	if err := requirePrincipal(p); err != nil {
		return "", err
	}
	if p.Role.IsGlobal() {
		return requested, nil
	}
	if p.CampusID == "" {
		return "", appErrors.Clone(appErrors.ErrForbidden, "principal has no campus")
	}
	if requested != "" && requested != p.CampusID {
		return "", appErrors.Clone(appErrors.ErrForbidden, "campus outside of principal scope")
	}
	return p.CampusID, nil
}

// campusFor resolves the single campus a write targets.
func campusFor(p *models.JWTClaims, requested string) (string, error) {
	campus, err := ResolveCampusScope(p, requested)
	if err != nil {
		return "", err
	}
	if campus == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "campus is required")
	}
	return campus, nil
}

// inScope reports whether a campus-owned row is visible to the principal.
func inScope(p *models.JWTClaims, campusID string) bool {
	return p != nil && (p.Role.IsGlobal() || (p.CampusID != "" && p.CampusID == campusID))
}
