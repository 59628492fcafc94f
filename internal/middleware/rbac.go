package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-results-api/internal/models"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
	"github.com/noah-isme/campus-results-api/pkg/response"
)

// SelfAccess lets a STUDENT principal through when the :id path parameter
// is their own id.
const SelfAccess = "SELF"

// RBAC enforces role-based access control for routes.
func RBAC(allowed ...string) gin.HandlerFunc {
	allowSelf := false
	allowedRoles := make(map[models.UserRole]struct{}, len(allowed))
	for _, a := range allowed {
		if a == SelfAccess {
			allowSelf = true
			continue
		}
		allowedRoles[models.UserRole(a)] = struct{}{}
	}

	return func(c *gin.Context) {
		value, exists := c.Get(ContextUserKey)
		claims, ok := value.(*models.JWTClaims)
		if !exists || !ok || claims == nil {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}

		if _, ok := allowedRoles[claims.Role]; ok {
			c.Next()
			return
		}

		if allowSelf && claims.Role == models.RoleStudent {
			if targetID := c.Param("id"); targetID != "" && targetID == claims.UserID {
				c.Next()
				return
			}
		}

		response.Abort(c, appErrors.ErrForbidden)
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}

// RequireManager admits campus managers and the global roles.
func RequireManager() gin.HandlerFunc {
	return RequireRoles(models.ManagerRoles...)
}

// RequireStaff admits teachers and every manager role.
func RequireStaff() gin.HandlerFunc {
	return RequireRoles(append([]models.UserRole{models.RoleTeacher}, models.ManagerRoles...)...)
}
