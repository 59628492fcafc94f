package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-results-api/internal/models"
	appErrors "github.com/noah-isme/campus-results-api/pkg/errors"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(role models.UserRole, campus string) models.JWTClaims {
	now := time.Now()
	return models.JWTClaims{
		UserID:   "user-1",
		Role:     role,
		CampusID: campus,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "campus-idp",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestValidateTokenSuccess(t *testing.T) {
	svc := NewAuthService(zap.NewNop(), AuthConfig{AccessTokenSecret: testSecret, Issuer: "campus-idp"})
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(models.RoleTeacher, "campus-1"))

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleTeacher, claims.Role)
	assert.Equal(t, "campus-1", claims.CampusID)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewAuthService(zap.NewNop(), AuthConfig{AccessTokenSecret: testSecret, Issuer: "campus-idp"})

	expired := validClaims(models.RoleAdmin, "")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongIssuer := validClaims(models.RoleAdmin, "")
	wrongIssuer.Issuer = "elsewhere"

	unknownRole := validClaims(models.UserRole("JANITOR"), "campus-1")

	cases := map[string]string{
		"garbage":       "not-a-token",
		"wrong secret":  signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims(models.RoleAdmin, "")),
		"wrong alg":     signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims(models.RoleAdmin, "")),
		"expired":       signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired),
		"wrong issuer":  signToken(t, jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer),
		"unknown role":  signToken(t, jwt.SigningMethodHS256, []byte(testSecret), unknownRole),
		"campus absent": signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(models.RoleCampusManager, "")),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
		})
	}
}

func TestValidateTokenGlobalRoleWithoutCampus(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: testSecret})
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(models.RoleDirector, ""))

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleDirector, claims.Role)
}
