package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.EqualError(t, err, "jwt: secret must be provided")
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	svc, err := NewJWTService(JWTConfig{
		Secret:         "super-secret",
		Issuer:         "identity",
		Audience:       "liveclass",
		AccessTokenTTL: time.Hour,
		Clock:          func() time.Time { return current },
	})
	require.NoError(t, err)

	roles := []string{RoleTeacher}
	token, err := svc.GenerateAccessToken(AccessTokenInput{UserID: "T1", Name: "Ada", Roles: roles})
	require.NoError(t, err)

	roles[0] = RoleAdmin

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "T1", claims.UserID)
	require.Equal(t, "Ada", claims.Name)
	require.Equal(t, "identity", claims.Issuer)
	require.Equal(t, jwt.ClaimStrings{"liveclass"}, claims.Audience)
	require.True(t, claims.HasRole("teacher"))
	require.False(t, claims.HasRole(RoleAdmin))
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))
}

func TestValidateAccessTokenFallsBackToSubject(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: "secret"})
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "U1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "U1", claims.UserID)
}

func TestValidateAccessTokenRejections(t *testing.T) {
	current := time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	issuer, err := NewJWTService(JWTConfig{Secret: "issuer-secret", Issuer: "identity", AccessTokenTTL: time.Minute, Clock: now})
	require.NoError(t, err)
	token, err := issuer.GenerateAccessToken(AccessTokenInput{UserID: "U1"})
	require.NoError(t, err)

	otherSecret, err := NewJWTService(JWTConfig{Secret: "other-secret", Clock: now})
	require.NoError(t, err)
	_, err = otherSecret.ValidateAccessToken(token)
	require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	otherIssuer, err := NewJWTService(JWTConfig{Secret: "issuer-secret", Issuer: "someone-else", Clock: now})
	require.NoError(t, err)
	_, err = otherIssuer.ValidateAccessToken(token)
	require.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	wrongAudience, err := NewJWTService(JWTConfig{Secret: "issuer-secret", Audience: "billing", Clock: now})
	require.NoError(t, err)
	_, err = wrongAudience.ValidateAccessToken(token)
	require.ErrorIs(t, err, jwt.ErrTokenInvalidAudience)

	current = current.Add(2 * time.Minute)
	_, err = issuer.ValidateAccessToken(token)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = issuer.ValidateAccessToken("")
	require.Error(t, err)
}
