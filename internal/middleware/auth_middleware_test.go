package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/liveclass/internal/auth"
)

func newTestJWT(t *testing.T) *iauth.JWTService {
	t.Helper()
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "secret",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Minute,
	})
	require.NoError(t, err)
	return jwtSvc
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtSvc := newTestJWT(t)

	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: "teacher-123",
		Roles:  []string{iauth.RoleTeacher},
	})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/secure", Auth(jwtSvc), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString(CtxUserIDKey)})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "teacher-123", payload["user_id"])
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtSvc := newTestJWT(t)

	r := gin.New()
	r.POST("/admin", Auth(jwtSvc), RequireRole(iauth.RoleAdmin, iauth.RoleTeacher), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		name  string
		roles []string
		want  int
	}{
		{name: "teacher", roles: []string{iauth.RoleTeacher}, want: http.StatusNoContent},
		{name: "admin lowercase", roles: []string{"admin"}, want: http.StatusNoContent},
		{name: "student", roles: []string{iauth.RoleStudent}, want: http.StatusForbidden},
		{name: "no roles", want: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{UserID: "u-1", Roles: tc.roles})
			require.NoError(t, err)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			r.ServeHTTP(w, req)
			require.Equal(t, tc.want, w.Code)
		})
	}
}
