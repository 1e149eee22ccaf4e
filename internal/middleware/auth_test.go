package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/pkg/jwt"
)

func protectedRouter(svc *jwt.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(JWTAuth(svc))
	r.GET("/me", func(c *gin.Context) {
		userID, ok := MustUserID(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "role": c.GetString(ctxRole)})
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	svc := jwt.New("test-secret", time.Hour)
	valid, err := svc.GenerateToken(42, "client")
	require.NoError(t, err)
	expired, err := jwt.New("test-secret", -time.Minute).GenerateToken(42, "client")
	require.NoError(t, err)
	foreign, err := jwt.New("other-secret", time.Hour).GenerateToken(42, "client")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		want   string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, `"user_id":42`},
		{"scheme is case insensitive", "bearer " + valid, http.StatusOK, `"role":"client"`},
		{"missing header", "", http.StatusUnauthorized, "AUTH_HEADER_MISSING"},
		{"basic auth", "Basic dGVzdA==", http.StatusUnauthorized, "INVALID_AUTH_FORMAT"},
		{"empty token", "Bearer ", http.StatusUnauthorized, "INVALID_AUTH_FORMAT"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"signed elsewhere", "Bearer " + foreign, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized, "INVALID_TOKEN"},
	}
	r := protectedRouter(svc)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestMustUserID_WithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/open", func(c *gin.Context) {
		if _, ok := MustUserID(c); ok {
			t.Fatal("expected no user")
		}
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
}
