package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/club-chat/pkg/jwt"
	"github.com/weiawesome/club-chat/pkg/log"
)

func newRouter(t *testing.T) (*gin.Engine, *jwt.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := jwt.NewManager("secret", "club", time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", NewAuthMiddleware(m).RequireAuth(), func(c *gin.Context) {
		p := GetParticipant(c)
		c.JSON(http.StatusOK, gin.H{
			"id":    p.ID,
			"class": p.Class,
			"name":  p.DisplayName,
			"area":  p.Area,
		})
	})
	return r, m
}

func TestRequireAuth(t *testing.T) {
	r, m := newRouter(t)
	token, err := m.GenerateToken("pro-7", "Ana", "professional", "medical")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"id":"pro-7","class":"professional","name":"Ana","area":"medical"}`, rec.Body.String())
			}
		})
	}
}

func TestRequireAuth_TagsRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := jwt.NewManager("secret", "club", time.Hour)
	require.NoError(t, err)
	token, err := m.GenerateToken("player-3", "Juan", "player", "")
	require.NoError(t, err)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(log.GinMiddleware(log.New(log.Config{Level: "info", Output: &buf})))
	r.GET("/me", NewAuthMiddleware(m).RequireAuth(), func(c *gin.Context) {
		l := log.Ctx(c.Request.Context())
		l.Info().Msg("inside handler")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(AuthHeaderKey, BearerPrefix+token)
	r.ServeHTTP(httptest.NewRecorder(), req)

	line, _, _ := strings.Cut(buf.String(), "\n")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "inside handler", entry["message"])
	assert.Equal(t, "player-3", entry[log.FieldUserID])
	assert.Equal(t, "player", entry[log.FieldSenderClass])
}
