package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/api/handler"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/config"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/security"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/skill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *security.JWTManager) {
	t.Helper()
	jwt := security.NewJWTManager("router-secret", "test", time.Hour, domain.TierOpenSource)
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	router := NewRouter(&config.Config{}, Dependencies{
		Auth:      jwt,
		WebSocket: ws,
		Skills:    skill.NewRegistry(),
		Ready:     map[string]handler.Pinger{},
	})
	return router, jwt
}

func TestRouter_PublicRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/health", "/ready", "/api/v1/health"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("Content-Type"), path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRouter_SkillsRequireAuth(t *testing.T) {
	router, jwt := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/skills", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/skills", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwt.GenerateAccessToken("u1", "t1", domain.TierTeams)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/skills?category=nlp", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
