package server

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/handlers"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/middleware"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/api/validation"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/rbac"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository/memory"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/service"
)

const (
	testIssuer = "https://keycloak.test/realms/bpo"
	testKeyID  = "server-test-key"
)

func newTestRouter(t *testing.T, key *rsa.PrivateKey) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	alloc := service.NewAllocator(store, nil, logger)
	overrides := service.NewRoleOverrideService(store, logger)

	h := handlers.NewAPIHandler(
		handlers.NewHealthHandler(
			handlers.ReadinessFunc(func() (string, string) { return "ok", "memory" }),
			handlers.ReadinessFunc(func() (string, string) { return "ok", "jwks" }),
		),
		handlers.Services{
			Projects:      service.NewProjectService(store, logger),
			Processes:     service.NewProcessRegistry(store, nil, logger),
			Requests:      service.NewRequestQueue(store, alloc, nil, nil, logger),
			Verification:  service.NewVerificationGate(store, nil, logger),
			Automation:    service.NewAutomationTracker(store, nil, logger),
			RoleOverrides: overrides,
		},
		logger,
	)

	v, err := validation.New(logger)
	require.NoError(t, err)

	var jwtAuth *middleware.JWTAuth
	if key != nil {
		jwks, err := json.Marshal(map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"kid": testKeyID,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
		require.NoError(t, err)
		kf, err := keyfunc.NewJWKSetJSON(jwks)
		require.NoError(t, err)
		jwtAuth = middleware.NewJWTAuthWithKeyfunc(kf, testIssuer, overrides,
			rbac.GroupMapping{WorkerGroups: []string{"bpo-workers"}}, logger)
	}

	return NewRouter(logger, h, jwtAuth, v)
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, sub, username string, groups []string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":                sub,
		"preferred_username": username,
		"iss":                testIssuer,
		"exp":                jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat":                jwt.NewNumericDate(time.Now()),
		"groups":             groups,
	})
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestRouterPublicEndpoints(t *testing.T) {
	router := newTestRouter(t, generateKey(t))

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestRouterAPIRequiresToken(t *testing.T) {
	router := newTestRouter(t, generateKey(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterAuthenticatedRequest(t *testing.T) {
	key := generateKey(t)
	router := newTestRouter(t, key)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "kc-alice", "alice", []string{"bpo-workers"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var me struct {
		UserID   string `json:"user_id"`
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "kc-alice", me.UserID)
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, rbac.RoleWorker, me.Role)

	// Работник без прав на role overrides
	req = httptest.NewRequest(http.MethodGet, "/api/v1/role-overrides", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "kc-alice", "alice", []string{"bpo-workers"}))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))
}

func TestRouterWithoutJWTStillNeedsActor(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterRecoversFromPanic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handlers.NewAPIHandler(nil, handlers.Services{}, logger)
	router := NewRouter(logger, h, nil, nil)

	// health == nil: обработчик паникует, Recoverer отвечает 500
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
