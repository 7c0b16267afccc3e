package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slothbar/slothvote/config"
	"github.com/Slothbar/slothvote/pkg/utils"
)

func newTestRouter(t *testing.T, cfg config.AuthConfig) (*gin.Engine, *JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtSvc := NewJWTService("secret", 1)
	h := NewHandler(cfg, jwtSvc, nil)
	r := gin.New()
	r.POST("/auth/login", h.Login)
	r.POST("/auth/participants", h.IssueParticipantToken)
	return r, jwtSvc
}

func post(r *gin.Engine, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeToken(t *testing.T, w *httptest.ResponseRecorder) TokenResponse {
	t.Helper()
	var body struct {
		Data TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Data
}

func TestLogin(t *testing.T) {
	hash, err := utils.HashPassword("hunter2")
	require.NoError(t, err)
	r, jwtSvc := newTestRouter(t, config.AuthConfig{AdminUsername: "admin", AdminPasswordHash: hash})

	w := post(r, "/auth/login", LoginRequest{Username: "admin", Password: "hunter2"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tok := decodeToken(t, w)
	assert.Equal(t, "admin", tok.Role)

	claims, err := jwtSvc.Validate(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.UserID)

	w = post(r, "/auth/login", LoginRequest{Username: "admin", Password: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(r, "/auth/login", LoginRequest{Username: "root", Password: "hunter2"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginNotConfigured(t *testing.T) {
	r, _ := newTestRouter(t, config.AuthConfig{AdminUsername: "admin"})
	w := post(r, "/auth/login", LoginRequest{Username: "admin", Password: "x"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestIssueParticipantToken(t *testing.T) {
	hash, err := utils.HashPassword("gateway-key")
	require.NoError(t, err)
	r, _ := newTestRouter(t, config.AuthConfig{GatewayKeyHash: hash})

	w := post(r, "/auth/participants", ParticipantTokenRequest{UserID: "tg-42"}, map[string]string{GatewayKeyHeader: "gateway-key"})
	require.Equal(t, http.StatusOK, w.Code)
	tok := decodeToken(t, w)
	assert.Equal(t, "tg-42", tok.UserID)
	assert.Equal(t, "participant", tok.Role)

	w = post(r, "/auth/participants", ParticipantTokenRequest{UserID: "tg-42"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(r, "/auth/participants", map[string]string{}, map[string]string{GatewayKeyHeader: "gateway-key"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
