package auth

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Slothbar/slothvote/config"
	"github.com/Slothbar/slothvote/internal/models"
	"github.com/Slothbar/slothvote/pkg/response"
	"github.com/Slothbar/slothvote/pkg/utils"
)

// GatewayKeyHeader carries the messaging gateway's shared key.
const GatewayKeyHeader = "X-Gateway-Key"

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ParticipantTokenRequest is the body for POST /auth/participants.
type ParticipantTokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	cfg    config.AuthConfig
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(cfg config.AuthConfig, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{cfg: cfg, jwt: jwt, logger: logger}
}

// Login handles POST /auth/login for the poll administrator.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if h.cfg.AdminPasswordHash == "" {
		response.ServiceUnavailable(c, "admin login is not configured")
		return
	}
	if req.Username != h.cfg.AdminUsername || !utils.CheckPassword(req.Password, h.cfg.AdminPasswordHash) {
		h.logger.Warn("admin login rejected", zap.String("username", req.Username), zap.String("client_ip", c.ClientIP()))
		response.Unauthorized(c, "invalid username or password")
		return
	}
	h.issue(c, req.Username, models.RoleAdmin)
}

// IssueParticipantToken handles POST /auth/participants. The messaging gateway calls it
// to mint a token for one of its users; the user id is opaque to this service.
func (h *Handler) IssueParticipantToken(c *gin.Context) {
	if h.cfg.GatewayKeyHash == "" {
		response.ServiceUnavailable(c, "gateway key is not configured")
		return
	}
	if !utils.CheckPassword(c.GetHeader(GatewayKeyHeader), h.cfg.GatewayKeyHash) {
		response.Unauthorized(c, "invalid gateway key")
		return
	}
	var req ParticipantTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.issue(c, req.UserID, models.RoleParticipant)
}

func (h *Handler) issue(c *gin.Context, userID string, role models.Role) {
	token, err := h.jwt.Generate(userID, string(role))
	if err != nil {
		h.logger.Error("generate token", zap.Error(err))
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, UserID: userID, Role: string(role)})
}
