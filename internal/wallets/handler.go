package wallets

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Slothbar/slothvote/internal/middleware"
	"github.com/Slothbar/slothvote/internal/models"
	"github.com/Slothbar/slothvote/pkg/response"
)

// Registrar registers wallets and notifies the participant.
type Registrar interface {
	RegisterWallet(ctx context.Context, userID, address, messageRef string) (models.Wallet, error)
	Wallet(userID string) (models.Wallet, error)
}

// RegisterRequest is the body for POST /wallets.
type RegisterRequest struct {
	Address string `json:"address" binding:"required"`
	// MessageRef is the gateway's id of the message that carried the address. It is
	// deleted best-effort so the address does not stay in a group chat.
	MessageRef string `json:"message_ref"`
}

// Handler handles wallet HTTP endpoints.
type Handler struct {
	svc    Registrar
	logger *zap.Logger
}

// NewHandler creates a wallets handler.
func NewHandler(svc Registrar, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register handles POST /wallets.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	w, err := h.svc.RegisterWallet(c.Request.Context(), middleware.UserID(c), req.Address, req.MessageRef)
	switch {
	case errors.Is(err, ErrInvalidWalletFormat):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrAlreadyRegistered):
		response.Conflict(c, err.Error())
	case err != nil:
		h.logger.Error("register wallet", zap.Error(err))
		response.Internal(c, "failed to register wallet")
	default:
		response.Created(c, w)
	}
}

// Me handles GET /wallets/me.
func (h *Handler) Me(c *gin.Context) {
	w, err := h.svc.Wallet(middleware.UserID(c))
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.OK(c, w)
}
