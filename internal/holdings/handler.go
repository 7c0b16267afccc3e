// Package holdings answers whether a wallet holds the configured token.
package holdings

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Slothbar/slothvote/config"
	"github.com/Slothbar/slothvote/internal/ledger"
	"github.com/Slothbar/slothvote/internal/wallets"
	"github.com/Slothbar/slothvote/pkg/response"
)

// BalanceSource reads token balances from the ledger.
type BalanceSource interface {
	TokenBalance(ctx context.Context, account, tokenID string) (int64, error)
}

// Result is the holdings check response.
type Result struct {
	Wallet  string `json:"wallet"`
	TokenID string `json:"token_id"`
	Balance int64  `json:"balance"`
	Amount  string `json:"amount"`
	Holder  bool   `json:"holder"`
}

// Handler handles GET /holdings/:wallet.
type Handler struct {
	source   BalanceSource
	tokenID  string
	decimals int32
	logger   *zap.Logger
}

// NewHandler creates a holdings handler for tokenID.
func NewHandler(source BalanceSource, tokenID string, decimals int32, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{source: source, tokenID: tokenID, decimals: decimals, logger: logger}
}

// Check handles GET /holdings/:wallet.
func (h *Handler) Check(c *gin.Context) {
	addr, err := wallets.ParseAddress(c.Param("wallet"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if h.tokenID == "" {
		response.ServiceUnavailable(c, "no token is configured")
		return
	}

	balance, err := h.source.TokenBalance(c.Request.Context(), addr.String(), h.tokenID)
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		response.NotFound(c, err.Error())
		return
	case err != nil:
		h.logger.Warn("token balance lookup failed", zap.String("wallet", addr.String()), zap.Error(err))
		response.ServiceUnavailable(c, "ledger unavailable")
		return
	}
	response.OK(c, Result{
		Wallet:  addr.String(),
		TokenID: h.tokenID,
		Balance: balance,
		Amount:  config.FormatAmount(balance, h.decimals),
		Holder:  balance > 0,
	})
}
