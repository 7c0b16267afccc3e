package admission

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Slothbar/slothvote/internal/ledger"
	"github.com/Slothbar/slothvote/internal/middleware"
	"github.com/Slothbar/slothvote/internal/polls"
	"github.com/Slothbar/slothvote/pkg/response"
)

// VoteRequest is the body for POST /poll/vote. Option is the zero-based index.
type VoteRequest struct {
	Option *int `json:"option" binding:"required"`
}

// Handler handles verification and voting endpoints.
type Handler struct {
	gate   *Gate
	logger *zap.Logger
}

// NewHandler creates an admission handler.
func NewHandler(gate *Gate, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{gate: gate, logger: logger}
}

// Verify handles POST /admission/verify.
func (h *Handler) Verify(c *gin.Context) {
	res, err := h.gate.RequestVerificationInline(c.Request.Context(), middleware.UserID(c))
	switch res.Outcome {
	case OutcomeAdmittedAndServed, OutcomeAlreadyAdmitted:
		response.OK(c, res)
	case OutcomeNotRegistered, OutcomeNoPollActive, OutcomePaymentNotFound:
		response.Conflict(c, string(res.Outcome))
	case OutcomeLedgerError:
		if err != nil && !errors.Is(err, ledger.ErrUnavailable) {
			h.logger.Warn("verification failed", zap.Error(err))
		}
		response.ServiceUnavailable(c, string(res.Outcome))
	default:
		response.ServiceUnavailable(c, string(OutcomeDeliveryFailed))
	}
}

// Vote handles POST /poll/vote.
func (h *Handler) Vote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	err := h.gate.CastVote(c.Request.Context(), middleware.UserID(c), *req.Option)
	switch {
	case errors.Is(err, ErrInvalidOption):
		response.BadRequest(c, err.Error())
	case errors.Is(err, polls.ErrNoActivePoll), errors.Is(err, ErrNotServed), errors.Is(err, ErrAlreadyVoted):
		response.Conflict(c, err.Error())
	case err != nil:
		response.Internal(c, "failed to record vote")
	default:
		response.OK(c, gin.H{"option": *req.Option})
	}
}
