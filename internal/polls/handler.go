package polls

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Slothbar/slothvote/internal/middleware"
	"github.com/Slothbar/slothvote/internal/models"
	"github.com/Slothbar/slothvote/pkg/response"
)

// NewPoll is the admin input for a new cycle. MinAmount, in base units, overrides the
// configured payment amount when positive.
type NewPoll struct {
	Question    string
	Options     []string
	Description string
	MinAmount   int64
}

// Status is the public view of the poll lifecycle.
type Status struct {
	Active      bool                      `json:"active"`
	Generation  uint64                    `json:"generation"`
	Cycle       *models.PollCycle         `json:"poll,omitempty"`
	Requirement models.PaymentRequirement `json:"payment"`
	Amount      string                    `json:"amount"`
}

// Service is the admission side the poll endpoints drive.
type Service interface {
	Status() Status
	CreatePoll(ctx context.Context, actor string, in NewPoll) (models.PollCycle, error)
	ResetCycle(ctx context.Context, actor string) (models.PollCycle, bool)
	Results() (models.PollTally, error)
}

// Announcer broadcasts a plain-text notice to every connected participant.
type Announcer interface {
	Announce(text string)
}

// AmountParser converts a display amount ("0.5") to base units.
type AmountParser func(s string) (int64, error)

// CreateRequest is the body for POST /poll.
type CreateRequest struct {
	Question    string   `json:"question" binding:"required"`
	Options     []string `json:"options" binding:"required"`
	Description string   `json:"description"`
	// Amount is optional and uses display units, e.g. "2.5".
	Amount string `json:"amount"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	svc         Service
	announcer   Announcer
	parseAmount AmountParser
	logger      *zap.Logger
}

// NewHandler creates a polls handler. announcer may be nil.
func NewHandler(svc Service, announcer Announcer, parseAmount AmountParser, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, announcer: announcer, parseAmount: parseAmount, logger: logger}
}

// Get handles GET /poll.
func (h *Handler) Get(c *gin.Context) {
	response.OK(c, h.svc.Status())
}

// Create handles POST /poll (admin).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in := NewPoll{Question: req.Question, Options: req.Options, Description: req.Description}
	if req.Amount != "" && h.parseAmount != nil {
		amount, err := h.parseAmount(req.Amount)
		if err != nil || amount <= 0 {
			response.BadRequest(c, "invalid amount")
			return
		}
		in.MinAmount = amount
	}

	cycle, err := h.svc.CreatePoll(c.Request.Context(), middleware.UserID(c), in)
	switch {
	case errors.Is(err, ErrInvalidOptions), errors.Is(err, ErrEmptyQuestion):
		response.BadRequest(c, err.Error())
		return
	case errors.Is(err, ErrAlreadyActive):
		response.Conflict(c, err.Error())
		return
	case err != nil:
		h.logger.Error("create poll", zap.Error(err))
		response.Internal(c, "failed to create poll")
		return
	}
	if h.announcer != nil {
		h.announcer.Announce("A new poll is open: " + cycle.Question + ". Pay and request verification to vote.")
	}
	response.Created(c, cycle)
}

// Reset handles POST /poll/reset (admin). It always succeeds.
func (h *Handler) Reset(c *gin.Context) {
	prev, had := h.svc.ResetCycle(c.Request.Context(), middleware.UserID(c))
	if had && h.announcer != nil {
		h.announcer.Announce("The poll \"" + prev.Question + "\" has closed.")
	}
	out := gin.H{"reset": true, "had_poll": had}
	if had {
		out["poll_id"] = prev.ID
	}
	response.OK(c, out)
}

// Results handles GET /poll/results (admin).
func (h *Handler) Results(c *gin.Context) {
	tally, err := h.svc.Results()
	if errors.Is(err, ErrNoActivePoll) {
		response.Conflict(c, err.Error())
		return
	}
	if err != nil {
		response.Internal(c, "failed to load results")
		return
	}
	response.OK(c, tally)
}
