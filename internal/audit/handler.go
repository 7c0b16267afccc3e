package audit

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Slothbar/slothvote/internal/models"
	"github.com/Slothbar/slothvote/pkg/response"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Reader is the read side of the audit log.
type Reader interface {
	ListAdmissions(ctx context.Context, cycleID uuid.UUID, limit int) ([]models.Admission, error)
	ListCycleArchives(ctx context.Context, limit int) ([]ArchiveRecord, error)
}

// Handler serves the admin audit endpoints.
type Handler struct {
	repo   Reader
	logger *zap.Logger
}

// NewHandler creates an audit handler.
func NewHandler(repo Reader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Admissions handles GET /audit/cycles/:id/admissions (admin).
func (h *Handler) Admissions(c *gin.Context) {
	cycleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid cycle id")
		return
	}
	list, err := h.repo.ListAdmissions(c.Request.Context(), cycleID, limit(c))
	if err != nil {
		h.logger.Error("list admissions", zap.String("cycle_id", cycleID.String()), zap.Error(err))
		response.Internal(c, "failed to list admissions")
		return
	}
	response.OK(c, list)
}

// Archives handles GET /audit/cycles (admin).
func (h *Handler) Archives(c *gin.Context) {
	list, err := h.repo.ListCycleArchives(c.Request.Context(), limit(c))
	if err != nil {
		h.logger.Error("list cycle archives", zap.Error(err))
		response.Internal(c, "failed to list cycle archives")
		return
	}
	response.OK(c, list)
}

func limit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
