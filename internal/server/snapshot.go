package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fernbooks/ledgercore/internal/retention"
	"github.com/fernbooks/ledgercore/internal/snapshot"
)

// SnapshotHandler exposes compliance snapshot builds.
type SnapshotHandler struct {
	builder *snapshot.Builder
	logger  *zap.Logger
}

// NewSnapshotHandler creates a SnapshotHandler.
func NewSnapshotHandler(builder *snapshot.Builder, logger *zap.Logger) *SnapshotHandler {
	return &SnapshotHandler{builder: builder, logger: logger}
}

// Build handles GET /v1/snapshot.
func (h *SnapshotHandler) Build(c *gin.Context) {
	snap, err := h.builder.Build(c.Request.Context())
	if err != nil {
		h.logger.Error("snapshot build failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": codeInternal, "error": "internal error"})
		return
	}
	RecordSnapshot()
	c.JSON(http.StatusOK, snap)
}

// RetentionHandler exposes retention evaluation.
type RetentionHandler struct {
	evaluator *retention.Evaluator
	logger    *zap.Logger
}

// NewRetentionHandler creates a RetentionHandler.
func NewRetentionHandler(evaluator *retention.Evaluator, logger *zap.Logger) *RetentionHandler {
	return &RetentionHandler{evaluator: evaluator, logger: logger}
}

type evaluateRequest struct {
	RecordID  string    `json:"record_id" binding:"required"`
	CreatedAt time.Time `json:"created_at" binding:"required"`
}

// Evaluate handles POST /v1/retention/evaluate. The response is always a
// decision, never an error from the legal-hold authority: ambiguity has
// already been absorbed into a retain outcome.
func (h *RetentionHandler) Evaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
		return
	}

	out := h.evaluator.Evaluate(c.Request.Context(), retention.Record{
		ID:        req.RecordID,
		CreatedAt: req.CreatedAt,
	})
	c.JSON(http.StatusOK, out)
}
