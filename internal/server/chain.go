package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fernbooks/ledgercore/internal/auditchain"
)

// ChainHandler exposes the release audit chain.
type ChainHandler struct {
	chain  auditchain.Chain
	logger *zap.Logger
}

// NewChainHandler creates a ChainHandler.
func NewChainHandler(chain auditchain.Chain, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{chain: chain, logger: logger}
}

// List handles GET /v1/chain?offset=&limit=.
func (h *ChainHandler) List(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := h.chain.List(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
		return
	}
	root, err := h.chain.Root(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": codeInternal, "error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "root": root})
}

// Verify handles GET /v1/chain/verify. A mismatch is an integrity
// compromise: reported with the failing detail, never retried.
func (h *ChainHandler) Verify(c *gin.Context) {
	if err := h.chain.Verify(c.Request.Context()); err != nil {
		h.logger.Error("chain verification FAILED", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"intact": false, "error": err.Error()})
		return
	}
	n, _ := h.chain.Len(c.Request.Context())
	root, _ := h.chain.Root(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"intact": true, "entries": n, "root": root})
}

type appendRequest struct {
	Action  string         `json:"action" binding:"required"`
	Content map[string]any `json:"content"`
}

// Append handles POST /v1/chain (operator only): records an operational
// action such as a deploy or rollback.
func (h *ChainHandler) Append(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
		return
	}

	entry, err := h.chain.Append(c.Request.Context(), auditchain.Action(req.Action), operatorActor(c), req.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": codeInternal, "error": err.Error()})
		return
	}
	RecordChainAppend()
	c.JSON(http.StatusCreated, entry)
}
