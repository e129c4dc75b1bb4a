package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fernbooks/ledgercore/internal/auditchain"
	"github.com/fernbooks/ledgercore/internal/ledger"
)

// LedgerHandler exposes the ledger engine over HTTP.
type LedgerHandler struct {
	engine *ledger.Engine
	chain  auditchain.Chain // nil = period lock actions not audited
	logger *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler. chain may be nil.
func NewLedgerHandler(engine *ledger.Engine, chain auditchain.Chain, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{engine: engine, chain: chain, logger: logger}
}

type createAccountRequest struct {
	Code string `json:"code" binding:"required"`
	Name string `json:"name" binding:"required"`
	Type string `json:"type" binding:"required"`
}

// CreateAccount handles POST /v1/tenants/:tenant/accounts.
func (h *LedgerHandler) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
		return
	}

	acct, err := h.engine.CreateAccount(c.Request.Context(), c.Param("tenant"), req.Code, req.Name, ledger.AccountType(req.Type))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": codeInvalidRequest, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, acct)
}

type lineRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Side      string `json:"side" binding:"required"`
}

type postTransactionRequest struct {
	Period string        `json:"period" binding:"required"`
	Lines  []lineRequest `json:"lines" binding:"required"`
}

// PostTransaction handles POST /v1/tenants/:tenant/transactions.
func (h *LedgerHandler) PostTransaction(c *gin.Context) {
	var req postTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
		return
	}
	period, err := ledger.ParsePeriod(req.Period)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
		return
	}

	lines := make([]ledger.Line, 0, len(req.Lines))
	for _, ln := range req.Lines {
		accountID, err := uuid.Parse(ln.AccountID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "invalid account id"})
			return
		}
		amount, err := decimal.NewFromString(ln.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "invalid amount"})
			return
		}
		lines = append(lines, ledger.Line{
			AccountID: accountID,
			Amount:    amount,
			Side:      ledger.Side(ln.Side),
		})
	}

	txn, err := h.engine.PostTransaction(c.Request.Context(), c.Param("tenant"), period, lines)
	if err != nil {
		RecordPosting("rejected")
		writeLedgerError(c, err)
		return
	}
	RecordPosting("committed")
	c.JSON(http.StatusCreated, txn)
}

// GetTransaction handles GET /v1/tenants/:tenant/transactions/:id.
func (h *LedgerHandler) GetTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "invalid transaction id"})
		return
	}
	txn, err := h.engine.GetTransaction(c.Request.Context(), c.Param("tenant"), id)
	if err != nil {
		writeLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// VoidTransaction handles POST /v1/tenants/:tenant/transactions/:id/void.
func (h *LedgerHandler) VoidTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "invalid transaction id"})
		return
	}
	reversal, err := h.engine.VoidTransaction(c.Request.Context(), c.Param("tenant"), id)
	if err != nil {
		RecordPosting("rejected")
		writeLedgerError(c, err)
		return
	}
	RecordPosting("committed")
	c.JSON(http.StatusCreated, reversal)
}

// LockPeriod handles POST /v1/tenants/:tenant/periods/:period/lock
// (operator only; recorded in the release audit chain).
func (h *LedgerHandler) LockPeriod(c *gin.Context) {
	h.setPeriodLock(c, true)
}

// UnlockPeriod handles DELETE /v1/tenants/:tenant/periods/:period/lock
// (operator only; recorded in the release audit chain).
func (h *LedgerHandler) UnlockPeriod(c *gin.Context) {
	h.setPeriodLock(c, false)
}

func (h *LedgerHandler) setPeriodLock(c *gin.Context, locked bool) {
	tenant := c.Param("tenant")
	period, err := ledger.ParsePeriod(c.Param("period"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if locked {
		err = h.engine.LockPeriod(ctx, tenant, period)
	} else {
		err = h.engine.UnlockPeriod(ctx, tenant, period)
	}
	if err != nil {
		writeLedgerError(c, err)
		return
	}

	if h.chain != nil {
		action := auditchain.ActionPeriodLock
		if !locked {
			action = auditchain.ActionPeriodUnlock
		}
		if _, err := h.chain.Append(ctx, action, operatorActor(c), map[string]any{
			"tenant": tenant,
			"period": period.String(),
		}); err != nil {
			h.logger.Error("failed to audit period lock change", zap.Error(err))
		} else {
			RecordChainAppend()
		}
	}
	c.JSON(http.StatusOK, gin.H{"tenant": tenant, "period": period.String(), "locked": locked})
}

// TrialBalance handles GET /v1/tenants/:tenant/trial-balance?as_of=RFC3339.
func (h *LedgerHandler) TrialBalance(c *gin.Context) {
	asOf := time.Now().UTC()
	if raw := c.Query("as_of"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "as_of must be RFC3339"})
			return
		}
		asOf = parsed
	}

	tb, err := h.engine.TrialBalance(c.Request.Context(), c.Param("tenant"), asOf)
	if err != nil {
		writeLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, tb)
}
