package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fernbooks/ledgercore/internal/ledger"
)

var (
	errDisabled  = errors.New("operator token minting disabled")
	errBadSecret = errors.New("invalid admin secret")
	errBadToken  = errors.New("invalid token signing method")
)

// Stable error codes returned in JSON bodies. Clients branch on these, not
// on message text.
const (
	codeUnbalancedEntry      = "unbalanced-entry"
	codePeriodLocked         = "period-locked"
	codeCrossTenantReference = "cross-tenant-reference"
	codeAlreadyVoid          = "already-void"
	codeNotFound             = "not-found"
	codeInvalidRequest       = "invalid-request"
	codeInternal             = "internal"
)

// writeLedgerError maps engine errors onto HTTP responses with stable codes.
// Invariant violations surface synchronously; nothing is retried here.
func writeLedgerError(c *gin.Context, err error) {
	var ub *ledger.UnbalancedEntryError
	switch {
	case errors.As(err, &ub):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    codeUnbalancedEntry,
			"error":   ub.Error(),
			"debits":  ub.Debits.String(),
			"credits": ub.Credits.String(),
		})
	case errors.Is(err, ledger.ErrPeriodLocked):
		c.JSON(http.StatusConflict, gin.H{"code": codePeriodLocked, "error": err.Error()})
	case errors.Is(err, ledger.ErrCrossTenantReference):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": codeCrossTenantReference, "error": err.Error()})
	case errors.Is(err, ledger.ErrAlreadyVoid):
		c.JSON(http.StatusConflict, gin.H{"code": codeAlreadyVoid, "error": err.Error()})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": codeNotFound, "error": err.Error()})
	case errors.Is(err, ledger.ErrNoLines),
		errors.Is(err, ledger.ErrNonPositiveAmount),
		errors.Is(err, ledger.ErrAmountScale),
		errors.Is(err, ledger.ErrInactiveAccount):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": codeInvalidRequest, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": codeInternal, "error": "internal error"})
	}
}
