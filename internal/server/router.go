// Package server wires the ledger core's HTTP surface: gin handlers for
// postings, period locks, trial balances, the admission control plane, the
// release audit chain, compliance snapshots, and retention evaluation.
package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fernbooks/ledgercore/internal/admission"
	"github.com/fernbooks/ledgercore/internal/auditchain"
	"github.com/fernbooks/ledgercore/internal/ledger"
	"github.com/fernbooks/ledgercore/internal/retention"
	"github.com/fernbooks/ledgercore/internal/snapshot"
)

// Deps carries the collaborators the router needs.
type Deps struct {
	Engine    *ledger.Engine
	Ctrl      *admission.Controller
	Chain     auditchain.Chain
	Builder   *snapshot.Builder
	Evaluator *retention.Evaluator
	Auth      *OperatorAuth
	Tracker   *LoadTracker // nil = no in-flight tracking middleware

	CORSOrigins  []string
	RateLimitRPS int

	Logger *zap.Logger
}

// NewRouter builds the gin engine with all routes and middleware.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(PrometheusMiddleware())
	if d.Tracker != nil {
		r.Use(d.Tracker.Middleware())
	}
	if len(d.CORSOrigins) > 0 {
		cfg := cors.DefaultConfig()
		cfg.AllowOrigins = d.CORSOrigins
		cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", "X-Request-ID")
		r.Use(cors.New(cfg))
	}
	if d.RateLimitRPS > 0 {
		r.Use(RateLimiter(d.RateLimitRPS, d.RateLimitRPS*2))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", MetricsHandler())

	ledgerH := NewLedgerHandler(d.Engine, d.Chain, d.Logger)
	admissionH := NewAdmissionHandler(d.Ctrl, d.Logger)
	chainH := NewChainHandler(d.Chain, d.Logger)
	snapshotH := NewSnapshotHandler(d.Builder, d.Logger)
	retentionH := NewRetentionHandler(d.Evaluator, d.Logger)

	v1 := r.Group("/v1")

	// Token mint for the operator surface.
	v1.POST("/auth/token", func(c *gin.Context) {
		var req struct {
			Secret string `json:"secret" binding:"required"`
			Actor  string `json:"actor" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
			return
		}
		token, err := d.Auth.Mint(req.Secret, req.Actor)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	// Tenant write paths go through the admission gate; reads do not.
	tenant := v1.Group("/tenants/:tenant")
	writes := tenant.Group("")
	writes.Use(AdmissionGate(d.Ctrl))
	writes.POST("/accounts", ledgerH.CreateAccount)
	writes.POST("/transactions", ledgerH.PostTransaction)
	writes.POST("/transactions/:id/void", ledgerH.VoidTransaction)

	tenant.GET("/transactions/:id", ledgerH.GetTransaction)
	tenant.GET("/trial-balance", ledgerH.TrialBalance)

	// Operator surface: authenticated, never admission-gated — operators
	// must be able to act while the kill switch is set.
	operator := v1.Group("")
	operator.Use(d.Auth.RequireOperator())
	operator.POST("/tenants/:tenant/periods/:period/lock", ledgerH.LockPeriod)
	operator.DELETE("/tenants/:tenant/periods/:period/lock", ledgerH.UnlockPeriod)
	operator.POST("/admission/level", admissionH.SetLevel)
	operator.POST("/admission/killswitch", admissionH.SetKillSwitch)
	operator.POST("/chain", chainH.Append)

	v1.GET("/admission", admissionH.Status)
	v1.GET("/chain", chainH.List)
	v1.GET("/chain/verify", chainH.Verify)
	v1.GET("/snapshot", snapshotH.Build)
	v1.POST("/retention/evaluate", retentionH.Evaluate)

	return r
}
