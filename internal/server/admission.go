package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fernbooks/ledgercore/internal/admission"
)

// AdmissionGate returns a Gin middleware that asks the controller before
// letting a write request through. A shed gets 429 with Retry-After so
// clients back off; a kill-switch rejection gets 503. Both carry the
// verdict so callers can distinguish them from authorization failures.
func AdmissionGate(ctrl *admission.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		corr := c.GetHeader("X-Request-ID")
		if corr == "" {
			corr = uuid.NewString()
		}
		c.Header("X-Request-ID", corr)

		decision := ctrl.Decide(c.Request.Context(), admission.ReqContext{
			CorrelationID: corr,
			TenantID:      c.Param("tenant"),
			Actor:         c.ClientIP(),
		})
		RecordDecision(string(decision.Verdict), decision.ReasonCode)
		c.Set("admission_decision", decision)

		switch decision.Verdict {
		case admission.VerdictRejectKillSwitch:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"verdict": decision.Verdict,
				"reason":  decision.ReasonCode,
				"level":   decision.LevelName,
			})
		case admission.VerdictShed:
			c.Header("Retry-After", "5")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"verdict": decision.Verdict,
				"reason":  decision.ReasonCode,
				"level":   decision.LevelName,
			})
		default:
			c.Next()
		}
	}
}

// AdmissionHandler exposes the admission control surface.
type AdmissionHandler struct {
	ctrl   *admission.Controller
	logger *zap.Logger
}

// NewAdmissionHandler creates an AdmissionHandler.
func NewAdmissionHandler(ctrl *admission.Controller, logger *zap.Logger) *AdmissionHandler {
	return &AdmissionHandler{ctrl: ctrl, logger: logger}
}

// Status handles GET /v1/admission.
func (h *AdmissionHandler) Status(c *gin.Context) {
	capacity := h.ctrl.Capacity()
	c.JSON(http.StatusOK, gin.H{
		"level":          h.ctrl.Level().String(),
		"kill_switch":    h.ctrl.KillSwitch(),
		"max_in_flight":  capacity.MaxInFlight,
		"max_error_rate": capacity.MaxErrorRate,
	})
}

type setLevelRequest struct {
	Level  string `json:"level" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// SetLevel handles POST /v1/admission/level (operator only).
func (h *AdmissionHandler) SetLevel(c *gin.Context) {
	var req setLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
		return
	}
	level, err := admission.ParseLevel(req.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
		return
	}

	actor := operatorActor(c)
	if err := h.ctrl.SetLevel(c.Request.Context(), level, actor, req.Reason); err != nil {
		status := http.StatusInternalServerError
		if err == admission.ErrTransitionRateLimited {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"level": level.String()})
}

type killSwitchRequest struct {
	On     *bool  `json:"on" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// SetKillSwitch handles POST /v1/admission/killswitch (operator only).
func (h *AdmissionHandler) SetKillSwitch(c *gin.Context) {
	var req killSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
		return
	}

	actor := operatorActor(c)
	if err := h.ctrl.SetKillSwitch(c.Request.Context(), *req.On, actor, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kill_switch": *req.On})
}
