package main

import (
	"context"
	"net/http"

	"ecommerce-admin/internal/audit"
	"ecommerce-admin/internal/auth"
	"ecommerce-admin/internal/config"
	"ecommerce-admin/internal/httpapi"
	"ecommerce-admin/internal/ivr"
	"ecommerce-admin/internal/metrics"
	"ecommerce-admin/internal/otp"
	"ecommerce-admin/internal/queue"
	"ecommerce-admin/internal/rbac"
	"ecommerce-admin/internal/reporting"
	"ecommerce-admin/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	cfg        config.Config
	auth       *auth.Manager
	calls      *ivr.Service
	correlator *ivr.Correlator
	otp        *otp.Service
	audit      *audit.Service
	reports    *reporting.Service
	jobs       *queue.Queue
	metrics    *metrics.Metrics
	ready      func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := d.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(d.metrics.Handler()))

	// Provider-facing voice endpoints. Always public; the keypress callback
	// answers 200 even when the signature check fails.
	{
		wh := telephony.WebhookHandler{
			Dtmf: d.correlator,
			Menu: telephony.MenuConfig{
				Language:      d.cfg.IVR.Language,
				Prompt:        d.cfg.IVR.PromptText,
				ActionURL:     d.cfg.WebhookURL(),
				GatherTimeout: d.cfg.IVR.GatherTimeout,
			},
			AckText:       d.cfg.IVR.AckText,
			PublicBaseURL: d.cfg.Telephony.PublicBaseURL,
		}
		if d.cfg.Telephony.ValidateSignature {
			wh.Validator = telephony.NewTwilioSignature(d.cfg.Telephony.APIToken)
		}
		tel := r.Group("/telephony")
		tel.GET("/start", wh.Start)
		tel.POST("/start", wh.Start)
		tel.POST("/webhook", wh.Webhook)
	}

	h := httpapi.Handlers{
		Calls:   d.calls,
		OTP:     d.otp,
		Reports: d.reports,
		Audit:   d.audit,
		Jobs:    d.jobs,
	}

	// AUTH routes (token issuance).
	otpGroup := r.Group("/auth/otp")
	{
		otpGroup.POST("/send", h.SendOTP)
		otpGroup.POST("/verify", h.VerifyOTP)
	}

	authMW := auth.RequireAccessToken(d.auth)

	// ORDER CALL routes
	// Support staff can read reports but only admins move calls.
	ordersGroup := r.Group("/orders/:orderNumber")
	ordersGroup.Use(authMW, rbac.RequireAnyRole(rbac.RoleAdmin))
	{
		ordersGroup.POST("/schedule-call", h.ScheduleCall)
		ordersGroup.POST("/cancel-call", h.CancelCall)
		ordersGroup.POST("/trigger-call", h.TriggerCall)
	}

	// ADMIN routes
	admin := r.Group("/admin")
	admin.Use(authMW, rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleSupport))
	{
		admin.GET("/calls/summary", h.CallsSummary)
		admin.GET("/queue", h.QueueStatus)
	}
}
