package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ecommerce-admin/internal/apperr"
	"ecommerce-admin/internal/audit"
	"ecommerce-admin/internal/auth"
	"ecommerce-admin/internal/calls"
	"ecommerce-admin/internal/ivr"
	"ecommerce-admin/internal/otp"
	"ecommerce-admin/internal/queue"
	"ecommerce-admin/internal/reporting"
	"ecommerce-admin/pkg/logger"
)

// CallScheduler is the order-call surface the admin endpoints drive.
type CallScheduler interface {
	ScheduleCall(ctx context.Context, req ivr.ScheduleRequest) (ivr.ScheduleResult, error)
	TriggerNow(ctx context.Context, orderNumber, createdBy string) (ivr.ScheduleResult, error)
	CancelCall(ctx context.Context, orderNumber string) (ivr.CancelResult, error)
}

// JobInspector exposes queue state to operators.
type JobInspector interface {
	Stats(ctx context.Context) (queue.Stats, error)
	Failed(ctx context.Context, limit int) ([]queue.FailedJob, error)
}

type OTPService interface {
	Send(ctx context.Context, req otp.SendRequest) (otp.SendResult, error)
	Verify(ctx context.Context, req otp.VerifyRequest) (otp.VerifyResult, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls   CallScheduler
	OTP     OTPService
	Reports *reporting.Service
	Jobs    JobInspector
	// Audit is optional; failures are logged and never fail the request.
	Audit *audit.Service
	Now   func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// writeError maps the error taxonomy to {"error": kind, "message": text}.
// Internal errors are logged and their text is not exposed.
func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.Kind(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "kind", kind, "err", err)
		if kind == "internal" {
			msg = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": kind, "message": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": msg})
}

// --- Order calls ---

// maxDelayMs is the largest delay that still fits a time.Duration.
const maxDelayMs = math.MaxInt64 / int64(time.Millisecond)

type scheduleCallRequest struct {
	DelayMs     *int64     `json:"delayMs"`
	ScheduledAt *time.Time `json:"scheduledAt"`
}

// ScheduleCall schedules a confirmation call for the order. The body carries
// either delayMs or an RFC3339 scheduledAt; a scheduledAt in the past fires
// immediately.
func (h Handlers) ScheduleCall(c *gin.Context) {
	orderNumber := strings.TrimSpace(c.Param("orderNumber"))
	var req scheduleCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}

	var delay time.Duration
	switch {
	case req.DelayMs != nil:
		if *req.DelayMs < 0 || *req.DelayMs > maxDelayMs {
			badRequest(c, "delayMs must be between 0 and "+strconv.FormatInt(maxDelayMs, 10))
			return
		}
		delay = time.Duration(*req.DelayMs) * time.Millisecond
	case req.ScheduledAt != nil:
		// Sub saturates at the largest Duration instead of wrapping.
		delay = req.ScheduledAt.Sub(h.now())
		if delay >= time.Duration(math.MaxInt64) {
			badRequest(c, "scheduledAt is too far in the future")
			return
		}
		delay = max(delay, 0)
	default:
		badRequest(c, "delayMs or scheduledAt required")
		return
	}

	actor := actorFrom(c)
	res, err := h.Calls.ScheduleCall(c.Request.Context(), ivr.ScheduleRequest{
		OrderNumber: orderNumber,
		Delay:       delay,
		CreatedBy:   actor.UserID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	h.audit(c, audit.EventTypeCallScheduled, actor, orderNumber, res.Call.ID, "confirmation call scheduled",
		map[string]any{"delayMs": delay.Milliseconds(), "jobId": res.JobID})
	c.JSON(http.StatusOK, res)
}

// CancelCall cancels the order's pending or active call.
func (h Handlers) CancelCall(c *gin.Context) {
	orderNumber := strings.TrimSpace(c.Param("orderNumber"))
	actor := actorFrom(c)

	res, err := h.Calls.CancelCall(c.Request.Context(), orderNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	callID := ""
	if res.Call != nil {
		callID = res.Call.ID
	}
	h.audit(c, audit.EventTypeCallCancelled, actor, orderNumber, callID, "confirmation call cancelled", nil)
	c.JSON(http.StatusOK, res)
}

// TriggerCall places a manual call for the order right away.
func (h Handlers) TriggerCall(c *gin.Context) {
	orderNumber := strings.TrimSpace(c.Param("orderNumber"))
	actor := actorFrom(c)

	res, err := h.Calls.TriggerNow(c.Request.Context(), orderNumber, actor.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.audit(c, audit.EventTypeCallTriggered, actor, orderNumber, res.Call.ID, "manual call enqueued",
		map[string]any{"jobId": res.JobID})
	c.JSON(http.StatusOK, res)
}

func actorFrom(c *gin.Context) audit.Actor {
	id, _ := auth.IdentityFrom(c.Request.Context())
	return audit.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
}

func (h Handlers) audit(c *gin.Context, typ audit.EventType, actor audit.Actor, orderNumber, callID, msg string, meta map[string]any) {
	if h.Audit == nil {
		return
	}
	metadata := ""
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			metadata = string(b)
		}
	}
	if err := h.Audit.LogCallAction(c.Request.Context(), typ, actor, orderNumber, callID, msg, metadata); err != nil {
		logger.FromGin(c).Warn("audit append failed", "type", typ, "order_number", orderNumber, "err", err)
	}
}

// --- Reports ---

// CallsSummary reports call outcomes for records created in [from, to).
// Both bounds are RFC3339; the default window is the last 24 hours.
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "reporting not configured"})
		return
	}
	to := h.now().UTC()
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "to must be RFC3339")
			return
		}
		to = t
	}
	from := to.Add(-24 * time.Hour)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "from must be RFC3339")
			return
		}
		from = t
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range: reporting.TimeRange{From: from, To: to},
		Type:  calls.CallType(c.Query("type")),
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		badRequest(c, "from must be before to and the range at most 92 days")
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Queue ---

type failedJobView struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"lastError,omitempty"`
	FailedAt  time.Time       `json:"failedAt"`
}

// QueueStatus reports job counts per state and the most recent failed jobs
// (?limit, default 20, at most 200).
func (h Handlers) QueueStatus(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			badRequest(c, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	st, err := h.Jobs.Stats(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	failed, err := h.Jobs.Failed(ctx, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]failedJobView, 0, len(failed))
	for _, f := range failed {
		v := failedJobView{ID: f.ID, Attempts: f.Attempts, LastError: f.LastError, FailedAt: f.FailedAt}
		if json.Valid(f.Payload) {
			v.Payload = f.Payload
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{
		"delayed": st.Delayed,
		"waiting": st.Waiting,
		"active":  st.Active,
		"failed":  st.Failed,
		"recent":  views,
	})
}

// --- OTP ---

func (h Handlers) SendOTP(c *gin.Context) {
	var req otp.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	res, err := h.OTP.Send(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) VerifyOTP(c *gin.Context) {
	var req otp.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	res, err := h.OTP.Verify(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
