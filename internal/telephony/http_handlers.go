package telephony

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ecommerce-admin/pkg/logger"
)

// DtmfHandler applies a keypress to the call and order state.
type DtmfHandler interface {
	HandleDtmf(ctx context.Context, w DtmfWebhook) error
}

// WebhookHandler serves the provider-facing endpoints: the call script and
// the keypress callback.
//
// No business logic here. The keypress callback always answers 200 with the
// acknowledgment document; providers retry anything else indefinitely.
type WebhookHandler struct {
	Dtmf DtmfHandler
	Menu MenuConfig
	// AckText is spoken after a keypress was received.
	AckText string

	// Validator, when set, rejects (silently, with the usual ack) webhooks
	// whose signature does not match PublicBaseURL + request path.
	Validator     SignatureValidator
	PublicBaseURL string
}

// Start serves the voice menu for GET and POST.
func (h WebhookHandler) Start(c *gin.Context) {
	log := logger.FromGin(c)

	doc, err := RenderMenu(h.Menu)
	if err != nil {
		log.Error("voice menu render failed", "err", err)
		// still answer with a document so the call does not error out
		h.writeXML(c, RenderAck(h.AckText))
		return
	}
	h.writeXML(c, doc)
}

// Webhook receives the keypress and delegates correlation.
func (h WebhookHandler) Webhook(c *gin.Context) {
	log := logger.FromGin(c)
	ack := RenderAck(h.AckText)

	w, err := ParseDtmfWebhook(c.Request)
	if err != nil {
		log.Warn("dtmf webhook parse failed", "err", err)
		h.writeXML(c, ack)
		return
	}

	if h.Validator != nil {
		full := strings.TrimRight(h.PublicBaseURL, "/") + c.Request.URL.RequestURI()
		if !h.Validator.Valid(full, w.Form, c.GetHeader(HeaderTwilioSignature)) {
			log.Warn("dtmf webhook signature mismatch", "call_sid", w.ProviderCallID)
			h.writeXML(c, ack)
			return
		}
	}

	if h.Dtmf == nil {
		log.Error("dtmf handler not configured", "call_sid", w.ProviderCallID)
		h.writeXML(c, ack)
		return
	}

	ctx := logger.With(c.Request.Context(), log)
	if err := h.Dtmf.HandleDtmf(ctx, w); err != nil {
		log.Error("dtmf webhook handling failed", "call_sid", w.ProviderCallID, "err", err)
	}
	h.writeXML(c, ack)
}

func (h WebhookHandler) writeXML(c *gin.Context, doc string) {
	c.Header("Content-Type", "text/xml; charset=utf-8")
	c.String(http.StatusOK, doc)
}
