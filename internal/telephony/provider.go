package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Dialer places outbound calls through a telephony provider.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Adapters hold no state and never retry; the job queue owns retries.
// - Failures are *apperr.TelephonyError carrying the provider's raw body.
type Dialer interface {
	Name() string
	PlaceCall(ctx context.Context, phone, callbackURL string) (PlaceResult, error)
}

// PlaceResult is what the provider returned for an accepted placement.
type PlaceResult struct {
	// ProviderCallID is the provider's identifier for the new call. Webhooks
	// for the call carry it back as CallSid.
	ProviderCallID string `json:"provider_call_id"`

	// Raw is the provider response body, kept for audit.
	Raw json.RawMessage `json:"raw,omitempty"`
}

const DefaultTimeout = 15 * time.Second

// Config selects and configures the outbound provider.
type Config struct {
	Provider string // exotel | twilio

	BaseURL    string
	AccountSID string
	APIKey     string
	APIToken   string
	CallerID   string
	Timeout    time.Duration
}

// NewDialer builds the adapter named by cfg.Provider.
func NewDialer(cfg Config) (Dialer, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "exotel":
		return NewExotelClient(cfg), nil
	case "twilio":
		return NewTwilioClient(cfg), nil
	default:
		return nil, fmt.Errorf("telephony: unknown provider %q", cfg.Provider)
	}
}
