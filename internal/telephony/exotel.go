package telephony

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-resty/resty/v2"

	"ecommerce-admin/internal/apperr"
)

const defaultExotelBaseURL = "https://api.exotel.com"

// ExotelClient places calls with the Exotel connect API: a form POST
// authenticated with the API key and token.
type ExotelClient struct {
	http       *resty.Client
	accountSID string
	callerID   string
}

func NewExotelClient(cfg Config) *ExotelClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultExotelBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetBasicAuth(cfg.APIKey, cfg.APIToken).
		SetHeader("Accept", "application/json")
	return &ExotelClient{http: c, accountSID: cfg.AccountSID, callerID: cfg.CallerID}
}

func (c *ExotelClient) Name() string { return "exotel" }

type exotelConnectResponse struct {
	Call struct {
		Sid string `json:"Sid"`
	} `json:"Call"`
	CallSid string `json:"call_sid"`
}

func (c *ExotelClient) PlaceCall(ctx context.Context, phone, callbackURL string) (PlaceResult, error) {
	if strings.TrimSpace(phone) == "" {
		return PlaceResult{}, apperr.ErrMissingPhone
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("sid", c.accountSID).
		SetFormData(map[string]string{
			"From":     c.callerID,
			"To":       phone,
			"CallerId": c.callerID,
			"Url":      callbackURL,
		}).
		Post("/v1/Accounts/{sid}/Calls/connect.json")
	if err != nil {
		return PlaceResult{}, &apperr.TelephonyError{Err: err}
	}

	body := resp.Body()
	if !resp.IsSuccess() {
		return PlaceResult{}, &apperr.TelephonyError{HTTPStatus: resp.StatusCode(), Body: string(body)}
	}

	// A 2xx means the provider accepted the call. A missing id is tolerated:
	// the webhook can still be matched by phone.
	var parsed exotelConnectResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return PlaceResult{Raw: rawJSON(body)}, nil
	}
	sid := parsed.Call.Sid
	if sid == "" {
		sid = parsed.CallSid
	}
	return PlaceResult{ProviderCallID: sid, Raw: rawJSON(body)}, nil
}

// rawJSON keeps body as-is when it is JSON and quotes it otherwise.
func rawJSON(body []byte) json.RawMessage {
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
