package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"ecommerce-admin/internal/apperr"
)

// callCreator is the slice of the Twilio REST API the adapter uses.
type callCreator interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
}

// TwilioClient places calls through the Twilio REST API. The call fetches
// its voice menu from callbackURL.
type TwilioClient struct {
	api        callCreator
	accountSID string
	callerID   string
}

func NewTwilioClient(cfg Config) *TwilioClient {
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   cfg.APIKey,
		Password:   cfg.APIToken,
		AccountSid: cfg.AccountSID,
	})
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rc.SetTimeout(timeout)
	return &TwilioClient{api: rc.Api, accountSID: cfg.AccountSID, callerID: cfg.CallerID}
}

func (c *TwilioClient) Name() string { return "twilio" }

func (c *TwilioClient) PlaceCall(ctx context.Context, phone, callbackURL string) (PlaceResult, error) {
	if strings.TrimSpace(phone) == "" {
		return PlaceResult{}, apperr.ErrMissingPhone
	}
	if err := ctx.Err(); err != nil {
		return PlaceResult{}, &apperr.TelephonyError{Err: err}
	}

	params := &openapi.CreateCallParams{}
	if c.accountSID != "" {
		params.SetPathAccountSid(c.accountSID)
	}
	params.SetFrom(c.callerID)
	params.SetTo(phone)
	params.SetUrl(callbackURL)
	params.SetMethod("POST")

	call, err := c.api.CreateCall(params)
	if err != nil {
		var rest *twclient.TwilioRestError
		if errors.As(err, &rest) {
			body, _ := json.Marshal(rest)
			return PlaceResult{}, &apperr.TelephonyError{HTTPStatus: rest.Status, Body: string(body), Err: err}
		}
		return PlaceResult{}, &apperr.TelephonyError{Err: err}
	}

	raw, _ := json.Marshal(call)
	out := PlaceResult{Raw: raw}
	if call != nil && call.Sid != nil {
		out.ProviderCallID = *call.Sid
	}
	return out, nil
}
