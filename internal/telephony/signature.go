package telephony

import (
	"net/url"
	"strings"

	twclient "github.com/twilio/twilio-go/client"
)

const HeaderTwilioSignature = "X-Twilio-Signature"

// SignatureValidator decides whether a webhook really came from the provider.
type SignatureValidator interface {
	Valid(fullURL string, form url.Values, signature string) bool
}

// TwilioSignature checks X-Twilio-Signature with the account auth token.
type TwilioSignature struct {
	v twclient.RequestValidator
}

func NewTwilioSignature(authToken string) *TwilioSignature {
	return &TwilioSignature{v: twclient.NewRequestValidator(authToken)}
}

func (s *TwilioSignature) Valid(fullURL string, form url.Values, signature string) bool {
	if strings.TrimSpace(signature) == "" {
		return false
	}
	params := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return s.v.Validate(fullURL, params, signature)
}
