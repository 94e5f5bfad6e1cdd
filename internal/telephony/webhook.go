package telephony

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// DtmfWebhook is the keypress callback a provider posts after the Gather step.
// Exotel and Twilio both send application/x-www-form-urlencoded with the same
// field names.
type DtmfWebhook struct {
	ProviderCallID string
	Digits         string
	From           string
	To             string
	CallStatus     string

	// Raw is every posted field, kept for the call record's payload log.
	Raw json.RawMessage
	// Form is the parsed POST body, used for signature checks.
	Form url.Values
}

// ParseDtmfWebhook reads the webhook form. Missing fields are left empty; the
// correlator decides what an incomplete webhook means.
func ParseDtmfWebhook(r *http.Request) (DtmfWebhook, error) {
	if err := r.ParseForm(); err != nil {
		return DtmfWebhook{}, err
	}
	form := r.PostForm
	if len(form) == 0 {
		// Gather can be configured with method=GET
		form = r.Form
	}
	w := DtmfWebhook{
		ProviderCallID: strings.TrimSpace(form.Get("CallSid")),
		Digits:         strings.TrimSpace(form.Get("Digits")),
		From:           normalizePhone(form.Get("From")),
		To:             normalizePhone(form.Get("To")),
		CallStatus:     form.Get("CallStatus"),
		Form:           form,
	}
	w.Raw = rawForm(form)
	return w, nil
}

// Providers sometimes quote numbers or send "anonymous"; only whitespace and
// the quoting are stripped so fallback lookups compare like with like.
func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	return s
}

func rawForm(form url.Values) json.RawMessage {
	flat := make(map[string]string, len(form))
	for k, v := range form {
		flat[k] = strings.Join(v, ",")
	}
	raw, _ := json.Marshal(flat)
	return raw
}
