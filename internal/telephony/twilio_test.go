package telephony

import (
	"context"
	"errors"
	"testing"

	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"ecommerce-admin/internal/apperr"
)

type fakeCalls struct {
	got  *openapi.CreateCallParams
	resp *openapi.ApiV2010Call
	err  error
}

func (f *fakeCalls) CreateCall(p *openapi.CreateCallParams) (*openapi.ApiV2010Call, error) {
	f.got = p
	return f.resp, f.err
}

func TestTwilioClient_PlaceCall(t *testing.T) {
	sid := "CA0001"
	fake := &fakeCalls{resp: &openapi.ApiV2010Call{Sid: &sid}}
	c := &TwilioClient{api: fake, accountSID: "AC1", callerID: "+15550001111"}

	res, err := c.PlaceCall(context.Background(), "+911234567890", "https://shop.example.com/telephony/start")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.ProviderCallID != sid {
		t.Fatalf("unexpected sid %q", res.ProviderCallID)
	}
	if len(res.Raw) == 0 {
		t.Fatalf("expected raw response")
	}
	if fake.got.To == nil || *fake.got.To != "+911234567890" {
		t.Fatalf("unexpected To")
	}
	if fake.got.From == nil || *fake.got.From != "+15550001111" {
		t.Fatalf("unexpected From")
	}
	if fake.got.Url == nil || *fake.got.Url != "https://shop.example.com/telephony/start" {
		t.Fatalf("unexpected Url")
	}
}

func TestTwilioClient_RestErrorKeepsStatus(t *testing.T) {
	fake := &fakeCalls{err: &twclient.TwilioRestError{Status: 400, Code: 21211, Message: "Invalid 'To' Phone Number"}}
	c := &TwilioClient{api: fake, callerID: "+1555"}

	_, err := c.PlaceCall(context.Background(), "+91x", "https://x/start")
	var te *apperr.TelephonyError
	if !errors.As(err, &te) {
		t.Fatalf("expected telephony error, got %v", err)
	}
	if te.HTTPStatus != 400 {
		t.Fatalf("unexpected status %d", te.HTTPStatus)
	}
	if te.Body == "" {
		t.Fatalf("expected provider body")
	}
}

func TestNewDialer(t *testing.T) {
	d, err := NewDialer(Config{Provider: "twilio", AccountSID: "AC1"})
	if err != nil || d.Name() != "twilio" {
		t.Fatalf("unexpected dialer %v %v", d, err)
	}
	d, err = NewDialer(Config{})
	if err != nil || d.Name() != "exotel" {
		t.Fatalf("expected exotel default, got %v %v", d, err)
	}
	if _, err := NewDialer(Config{Provider: "sip"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
