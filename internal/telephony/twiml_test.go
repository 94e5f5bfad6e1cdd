package telephony

import (
	"strings"
	"testing"
)

func TestRenderMenu(t *testing.T) {
	doc, err := RenderMenu(MenuConfig{
		Language:  "hi-IN",
		Prompt:    "Press 1 to cancel. Press 2 to confirm.",
		ActionURL: "https://shop.example.com/telephony/webhook",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		`<Say language="hi-IN">Press 1 to cancel. Press 2 to confirm.</Say>`,
		`<Gather action="https://shop.example.com/telephony/webhook" method="POST" numDigits="1" timeout="8">`,
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("expected %q in xml: %s", want, doc)
		}
	}
}

func TestRenderMenuRequiresAction(t *testing.T) {
	if _, err := RenderMenu(MenuConfig{Prompt: "hi"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderAck(t *testing.T) {
	doc := RenderAck("Thanks & goodbye")
	if !strings.HasPrefix(doc, "<?xml") {
		t.Fatalf("expected xml header: %s", doc)
	}
	if !strings.Contains(doc, "<Response>") || !strings.Contains(doc, "<Say>Thanks &amp; goodbye</Say>") {
		t.Fatalf("unexpected ack: %s", doc)
	}
}
