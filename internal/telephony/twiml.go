package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Voice documents are a minimal Exotel/Twilio markup builder. It avoids any
// provider SDK dependency; both providers accept the same verbs used here.

type voiceResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type voiceSay struct {
	XMLName  xml.Name `xml:"Say"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type voiceGather struct {
	XMLName   xml.Name `xml:"Gather"`
	Action    string   `xml:"action,attr"`
	Method    string   `xml:"method,attr"`
	NumDigits int      `xml:"numDigits,attr"`
	Timeout   int      `xml:"timeout,attr"`
}

// MenuConfig is the spoken menu and where the keypress is posted.
type MenuConfig struct {
	Language      string
	Prompt        string
	ActionURL     string
	GatherTimeout int // seconds
}

// RenderMenu builds the call script: the prompt followed by a one-digit
// gather that posts to ActionURL.
func RenderMenu(cfg MenuConfig) (string, error) {
	if strings.TrimSpace(cfg.ActionURL) == "" {
		return "", errors.New("telephony: gather action url required")
	}
	timeout := cfg.GatherTimeout
	if timeout <= 0 {
		timeout = 8
	}
	r := voiceResponse{Verbs: []any{
		voiceSay{Language: cfg.Language, Text: cfg.Prompt},
		voiceGather{Action: cfg.ActionURL, Method: "POST", NumDigits: 1, Timeout: timeout},
	}}
	return encodeVoice(r)
}

// RenderAck builds the two-node acknowledgment sent for every webhook.
func RenderAck(text string) string {
	out, err := encodeVoice(voiceResponse{Verbs: []any{voiceSay{Text: text}}})
	if err != nil {
		// only reachable if encoding/xml rejects a plain struct
		return xml.Header + "<Response></Response>"
	}
	return out
}

func encodeVoice(r voiceResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
