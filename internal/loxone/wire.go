package loxone

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// The Miniserver wraps every REST payload in an "LL" envelope:
//
//	{"LL": {"control": "...", "value": ..., "Code": "200"}}
//
// The status code field appears as "code" or "Code" depending on
// firmware, and carries either a string or a number. Older getkey2
// responses put the key directly in value; newer firmware nests it in
// an object under "key".
type envelope struct {
	LL envelopeBody `json:"LL"`
}

type envelopeBody struct {
	Value       json.RawMessage `json:"value"`
	CodeLower   json.RawMessage `json:"code"`
	CodeUpper   json.RawMessage `json:"Code"`
	ControlInfo *controlInfo    `json:"controlInfo"`
}

type controlInfo struct {
	ValidUntil float64 `json:"validUntil"`
}

// parseEnvelope decodes a Miniserver response body.
func parseEnvelope(body []byte) (*envelopeBody, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return &env.LL, nil
}

// statusCode returns the envelope status code normalised to a string,
// or "" when the envelope carries none.
func (b *envelopeBody) statusCode() string {
	for _, raw := range []json.RawMessage{b.CodeLower, b.CodeUpper} {
		if len(raw) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		switch code := v.(type) {
		case string:
			return code
		case float64:
			return strconv.FormatFloat(code, 'f', -1, 64)
		}
	}
	return ""
}

// valueAny returns the envelope value decoded to its natural Go type,
// or nil when absent or undecodable.
func (b *envelopeBody) valueAny() any {
	if len(b.Value) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(b.Value, &v); err != nil {
		return nil
	}
	return v
}

// valueString returns the envelope value as a string. Numeric values
// are formatted; objects and arrays yield ok=false.
func (b *envelopeBody) valueString() (string, bool) {
	switch v := b.valueAny().(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// keyString extracts the one-time key from a getkey2 envelope value,
// accepting both the plain-string and nested-object forms.
func (b *envelopeBody) keyString() (string, bool) {
	if s, ok := b.valueString(); ok && s != "" {
		return s, true
	}

	var obj struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(b.Value, &obj); err != nil {
		return "", false
	}
	if obj.Key != "" {
		return obj.Key, true
	}
	if obj.Value != "" {
		return obj.Value, true
	}
	return "", false
}
