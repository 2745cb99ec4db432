package observability

import (
	"encoding/json"
	"strings"
)

// sensitiveKeySubstrings marks any JSON key containing one of these
// fragments for redaction. The list covers generic credential names plus
// the headers this gateway actually sends: provider API keys and the
// search API's subscription token.
var sensitiveKeySubstrings = []string{
	"api_key", "apikey", "api-key",
	"authorization", "auth",
	"token", "secret", "password", "bearer",
	"subscription",
}

// RedactJSON replaces values under credential-shaped keys with a
// placeholder, recursively. Payloads that fail to parse are returned
// untouched rather than dropped, so a malformed body still gets logged.
func RedactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	b, err := json.Marshal(redactValue(v))
	if err != nil {
		return raw
	}
	return b
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, vv := range val {
			if isSensitiveKey(k) {
				val[k] = "[REDACTED]"
				continue
			}
			val[k] = redactValue(vv)
		}
		return val
	case []any:
		for i := range val {
			val[i] = redactValue(val[i])
		}
		return val
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	low := strings.ToLower(k)
	for _, frag := range sensitiveKeySubstrings {
		if strings.Contains(low, frag) {
			return true
		}
	}
	return false
}
