// Package codec normalizes message payloads across providers.
//
// Outgoing values are encoded to strings: byte slices as standard base64,
// strings unchanged, anything else as JSON. Incoming strings are decoded by
// detection: base64 first, then JSON, then the raw string.
//
// The detection is lossy. A plain string that happens to be valid base64
// ("true", "1234", "word") decodes to bytes. Callers depend on this
// behavior, so it is kept as is.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
)

var base64Pattern = regexp.MustCompile(`^([A-Za-z0-9+/]{4})*([A-Za-z0-9+/]{4}|[A-Za-z0-9+/]{3}=|[A-Za-z0-9+/]{2}==)$`)

// Encode converts v into its wire string.
func Encode(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return base64.StdEncoding.EncodeToString(val), nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("failed to encode payload: %w", err)
		}
		return string(b), nil
	}
}

// IsBase64 reports whether raw matches the base64 alphabet pattern used by Decode.
func IsBase64(raw string) bool {
	return base64Pattern.MatchString(raw)
}

// Decode converts a wire string back into a value. It never fails:
// input that is neither base64 nor JSON is returned unchanged.
func Decode(raw string) any {
	if IsBase64(raw) {
		if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
			return b
		}
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
