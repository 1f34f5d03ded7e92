// Package signing implements the keyed-hash request signature shared by the
// inbound API boundary and outbound webhook delivery.
//
// A signature is HMAC-SHA256 over "{timestamp}.{body}", where body is the
// JSON document re-serialized with all object keys sorted. Sorting makes the
// signature independent of the key order the caller happened to produce.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/overtonx/paygate/errs"
)

// DefaultTimestampTolerance bounds how far a request timestamp may drift.
const DefaultTimestampTolerance = 5 * time.Minute

// Sign computes the hex-encoded signature of payload with the given secret.
func Sign(payload string, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares a provided signature against the expected one in constant
// time.
func Verify(payload string, signature string, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// BuildPayload produces the canonical "{timestamp}.{body}" string for body,
// which may be raw JSON bytes or any JSON-marshalable value.
func BuildPayload(body any, timestamp string) (string, error) {
	canonical, err := CanonicalJSON(body)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s", timestamp, canonical), nil
}

// CanonicalJSON serializes v as JSON with all object keys sorted,
// recursively. Raw JSON input is normalized the same way.
func CanonicalJSON(v any) (string, error) {
	var decoded any

	switch b := v.(type) {
	case nil:
		return "null", nil
	case []byte:
		if err := json.Unmarshal(b, &decoded); err != nil {
			return "", errs.Wrap(errs.CodeValidation, "body is not valid JSON", err)
		}
	case json.RawMessage:
		if err := json.Unmarshal(b, &decoded); err != nil {
			return "", errs.Wrap(errs.CodeValidation, "body is not valid JSON", err)
		}
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal body: %w", err)
		}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return "", fmt.Errorf("normalize body: %w", err)
		}
	}

	out, err := marshalSorted(decoded)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// marshalSorted writes decoded JSON with deterministic key order.
// encoding/json already sorts map keys, but nested maps arrive as
// map[string]any only after a decode round-trip, which the callers above
// guarantee.
func marshalSorted(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := marshalSorted(t[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			buf = append(buf, vb...)
		}
		return append(buf, '}'), nil
	case []any:
		buf := []byte{'['}
		for i, item := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		return append(buf, ']'), nil
	default:
		return json.Marshal(v)
	}
}

// ValidTimestamp reports whether a unix-seconds timestamp string is within
// tolerance of now.
func ValidTimestamp(timestamp string, tolerance time.Duration, now time.Time) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	diff := now.Unix() - ts
	if diff < 0 {
		diff = -diff
	}
	return diff <= int64(tolerance.Seconds())
}
