package auth

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureKey = "signature"
	TimestampKey = "timestamp"
)

// Sign computes the request signature over params with secret.
//
// Keys are sorted, each pair is rendered as ("key", "value") with Go quoting,
// the renderings are concatenated, the secret is appended and the result is
// hashed with SHA-1. Any existing "signature" entry is ignored.
// Empty params hash the secret alone; no placeholder such as "None" is inserted.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == SignatureKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "(%q, %q)", k, params[k])
	}
	b.WriteString(secret)

	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether params carries a valid signature for secret. The
// signature must match the lowercase hex output of Sign exactly.
func Verify(params map[string]string, secret string) bool {
	claimed, ok := params[SignatureKey]
	if !ok || claimed == "" {
		return false
	}
	want := Sign(params, secret)
	return subtle.ConstantTimeCompare([]byte(claimed), []byte(want)) == 1
}

// Stringify renders a payload value the way it is fed to Sign.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		// Values that encode as JSON strings (named string types, times)
		// are signed unquoted, as the client reads them.
		var str string
		if json.Unmarshal(b, &str) == nil {
			return str
		}
		return string(b)
	}
}

// SignedEnvelope returns a copy of payload with "timestamp" and "signature"
// added. The signature covers every stringified payload field plus the
// timestamp.
func SignedEnvelope(payload map[string]any, secret string, now time.Time) map[string]any {
	out := make(map[string]any, len(payload)+2)
	params := make(map[string]string, len(payload)+1)
	for k, v := range payload {
		if k == SignatureKey || k == TimestampKey {
			continue
		}
		out[k] = v
		params[k] = Stringify(v)
	}
	ts := now.UTC().Format(time.RFC3339Nano)
	out[TimestampKey] = ts
	params[TimestampKey] = ts
	out[SignatureKey] = Sign(params, secret)
	return out
}

// SignParams returns a copy of params with a timestamp (if missing) and a
// signature, ready to be sent as query or form values.
func SignParams(params map[string]string, secret string, now time.Time) map[string]string {
	out := make(map[string]string, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	if out[TimestampKey] == "" {
		out[TimestampKey] = now.UTC().Format(time.RFC3339Nano)
	}
	out[SignatureKey] = Sign(out, secret)
	return out
}
