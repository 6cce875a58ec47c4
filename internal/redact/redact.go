// Package redact strips secret material from free-text fields and
// metadata bags before they are persisted. The store applies it to
// every incident, alert, and turn-metadata insert so that credentials
// never reach disk even when a caller passes them through by accident.
package redact

import (
	"regexp"
)

// Placeholder replaces any value or substring judged secret.
const Placeholder = "[REDACTED]"

var (
	// secretKeyPattern matches metadata keys whose values are always
	// secret, regardless of content.
	secretKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|private[_-]?key|passphrase|authorization|secret|token|ciphertext|salt|^iv$|^tag$|signature)`)

	// bearerPattern matches inline HTTP bearer credentials.
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._~+/=-]+`)

	// hexKeyPattern matches 32-byte hex blobs, the shape of raw
	// private keys and signatures on EVM-style chains.
	hexKeyPattern = regexp.MustCompile(`0x[0-9a-fA-F]{64}`)

	// headerPattern matches named header forms like "x-nonce: abc"
	// or "signature=deadbeef".
	headerPattern = regexp.MustCompile(`(?i)\b(nonce|signature)\s*[:=]\s*[^\s,;"']+`)
)

// SecretKey reports whether a metadata key names secret material.
func SecretKey(key string) bool {
	return secretKeyPattern.MatchString(key)
}

// String scrubs inline secret substrings from free text.
func String(s string) string {
	s = bearerPattern.ReplaceAllString(s, Placeholder)
	s = hexKeyPattern.ReplaceAllString(s, Placeholder)
	s = headerPattern.ReplaceAllStringFunc(s, func(m string) string {
		i := 0
		for i < len(m) && m[i] != ':' && m[i] != '=' {
			i++
		}
		if i == len(m) {
			return Placeholder
		}
		return m[:i+1] + " " + Placeholder
	})
	return s
}

// Map returns a deep copy of m with secret-keyed values replaced and
// string values scrubbed. The input is never mutated.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if SecretKey(k) {
			out[k] = Placeholder
			continue
		}
		out[k] = value(v)
	}
	return out
}

func value(v any) any {
	switch t := v.(type) {
	case string:
		return String(t)
	case map[string]any:
		return Map(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = value(e)
		}
		return out
	default:
		return v
	}
}
