package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Redaction strategies understood by RedactAttributes.
const (
	RedactDrop    = "drop"
	RedactMask    = "mask"
	RedactHash    = "hash"
	RedactReplace = "replace"
)

// DefaultRedactions keeps user-supplied text out of exported spans.
var DefaultRedactions = map[string]string{
	"run.query":        RedactHash,
	"task.instruction": RedactHash,
	"task.output":      RedactDrop,
	"review.summary":   RedactDrop,
}

// RedactAttributes applies strategies (attribute key -> strategy) on top of
// DefaultRedactions. Unknown strategies keep the attribute unchanged.
func RedactAttributes(strategies map[string]string, attrs []attribute.KeyValue) []attribute.KeyValue {
	if len(attrs) == 0 {
		return attrs
	}

	redacted := make([]attribute.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		key := string(kv.Key)
		strategy, ok := strategies[key]
		if !ok {
			strategy = DefaultRedactions[key]
		}

		switch strings.ToLower(strategy) {
		case RedactDrop:
			continue
		case RedactMask:
			redacted = append(redacted, attribute.String(key, maskValue(kv.Value.Emit())))
		case RedactHash:
			redacted = append(redacted, attribute.String(key, hashValue(kv.Value.Emit())))
		case RedactReplace:
			redacted = append(redacted, attribute.String(key, "[REDACTED]"))
		default:
			redacted = append(redacted, kv)
		}
	}

	return redacted
}

// maskValue keeps the first and last four characters.
func maskValue(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}

func hashValue(s string) string {
	if s == "" {
		return "[REDACTED:empty]"
	}
	sum := sha256.Sum256([]byte(s))
	return "[REDACTED:sha256:" + hex.EncodeToString(sum[:6]) + "]"
}
