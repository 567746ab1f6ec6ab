package telemetry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestRedactAttributesAppliesDefaultsAndOverrides(t *testing.T) {
	attrs := []attribute.KeyValue{
		attribute.String("task.instruction", "list open incidents"),
		attribute.String("task.output", "INC0001 is open"),
		attribute.String("user.email", "person@example.com"),
		attribute.String("task.target", "servicenow"),
	}

	filtered := RedactAttributes(map[string]string{"user.email": RedactMask}, attrs)
	require.Len(t, filtered, 3)

	got := map[string]string{}
	for _, kv := range filtered {
		got[string(kv.Key)] = kv.Value.AsString()
	}

	assert.True(t, strings.HasPrefix(got["task.instruction"], "[REDACTED:sha256:"))
	assert.NotContains(t, got["task.instruction"], "incidents")
	assert.Equal(t, "pers***.com", got["user.email"])
	assert.Equal(t, "servicenow", got["task.target"])
	_, present := got["task.output"]
	assert.False(t, present)
}

func TestRedactAttributesOverrideCanKeepDefaultKey(t *testing.T) {
	attrs := []attribute.KeyValue{attribute.String("run.query", "hello")}

	filtered := RedactAttributes(map[string]string{"run.query": "keep"}, attrs)

	require.Len(t, filtered, 1)
	assert.Equal(t, "hello", filtered[0].Value.AsString())
}

func TestHashValueIsDeterministic(t *testing.T) {
	assert.Equal(t, hashValue("abc"), hashValue("abc"))
	assert.NotEqual(t, hashValue("abc"), hashValue("abd"))
	assert.Equal(t, "[REDACTED:empty]", hashValue(""))
}
