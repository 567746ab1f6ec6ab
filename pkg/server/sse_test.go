package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeSSEEvent(t *testing.T) {
	got := SerializeSSEEvent(&SSEEvent{ID: "3", Event: EventResult, Data: []byte("line one\nline two")})
	assert.Equal(t, "event: result\nid: 3\ndata: line one\ndata: line two\n\n", string(got))

	assert.Equal(t, "data: \n\n", string(SerializeSSEEvent(&SSEEvent{})))
	assert.Empty(t, SerializeSSEEvent(nil))
}

func TestParseSSEEvent(t *testing.T) {
	evt, err := ParseSSEEvent([]byte("event: progress\r\nid: 7\r\n: keepalive\r\ndata: {\"a\":1}\r\ndata:second\r\nretry: 10\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "progress", evt.Event)
	assert.Equal(t, "7", evt.ID)
	assert.Equal(t, "{\"a\":1}\nsecond", string(evt.Data))

	_, err = ParseSSEEvent(nil)
	assert.Error(t, err)
}

func TestParseSSEStreamRoundTrip(t *testing.T) {
	var wire strings.Builder
	wire.WriteString(": comment only\n\n")
	wire.Write(SerializeSSEEvent(&SSEEvent{ID: "1", Event: EventProgress, Data: []byte(`{"kind":"node_entered"}`)}))
	wire.Write(SerializeSSEEvent(&SSEEvent{ID: "2", Event: EventResult, Data: []byte("## Servicenow\nINC1")}))
	wire.WriteString("event: trailing\ndata: no blank line")

	var events []*SSEEvent
	for evt := range ParseSSEStream(strings.NewReader(wire.String())) {
		events = append(events, evt)
	}

	require.Len(t, events, 3)
	assert.Equal(t, EventProgress, events[0].Event)
	assert.Equal(t, "## Servicenow\nINC1", string(events[1].Data))
	assert.Equal(t, "trailing", events[2].Event)
	assert.Equal(t, "no blank line", string(events[2].Data))
}
