package server

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SSE event names written on a run stream.
const (
	EventProgress = "progress"
	EventResult   = "result"
	EventError    = "error"
)

// SSEEvent is one server-sent event.
type SSEEvent struct {
	ID    string `json:"id,omitempty"`
	Event string `json:"event,omitempty"`
	Data  []byte `json:"data"`
}

// SerializeSSEEvent converts an SSEEvent to wire format.
func SerializeSSEEvent(event *SSEEvent) []byte {
	if event == nil {
		return []byte{}
	}

	var buffer bytes.Buffer
	if event.Event != "" {
		buffer.WriteString("event: ")
		buffer.WriteString(event.Event)
		buffer.WriteString("\n")
	}
	if event.ID != "" {
		buffer.WriteString("id: ")
		buffer.WriteString(event.ID)
		buffer.WriteString("\n")
	}

	// Multi-line data becomes one data field per line.
	for _, line := range strings.Split(string(event.Data), "\n") {
		buffer.WriteString("data: ")
		buffer.WriteString(line)
		buffer.WriteString("\n")
	}

	buffer.WriteString("\n")
	return buffer.Bytes()
}

// ParseSSEEvent parses a single event block. Comment lines and unknown fields
// are ignored.
func ParseSSEEvent(data []byte) (*SSEEvent, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty SSE event data")
	}

	event := &SSEEvent{}
	var dataLines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event.Event = value
		case "id":
			event.ID = value
		case "data":
			dataLines = append(dataLines, value)
		}
	}
	if len(dataLines) > 0 {
		event.Data = []byte(strings.Join(dataLines, "\n"))
	}
	return event, nil
}

// ParseSSEStream reads events from r until EOF. The channel is closed when
// the reader is exhausted.
func ParseSSEStream(r io.Reader) <-chan *SSEEvent {
	events := make(chan *SSEEvent, 10)

	go func() {
		defer close(events)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		var block bytes.Buffer
		flush := func() {
			if block.Len() == 0 {
				return
			}
			if event, err := ParseSSEEvent(block.Bytes()); err == nil &&
				(len(event.Data) > 0 || event.Event != "" || event.ID != "") {
				events <- event
			}
			block.Reset()
		}

		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				flush()
				continue
			}
			block.WriteString(line)
			block.WriteString("\n")
		}
		flush()
	}()

	return events
}

// sseWriter writes events to a streaming response.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	seq     int
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) write(event string, data []byte) error {
	s.seq++
	frame := SerializeSSEEvent(&SSEEvent{ID: fmt.Sprint(s.seq), Event: event, Data: data})
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
