package runtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateLookup(t *testing.T) {
	s := NewState()
	s.Set("count", 2)
	s.Set("name", "triage")

	n, ok := Lookup[int](s, "count")
	assert.True(t, ok)
	assert.Equal(t, 2, n)

	_, ok = Lookup[string](s, "count")
	assert.False(t, ok)

	_, ok = Lookup[int](s, "missing")
	assert.False(t, ok)

	_, ok = Lookup[int](nil, "count")
	assert.False(t, ok)

	name, ok := Lookup[string](s, "name")
	assert.True(t, ok)
	assert.Equal(t, "triage", name)
}

func TestNotifyNilSinkIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		Notify(nil, Event{Kind: EventNodeEntered})
	})
	assert.Nil(t, SerialSink(nil))
}

func TestSerialSinkUnderConcurrency(t *testing.T) {
	var rec Recorder
	sink := SerialSink(&rec)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(step int) {
			defer wg.Done()
			Notify(sink, Event{Kind: EventTaskFinished, Step: step})
		}(i)
	}
	wg.Wait()

	events := rec.Events()
	assert.Len(t, events, 50)
	for _, e := range events {
		assert.False(t, e.Time.IsZero())
	}
	assert.Same(t, sink, SerialSink(sink))
}
