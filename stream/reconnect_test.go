package stream

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestReconnectBackoffMonotonicity(t *testing.T) {
	reconnect := NewReconnect(100*time.Millisecond, 4)

	// for N consecutive failures the delay before attempt N+1 is
	// non-decreasing and bounded by the ceiling
	previous := time.Duration(0)
	for i := 0; i < 20; i += 1 {
		timeout := reconnect.NextTimeout()
		assert.Equal(t, previous <= timeout, true)
		assert.Equal(t, timeout <= reconnect.MaxTimeout(), true)
		previous = timeout
	}

	// held at the ceiling
	assert.Equal(t, previous, reconnect.MaxTimeout())
	assert.Equal(t, previous, 1600*time.Millisecond)
}

func TestReconnectReset(t *testing.T) {
	reconnect := NewReconnect(100*time.Millisecond, 4)

	assert.Equal(t, reconnect.NextTimeout(), 100*time.Millisecond)
	assert.Equal(t, reconnect.NextTimeout(), 200*time.Millisecond)
	assert.Equal(t, reconnect.NextTimeout(), 400*time.Millisecond)

	// a successful connection restarts the sequence at the base
	reconnect.Reset()
	assert.Equal(t, reconnect.NextTimeout(), 100*time.Millisecond)
}
