package stream

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCompareIds(t *testing.T) {
	// snowflakes compare numerically across widths
	assert.Equal(t, CompareIds("9", "10") < 0, true)
	assert.Equal(t, CompareIds("10", "9") > 0, true)
	assert.Equal(t, CompareIds("100", "100"), 0)
	assert.Equal(t, CompareIds("109362036336558080", "109362036336558081") < 0, true)

	// fixed-width flake ids compare lexically
	assert.Equal(t, CompareIds("AV6XDxHdFel5mXVFkK", "AV6XDxHdFel5mXVFkL") < 0, true)
	assert.Equal(t, CompareIds("AV6XDxHdFel5mXVFkL", "AV6XDxHdFel5mXVFkK") > 0, true)

	// mixed schemes fall back to lexical rather than failing
	assert.Equal(t, CompareIds("9", "AV6") < 0, true)
}

func TestInstanceIdOrder(t *testing.T) {
	// ulids from the same source are ordered by create time; reconnect
	// sequences sort naturally in logs
	a := NewInstanceId()
	for i := 0; i < 4096; i++ {
		b := NewInstanceId()
		assert.Equal(t, a < b, true)
		a = b
	}
}
