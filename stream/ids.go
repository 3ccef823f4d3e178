package stream

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// Server-assigned ids are opaque tokens with one load-bearing property:
// a "greater" id is strictly newer. The engine never does arithmetic on ids,
// only comparison, so alternate id schemes are handled by swapping the
// comparator.

// returns <0 if a is older than b, 0 if equal, >0 if a is newer than b
type IdComparator func(a string, b string) int

// CompareIds orders ids from the backends this engine connects to.
// All-digit ids of any width (snowflakes) compare numerically.
// Anything else (fixed-width flake ids, ulids) compares lexically.
func CompareIds(a string, b string) int {
	if isDigits(a) && isDigits(b) {
		if len(a) != len(b) {
			if len(a) < len(b) {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i += 1 {
		if s[i] < '0' || '9' < s[i] {
			return false
		}
	}
	return true
}

// instance ids identify one physical session for logging. ulids are ordered
// by create time, so reconnect sequences sort naturally in log output.
func NewInstanceId() string {
	return ulid.Make().String()
}
