package stream

import (
	"sync"
	"time"
)

// Reconnect schedules the wait before the next connection attempt.
// The delay starts at the base timeout, doubles on each consecutive failure
// for a bounded number of steps, then holds at the ceiling. A successful
// connection resets the sequence.
type Reconnect struct {
	baseTimeout time.Duration
	maxSteps    int

	stateLock      sync.Mutex
	failedAttempts int
}

func NewReconnect(baseTimeout time.Duration, maxSteps int) *Reconnect {
	return &Reconnect{
		baseTimeout: baseTimeout,
		maxSteps:    maxSteps,
	}
}

// the delay for the next attempt. Each call counts one failed attempt.
func (self *Reconnect) NextTimeout() time.Duration {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	steps := self.failedAttempts
	if self.maxSteps < steps {
		steps = self.maxSteps
	}
	self.failedAttempts += 1

	return self.baseTimeout << uint(steps)
}

func (self *Reconnect) After() <-chan time.Time {
	return time.After(self.NextTimeout())
}

func (self *Reconnect) Reset() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.failedAttempts = 0
}

// the delay ceiling, for observability and tests
func (self *Reconnect) MaxTimeout() time.Duration {
	return self.baseTimeout << uint(self.maxSteps)
}
