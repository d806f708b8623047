// Package clock provides the time sources used by PoET wait timers.
//
// Wait timers and certificates measure time as floating-point seconds since
// the Unix epoch. Every component reads time through a Clock so tests can
// fix or advance time without touching the wall clock.
package clock

import (
	"math"
	"sync"
	"time"
)

// Clock reports the current time in seconds since the Unix epoch.
type Clock interface {
	Now() float64
}

// SystemClock reads the wall clock.
type SystemClock struct {
	timeFunc func() time.Time // Injectable for testing
}

// New creates a SystemClock backed by time.Now.
func New() *SystemClock {
	return &SystemClock{timeFunc: time.Now}
}

// NewWithTimeFunc creates a SystemClock with a custom time source (for testing).
func NewWithTimeFunc(timeFunc func() time.Time) *SystemClock {
	return &SystemClock{timeFunc: timeFunc}
}

// Now returns the current time as fractional seconds.
func (c *SystemClock) Now() float64 {
	return ToSeconds(c.timeFunc())
}

// ManualClock is a clock whose time only moves when told to. It is used for
// simulated elapsed time.
type ManualClock struct {
	mu  sync.RWMutex
	now float64
}

// NewManual creates a ManualClock fixed at now.
func NewManual(now float64) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set moves the clock to now.
func (c *ManualClock) Set(now float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves the clock forward by seconds.
func (c *ManualClock) Advance(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += seconds
}

// ToSeconds converts t to fractional seconds since the Unix epoch.
func ToSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Until returns how long a caller must sleep from now until deadline
// (both in seconds). Past deadlines yield zero.
func Until(now, deadline float64) time.Duration {
	if deadline <= now {
		return 0
	}
	d := (deadline - now) * float64(time.Second)
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(math.Ceil(d))
}
