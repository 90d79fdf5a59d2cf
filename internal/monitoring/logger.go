// Package monitoring holds the diagnostic logger shared by the capture,
// dataset and training packages.
package monitoring

import (
	"log"
	"time"

	"golang.org/x/time/rate"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Limiter forwards messages to Logf at most once per interval. The capture
// loop uses it for diagnostics that would otherwise repeat every tick.
type Limiter struct {
	s rate.Sometimes
}

// NewLimiter returns a Limiter that lets one message through per interval.
// A zero interval lets every message through.
func NewLimiter(interval time.Duration) *Limiter {
	l := &Limiter{}
	if interval > 0 {
		l.s.Interval = interval
	} else {
		l.s.Every = 1
	}
	return l
}

// Logf logs through the package logger unless a message was emitted within
// the limiter's interval.
func (l *Limiter) Logf(format string, v ...interface{}) {
	l.s.Do(func() {
		Logf(format, v...)
	})
}
