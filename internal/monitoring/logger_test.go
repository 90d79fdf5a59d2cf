package monitoring

import (
	"fmt"
	"testing"
	"time"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}

func TestLimiter_SuppressesWithinInterval(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	l := NewLimiter(time.Hour)
	for i := 0; i < 5; i++ {
		l.Logf("no frame %d", i)
	}

	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1: %v", len(got), got)
	}
	if got[0] != "no frame 0" {
		t.Errorf("first message = %q, want %q", got[0], "no frame 0")
	}
}

func TestLimiter_ZeroIntervalPassesAll(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	count := 0
	SetLogger(func(string, ...interface{}) { count++ })

	l := NewLimiter(0)
	for i := 0; i < 3; i++ {
		l.Logf("x")
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
