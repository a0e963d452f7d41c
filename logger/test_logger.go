package logger

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// testLogger is a logger that writes to a testing.TB.
type testLogger struct {
	t testing.TB

	mu   sync.Mutex
	done bool
}

// NewTestLogger creates a new logger that writes to the given testing.TB.
// Lines logged by goroutines after the test finished are dropped.
func NewTestLogger(t testing.TB) Logger {
	l := &testLogger{t: t}
	t.Cleanup(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.done = true
	})
	return l
}

func (l *testLogger) log(level, format string, args ...interface{}) {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return
	}
	l.t.Logf(fmt.Sprintf("%s %s: %s", time.Now().Format(time.RFC3339Nano), level, format), args...)
}

func (l *testLogger) Debugf(format string, args ...interface{}) { l.log("DEBUG", format, args...) }

func (l *testLogger) Infof(format string, args ...interface{}) { l.log("INFO", format, args...) }

func (l *testLogger) Warningf(format string, args ...interface{}) {
	l.log("WARN", format, args...)
}

func (l *testLogger) Errorf(format string, args ...interface{}) { l.log("ERROR", format, args...) }
