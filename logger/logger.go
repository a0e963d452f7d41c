package logger

// Logger defines a standard logging interface that can be implemented by
// various logging libraries, such as the CoreDNS logger or the standard log package.
// A clog.P from github.com/coredns/coredns/plugin/pkg/log satisfies it as is.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NoLogger discards everything.
type NoLogger struct{}

func (NoLogger) Debugf(format string, args ...interface{})   {}
func (NoLogger) Infof(format string, args ...interface{})    {}
func (NoLogger) Warningf(format string, args ...interface{}) {}
func (NoLogger) Errorf(format string, args ...interface{})   {}

// OrNop returns l, or NoLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NoLogger{}
	}
	return l
}
