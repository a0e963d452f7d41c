package logger

import (
	"testing"

	clog "github.com/coredns/coredns/plugin/pkg/log"
	"github.com/stretchr/testify/assert"
)

func TestCorednsLoggerSatisfiesLogger(t *testing.T) {
	var l Logger = clog.NewWithPlugin("mdnssd")
	assert.NotNil(t, l)
}

func TestOrNop(t *testing.T) {
	assert.Equal(t, NoLogger{}, OrNop(nil))

	tl := NewTestLogger(t)
	assert.Same(t, tl, OrNop(tl))
	tl.Infof("hello %s", "world")
}
