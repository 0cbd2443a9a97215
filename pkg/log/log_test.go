package log_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tidelock/recordseal/pkg/log"
)

// recorder implements log.Interface and captures formatted events.
type recorder struct {
	lines []string
}

func (r *recorder) Debugf(format string, v ...interface{}) {
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

func (r *recorder) Warnf(format string, v ...interface{}) {
	r.lines = append(r.lines, fmt.Sprintf("warn: "+format, v...))
}

func TestSetLoggerEnables(t *testing.T) {
	defer log.SetLogger(nil)

	assert.False(t, log.Enabled())

	r := new(recorder)
	log.SetLogger(r)

	assert.True(t, log.Enabled())

	log.Debugf("debug %d", 1)
	log.Warnf("careful %s", "now")

	assert.Equal(t, []string{"debug 1", "warn: careful now"}, r.lines)
}

func TestNilLoggerDoesNotPanic(t *testing.T) {
	log.SetLogger(nil)

	assert.NotPanics(t, func() {
		log.Debugf("dropped")
		log.Warnf("dropped")
	})
}
