package driver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maxux/csup/internal/csuperr"
)

func TestClassifyProtocol(t *testing.T) {
	err := fmtWrap(&csuperr.Protocol{Detail: "bad command"})
	assert.Equal(t, "protocol", Classify(err))
}

func TestClassifyLocal(t *testing.T) {
	err := &csuperr.Local{Path: "/tmp/x", Err: errors.New("boom")}
	assert.Equal(t, "local", Classify(err))
}

func TestClassifyChecksum(t *testing.T) {
	err := &csuperr.ChecksumMismatch{Path: "/tmp/x", Want: "a", Got: "b"}
	assert.Equal(t, "checksum", Classify(err))
}

func TestClassifyReadFallsBackToTransient(t *testing.T) {
	err := &csuperr.Read{Err: errors.New("eof")}
	assert.Equal(t, "transient", Classify(err))
}

func TestClassifyUnknownErrorIsTransient(t *testing.T) {
	assert.Equal(t, "transient", Classify(errors.New("something else")))
}

func TestClassifyNilIsEmpty(t *testing.T) {
	assert.Equal(t, "", Classify(nil))
}

func fmtWrap(err error) error {
	return &wrapped{err}
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
