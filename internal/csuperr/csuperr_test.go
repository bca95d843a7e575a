package csuperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnwrap(t *testing.T) {
	base := errors.New("disk full")
	le := &Local{Path: "/tmp/x", Err: base}
	assert.ErrorIs(t, le, base)
	assert.Contains(t, le.Error(), "/tmp/x")
}

func TestWalkChain(t *testing.T) {
	base := errors.New("e1")
	wrapped := &Protocol{Detail: "bad command", Err: base}
	var seen []error
	Walk(wrapped, func(e error) bool {
		seen = append(seen, e)
		return false
	})
	assert.Equal(t, []error{wrapped, base}, seen)
}

func TestWalkStopsEarly(t *testing.T) {
	base := errors.New("e1")
	wrapped := &Read{Err: base}
	count := 0
	Walk(wrapped, func(e error) bool {
		count++
		return true
	})
	assert.Equal(t, 1, count)
}

func TestChecksumMismatchMessage(t *testing.T) {
	err := &ChecksumMismatch{Path: "f", Want: "aaa", Got: "bbb"}
	assert.Contains(t, err.Error(), "aaa")
	assert.Contains(t, err.Error(), "bbb")
}
