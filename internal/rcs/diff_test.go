package rcs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	lines []string
	pos   int
}

func newSliceSource(lines ...string) *sliceSource {
	return &sliceSource{lines: lines}
}

func (s *sliceSource) NextLine() (string, bool) {
	if s.pos >= len(s.lines) {
		return "", false
	}
	line := s.lines[s.pos]
	s.pos++
	return line, true
}

func noopDiff() *Diff {
	return &Diff{Expand: ExpandKeyValue}
}

func TestApplyLeadingAppend(t *testing.T) {
	orig := newSliceSource("A", "B")
	diff := newSliceSource("a0 2", "X", "Y", ".")

	var out strings.Builder
	require.NoError(t, Apply(NewKeyword(), noopDiff(), orig, diff, &out))

	// The initial "last == 'a'" state bumps a leading append's position
	// by one, same as the source.
	assert.Equal(t, "X\nY\nA\nB\n", out.String())
}

func TestApplyDelete(t *testing.T) {
	orig := newSliceSource("A", "B", "C")
	diff := newSliceSource("d1 1", ".")

	var out strings.Builder
	require.NoError(t, Apply(NewKeyword(), noopDiff(), orig, diff, &out))
	assert.Equal(t, "B\nC\n", out.String())
}

func TestApplyAppendAfterPosition(t *testing.T) {
	orig := newSliceSource("A", "B", "C")
	diff := newSliceSource("a2 1", "X", ".")

	var out strings.Builder
	require.NoError(t, Apply(NewKeyword(), noopDiff(), orig, diff, &out))
	// "last" starts as 'a', so this leading append is also bumped.
	assert.Equal(t, "A\nB\nX\nC\n", out.String())
}

func TestApplyConsecutiveAppendsBumpPosition(t *testing.T) {
	orig := newSliceSource("A")
	diff := newSliceSource("a0 1", "X", "a0 1", "Y", ".")

	var out strings.Builder
	require.NoError(t, Apply(NewKeyword(), noopDiff(), orig, diff, &out))
	assert.Equal(t, "X\nY\nA\n", out.String())
}

func TestApplySkipsBlankLines(t *testing.T) {
	orig := newSliceSource("A")
	diff := newSliceSource("", ".+")

	var out strings.Builder
	require.NoError(t, Apply(NewKeyword(), noopDiff(), orig, diff, &out))
	assert.Equal(t, "A\n", out.String())
}

func TestApplyUnstuffsDottedAppendLines(t *testing.T) {
	orig := newSliceSource()
	diff := newSliceSource("a0 1", "..escaped", ".")

	var out strings.Builder
	require.NoError(t, Apply(NewKeyword(), noopDiff(), orig, diff, &out))
	assert.Equal(t, ".escaped\n", out.String())
}

func TestApplyExpandsKeywords(t *testing.T) {
	k := NewKeyword()
	require.NoError(t, k.Enable("Revision"))
	d := &Diff{Expand: ExpandValue, RevNum: "2.1"}

	orig := newSliceSource("version $Revision$")
	diff := newSliceSource(".")

	var out strings.Builder
	require.NoError(t, Apply(k, d, orig, diff, &out))
	assert.Equal(t, "version 2.1\n", out.String())
}

func TestApplyBadCommandErrors(t *testing.T) {
	orig := newSliceSource("A")
	diff := newSliceSource("x1 1", ".")

	var out strings.Builder
	err := Apply(NewKeyword(), noopDiff(), orig, diff, &out)
	assert.Error(t, err)
}

func TestApplyTruncatedAppendErrors(t *testing.T) {
	orig := newSliceSource()
	diff := newSliceSource("a0 2", "only one line")

	var out strings.Builder
	err := Apply(NewKeyword(), noopDiff(), orig, diff, &out)
	assert.Error(t, err)
}

func TestApplyMissingTerminatorErrors(t *testing.T) {
	orig := newSliceSource("A")
	diff := newSliceSource("d1 1")

	var out strings.Builder
	err := Apply(NewKeyword(), noopDiff(), orig, diff, &out)
	assert.Error(t, err)
}

func TestScannerSource(t *testing.T) {
	src := NewScannerSource(strings.NewReader("one\ntwo\n"))
	line, ok := src.NextLine()
	require.True(t, ok)
	assert.Equal(t, "one", line)
	line, ok = src.NextLine()
	require.True(t, ok)
	assert.Equal(t, "two", line)
	_, ok = src.NextLine()
	assert.False(t, ok)
}
