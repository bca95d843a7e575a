package rcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRCS = `head	1.2;
access;
symbols
	START:1.1;
locks; strict;
comment	@# @;


1.2
date	2020.01.02.03.04.05;	author joe;	state Exp;
branches;
next	1.1;


1.1
date	2020.01.01.00.00.00;	author joe;	state Exp;
branches;
next	;


desc
@Initial description.
@


1.2
log
@Second revision.
@
text
@line one
line two
@


1.1
log
@Initial revision.
@
text
@line one
@
`

func TestParseAdminAndDeltas(t *testing.T) {
	f, err := Parse([]byte(sampleRCS), false)
	require.NoError(t, err)

	assert.Equal(t, "1.2", f.Head)
	assert.Empty(t, f.Branch)
	assert.True(t, f.Strict)
	assert.Equal(t, "1.1", f.Symbols["START"])
	assert.Equal(t, "Initial description.\n", f.Desc)

	require.Len(t, f.Deltas, 2)
	head := f.GetDelta("1.2")
	require.NotNil(t, head)
	assert.Equal(t, "joe", head.Author)
	assert.Equal(t, "Exp", head.State)
	assert.Equal(t, "1.1", head.Next)
	assert.Equal(t, "Second revision.\n", head.Log)
	assert.Equal(t, "line one\nline two\n", head.Text)

	tail := f.GetDelta("1.1")
	require.NotNil(t, tail)
	assert.Empty(t, tail.Next)
	assert.Equal(t, "line one\n", tail.Text)
}

func TestParseReadOnlySkipsDeltaTexts(t *testing.T) {
	f, err := Parse([]byte(sampleRCS), true)
	require.NoError(t, err)
	require.NotNil(t, f.GetDelta("1.2"))
	assert.Empty(t, f.GetDelta("1.2").Text)
	assert.Empty(t, f.GetDelta("1.2").Log)
}

func TestParseMissingHeadFails(t *testing.T) {
	_, err := Parse([]byte("access;\n"), false)
	assert.Error(t, err)
}

func TestParseExpandClause(t *testing.T) {
	src := `head	1.1;
access;
symbols;
locks; strict;
expand	@kv@;


1.1
date	2020.01.01.00.00.00;	author joe;	state Exp;
branches;
next	;


desc
@d@


1.1
log
@l
@
text
@t
@
`
	f, err := Parse([]byte(src), false)
	require.NoError(t, err)
	assert.Equal(t, ExpandKeyValue, f.Expand)
}
