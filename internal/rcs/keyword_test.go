package rcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDiff() *Diff {
	return &Diff{
		RCSFile: "src/foo.c,v",
		CVSRoot: "/cvs",
		RevNum:  "1.3",
		RevDate: "2020.06.15.12.30.00",
		Author:  "joe",
		Tag:     "RELEASE_1",
		State:   "Exp",
		Expand:  ExpandKeyValue,
	}
}

func TestKeywordEnableAndExpandDefault(t *testing.T) {
	k := NewKeyword()
	require.NoError(t, k.Enable("Id"))

	got := k.Expand(sampleDiff(), "static const char rcsid[] = \"$Id$\";")
	assert.Equal(t, `static const char rcsid[] = "$Id: foo.c 1.3 2020/06/15 12:30:00 joe Exp $";`, got)
}

func TestKeywordExpandOldValueIsReplaced(t *testing.T) {
	k := NewKeyword()
	require.NoError(t, k.Enable("Id"))

	got := k.Expand(sampleDiff(), "$Id: foo.c 1.2 2020/05/01 00:00:00 joe Exp $")
	assert.Equal(t, "$Id: foo.c 1.3 2020/06/15 12:30:00 joe Exp $", got)
}

func TestKeywordExpandKeyModeStripsValue(t *testing.T) {
	d := sampleDiff()
	d.Expand = ExpandKey
	k := NewKeyword()
	require.NoError(t, k.Enable("Id"))

	got := k.Expand(d, "$Id: foo.c 1.2 x joe Exp $")
	assert.Equal(t, "$Id$", got)
}

func TestKeywordExpandValueModeBare(t *testing.T) {
	d := sampleDiff()
	d.Expand = ExpandValue
	k := NewKeyword()
	require.NoError(t, k.Enable("Revision"))

	got := k.Expand(d, "version $Revision$")
	assert.Equal(t, "version 1.3", got)
}

func TestKeywordNotEnabledLeftAlone(t *testing.T) {
	k := NewKeyword()
	got := k.Expand(sampleDiff(), "$Id$")
	assert.Equal(t, "$Id$", got)
}

func TestKeywordAliasAndEnableAll(t *testing.T) {
	k := NewKeyword()
	require.NoError(t, k.Alias("FreeBSD", "Id"))
	require.NoError(t, k.Enable("."))

	got := k.Expand(sampleDiff(), "$FreeBSD$")
	assert.Contains(t, got, "foo.c 1.3")
}

func TestKeywordDisable(t *testing.T) {
	k := NewKeyword()
	require.NoError(t, k.Enable("Id"))
	require.NoError(t, k.Disable("Id"))

	got := k.Expand(sampleDiff(), "$Id$")
	assert.Equal(t, "$Id$", got)
}

func TestKeywordUnknownAliasErrors(t *testing.T) {
	k := NewKeyword()
	assert.Error(t, k.Alias("Foo", "NotAKeyword"))
}

func TestKeywordLockerAndLogExpandEmpty(t *testing.T) {
	k := NewKeyword()
	require.NoError(t, k.Enable("Locker"))
	require.NoError(t, k.Enable("Log"))
	d := sampleDiff()

	assert.Equal(t, "$Locker:  $", k.Expand(d, "$Locker$"))
	assert.Equal(t, "$Log:  $", k.Expand(d, "$Log$"))
}

func TestDecodeExpandMode(t *testing.T) {
	mode, ok := DecodeExpandMode("kv")
	require.True(t, ok)
	assert.Equal(t, ExpandKeyValue, mode)

	_, ok = DecodeExpandMode("nonsense")
	assert.False(t, ok)
}
