package globtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	m := Match("*.o")
	assert.True(t, m.Test("foo.o"))
	assert.False(t, m.Test("foo.c"))
}

func TestAndShortCircuits(t *testing.T) {
	tree := And(Match("*.c"), Match("foo.*"))
	assert.True(t, tree.Test("foo.c"))
	assert.False(t, tree.Test("bar.c"))
}

func TestOrConstantFolding(t *testing.T) {
	tree := Or(True(), Match("*.c"))
	assert.Equal(t, True(), tree)
}

func TestAndConstantFolding(t *testing.T) {
	tree := And(False(), Match("*.c"))
	assert.Equal(t, False(), tree)
}

func TestNotFoldsConstants(t *testing.T) {
	assert.Equal(t, False(), Not(True()))
	assert.Equal(t, True(), Not(False()))
}

func TestRegex(t *testing.T) {
	tree, err := Regex(`^CVS/`)
	require.NoError(t, err)
	assert.True(t, tree.Test("CVS/Entries"))
	assert.False(t, tree.Test("src/CVS/Entries"))
}

func TestComplexExpression(t *testing.T) {
	tree := Or(Match("*.orig"), And(Match("*.c"), Not(Match("foo.*"))))
	assert.True(t, tree.Test("bar.c"))
	assert.False(t, tree.Test("foo.c"))
	assert.True(t, tree.Test("x.orig"))
}
