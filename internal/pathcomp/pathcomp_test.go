package pathcomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func names(emits []Emit) []string {
	out := make([]string, len(emits))
	for i, e := range emits {
		out[i] = e.Name
	}
	return out
}

func ops(emits []Emit) []Op {
	out := make([]Op, len(emits))
	for i, e := range emits {
		out[i] = e.Op
	}
	return out
}

func TestFileAtRootOpensNoDirectories(t *testing.T) {
	c := New()
	emits := c.Put(File, "README")
	assert.Empty(t, emits)
	assert.Equal(t, 0, c.Depth())
}

func TestFileDescendsIntoSubdirectory(t *testing.T) {
	c := New()
	emits := c.Put(File, "a/b/file.c")
	assert.Equal(t, []Op{DirDown, DirDown}, ops(emits))
	assert.Equal(t, []string{"a", "b"}, names(emits))
	assert.Equal(t, 2, c.Depth())
}

func TestFileSiblingReusesCommonPrefix(t *testing.T) {
	c := New()
	c.Put(File, "a/b/one.c")
	emits := c.Put(File, "a/b/two.c")
	assert.Empty(t, emits)
}

func TestFileClimbsOutBeforeDescending(t *testing.T) {
	c := New()
	c.Put(File, "a/b/one.c")
	emits := c.Put(File, "a/c/two.c")
	assert.Equal(t, []Op{DirUp, DirDown}, ops(emits))
	assert.Equal(t, []string{"b", "c"}, names(emits))
}

func TestFinishClosesRemainingDirectories(t *testing.T) {
	c := New()
	c.Put(File, "a/b/one.c")
	emits := c.Finish()
	assert.Equal(t, []Op{DirUp, DirUp}, ops(emits))
	assert.Equal(t, []string{"b", "a"}, names(emits))
	assert.Equal(t, 0, c.Depth())
}

func TestExplicitDirDownDirUpPassThrough(t *testing.T) {
	c := New()
	d := c.Put(DirDown, "a")
	assert.Equal(t, []Emit{{DirDown, "a"}}, d)
	u := c.Put(DirUp, "a")
	assert.Equal(t, []Emit{{DirUp, "a"}}, u)
	assert.Equal(t, 0, c.Depth())
}
