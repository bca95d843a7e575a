package fixups

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxux/csup/internal/collection"
)

func TestPutGetFIFO(t *testing.T) {
	q := New()
	c1 := &collection.Collection{Name: "a"}
	c2 := &collection.Collection{Name: "b"}
	q.Put(c1, "one")
	q.Put(c2, "two")

	f, ok := q.Get()
	require.True(t, ok)
	assert.Equal(t, "one", f.Name)
	assert.Same(t, c1, f.Coll)

	f, ok = q.Get()
	require.True(t, ok)
	assert.Equal(t, "two", f.Name)
}

func TestGetBlocksUntilPut(t *testing.T) {
	q := New()
	done := make(chan Fixup, 1)
	go func() {
		f, ok := q.Get()
		if ok {
			done <- f
		}
	}()

	time.Sleep(20 * time.Millisecond)
	coll := &collection.Collection{Name: "a"}
	q.Put(coll, "late")

	select {
	case f := <-done:
		assert.Equal(t, "late", f.Name)
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock after Put")
	}
}

func TestGetReturnsFalseAfterCloseDrained(t *testing.T) {
	q := New()
	q.Put(&collection.Collection{Name: "a"}, "x")
	q.Close()

	_, ok := q.Get()
	require.True(t, ok)

	_, ok = q.Get()
	assert.False(t, ok)
}

func TestPutAfterCloseIsIgnored(t *testing.T) {
	q := New()
	q.Close()
	q.Put(&collection.Collection{Name: "a"}, "x")

	_, ok := q.Get()
	assert.False(t, ok)
}
