package lister

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxux/csup/internal/collection"
	"github.com/maxux/csup/internal/fattr"
	"github.com/maxux/csup/internal/proto"
	"github.com/maxux/csup/internal/status"
)

type rwc struct{ *bytes.Buffer }

func (rwc) Close() error { return nil }

func attr() *fattr.Attr {
	return &fattr.Attr{Mask: fattr.Type | fattr.Mode, FileType: fattr.TypeFile, Mode: 0o644}
}

func newTrustingCollection(statusPath string) *collection.Collection {
	return &collection.Collection{
		Name:    "src-all",
		Release: "cvs",
		Tag:     ".",
		Date:    ".",
		Prefix:  "/nonexistent",
		CollDir: "sup",
		Base:    filepath.Dir(statusPath),
		Options: collection.OptTrustStatusFile,
	}
}

func TestRunListsFileAndDirectoryBrackets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkouts")
	scantime := time.Unix(1700000000, 0)

	st, err := status.Open(path, scantime, true)
	require.NoError(t, err)
	require.NoError(t, st.Put(&status.Record{
		Type:       status.CheckoutLive,
		File:       "sub/foo.c",
		Tag:        ".",
		Date:       ".",
		ServerAttr: attr(),
		ClientAttr: attr(),
		RevNum:     "1.1",
		RevDate:    ".",
	}))
	require.NoError(t, st.Close())

	buf := &bytes.Buffer{}
	wr := proto.New(rwc{buf})

	// Drive listColl directly against the store we just wrote, since
	// StatusPath()'s naming convention is exercised separately in
	// internal/collection's own tests.
	rst, err := status.Open(path, time.Time{}, false)
	require.NoError(t, err)
	require.NoError(t, listColl(wr, newTrustingCollection(path), rst))
	require.NoError(t, rst.Close())
	require.NoError(t, wr.Flush())

	lines := splitLines(buf.String())
	assert.Contains(t, lines, "D sub")
	assert.True(t, hasPrefixLine(lines, "F foo.c "))
	assert.True(t, hasPrefixLine(lines, "U "))
	assert.Equal(t, ".", lines[len(lines)-1])
}

func TestRunEmitsFinalTerminator(t *testing.T) {
	dir := t.TempDir()
	coll := newTrustingCollection(filepath.Join(dir, "checkouts"))
	scantime := time.Unix(1700000000, 0)

	st, err := status.Open(coll.StatusPath(), scantime, true)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cfg := &collection.Config{Collections: []*collection.Collection{coll}}
	buf := &bytes.Buffer{}
	wr := proto.New(rwc{buf})

	require.NoError(t, Run(context.Background(), cfg, wr))
	lines := splitLines(buf.String())
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "COLL src-all cvs", lines[0])
	assert.Equal(t, ".", lines[len(lines)-1])
}

func splitLines(s string) []string {
	var out []string
	for _, l := range bytes.Split([]byte(s), []byte("\n")) {
		if len(l) == 0 {
			continue
		}
		out = append(out, string(l))
	}
	return out
}

func hasPrefixLine(lines []string, prefix string) bool {
	for _, l := range lines {
		if len(l) >= len(prefix) && l[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
