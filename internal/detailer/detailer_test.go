package detailer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxux/csup/internal/collection"
	"github.com/maxux/csup/internal/fattr"
	"github.com/maxux/csup/internal/fixups"
	"github.com/maxux/csup/internal/globtree"
	"github.com/maxux/csup/internal/proto"
	"github.com/maxux/csup/internal/status"
)

type rwc struct{ *bytes.Buffer }

func (rwc) Close() error { return nil }

func newColl(t *testing.T, checkoutMode bool) *collection.Collection {
	t.Helper()
	dir := t.TempDir()
	opts := collection.OptSetMode
	if checkoutMode {
		opts |= collection.OptCheckoutMode
	}
	return &collection.Collection{
		Name:    "src-all",
		Release: "cvs",
		Tag:     ".",
		Date:    ".",
		Prefix:  dir,
		Base:    dir,
		CollDir: "sup",
		Options: opts,
		NorSync: globtree.False(),
	}
}

func emptyStatus(t *testing.T, coll *collection.Collection) {
	t.Helper()
	st, err := status.Open(coll.StatusPath(), time.Unix(1700000000, 0), true)
	require.NoError(t, err)
	require.NoError(t, st.Close())
}

func TestDetailHeaderEchoesCollLine(t *testing.T) {
	coll := newColl(t, true)
	in := &bytes.Buffer{}
	rd := proto.New(rwc{in})
	out := &bytes.Buffer{}
	wr := proto.New(rwc{out})

	require.NoError(t, rd.PutLine("COLL", coll.Name, coll.Release, "1700000000"))
	require.NoError(t, rd.Flush())
	// Re-read through a fresh stream over the same bytes, since the
	// writer and reader above share no buffer.
	rd2 := proto.New(rwc{in})

	require.NoError(t, detailHeader(rd2, wr, coll))
	require.NoError(t, wr.Flush())
	assert.Equal(t, "COLL src-all cvs\n", out.String())
}

func TestDetailHeaderRejectsMismatch(t *testing.T) {
	coll := newColl(t, true)
	in := &bytes.Buffer{}
	rd := proto.New(rwc{in})
	require.NoError(t, rd.PutLine("COLL", "other", coll.Release, "1700000000"))
	require.NoError(t, rd.Flush())
	rd2 := proto.New(rwc{in})

	out := &bytes.Buffer{}
	wr := proto.New(rwc{out})
	assert.Error(t, detailHeader(rd2, wr, coll))
}

func TestDetailLineForwardsDelete(t *testing.T) {
	coll := newColl(t, true)
	out := &bytes.Buffer{}
	wr := proto.New(rwc{out})

	require.NoError(t, detailLine(wr, coll, nil, "D foo.c"))
	require.NoError(t, wr.Flush())
	assert.Equal(t, "D foo.c\n", out.String())
}

func TestSendCheckoutMissingFileAsksServer(t *testing.T) {
	coll := newColl(t, true)
	out := &bytes.Buffer{}
	wr := proto.New(rwc{out})

	require.NoError(t, sendCheckout(wr, coll, nil, "missing.c,v"))
	require.NoError(t, wr.Flush())
	assert.Equal(t, "C missing.c,v . .\n", out.String())
}

func TestSendCheckoutPresentNoStatusSendsChecksum(t *testing.T) {
	coll := newColl(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(coll.Prefix, "present.c"), []byte("hello"), 0o644))
	emptyStatus(t, coll)
	st, err := status.Open(coll.StatusPath(), time.Time{}, false)
	require.NoError(t, err)
	defer st.Close()

	out := &bytes.Buffer{}
	wr := proto.New(rwc{out})
	require.NoError(t, sendCheckout(wr, coll, st, "present.c,v"))
	require.NoError(t, wr.Flush())
	assert.Contains(t, out.String(), "S present.c,v . .")
}

func TestSendCheckoutMatchingRecordSendsRevision(t *testing.T) {
	coll := newColl(t, true)
	path := filepath.Join(coll.Prefix, "present.c")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	fa, err := fattr.FromPath(path, false)
	require.NoError(t, err)

	st, err := status.Open(coll.StatusPath(), time.Unix(1700000000, 0), true)
	require.NoError(t, err)
	require.NoError(t, st.Put(&status.Record{
		Type:       status.CheckoutLive,
		File:       "present.c,v",
		Tag:        ".",
		Date:       ".",
		ServerAttr: fa,
		ClientAttr: fa,
		RevNum:     "1.3",
		RevDate:    "2020.01.01.00.00.00",
	}))
	require.NoError(t, st.Close())

	rst, err := status.Open(coll.StatusPath(), time.Time{}, false)
	require.NoError(t, err)
	defer rst.Close()

	out := &bytes.Buffer{}
	wr := proto.New(rwc{out})
	require.NoError(t, sendCheckout(wr, coll, rst, "present.c,v"))
	require.NoError(t, wr.Flush())
	assert.Equal(t, "U present.c,v . . 1.3 2020.01.01.00.00.00\n", out.String())
}

func TestSendRegularFallsBackToWholeFileWhenNoRsync(t *testing.T) {
	coll := newColl(t, false)
	coll.Options |= collection.OptNoRsync
	require.NoError(t, os.WriteFile(filepath.Join(coll.Prefix, "foo.c"), []byte("data"), 0o644))

	out := &bytes.Buffer{}
	wr := proto.New(rwc{out})
	require.NoError(t, sendRegular(wr, coll, "foo.c"))
	require.NoError(t, wr.Flush())
	assert.Contains(t, out.String(), "R foo.c 4 ")
}

func TestSendRegularUsesRsyncByDefault(t *testing.T) {
	coll := newColl(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(coll.Prefix, "foo.c"), []byte("data"), 0o644))

	out := &bytes.Buffer{}
	wr := proto.New(rwc{out})
	require.NoError(t, sendRegular(wr, coll, "foo.c"))
	require.NoError(t, wr.Flush())
	lines := splitLines(out.String())
	assert.True(t, len(lines) >= 2)
	assert.Contains(t, lines[0], "r foo.c 4 ")
	assert.Equal(t, ".", lines[len(lines)-1])
}

func TestSendDetailsMissingFileAddsFromScratch(t *testing.T) {
	coll := newColl(t, false)
	out := &bytes.Buffer{}
	wr := proto.New(rwc{out})

	require.NoError(t, sendDetails(wr, coll, nil, "missing.c", nil))
	require.NoError(t, wr.Flush())
	assert.Equal(t, "A missing.c\n", out.String())
}

func TestRunFixupsDrainsInCollectionOrder(t *testing.T) {
	collA := newColl(t, true)
	collA.Name = "a"
	collB := newColl(t, true)
	collB.Name = "b"
	cfg := &collection.Config{Collections: []*collection.Collection{collA, collB}}

	fx := fixups.New()
	fx.Put(collA, "one.c")
	fx.Put(collB, "two.c")
	fx.Close()

	out := &bytes.Buffer{}
	wr := proto.New(rwc{out})
	require.NoError(t, runFixups(cfg, wr, fx))
	require.NoError(t, wr.Flush())

	lines := splitLines(out.String())
	assert.Contains(t, lines, "COLL a cvs")
	assert.Contains(t, lines, "Y one.c . .")
	assert.Contains(t, lines, "COLL b cvs")
	assert.Contains(t, lines, "Y two.c . .")
	assert.Equal(t, ".", lines[len(lines)-1])
}

func TestCheckRCSAttrMatchingFoldsIntoListing(t *testing.T) {
	coll := newColl(t, false)
	path := filepath.Join(coll.Prefix, "foo.c,v")
	require.NoError(t, os.WriteFile(path, []byte("rcs body"), 0o644))
	fa, err := fattr.FromPath(path, false)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	wr := proto.New(rwc{out})
	require.NoError(t, checkRCSAttr(wr, coll, "foo.c,v", fa, false))
	require.NoError(t, wr.Flush())
	assert.Contains(t, out.String(), "L foo.c,v ")
}

func TestCheckRCSAttrMismatchDetailsInstead(t *testing.T) {
	coll := newColl(t, false)
	path := filepath.Join(coll.Prefix, "foo.c,v")
	require.NoError(t, os.WriteFile(path, []byte("rcs body"), 0o644))
	serverAttr := fattr.New(fattr.TypeFile)
	serverAttr.Mask |= fattr.Mode
	serverAttr.Mode = 0o600

	out := &bytes.Buffer{}
	wr := proto.New(rwc{out})
	require.NoError(t, checkRCSAttr(wr, coll, "foo.c,v", serverAttr, false))
	require.NoError(t, wr.Flush())
	assert.NotContains(t, out.String(), "L foo.c,v")
}

func TestSendRCSFallsBackToRegularOnParseFailure(t *testing.T) {
	coll := newColl(t, false)
	coll.Options |= collection.OptNoRsync
	path := filepath.Join(coll.Prefix, "foo.c,v")
	require.NoError(t, os.WriteFile(path, []byte("not a valid rcs file"), 0o644))

	out := &bytes.Buffer{}
	wr := proto.New(rwc{out})
	require.NoError(t, sendRCS(wr, coll, "foo.c,v"))
	require.NoError(t, wr.Flush())
	assert.Contains(t, out.String(), "R foo.c,v ")
}

func TestSendRCSMissingFileAdds(t *testing.T) {
	coll := newColl(t, false)
	out := &bytes.Buffer{}
	wr := proto.New(rwc{out})
	require.NoError(t, sendRCS(wr, coll, "missing.c,v"))
	require.NoError(t, wr.Flush())
	assert.Equal(t, "A missing.c,v\n", out.String())
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
