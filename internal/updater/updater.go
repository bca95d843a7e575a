// Package updater implements the client's final phase (spec §4.10):
// applying whatever the detailer asked the server for, file by file,
// against each collection's status store. It runs twice per
// connection, the regular pass followed by a checkout-only pass over
// whatever the first pass's checksum mismatches queued into the
// fixups channel, mirroring original_source/updater.c in full.
package updater

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/maxux/csup/internal/cslog"
	"github.com/maxux/csup/internal/collection"
	"github.com/maxux/csup/internal/csuperr"
	"github.com/maxux/csup/internal/fattr"
	"github.com/maxux/csup/internal/fixups"
	"github.com/maxux/csup/internal/md5sum"
	"github.com/maxux/csup/internal/misc"
	"github.com/maxux/csup/internal/proto"
	"github.com/maxux/csup/internal/rcs"
	"github.com/maxux/csup/internal/status"
)

// Run drives both passes over cfg's collections against rd: the
// regular update batch, then — regardless of whether it failed — the
// fixups queue is closed so the detailer's own fixups pass isn't left
// waiting on a producer that will never send anything more, and only
// then, if the first pass succeeded, the fixups batch itself. Mirrors
// updater().
func Run(cfg *collection.Config, rd *proto.Stream, fx *fixups.Queue) error {
	err := dobatch(rd, cfg, fx, false)
	fx.Close()
	if err != nil {
		return err
	}
	return dobatch(rd, cfg, fx, true)
}

// dobatch runs one pass (the regular update, or the fixups re-request)
// over every non-skipped collection, mirroring updater_dobatch.
func dobatch(rd *proto.Stream, cfg *collection.Config, fx *fixups.Queue, isFixups bool) error {
	for _, coll := range cfg.Collections {
		if coll.Options&collection.OptSkip != 0 {
			continue
		}
		line, err := rd.GetLine()
		if err != nil {
			return &csuperr.Read{Err: err}
		}
		fields := strings.Fields(line)
		if len(fields) != 3 || fields[0] != "COLL" ||
			proto.UnescapeField(fields[1]) != coll.Name ||
			proto.UnescapeField(fields[2]) != coll.Release {
			return &csuperr.Protocol{Detail: fmt.Sprintf("malformed COLL header %q", line)}
		}

		st, err := status.Open(coll.StatusPath(), coll.ScanTime, true)
		if err != nil {
			return fmt.Errorf("updater: %w", err)
		}

		if !isFixups {
			cslog.Logf(1, "Updating collection %s/%s", coll.Name, coll.Release)
		}

		compressed := coll.Options&collection.OptCompress != 0
		if compressed {
			if err := rd.StartCompression(); err != nil {
				return err
			}
		}

		err = docoll(rd, fx, coll, st, isFixups)
		closeErr := st.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return fmt.Errorf("updater: %w", closeErr)
		}

		if compressed {
			if err := rd.StopCompression(); err != nil {
				return err
			}
		}
	}

	line, err := rd.GetLine()
	if err != nil {
		return &csuperr.Read{Err: err}
	}
	if line != "." {
		return &csuperr.Protocol{Detail: fmt.Sprintf("expected end-of-batch \".\", got %q", line)}
	}
	return nil
}

// docoll dispatches one collection's per-file update commands,
// mirroring updater_docoll.
func docoll(rd *proto.Stream, fx *fixups.Queue, coll *collection.Collection, st *status.Store, isFixups bool) error {
	needFixupMsg := isFixups
	for {
		line, err := rd.GetLine()
		if err != nil {
			return &csuperr.Read{Err: err}
		}
		if line == "." {
			return nil
		}
		if needFixupMsg {
			cslog.Logf(1, "Applying fixups for collection %s/%s", coll.Name, coll.Release)
			needFixupMsg = false
		}

		cmdTok, rest := splitFirst(line)
		if cmdTok == "!" {
			cslog.Logf(-1, "Server warning: %s", rest)
			continue
		}

		fields := proto.SplitFields(line)
		switch fields[0] {
		case "T":
			err = doSetAttrs(coll, st, fields)
		case "c":
			err = doCheckoutDead(coll, st, fields, false)
		case "u":
			err = doCheckoutDead(coll, st, fields, true)
		case "U":
			err = doEdit(rd, coll, st, fields)
		case "C", "Y":
			err = doCheckout(rd, fx, coll, st, fields, fields[0] == "Y")
		case "D":
			err = doDelete(coll, st, fields)
		default:
			return &csuperr.Protocol{Detail: fmt.Sprintf("unknown command %q", fields[0])}
		}
		if err != nil {
			return err
		}
	}
}

// splitFirst returns line's first space-delimited token and the
// (unprocessed) remainder, mirroring proto_get_rest's use alongside a
// single proto_get_ascii call.
func splitFirst(line string) (first, rest string) {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i], line[i+1:]
	}
	return line, ""
}

// fileUpdate carries the per-command state a checkout or diff update
// needs, grounded on struct file_update. Unlike the source, which
// reuses one heap-allocated struct across every command in a
// collection (resetting it via fup_cleanup between commands), each
// command here builds its own, since nothing is shared across them.
type fileUpdate struct {
	coll     *collection.Collection
	st       *status.Store
	fx       *fixups.Queue
	name     string
	destPath string
	coName   string
	sr       status.Record
}

// newFileUpdate resolves name to its checked-out path, mirroring
// fup_prepare.
func newFileUpdate(coll *collection.Collection, st *status.Store, fx *fixups.Queue, name string) (*fileUpdate, error) {
	destPath := misc.CheckoutPath(coll.Prefix, name)
	if destPath == "" {
		return nil, &csuperr.Protocol{Detail: fmt.Sprintf("unsafe checkout path for %q", name)}
	}
	return &fileUpdate{
		coll:     coll,
		st:       st,
		fx:       fx,
		name:     name,
		destPath: destPath,
		coName:   destPath[coll.PrefixLen+1:],
	}, nil
}

// doSetAttrs handles the 'T' command: update the recorded attributes
// of an already checked-out file without touching its content.
func doSetAttrs(coll *collection.Collection, st *status.Store, fields []string) error {
	if len(fields) != 7 {
		return &csuperr.Protocol{Detail: "malformed T command"}
	}
	name, tag, date, revnum, revdate, attr := fields[1], fields[2], fields[3], fields[4], fields[5], fields[6]
	rcsAttr, err := fattr.Decode(attr)
	if err != nil {
		return &csuperr.Protocol{Detail: fmt.Sprintf("bad attributes %q", attr), Err: err}
	}
	fup, err := newFileUpdate(coll, st, nil, name)
	if err != nil {
		return err
	}
	return fup.setAttrs(tag, date, revnum, revdate, rcsAttr)
}

// setAttrs re-applies a checked-out file's attributes in place,
// mirroring updater_setattrs.
func (fup *fileUpdate) setAttrs(tag, date, revnum, revdate string, rcsAttr *fattr.Attr) error {
	fileAttr, err := fattr.FromPath(fup.destPath, false)
	if err != nil {
		// The file has vanished; drop its status record and move on.
		return fup.st.Delete(fup.name, false)
	}

	synth := fattr.ForCheckoutMode(rcsAttr, uint32(fup.coll.Umask))
	fileAttr.Override(synth, fattr.MaskAll)

	changed, err := fileAttr.Install("", fup.destPath)
	if err != nil {
		return &csuperr.Local{Path: fup.destPath, Err: err}
	}
	if changed {
		cslog.Logf(1, " SetAttrs %s", fup.coName)
		fileAttr, err = fattr.FromPath(fup.destPath, false)
		if err != nil {
			// We're being very unlucky: it vanished between the
			// install and this re-stat.
			fup.st.Delete(fup.name, false) //nolint:errcheck // best effort
			return &csuperr.Local{Path: fup.destPath, Err: err}
		}
	}

	fileAttr.MaskOut(fattr.COIgnore)
	return fup.st.Put(&status.Record{
		Type:       status.CheckoutLive,
		File:       fup.name,
		Tag:        tag,
		Date:       date,
		RevNum:     revnum,
		RevDate:    revdate,
		ClientAttr: fileAttr,
		ServerAttr: rcsAttr,
	})
}

// doCheckoutDead handles the 'c' (checkout dead file) and 'u' (update
// dead checked-out file) commands, which both end up recording a
// CheckoutDead status entry; the only difference is whether the
// client is expected to already have the file.
func doCheckoutDead(coll *collection.Collection, st *status.Store, fields []string, forceDelete bool) error {
	if len(fields) != 5 {
		return &csuperr.Protocol{Detail: "malformed checkout-dead command"}
	}
	name, tag, date, attr := fields[1], fields[2], fields[3], fields[4]
	serverAttr, err := fattr.Decode(attr)
	if err != nil {
		return &csuperr.Protocol{Detail: fmt.Sprintf("bad attributes %q", attr), Err: err}
	}
	fup, err := newFileUpdate(coll, st, nil, name)
	if err != nil {
		return err
	}
	if forceDelete {
		fup.deleteFile()
	} else if _, err := os.Lstat(fup.destPath); err == nil {
		// Theoretically the file shouldn't exist on the client; make
		// sure of it.
		fup.deleteFile()
	}
	return st.Put(&status.Record{
		Type:       status.CheckoutDead,
		File:       name,
		Tag:        tag,
		Date:       date,
		ServerAttr: serverAttr,
	})
}

// doDelete handles the 'D' command: the server no longer lists the
// file at all.
func doDelete(coll *collection.Collection, st *status.Store, fields []string) error {
	if len(fields) != 2 {
		return &csuperr.Protocol{Detail: "malformed D command"}
	}
	name := fields[1]
	fup, err := newFileUpdate(coll, st, nil, name)
	if err != nil {
		return err
	}
	fup.deleteFile()
	return st.Delete(name, false)
}

// deleteFile removes the checked-out file, if the collection allows
// deletions, pruning any directories that become empty in checkout
// mode, mirroring updater_delete.
func (fup *fileUpdate) deleteFile() {
	if fup.coll.Options&collection.OptDelete == 0 {
		cslog.Logf(1, " NoDelete %s", fup.coName)
		return
	}
	cslog.Logf(1, " Delete %s", fup.coName)
	if err := os.Remove(fup.destPath); err != nil {
		cslog.Logf(-1, "Cannot delete %q: %v", fup.destPath, err)
		return
	}
	if fup.coll.Options&collection.OptCheckoutMode != 0 {
		pruneDirs(fup.coll.Prefix, fup.destPath)
	}
}

// pruneDirs removes directories above file, stopping at base or the
// first one that isn't empty, mirroring updater_prunedirs.
func pruneDirs(base, file string) {
	dir := filepath.Dir(file)
	for dir != base && dir != "." && dir != string(filepath.Separator) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// checkMD5 compares got against want and, on a first-pass mismatch,
// queues a full-checkout fixup so the second pass retries the whole
// file; a mismatch during the fixups pass itself is just logged,
// mirroring updater_checkmd5.
func (fup *fileUpdate) checkMD5(got, want string, isFixups bool) {
	if got == want {
		return
	}
	if isFixups {
		cslog.Logf(-1, "%s: %v", fup.destPath, &csuperr.ChecksumMismatch{Path: fup.destPath, Want: want, Got: got})
		return
	}
	cslog.Logf(-1, "%s: Checksum mismatch -- will transfer entire file", fup.destPath)
	fup.fx.Put(fup.coll, fup.name)
}

// applyUmask masks a's permission bits with umask. fattr_umask's own
// source was never retrieved; this follows the same rule
// ForCheckoutMode already applies.
func applyUmask(a *fattr.Attr, umask uint32) {
	if a.Mask&fattr.Mode != 0 {
		a.Mode &^= umask & 0o777
	}
}

// updateFile installs fup.sr.ClientAttr onto the file holding the new
// content — tempPath if one was used, or fup.destPath directly when
// tempPath is "" — renaming it into place when needed, then re-stats
// the result to capture what was actually applied before recording
// it, mirroring updater_updatefile.
func (fup *fileUpdate) updateFile(tempPath string) error {
	applyUmask(fup.sr.ClientAttr, uint32(fup.coll.Umask))

	if _, err := fup.sr.ClientAttr.Install(tempPath, fup.destPath); err != nil {
		return &csuperr.Local{Path: fup.destPath, Err: err}
	}

	fileAttr, err := fattr.FromPath(fup.destPath, false)
	if err != nil {
		return &csuperr.Local{Path: fup.destPath, Err: err}
	}
	// Preserve the server-reported link count: it's what mirror mode
	// uses to detect hard links, and the install above doesn't touch it.
	fileAttr.Override(fup.sr.ClientAttr, fattr.LinkCount)
	fup.sr.ClientAttr = fileAttr

	if fileAttr.Mask&fattr.LinkCount == 0 || fileAttr.Links <= 1 {
		fileAttr.MaskOut(fattr.Dev | fattr.Inode)
	}
	if fup.coll.Options&collection.OptCheckoutMode != 0 {
		fileAttr.MaskOut(fattr.COIgnore)
	}

	return fup.st.Put(&fup.sr)
}

// doCheckout handles the 'C' (checkout file) and 'Y' (fixup checkout)
// commands: the server sends a full file body.
func doCheckout(rd *proto.Stream, fx *fixups.Queue, coll *collection.Collection, st *status.Store, fields []string, isFixup bool) error {
	if len(fields) != 7 {
		return &csuperr.Protocol{Detail: "malformed checkout command"}
	}
	name, tag, date, revnum, revdate, attr := fields[1], fields[2], fields[3], fields[4], fields[5], fields[6]
	serverAttr, err := fattr.Decode(attr)
	if err != nil {
		return &csuperr.Protocol{Detail: fmt.Sprintf("bad attributes %q", attr), Err: err}
	}
	modTime, err := rcs.ParseRevDate(revdate)
	if err != nil {
		return &csuperr.Protocol{Detail: fmt.Sprintf("bad revision date %q", revdate), Err: err}
	}

	clientAttr := fattr.New(fattr.TypeFile)
	clientAttr.Mask |= fattr.ModTime
	clientAttr.ModTime = modTime.Unix()
	synth := fattr.ForCheckoutMode(serverAttr, uint32(coll.Umask))
	clientAttr.Override(synth, fattr.MaskAll)

	fup, err := newFileUpdate(coll, st, fx, name)
	if err != nil {
		return err
	}
	fup.sr = status.Record{
		Type:       status.CheckoutLive,
		File:       name,
		Tag:        tag,
		Date:       date,
		RevNum:     revnum,
		RevDate:    revdate,
		ClientAttr: clientAttr,
		ServerAttr: serverAttr,
	}
	return fup.checkout(rd, isFixup)
}

// checkout reads a full file body from rd straight onto its final
// path, dot-unstuffing as it goes and tracking the MD5 digest of what
// was written, then reads the trailing checksum line and installs
// attributes, mirroring updater_checkout.
func (fup *fileUpdate) checkout(rd *proto.Stream, isFixup bool) error {
	if isFixup {
		cslog.Logf(1, " Fixup %s", fup.coName)
	} else {
		cslog.Logf(1, " Checkout %s", fup.coName)
	}
	if err := misc.MkdirHier(fup.destPath, fup.coll.Umask); err != nil {
		return &csuperr.Local{Path: fup.destPath, Err: err}
	}

	f, err := os.OpenFile(fup.destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return &csuperr.Local{Path: fup.destPath, Err: err}
	}
	digest := md5sum.NewFilter(f)

	var terminator string
	first := true
	for {
		line, err := rd.GetLine()
		if err != nil {
			f.Close()
			return &csuperr.Read{Err: err}
		}
		if line == "." || line == ".+" {
			terminator = line
			break
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}
		if !first {
			digest.Write([]byte("\n")) //nolint:errcheck // surfaced via f.Close/Sync below
		}
		digest.Write([]byte(line)) //nolint:errcheck
		first = false
	}
	if terminator == "." {
		digest.Write([]byte("\n")) //nolint:errcheck
	}
	if err := f.Close(); err != nil {
		return &csuperr.Local{Path: fup.destPath, Err: err}
	}

	line, err := rd.GetLine()
	if err != nil {
		return &csuperr.Read{Err: err}
	}
	sumFields := proto.SplitFields(line)
	if len(sumFields) != 2 || sumFields[0] != "5" {
		return &csuperr.Protocol{Detail: fmt.Sprintf("expected checksum line, got %q", line)}
	}

	fup.checkMD5(digest.Sum(), sumFields[1], isFixup)
	return fup.updateFile("")
}

// doEdit handles the 'U' command: the checked-out file already on
// disk is updated to a newer revision via one or more server-sent
// diffs, instead of a full transfer.
func doEdit(rd *proto.Stream, coll *collection.Collection, st *status.Store, fields []string) error {
	if len(fields) != 10 {
		return &csuperr.Protocol{Detail: "malformed U command"}
	}
	name, tag, date := fields[1], fields[2], fields[3]
	// fields[4..6] are the old revision number, whether it came from
	// the Attic, and a log line count — all unused on the client.
	expandStr, attr, wantMD5 := fields[7], fields[8], fields[9]

	serverAttr, err := fattr.Decode(attr)
	if err != nil {
		return &csuperr.Protocol{Detail: fmt.Sprintf("bad attributes %q", attr), Err: err}
	}
	expand, ok := rcs.DecodeExpandMode(expandStr)
	if !ok {
		return &csuperr.Protocol{Detail: fmt.Sprintf("bad expansion mode %q", expandStr)}
	}

	fup, err := newFileUpdate(coll, st, nil, name)
	if err != nil {
		return err
	}
	fup.sr = status.Record{
		Type:       status.CheckoutLive,
		File:       name,
		Tag:        tag,
		Date:       date,
		ServerAttr: serverAttr,
	}
	return fup.edit(rd, coll.Keyword, expand, wantMD5)
}

// edit walks a chain of server-sent diffs, each one's base being the
// previous one's result (the first one's base is the file already on
// disk), writing each step to a fresh temp file alongside the final
// destination, mirroring updater_diff.
func (fup *fileUpdate) edit(rd *proto.Stream, keyword *rcs.Keyword, expand rcs.ExpandMode, wantMD5 string) error {
	cslog.Logf(1, " Edit %s", fup.coName)

	var orig, to *os.File
	var toPath, author string
	defer func() {
		if orig != nil {
			orig.Close()
		}
		if to != nil {
			to.Close()
		}
		if toPath != "" {
			os.Remove(toPath)
		}
	}()

	for {
		line, err := rd.GetLine()
		if err != nil {
			return &csuperr.Read{Err: err}
		}
		if line == "." {
			break
		}
		dfields := proto.SplitFields(line)
		if len(dfields) != 5 || dfields[0] != "D" {
			return &csuperr.Protocol{Detail: fmt.Sprintf("expected delta header, got %q", line)}
		}
		revnum, revdate, deltaAuthor := dfields[1], dfields[3], dfields[4]
		fup.sr.RevNum = revnum
		fup.sr.RevDate = revdate
		author = deltaAuthor

		if orig == nil {
			orig, err = os.Open(fup.destPath)
			if err != nil {
				return &csuperr.Local{Path: fup.destPath, Err: err}
			}
		} else {
			orig.Close()
			orig = to
			if _, err := orig.Seek(0, io.SeekStart); err != nil {
				return &csuperr.Local{Path: toPath, Err: err}
			}
			// The unlinked inode stays readable through orig's
			// still-open descriptor.
			os.Remove(toPath)
		}

		newTemp, err := os.CreateTemp(filepath.Dir(fup.destPath), fmt.Sprintf("#cvs.csup-%d.", os.Getpid()))
		if err != nil {
			return &csuperr.Local{Path: fup.destPath, Err: err}
		}
		toPath = newTemp.Name()
		to = newTemp

		d := &rcs.Diff{
			RCSFile: fup.sr.File,
			CVSRoot: fup.coll.CVSRoot,
			RevNum:  revnum,
			RevDate: revdate,
			Author:  author,
			Tag:     fup.sr.Tag,
			Expand:  expand,
		}
		if err := fup.diffBatch(rd, keyword, d, orig, to); err != nil {
			return err
		}
	}

	fileAttr, err := fattr.FromPath(fup.destPath, true)
	if err != nil {
		return &csuperr.Local{Path: fup.destPath, Err: err}
	}
	synth := fattr.ForCheckoutMode(fup.sr.ServerAttr, uint32(fup.coll.Umask))
	fileAttr.Override(synth, fattr.MaskAll)
	fileAttr.MaskOut(fattr.ModTime)
	fup.sr.ClientAttr = fileAttr

	if to != nil {
		if err := to.Close(); err != nil {
			return &csuperr.Local{Path: toPath, Err: err}
		}
		to = nil
	}
	finishedTemp := toPath
	if err := fup.updateFile(finishedTemp); err != nil {
		return err
	}
	toPath = ""

	digest, _, err := md5sum.File(fup.destPath)
	if err != nil {
		return &csuperr.Local{Path: fup.destPath, Err: err}
	}
	fup.checkMD5(digest, wantMD5, false)
	return nil
}

// diffBatch reads one delta's sub-commands off rd — "L" log lines
// (skipped), "S" state (remembered for the next trigger), and "T"
// (apply the delta now) — mirroring updater_diff_batch/
// updater_diff_apply.
func (fup *fileUpdate) diffBatch(rd *proto.Stream, keyword *rcs.Keyword, d *rcs.Diff, orig, to *os.File) error {
	var state string
	for {
		line, err := rd.GetLine()
		if err != nil {
			return &csuperr.Read{Err: err}
		}
		if line == "." {
			return nil
		}
		dfields := proto.SplitFields(line)
		if len(dfields) == 0 {
			return &csuperr.Protocol{Detail: "empty diff command"}
		}
		switch dfields[0] {
		case "L":
			for {
				l, err := rd.GetLine()
				if err != nil {
					return &csuperr.Read{Err: err}
				}
				if l == "." || l == ".+" {
					break
				}
			}
		case "S":
			if len(dfields) != 2 {
				return &csuperr.Protocol{Detail: "malformed S command"}
			}
			state = dfields[1]
		case "T":
			d.State = state
			src := &streamLineSource{rd: rd}
			if err := rcs.Apply(keyword, d, rcs.NewScannerSource(orig), src, to); err != nil {
				return fmt.Errorf("updater: bad diff from server: %w", err)
			}
		default:
			return &csuperr.Protocol{Detail: fmt.Sprintf("unknown diff command %q", dfields[0])}
		}
	}
}

// streamLineSource adapts a *proto.Stream to rcs.LineSource so
// rcs.Apply can read hunk commands and appended lines straight off
// the wire, the same stream docoll's own command loop reads from.
type streamLineSource struct {
	rd *proto.Stream
}

func (s *streamLineSource) NextLine() (string, bool) {
	line, err := s.rd.GetLine()
	if err != nil {
		return "", false
	}
	return line, true
}
