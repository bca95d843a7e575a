// Package status implements the per-collection status store (spec
// §4.2): the persisted record of what the client believes is on disk,
// read in strict path order and rewritten atomically on each update.
// It is grounded on original_source/status.c in full.
package status

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/maxux/csup/internal/fattr"
	"github.com/maxux/csup/internal/pathcomp"
)

// Version is the status file format version csup reads and writes;
// status.c's STATUS_VERSION.
const Version = 5

// RecType is a status record's SR_* variant.
type RecType int

const (
	DirDown RecType = iota
	DirUp
	CheckoutLive
	CheckoutDead
)

// Record is one line of the status file.
type Record struct {
	Type       RecType
	File       string
	Tag        string
	Date       string
	ServerAttr *fattr.Attr
	ClientAttr *fattr.Attr
	RevNum     string
	RevDate    string
}

// pathCmp is misc.c's pathcmp: '/' sorts as code point 1.
func pathCmp(a, b string) int {
	for i := 0; ; i++ {
		var c1, c2 byte
		if i < len(a) {
			c1 = a[i]
		}
		if i < len(b) {
			c2 = b[i]
		}
		if c1 == '/' {
			c1 = 1
		}
		if c2 == '/' {
			c2 = 1
		}
		if c1 != c2 {
			return int(c1) - int(c2)
		}
		if c1 == 0 {
			return 0
		}
	}
}

// compare orders a relative to b the way statusrec_cmp does: a DIRUP
// for directory p sorts after anything inside p (it is the closing
// bracket), overriding the plain pathCmp result.
func compare(a, b Record) int {
	if a.Type == DirUp || b.Type == DirUp {
		lenA, lenB := len(a.File), len(b.File)
		if a.Type == DirUp &&
			((lenA < lenB && b.File[lenA] == '/') || lenA == lenB) &&
			strings.HasPrefix(b.File, a.File) {
			return 1
		}
		if b.Type == DirUp &&
			((lenB < lenA && a.File[lenB] == '/') || lenB == lenA) &&
			strings.HasPrefix(a.File, b.File) {
			return -1
		}
	}
	return pathCmp(a.File, b.File)
}

// Store is an open status file, optionally paired with a temp file
// being written for the next generation.
type Store struct {
	path      string
	tempfile  string
	pc        *pathcomp.Compressor
	rd        *bufio.Scanner
	rdFile    *os.File
	wr        *bufio.Writer
	wrFile    *os.File
	previous  *Record
	current   *Record
	scantime  time.Time
	eof       bool
	linenum   int
	depth     int
	dirty     bool
}

// Open reads the status file for coll at statusPath. When writable is
// true, a new generation is staged in a temp file alongside it and
// scantime is recorded as that generation's header.
func Open(statusPath string, scantime time.Time, writable bool) (*Store, error) {
	st := &Store{path: statusPath, pc: pathcomp.New()}

	f, err := os.Open(statusPath)
	switch {
	case err == nil:
		st.rdFile = f
		st.rd = bufio.NewScanner(f)
		if err := st.readHeader(); err != nil {
			f.Close()
			return nil, fmt.Errorf("status: %s: %w", statusPath, err)
		}
	case os.IsNotExist(err):
		st.eof = true
		st.scantime = time.Unix(-1, 0)
	default:
		return nil, fmt.Errorf("status: open %s: %w", statusPath, err)
	}

	if writable {
		if err := st.openForWriting(scantime); err != nil {
			st.closeReader()
			return nil, err
		}
	}
	return st, nil
}

func (st *Store) readHeader() error {
	if !st.rd.Scan() {
		return fmt.Errorf("empty status file")
	}
	st.linenum = 1
	fields := strings.Fields(st.rd.Text())
	if len(fields) != 3 || fields[0] != "F" {
		return fmt.Errorf("bad status file header %q", st.rd.Text())
	}
	ver, err := strconv.Atoi(fields[1])
	if err != nil || ver != Version {
		return fmt.Errorf("unsupported status file version %q", fields[1])
	}
	secs, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return fmt.Errorf("bad scantime %q", fields[2])
	}
	st.scantime = time.Unix(secs, 0)
	return nil
}

func (st *Store) openForWriting(scantime time.Time) error {
	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("status: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, fmt.Sprintf("#cvs.csup-%d.", os.Getpid()))
	if err != nil {
		return fmt.Errorf("status: create tempfile in %s: %w", dir, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("status: chmod tempfile: %w", err)
	}
	st.wrFile = tmp
	st.tempfile = tmp.Name()
	st.wr = bufio.NewWriter(tmp)
	if !scantime.Equal(st.scantime) {
		st.dirty = true
	}
	if _, err := fmt.Fprintf(st.wr, "F %d %d\n", Version, scantime.Unix()); err != nil {
		return fmt.Errorf("status: write header: %w", err)
	}
	return nil
}

func (st *Store) closeReader() {
	if st.rdFile != nil {
		st.rdFile.Close()
	}
}

// Eof reports whether the read side has been exhausted.
func (st *Store) Eof() bool {
	return st.eof
}

func (st *Store) readRaw() (*Record, string, error) {
	if st.rd == nil || st.eof {
		return nil, "", nil
	}
	if !st.rd.Scan() {
		if err := st.rd.Err(); err != nil {
			return nil, "", fmt.Errorf("status: read %s: %w", st.path, err)
		}
		st.eof = true
		return nil, "", nil
	}
	st.linenum++
	line := st.rd.Text()
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, "", fmt.Errorf("status: malformed line %d", st.linenum)
	}
	cmd, file := fields[0], fields[1]
	rest := fields[2:]

	var sr Record
	switch cmd {
	case "D":
		sr.Type = DirDown
		st.depth++
	case "C":
		sr.Type = CheckoutLive
	case "c":
		sr.Type = CheckoutDead
	case "U":
		sr.Type = DirUp
		if st.depth <= 0 {
			return nil, "", fmt.Errorf("status: \"U\" entry has no matching \"D\" at line %d", st.linenum)
		}
		st.depth--
	default:
		return nil, "", fmt.Errorf("status: invalid entry type %q at line %d", cmd, st.linenum)
	}
	sr.File = file

	if st.previous != nil && compare(*st.previous, sr) >= 0 {
		return nil, "", fmt.Errorf("status: file is not sorted properly: %q then %q",
			st.previous.File, sr.File)
	}
	st.previous = &sr
	return &sr, strings.Join(rest, " "), nil
}

func cook(sr *Record, rest string) error {
	fields := strings.Fields(rest)
	switch sr.Type {
	case DirDown:
		return nil
	case CheckoutLive:
		if len(fields) != 6 {
			return fmt.Errorf("status: malformed checkout-live record for %q", sr.File)
		}
		sr.Tag, sr.Date = fields[0], fields[1]
		serverAttr, revnum, revdate, clientAttr := fields[2], fields[3], fields[4], fields[5]
		sa, err := fattr.Decode(serverAttr)
		if err != nil {
			return err
		}
		ca, err := fattr.Decode(clientAttr)
		if err != nil {
			return err
		}
		sr.ServerAttr, sr.RevNum, sr.RevDate, sr.ClientAttr = sa, revnum, revdate, ca
		return nil
	case CheckoutDead:
		if len(fields) != 3 {
			return fmt.Errorf("status: malformed checkout-dead record for %q", sr.File)
		}
		sr.Tag, sr.Date = fields[0], fields[1]
		sa, err := fattr.Decode(fields[2])
		if err != nil {
			return err
		}
		sr.ServerAttr = sa
		return nil
	case DirUp:
		if len(fields) != 1 {
			return fmt.Errorf("status: malformed dirup record for %q", sr.File)
		}
		ca, err := fattr.Decode(fields[0])
		if err != nil {
			return err
		}
		sr.ClientAttr = ca
		return nil
	}
	return fmt.Errorf("status: unknown record type")
}

func (st *Store) read() (*Record, error) {
	sr, rest, err := st.readRaw()
	if err != nil || sr == nil {
		return nil, err
	}
	if err := cook(sr, rest); err != nil {
		return nil, err
	}
	return sr, nil
}

// writeCooked renders sr through the path compressor and the full
// per-type encoding, mirroring status_wr.
func (st *Store) writeCooked(sr *Record) error {
	var emits []pathcomp.Emit
	useDirUpAttr := false
	switch sr.Type {
	case DirDown:
		emits = st.pc.Put(pathcomp.DirDown, sr.File)
	case DirUp:
		emits = st.pc.Put(pathcomp.DirUp, sr.File)
		useDirUpAttr = true
	default:
		emits = st.pc.Put(pathcomp.File, sr.File)
	}

	for _, e := range emits {
		switch e.Op {
		case pathcomp.DirDown:
			if _, err := fmt.Fprintf(st.wr, "D %s\n", e.Name); err != nil {
				return err
			}
		case pathcomp.DirUp:
			attr := fattr.Bogus
			if useDirUpAttr {
				attr = sr.ClientAttr
			}
			useDirUpAttr = false
			if _, err := fmt.Fprintf(st.wr, "U %s %s\n", e.Name, attr.Encode()); err != nil {
				return err
			}
		}
	}

	switch sr.Type {
	case DirDown, DirUp:
		return nil
	case CheckoutLive:
		_, err := fmt.Fprintf(st.wr, "C %s %s %s %s %s %s %s\n",
			sr.File, sr.Tag, sr.Date, sr.ServerAttr.Encode(),
			sr.RevNum, sr.RevDate, sr.ClientAttr.Encode())
		return err
	case CheckoutDead:
		_, err := fmt.Fprintf(st.wr, "c %s %s %s %s\n",
			sr.File, sr.Tag, sr.Date, sr.ServerAttr.Encode())
		return err
	}
	return nil
}

// writeRaw re-emits a line already read verbatim (the "copy through
// unchanged" path), keeping the compressor's bookkeeping in sync
// without re-encoding the attribute fields.
func (st *Store) writeRaw(sr *Record, rest string) error {
	if st.wr == nil {
		return nil
	}
	var op pathcomp.Op
	switch sr.Type {
	case DirDown:
		op = pathcomp.DirDown
	case DirUp:
		op = pathcomp.DirUp
	default:
		op = pathcomp.File
	}
	st.pc.Put(op, sr.File)

	var cmd string
	switch sr.Type {
	case DirDown:
		cmd = "D"
	case DirUp:
		cmd = "U"
	case CheckoutLive:
		cmd = "C"
	case CheckoutDead:
		cmd = "c"
	}
	if sr.Type == DirDown {
		_, err := fmt.Fprintf(st.wr, "%s %s\n", cmd, sr.File)
		return err
	}
	_, err := fmt.Fprintf(st.wr, "%s %s %s\n", cmd, sr.File, rest)
	return err
}

// Get looks up the record for name (a plain file or, when isDirUp is
// true, the closing bracket of a directory). When the store is open
// for writing, every record strictly before the match is copied
// through to the new generation, unless deleteTo is set, in which
// case those records are dropped instead.
func (st *Store) Get(name string, isDirUp, deleteTo bool) (*Record, error) {
	if st.eof {
		return nil, nil
	}
	if name == "" {
		return st.read()
	}

	var sr *Record
	if st.current != nil {
		sr = st.current
		st.current = nil
	} else {
		var err error
		sr, err = st.read()
		if err != nil || sr == nil {
			return nil, err
		}
	}

	key := Record{File: name}
	if isDirUp {
		key.Type = DirUp
	} else {
		key.Type = CheckoutLive
	}

	c := compare(*sr, key)
	if c < 0 {
		if st.wr != nil && !deleteTo {
			if err := st.writeCooked(sr); err != nil {
				return nil, err
			}
		}
		for {
			raw, rest, err := st.readRaw()
			if err != nil {
				return nil, err
			}
			if raw == nil {
				return nil, nil
			}
			c = compare(*raw, key)
			if c >= 0 {
				sr = raw
				if err := cook(sr, rest); err != nil {
					return nil, err
				}
				break
			}
			if st.wr != nil && !deleteTo {
				if err := st.writeRaw(raw, rest); err != nil {
					return nil, err
				}
			}
		}
	}
	st.current = sr
	if c != 0 {
		return nil, nil
	}
	return sr, nil
}

// Put inserts or replaces the record matching sr.File, deleting an
// entire subtree first if a directory is being replaced by a file.
func (st *Store) Put(sr *Record) error {
	old, err := st.Get(sr.File, sr.Type == DirUp, false)
	if err != nil {
		return err
	}
	if old != nil {
		if old.Type == DirDown {
			if sr.Type == CheckoutLive || sr.Type == CheckoutDead {
				if _, err := st.Get(sr.File, true, true); err != nil {
					return err
				}
			}
		} else {
			st.current = nil
		}
	}
	st.dirty = true
	return st.writeCooked(sr)
}

// Delete removes the record matching name, if present.
func (st *Store) Delete(name string, isDirUp bool) error {
	sr, err := st.Get(name, isDirUp, false)
	if err != nil {
		return err
	}
	if sr != nil {
		st.current = nil
		st.dirty = true
	}
	return nil
}

// Close finishes the writer side: if anything changed, the remainder
// of the old file is copied through, every directory still open is
// closed with a bogus attribute, and the temp file is renamed over
// the original. If nothing changed, the temp file is discarded.
func (st *Store) Close() error {
	defer st.closeReader()
	if st.wr == nil {
		return nil
	}
	defer os.Remove(st.tempfile) //nolint:errcheck // no-op once renamed

	if st.dirty {
		if st.current != nil {
			if err := st.writeCooked(st.current); err != nil {
				return st.failWrite(err)
			}
			st.current = nil
		}
		for {
			raw, rest, err := st.readRaw()
			if err != nil {
				return st.failWrite(err)
			}
			if raw == nil {
				break
			}
			if err := st.writeRaw(raw, rest); err != nil {
				return st.failWrite(err)
			}
		}

		for _, e := range st.pc.Finish() {
			if _, err := fmt.Fprintf(st.wr, "U %s %s\n", e.Name, fattr.Bogus.Encode()); err != nil {
				return st.failWrite(err)
			}
		}

		if err := st.wr.Flush(); err != nil {
			return st.failWrite(err)
		}
		if err := st.wrFile.Close(); err != nil {
			return fmt.Errorf("status: close %s: %w", st.tempfile, err)
		}
		if err := os.Rename(st.tempfile, st.path); err != nil {
			return fmt.Errorf("status: rename %s to %s: %w", st.tempfile, st.path, err)
		}
		return nil
	}

	st.wrFile.Close()
	return nil
}

func (st *Store) failWrite(err error) error {
	st.wrFile.Close()
	return fmt.Errorf("status: write failure on %s: %w", st.tempfile, err)
}
