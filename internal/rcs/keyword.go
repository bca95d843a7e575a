// Package rcs implements enough of RCS to reconstruct a working file from
// the server's revision stream: the lexer and recursive-descent parser for
// ,v admin/delta/deltatext sections, the diff applier that walks a base
// revision forward through a chain of ed-style hunks, and CVS keyword
// ($Id$ and friends) expansion along the way.
//
// Grounded on original_source/rcslex.c, rcsparse.c, diff.c and keyword.c.
package rcs

import (
	"fmt"
	"strings"
	"time"
)

// ExpandMode selects how keyword.c's keyword_expand rewrites a $Key$
// string, mirroring RCS's -kkv/-kk/-ko/... checkout modes.
type ExpandMode int

const (
	ExpandDefault ExpandMode = iota
	ExpandKeyValue
	ExpandKeyValueLocker
	ExpandKey
	ExpandOld
	ExpandBinary
	ExpandValue
)

// rcsKey identifies one of the twelve keywords CVS understands.
type rcsKey int

const (
	keyAuthor rcsKey = iota
	keyCVSHeader
	keyDate
	keyHeader
	keyID
	keyLocker
	keyLog
	keyName
	keyRCSfile
	keyRevision
	keySource
	keyState
)

type tag struct {
	ident string
	key   rcsKey
}

var defaultTags = []tag{
	{"Author", keyAuthor},
	{"CVSHeader", keyCVSHeader},
	{"Date", keyDate},
	{"Header", keyHeader},
	{"Id", keyID},
	{"Locker", keyLocker},
	{"Log", keyLog},
	{"Name", keyName},
	{"RCSfile", keyRCSfile},
	{"Revision", keyRevision},
	{"Source", keySource},
	{"State", keyState},
}

// Keyword holds the set of keywords currently enabled for expansion, plus
// any aliases a caller has defined for them (CVSup's "keyword" config
// directive).
type Keyword struct {
	enabled []tag
	aliases []tag
}

// NewKeyword returns a Keyword set with nothing enabled yet.
func NewKeyword() *Keyword {
	return &Keyword{}
}

// Alias maps a custom identifier to one of the built-in RCS keywords, so
// that e.g. "FreeBSD" can expand the way "Id" would.
func (k *Keyword) Alias(ident, rcskey string) error {
	for _, d := range defaultTags {
		if d.ident == rcskey {
			k.aliases = append([]tag{{ident, d.key}}, k.aliases...)
			return nil
		}
	}
	return fmt.Errorf("rcs: unknown keyword %q", rcskey)
}

// Enable turns on expansion for ident, or for every known keyword and
// alias when ident is ".".
func (k *Keyword) Enable(ident string) error {
	if ident == "." {
		k.enabled = append(k.enabled, defaultTags...)
		k.enabled = append(k.enabled, k.aliases...)
		return nil
	}
	for _, d := range defaultTags {
		if d.ident == ident {
			k.enabled = append(k.enabled, d)
			return nil
		}
	}
	for _, a := range k.aliases {
		if a.ident == ident {
			k.enabled = append(k.enabled, a)
			return nil
		}
	}
	return fmt.Errorf("rcs: unknown keyword %q", ident)
}

// Disable turns off expansion for ident, or clears every enabled keyword
// when ident is ".".
func (k *Keyword) Disable(ident string) error {
	if ident == "." {
		k.enabled = nil
		return nil
	}
	for i, e := range k.enabled {
		if e.ident == ident {
			k.enabled = append(k.enabled[:i], k.enabled[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("rcs: unknown keyword %q", ident)
}

func (k *Keyword) lookup(ident string) (tag, bool) {
	for _, e := range k.enabled {
		if e.ident == ident {
			return e, true
		}
	}
	return tag{}, false
}

// Diff carries the per-delta metadata keyword expansion substitutes into
// $Key$ strings, mirroring struct diff's non-stream fields.
type Diff struct {
	RCSFile string
	CVSRoot string
	RevNum  string
	RevDate string
	Author  string
	Log     string
	Tag     string
	State   string
	Expand  ExpandMode
}

// Expand rewrites every recognized $Key$ or $Key:old value$ occurrence in
// line according to d.Expand, mirroring keyword_expand. Unlike the source,
// which distinguishes "no substitution happened" by pointer identity, this
// always returns a (possibly unchanged) string.
func (k *Keyword) Expand(d *Diff, line string) string {
	cp := 0
	for {
		rel := strings.IndexByte(line[cp:], '$')
		if rel < 0 {
			return line
		}
		dollar := cp + rel
		keystart := dollar + 1
		if keystart > len(line) {
			return line
		}
		vallimRel := strings.IndexByte(line[keystart:], '$')
		if vallimRel < 0 {
			return line
		}
		vallim := keystart + vallimRel
		if vallim == keystart {
			cp = keystart
			continue
		}
		var valstart int
		colonRel := strings.IndexByte(line[keystart:vallim], ':')
		switch {
		case colonRel == 0:
			cp = vallim
			continue
		case colonRel < 0:
			valstart = vallim
		default:
			valstart = keystart + colonRel
		}

		ident := line[keystart:valstart]
		t, ok := k.lookup(ident)
		if !ok {
			cp = vallim + 1
			continue
		}

		var replacement string
		switch d.Expand {
		case ExpandKey:
			replacement = "$" + ident + "$"
		case ExpandValue:
			replacement = tagValue(t, d)
		default:
			replacement = "$" + ident + ": " + tagValue(t, d) + " $"
		}

		line = line[:dollar] + replacement + line[vallim+1:]
		cp = dollar + len(replacement)
	}
}

// DecodeExpandMode maps an RCS admin section's "expand" string to an
// ExpandMode, the values RCS itself writes for the "-k" checkout options.
// Also serves as the wire-protocol decoder the updater needs
// (keyword_decode_expand): rcsfile.c, where that entry point lived, was
// never retrieved, but rcsparse.c's admin-section parser (below) decodes
// the identical string set, so one function covers both call sites.
func DecodeExpandMode(s string) (ExpandMode, bool) {
	switch s {
	case "kv":
		return ExpandKeyValue, true
	case "kvl":
		return ExpandKeyValueLocker, true
	case "k":
		return ExpandKey, true
	case "o":
		return ExpandOld, true
	case "b":
		return ExpandBinary, true
	case "v":
		return ExpandValue, true
	}
	return 0, false
}

// cvsDateLayouts are the two revdate formats RCS deltas carry: four-digit
// and (pre-Y2K RCS files) two-digit years.
var cvsDateLayouts = []string{"2006.01.02.15.04.05", "06.01.02.15.04.05"}

func cvsDate(revdate string) string {
	for _, layout := range cvsDateLayouts {
		if t, err := time.Parse(layout, revdate); err == nil {
			return t.Format("2006/01/02 15:04:05")
		}
	}
	return revdate
}

// ParseRevDate parses a delta's revdate field the same way cvsDate's
// layout table does, exported for the updater's rcsdatetotime call
// (setting a fresh checkout's synthetic client modtime to its delta's
// commit time).
func ParseRevDate(revdate string) (time.Time, error) {
	var firstErr error
	for _, layout := range cvsDateLayouts {
		if t, err := time.Parse(layout, revdate); err == nil {
			return t, nil
		} else if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, fmt.Errorf("rcs: bad revision date %q: %w", revdate, firstErr)
}

func basename(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// tagValue computes a keyword's substitution value, mirroring tag_expand.
// Keywords the source never implemented (Locker, Log) resolve to "".
func tagValue(t tag, d *Diff) string {
	date := cvsDate(d.RevDate)
	filename := basename(d.RCSFile)

	switch t.key {
	case keyAuthor:
		return d.Author
	case keyCVSHeader:
		return fmt.Sprintf("%s %s %s %s %s", d.RCSFile, d.RevNum, date, d.Author, d.State)
	case keyDate:
		return date
	case keyHeader:
		return fmt.Sprintf("%s/%s %s %s %s %s", d.CVSRoot, d.RCSFile, d.RevNum, date, d.Author, d.State)
	case keyID:
		return fmt.Sprintf("%s %s %s %s %s", filename, d.RevNum, date, d.Author, d.State)
	case keyLocker:
		return ""
	case keyLog:
		// TODO: expand $Log$ to the commit log, as upstream CVS does;
		// unimplemented upstream too.
		return ""
	case keyName:
		return d.Tag
	case keyRCSfile:
		return filename
	case keyRevision:
		return d.RevNum
	case keySource:
		return fmt.Sprintf("%s/%s", d.CVSRoot, d.RCSFile)
	case keyState:
		return d.State
	default:
		return ""
	}
}
