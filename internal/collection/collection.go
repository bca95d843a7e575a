// Package collection models a supfile's parsed configuration: the server
// to dial and the list of collections to mirror, each with its base
// directory, checkout tag/date, and per-collection toggles.
//
// Grounded on original_source/config.c: struct coll's fields, the
// CO_*/PT_* option bits, coll_new's default inheritance, and config_init's
// post-parse fixup pass (release/tag/date defaulting, prefix resolution
// relative to base, collection directory naming).
package collection

import (
	"io/fs"
	"time"

	"github.com/maxux/csup/internal/globtree"
	"github.com/maxux/csup/internal/rcs"
)

// Options are the per-collection toggles from struct coll's co_options
// bitfield.
type Options uint32

const (
	OptSetMode Options = 1 << iota
	OptExactRCS
	OptCheckRCS
	OptCheckoutMode
	OptCompress
	OptTrustStatusFile
	OptUseRelSuffix
	OptDelete
	// OptSkip marks a collection the server has told the client to
	// ignore entirely; every worker's per-collection loop skips it.
	OptSkip
	// OptNoRsync disables the rsync block-signature path for regular
	// files in this collection, forcing a whole-file MD5 comparison.
	OptNoRsync
	// OptNoRcs disables RCS-structured detailing, forcing RCS working
	// files to be treated as opaque regular files.
	OptNoRcs

	// ServerMaySet is the subset of options the server is allowed to
	// turn on during collection negotiation.
	ServerMaySet = OptSkip | OptNoRsync | OptNoRcs
	// ServerMayClear is the subset of options the server is allowed to
	// turn off during collection negotiation.
	ServerMayClear = OptCheckRCS
)

// Collection is one collection entry, either a user-named one or the
// "*default*" template later entries inherit from.
type Collection struct {
	Name      string
	Base      string
	Date      string
	Prefix    string
	Release   string
	Tag       string
	CVSRoot   string
	CollDir   string
	Umask     fs.FileMode
	Options   Options
	PrefixLen int
	Keyword   *rcs.Keyword
	// NorSync is the glob-tree predicate naming files this collection
	// excludes from rsync-style delta detailing even when OptNoRsync
	// itself is unset; matches fall back to whole-file MD5 comparison.
	NorSync globtree.Tree
	// ScanTime is the server's directory-scan timestamp for this
	// collection, parsed by the detailer from its "COLL name release
	// scantime" header and later read by the updater when it opens the
	// status file for writing. The two workers share this Collection
	// value; the read is safe without its own lock because it only
	// happens after the updater has received, on its own channel, the
	// detailer's "COLL name release" line for the same collection — a
	// message the detailer only sends after recording ScanTime, so the
	// channel handoff itself orders the write before the read.
	ScanTime time.Time
}

// StatusPath returns the path of this collection's status file, mirroring
// coll_statuspath.
func (c *Collection) StatusPath() string {
	if c.Options&OptUseRelSuffix != 0 {
		return c.Base + "/" + c.CollDir + "/" + c.Name + "/checkouts." + c.Release + ":" + c.Tag
	}
	return c.Base + "/" + c.CollDir + "/" + c.Name + "/checkouts"
}

// Config is a fully resolved supfile: the server to connect to and every
// collection to synchronize with it.
type Config struct {
	Host        string
	Port        uint16
	Collections []*Collection
}
