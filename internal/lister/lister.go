// Package lister implements the client's listing phase (spec §4.7):
// for each collection, walk its status store in order and tell the
// server what the client currently believes is on disk, so the server
// can compute what has changed. Grounded on original_source/lister.c
// in full.
package lister

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/maxux/csup/internal/collection"
	"github.com/maxux/csup/internal/fattr"
	"github.com/maxux/csup/internal/misc"
	"github.com/maxux/csup/internal/proto"
	"github.com/maxux/csup/internal/status"
)

// Run lists every non-skipped collection in cfg to wr, mirroring
// lister(): one "COLL name release" header per collection, each
// followed by the collection's D/U/F/f lines and a terminating ".",
// then one final "." closing the whole listing.
func Run(ctx context.Context, cfg *collection.Config, wr *proto.Stream) error {
	for _, coll := range cfg.Collections {
		if err := ctx.Err(); err != nil {
			return err
		}
		if coll.Options&collection.OptSkip != 0 {
			continue
		}

		st, err := status.Open(coll.StatusPath(), time.Time{}, false)
		if err != nil {
			return fmt.Errorf("lister: %w", err)
		}

		if err := wr.PutLine("COLL", coll.Name, coll.Release); err != nil {
			return err
		}
		if err := wr.Flush(); err != nil {
			return err
		}

		compressed := coll.Options&collection.OptCompress != 0
		if compressed {
			if err := wr.StartCompression(); err != nil {
				return err
			}
		}

		err = listColl(wr, coll, st)
		closeErr := st.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return fmt.Errorf("lister: %w", closeErr)
		}

		if compressed {
			if err := wr.StopCompression(); err != nil {
				return err
			}
		}
		if err := wr.Flush(); err != nil {
			return err
		}
	}
	if err := wr.PutLine("."); err != nil {
		return err
	}
	if err := wr.Flush(); err != nil {
		return err
	}
	return wr.Close()
}

// listColl walks one collection's status store, depth-first, skipping
// (pruning) everything under a directory it reports as bogus, mirroring
// lister_coll's depth/prunedepth state machine.
func listColl(wr *proto.Stream, coll *collection.Collection, st *status.Store) error {
	depth := 0
	prunedepth := math.MaxInt
	var stack []*fattr.Attr
	// The status store only persists the basename on D/U lines (the
	// enclosing path is implicit in nesting), so the full relative path
	// used for filesystem lookups has to be rebuilt from the sequence
	// of directory names currently open.
	var dirs []string

	for {
		sr, err := st.Get("", false, false)
		if err != nil {
			return fmt.Errorf("lister: %s: %w", coll.StatusPath(), err)
		}
		if sr == nil {
			break
		}

		switch sr.Type {
		case status.DirDown:
			depth++
			relPath := joinDir(dirs, sr.File)
			if depth < prunedepth {
				fa, err := dodirdown(wr, coll, sr, relPath)
				if err != nil {
					prunedepth = depth
				} else {
					stack = append(stack, fa)
				}
			}
			dirs = append(dirs, sr.File)
		case status.DirUp:
			dirs = dirs[:len(dirs)-1]
			if depth < prunedepth {
				if err := dodirup(wr, coll, sr, &stack); err != nil {
					return err
				}
			} else if depth == prunedepth {
				prunedepth = math.MaxInt
			}
			depth--
		case status.CheckoutLive:
			if depth < prunedepth {
				if err := dofile(wr, coll, sr); err != nil {
					return err
				}
			}
		case status.CheckoutDead:
			if depth < prunedepth {
				if err := dodead(wr, coll, sr); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("lister: unknown status record type for %q", sr.File)
		}
	}

	if !st.Eof() {
		return fmt.Errorf("lister: %s: corrupt status file", coll.StatusPath())
	}
	return wr.PutLine(".")
}

// dodirdown checks whether sr's directory is still present on disk
// (unless the collection trusts its status file outright) and, if so,
// pushes its attribute and announces it, mirroring lister_dodirdown.
// A non-nil error means the whole subtree below sr should be pruned.
func dodirdown(wr *proto.Stream, coll *collection.Collection, sr *status.Record, relPath string) (*fattr.Attr, error) {
	var fa *fattr.Attr
	if coll.Options&collection.OptTrustStatusFile != 0 {
		fa = fattr.New(fattr.TypeDirectory)
	} else {
		path := coll.Prefix + "/" + relPath
		got, err := fattr.FromPath(path, false)
		if err != nil {
			return nil, err
		}
		fa = got
		if fa.FileType == fattr.TypeSymlink {
			if followed, ferr := fattr.FromPath(path, true); ferr == nil && followed.FileType == fattr.TypeDirectory {
				fa = followed
			}
		}
	}

	if fa.FileType != fattr.TypeDirectory {
		sendBogus(wr, sr)
		return nil, fmt.Errorf("lister: %q is not a directory", sr.File)
	}
	if err := wr.PutLine("D", misc.PathLast(sr.File)); err != nil {
		return nil, err
	}
	return fa, nil
}

// dodirup reports what the client believes about the directory being
// closed, comparing the attribute recorded when it was opened against
// the one recorded in the status file, mirroring lister_dodirup.
func dodirup(wr *proto.Stream, coll *collection.Collection, sr *status.Record, stack *[]*fattr.Attr) error {
	s := *stack
	var fa *fattr.Attr
	if len(s) > 0 {
		fa = s[len(s)-1]
		*stack = s[:len(s)-1]
	}
	if coll.Options&collection.OptTrustStatusFile != 0 {
		fa = sr.ClientAttr
	}

	sendAttr := fattr.Bogus
	if fattr.Equal(fa, sr.ClientAttr) {
		sendAttr = fa
	}
	if err := wr.PutLineVerbatim(sendAttr.Encode(), "U"); err != nil {
		return err
	}
	return wr.Flush()
}

// dofile reports a checked-out live file, comparing its on-disk
// attributes (unless the status file is trusted) against both the
// recorded client attributes and what a fresh checkout under the
// collection's tag/date would look like, mirroring lister_dofile.
func dofile(wr *proto.Stream, coll *collection.Collection, sr *status.Record) error {
	var fa *fattr.Attr
	if coll.Options&collection.OptTrustStatusFile == 0 {
		path := misc.CheckoutPath(coll.Prefix, sr.File)
		if path == "" {
			sendBogus(wr, sr)
			return nil
		}
		got, err := fattr.FromPath(path, false)
		if err != nil {
			sendBogus(wr, sr)
			return nil
		}
		fa = got
	} else {
		fa = sr.ClientAttr
	}

	expect := fattr.ForCheckout(sr.ServerAttr, uint32(coll.Umask))
	if !fattr.Equal(fa, sr.ClientAttr) || !fattr.Equal(fa, expect) ||
		coll.Tag != sr.Tag || coll.Date != sr.Date {
		sendBogus(wr, sr)
		return nil
	}
	return wr.PutLineVerbatim(sr.ServerAttr.Encode(), "F", misc.PathLast(sr.File))
}

// dodead reports a checked-out dead (removed in this tag/date) file,
// mirroring lister_dodead.
func dodead(wr *proto.Stream, coll *collection.Collection, sr *status.Record) error {
	if coll.Options&collection.OptTrustStatusFile == 0 {
		path := misc.CheckoutPath(coll.Prefix, sr.File)
		if path != "" {
			fa, err := fattr.FromPath(path, false)
			if err == nil && fa.FileType != fattr.TypeDirectory {
				sendBogus(wr, sr)
				return nil
			}
		}
	}

	sendAttr := sr.ServerAttr
	if coll.Tag != sr.Tag || coll.Date != sr.Date {
		sendAttr = fattr.Bogus
	}
	return wr.PutLineVerbatim(sendAttr.Encode(), "f", misc.PathLast(sr.File))
}

// joinDir builds the relative path of a directory named name nested
// under the currently open directories in dirs.
func joinDir(dirs []string, name string) string {
	if len(dirs) == 0 {
		return name
	}
	return strings.Join(dirs, "/") + "/" + name
}

func sendBogus(wr *proto.Stream, sr *status.Record) {
	wr.PutLineVerbatim(fattr.Bogus.Encode(), "F", misc.PathLast(sr.File)) //nolint:errcheck // best-effort on an already-failing path
}
