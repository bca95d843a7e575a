// Package misc collects the small path helpers shared by the lister,
// detailer and updater, grounded on original_source/misc.c's
// pathlast() and checkoutpath(). IsRCS and CVSPath cover the RCS/Attic
// naming detailer.c calls as cvspath()/atticpath()/isrcs(); those
// three were never retrieved (neither their definitions nor their
// declarations appear in original_source/misc.h), so they're
// reconstructed here from the well-documented CVS repository layout
// convention (an RCS working file named "<base>,v", with a dead file
// moved into an "Attic" subdirectory alongside its siblings) rather
// than transliterated.
package misc

import (
	"os"
	"path/filepath"
	"strings"
)

// PathLast returns the final path component of path, mirroring
// pathlast's strrchr('/') search.
func PathLast(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// CheckoutPath joins prefix with file's checked-out name (file with its
// trailing ",v" stripped), rejecting anything that looks like it could
// escape prefix. Returns "" when file is unsafe, mirroring
// checkoutpath's NULL return.
func CheckoutPath(prefix, file string) string {
	if file == "" || file[0] == '/' {
		return ""
	}
	for cp := 0; ; {
		i := strings.Index(file[cp:], "..")
		if i < 0 {
			break
		}
		i += cp
		if i == 0 || i+2 == len(file) || (file[i-1] == '/' && file[i+2] == '/') {
			return ""
		}
		cp = i + 2
	}
	if len(file) < 2 || file[len(file)-1] != 'v' || file[len(file)-2] != ',' {
		return ""
	}
	return prefix + "/" + file[:len(file)-2]
}

// IsRCS reports whether name is an RCS working file, i.e. ends in the
// ",v" suffix CVS gives every checked-in revision file.
func IsRCS(name string) bool {
	return len(name) >= 2 && strings.HasSuffix(name, ",v")
}

// CVSPath joins prefix with name's location in the CVS repository
// layout: directly alongside its directory's other files, or, when
// attic is true, inside that directory's "Attic" subdirectory (where
// CVS moves RCS files for revisions that are dead on the file's
// default branch).
func CVSPath(prefix, name string, attic bool) string {
	if !attic {
		return prefix + "/" + name
	}
	dir, base := "", name
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		dir, base = name[:i], name[i+1:]
	}
	if dir == "" {
		return prefix + "/Attic/" + base
	}
	return prefix + "/" + dir + "/Attic/" + base
}

// AtticPath is CVSPath with attic forced on, matching atticpath's
// narrower signature.
func AtticPath(prefix, name string) string {
	return CVSPath(prefix, name, true)
}

// MkdirHier creates every directory leading to path (but not path
// itself), masking the permissive 0777 default mode with umask,
// mirroring mkdirhier's call site in updater_checkout.
func MkdirHier(path string, umask os.FileMode) error {
	return os.MkdirAll(filepath.Dir(path), 0o777&^umask)
}
